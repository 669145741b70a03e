// Command dashctl renders dashboard views offline, generates mock data
// fixtures, and validates a data directory.
package main

import "github.com/couchcryptid/hawaii-climate-dashboard/cmd/dashctl/cmd"

func main() {
	cmd.Execute()
}
