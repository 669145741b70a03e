// Package dashboard holds the per-viewer selection state machine.
//
// A Session moves between Statewide, CountySelected, IslandSelected, and
// DivisionSelected, with an orthogonal boundary Scope. Every transition that
// changes the active feature set runs one recomputation chain before its
// result becomes observable:
//
//	active features -> refit projection -> paths and centroids -> raster rectangle
//
// Raster layers are decoded once per dataset selection through a shared
// LayerCache; only their destination rectangle follows the projection.
package dashboard
