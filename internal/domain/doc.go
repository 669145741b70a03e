// Package domain models the geography and climate datasets behind the Hawaiʻi
// climate dashboard.
//
// # Geography
//
// The state is organized as counties, islands, and sub-island units:
//
//	County      Islands
//	Kauaʻi      Kauaʻi, Niʻihau
//	Honolulu    Oʻahu
//	Maui        Maui, Molokaʻi, Lānaʻi, Kahoʻolawe
//	Hawaiʻi     Hawaiʻi
//
// Below the island level there are three boundary granularities: climate
// divisions, moku, and ahupuaʻa (traditional land divisions, finer than moku).
// Multi-island counties are always rendered as one region, so selecting any
// island of Maui County shows all four islands together.
//
// # Name matching
//
// Boundary files, time-series tables, and lookup tables spell island names
// inconsistently ("Kauaʻi", "Kaua'i", "KAUAI", "kauai’i"). All matching goes
// through [Canonicalize], which strips diacritics and ʻokina, lower-cases, and
// collapses repeated vowels. Display names keep their original spelling.
//
// # Datasets
//
// Three raster datasets are served, one grid per period:
//
//	rainfall     monthly total, inches, non-negative
//	temperature  monthly mean, °F
//	drought      Standardized Precipitation Index (SPI), signed, bounded to ±3
//
// Time series come from comma-separated tables, one per boundary granularity
// and timescale (1, 6, or 12-month aggregation).
//
// # Layer errors
//
// Rendering failures are recoverable and reported per layer: [ErrNoGeometry]
// suppresses the vector layer, [ErrRasterDecode], [ErrEmptyDomain], and
// [ErrDegenerateRect] suppress the raster layer. One layer failing never
// blocks the other.
package domain
