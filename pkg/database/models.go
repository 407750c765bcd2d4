package database

// Visit is the geolocation of a single page load as handed to RecordVisit.
type Visit struct {
	Country string  // ISO country code or "unknown"
	City    string  // City name or "unknown"
	Airport string  // Edge location (IATA airport) code
	Lat     float64 // Latitude in degrees
	Lon     float64 // Longitude in degrees
}

// CounterRow is one (country, city) visit counter.
type CounterRow struct {
	Country string `json:"country"`
	City    string `json:"city"`
	Value   uint64 `json:"value"`
}

// CoordinateRow is one distinct visited coordinate pair together with the
// airport code that was recorded first for it.
type CoordinateRow struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Airport string  `json:"airport"`
}
