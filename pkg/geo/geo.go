// Package geo reads the visitor location that the edge proxy attaches to
// each request. Nothing here geolocates an address: values are taken as
// the platform resolved them, and whatever is missing stays zero.
package geo

import (
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Header names of the Cloudflare "visitor location headers" transform.
const (
	HeaderCountry   = "CF-IPCountry"
	HeaderCity      = "CF-IPCity"
	HeaderLatitude  = "CF-IPLatitude"
	HeaderLongitude = "CF-IPLongitude"
	HeaderRegion    = "CF-Region"
	HeaderRay       = "CF-Ray"
)

// Unknown labels a country or city the edge did not resolve.
const Unknown = "unknown"

// Location is everything the edge told us about the caller.
type Location struct {
	Airport string  // Edge location code, e.g. "WAW"
	Country string  // ISO 3166-1 alpha-2
	City    string
	Region  string
	Lat     float64
	Lon     float64
}

// FromRequest extracts the caller location from the proxy headers.
func FromRequest(r *http.Request) Location {
	h := r.Header
	return Location{
		Airport: airportFromRay(h.Get(HeaderRay)),
		Country: country(h.Get(HeaderCountry)),
		City:    text(h.Get(HeaderCity)),
		Region:  text(h.Get(HeaderRegion)),
		Lat:     coordinate(h.Get(HeaderLatitude), 90),
		Lon:     coordinate(h.Get(HeaderLongitude), 180),
	}
}

// CountryOrUnknown and CityOrUnknown give the labels used as counter keys.
func (l Location) CountryOrUnknown() string { return orUnknown(l.Country) }

func (l Location) CityOrUnknown() string { return orUnknown(l.City) }

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}

// airportFromRay takes the colo suffix of a ray id ("8a1b2c3d4e5f6a7b-WAW").
func airportFromRay(ray string) string {
	ray = strings.TrimSpace(ray)
	i := strings.LastIndexByte(ray, '-')
	if i < 0 || i == len(ray)-1 {
		return ""
	}
	return strings.ToUpper(ray[i+1:])
}

// country drops the pseudo codes Cloudflare uses for "no data" (XX) and
// Tor exits (T1).
func country(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	switch code {
	case "XX", "T1":
		return ""
	}
	return code
}

// text undoes the percent-encoding some proxies apply to non-ASCII city
// names and trims whitespace.
func text(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "%") {
		if decoded, err := url.QueryUnescape(s); err == nil {
			s = decoded
		}
	}
	return s
}

// coordinate parses a degree value and zeroes anything outside ±limit.
func coordinate(s string, limit float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || v < -limit || v > limit {
		return 0
	}
	return v
}
