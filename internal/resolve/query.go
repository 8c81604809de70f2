package resolve

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// decimal is plain decimal notation with an optional exponent. Hex floats,
// underscores, Inf and NaN, all of which strconv accepts, do not match.
var decimal = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate checks that both ordinates are finite and within world range.
// Values past ±90 latitude or ±180 longitude are InvalidInput rather than
// OutOfCoverage, since no coverage box can contain them.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || math.IsInf(c.Latitude, 0) {
		return invalid("latitude", "must be a finite number")
	}
	if math.IsNaN(c.Longitude) || math.IsInf(c.Longitude, 0) {
		return invalid("longitude", "must be a finite number")
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return invalid("latitude", "must be between -90 and 90")
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return invalid("longitude", "must be between -180 and 180")
	}
	return nil
}

// Query is a resolution request as received from a caller. A nil field
// means the caller omitted it.
type Query struct {
	Latitude  *float64
	Longitude *float64
}

// Coordinate converts the query, failing when a field is missing or the
// values are out of range.
func (q Query) Coordinate() (Coordinate, error) {
	if q.Latitude == nil {
		return Coordinate{}, invalid("latitude", "is required")
	}
	if q.Longitude == nil {
		return Coordinate{}, invalid("longitude", "is required")
	}
	c := Coordinate{Latitude: *q.Latitude, Longitude: *q.Longitude}
	if err := c.Validate(); err != nil {
		return Coordinate{}, err
	}
	return c, nil
}

// ParseQuery decodes a {"latitude": n, "longitude": n} request body. Both
// fields must be JSON numbers; strings, booleans and nulls are rejected.
func ParseQuery(body []byte) (Query, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return Query{}, &InvalidInputError{Reason: "body must be a JSON object"}
	}

	lat, err := numberField(raw, "latitude")
	if err != nil {
		return Query{}, err
	}
	lon, err := numberField(raw, "longitude")
	if err != nil {
		return Query{}, err
	}
	q := Query{Latitude: &lat, Longitude: &lon}
	if _, err := q.Coordinate(); err != nil {
		return Query{}, err
	}
	return q, nil
}

func numberField(raw map[string]json.RawMessage, name string) (float64, error) {
	v := bytes.TrimSpace(raw[name])
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return 0, invalid(name, "is required")
	}
	// Quoted numbers are rejected along with every other non-number.
	if v[0] != '-' && (v[0] < '0' || v[0] > '9') {
		return 0, invalid(name, "must be a number")
	}
	f, err := strconv.ParseFloat(string(v), 64)
	if err != nil {
		return 0, invalid(name, "must be a number")
	}
	return f, nil
}

// ParseQueryStrings builds a query from textual values such as URL
// parameters or CSV cells.
func ParseQueryStrings(lat, lon string) (Query, error) {
	la, err := parseOrdinate("latitude", lat)
	if err != nil {
		return Query{}, err
	}
	lo, err := parseOrdinate("longitude", lon)
	if err != nil {
		return Query{}, err
	}
	q := Query{Latitude: &la, Longitude: &lo}
	if _, err := q.Coordinate(); err != nil {
		return Query{}, err
	}
	return q, nil
}

func parseOrdinate(name, s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, invalid(name, "is required")
	}
	if !decimal.MatchString(s) {
		return 0, invalid(name, "must be a number")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, invalid(name, "must be a number")
	}
	return f, nil
}
