package model

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"
)

// SamePlaceEpsilon is the per-axis tolerance, in degrees, under which two
// coordinates name the same spot (about 0.1 m at the equator).
const SamePlaceEpsilon = 1e-6

// Coordinate is a WGS84 latitude/longitude pair.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DefaultLocation is used when the operator's position cannot be resolved
// (Miami Lakes, FL).
var DefaultLocation = Coordinate{Latitude: 25.9087, Longitude: -80.3087}

// SamePlace reports whether a and b differ by less than SamePlaceEpsilon on
// both axes. Coordinates are never compared with ==.
func SamePlace(a, b Coordinate) bool {
	return math.Abs(a.Latitude-b.Latitude) < SamePlaceEpsilon &&
		math.Abs(a.Longitude-b.Longitude) < SamePlaceEpsilon
}

// Validate checks that the coordinate lies within WGS84 bounds.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) {
		return eris.New("model: coordinate is NaN")
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return eris.Errorf("model: latitude %f out of range", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return eris.Errorf("model: longitude %f out of range", c.Longitude)
	}
	return nil
}

// String formats the coordinate with six decimal places, the precision shown
// to operators in popups and forms.
func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f, %.6f", c.Latitude, c.Longitude)
}

// Ptr returns a pointer to a copy of c.
func (c Coordinate) Ptr() *Coordinate {
	return &c
}
