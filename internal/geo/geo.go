package geo

import (
	"errors"
	"math"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
)

// Positions live in the simulation's local planar frame, in metres.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// Point creates a planar point.
func Point(x, y float64) geom.Point {
	return geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: x, Y: y},
		Type: geom.DimXY,
	})
}

// XYFromString parses "x,y" (an optional third component is ignored).
func XYFromString(coords string) (x, y float64, err error) {
	parts := strings.Split(coords, ",")
	if len(parts) < 2 {
		return 0, 0, ErrInvalidCoordinates
	}
	x, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, ErrInvalidCoordinates
	}
	y, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, ErrInvalidCoordinates
	}
	return x, y, nil
}

// Distance is the planar distance between two points. Empty points are
// infinitely far from everything.
func Distance(a, b geom.Point) float64 {
	d, ok := geom.Distance(a.AsGeometry(), b.AsGeometry())
	if !ok {
		return math.Inf(1)
	}
	return d
}

// Within reports whether p lies within radius of center.
func Within(center geom.Point, radius float64, p geom.Point) bool {
	return Distance(center, p) <= radius
}
