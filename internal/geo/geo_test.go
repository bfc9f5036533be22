package geo

import (
	"math"
	"testing"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXYFromString(t *testing.T) {
	tests := []struct {
		in      string
		x, y    float64
		wantErr bool
	}{
		{"100.5,200.25", 100.5, 200.25, false},
		{" 1 , 2 ,3", 1, 2, false},
		{"1", 0, 0, true},
		{"a,2", 0, 0, true},
		{"1,b", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			x, y, err := XYFromString(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCoordinates)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.x, x)
			assert.Equal(t, tt.y, y)
		})
	}
}

func TestDistance(t *testing.T) {
	assert.InDelta(t, 5.0, Distance(Point(0, 0), Point(3, 4)), 1e-9)
	assert.True(t, math.IsInf(Distance(Point(0, 0), geom.NewEmptyPoint(geom.DimXY)), 1))
}

func TestWithin(t *testing.T) {
	assert.True(t, Within(Point(0, 0), 5, Point(3, 4)))
	assert.False(t, Within(Point(0, 0), 4.9, Point(3, 4)))
}
