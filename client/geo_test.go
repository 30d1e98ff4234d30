package client

import (
	"math"
	"testing"

	"geochat/internal/models"
)

func TestHaversineKm(t *testing.T) {
	testCases := []struct {
		name      string
		from      models.Coordinate
		to        models.Coordinate
		wantKm    float64
		tolerance float64
	}{
		{
			name:      "identical points",
			from:      models.Coordinate{Latitude: -33.8737, Longitude: 151.0950},
			to:        models.Coordinate{Latitude: -33.8737, Longitude: 151.0950},
			wantKm:    0,
			tolerance: 0.000001,
		},
		{
			name:      "one degree of longitude at the equator",
			from:      models.Coordinate{Latitude: 0, Longitude: 0},
			to:        models.Coordinate{Latitude: 0, Longitude: 1},
			wantKm:    111.19,
			tolerance: 0.01,
		},
		{
			name:      "short hop across a suburb",
			from:      models.Coordinate{Latitude: -33.8737, Longitude: 151.0950},
			to:        models.Coordinate{Latitude: -33.8757, Longitude: 151.0970},
			wantKm:    0.289,
			tolerance: 0.005,
		},
		{
			name:      "london to paris",
			from:      models.Coordinate{Latitude: 51.5074, Longitude: -0.1278},
			to:        models.Coordinate{Latitude: 48.8566, Longitude: 2.3522},
			wantKm:    343.5,
			tolerance: 1.0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := HaversineKm(tc.from, tc.to)
			if math.Abs(got-tc.wantKm) > tc.tolerance {
				t.Errorf("HaversineKm() = %f, want %f (+/- %f)", got, tc.wantKm, tc.tolerance)
			}
		})
	}
}

func TestHaversineKmSymmetry(t *testing.T) {
	a := models.Coordinate{Latitude: 40.7128, Longitude: -74.0060}
	b := models.Coordinate{Latitude: 34.0522, Longitude: -118.2437}

	forward := HaversineKm(a, b)
	backward := HaversineKm(b, a)
	if math.Abs(forward-backward) > 0.000001 {
		t.Errorf("distance is not symmetric: %f vs %f", forward, backward)
	}
	if forward <= 0 {
		t.Errorf("distance between distinct points should be positive, got %f", forward)
	}
}
