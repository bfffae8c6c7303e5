package geo

import (
	"fmt"
	"math"

	"coach-attendance/internal/models"
	"coach-attendance/pkg/response"
)

const earthRadiusM = 6371000

type Coordinate struct {
	Lat       float64
	Lng       float64
	AccuracyM *float64
}

type Result struct {
	WithinRange bool
	DistanceM   float64
}

// Validate checks a submitted coordinate against a branch fence.
// The fence boundary is inclusive: a point at exactly the radius passes.
func Validate(coord Coordinate, fence *models.GeoFence) (*Result, error) {
	const op = "geo.Validate"

	if err := CheckCoordinate(coord.Lat, coord.Lng); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := CheckCoordinate(fence.Lat, fence.Lng); err != nil {
		return nil, fmt.Errorf("%s: fence: %w", op, err)
	}

	distance := haversine(fence.Lat, fence.Lng, coord.Lat, coord.Lng)

	return &Result{
		WithinRange: distance <= fence.RadiusM,
		DistanceM:   distance,
	}, nil
}

func CheckCoordinate(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return response.ErrInvalidCoordinate
	}
	if lat < -90 || lat > 90 {
		return response.ErrInvalidCoordinate
	}
	if lng < -180 || lng > 180 {
		return response.ErrInvalidCoordinate
	}

	return nil
}

// haversine returns the great-circle distance in meters.
func haversine(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLam := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLam/2)*math.Sin(dLam/2)

	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
