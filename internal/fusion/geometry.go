package fusion

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// EarthRadiusMeters is the mean Earth radius used by Haversine.
const EarthRadiusMeters = 6371008.8

// degreeSteps are the meter lengths of one unit in the 4th to 8th decimal
// place of a degree, paired with that place's weight.
var degreeSteps = [...]struct{ meters, weight float64 }{
	{11.132, 1e-4},
	{1.1132, 1e-5},
	{0.111132, 1e-6},
	{0.011132, 1e-7},
	{0.0011132, 1e-8},
}

// ToDecimalDegrees approximates a meter offset as a decimal degree offset by
// peeling off whole multiples of each place-value step in turn. Precision
// stops at the 8th decimal place.
//
// Digits after the first are kept within 0..9. The 6th place step is not exactly
// a tenth of the 5th, and an uncapped digit of 10 would make the result step
// backwards at place boundaries.
func ToDecimalDegrees(meters float64) float64 {
	remainder := meters
	var deg float64
	for i, s := range degreeSteps {
		digit := math.Floor(remainder / s.meters)
		if i > 0 {
			digit = max(0, min(9, digit))
		}
		remainder -= digit * s.meters
		deg += digit * s.weight
	}
	return deg
}

func degToRad(d float64) float64 { return d * math.Pi / 180 }
func radToDeg(r float64) float64 { return r * 180 / math.Pi }

// rotationAngle maps a bearing to the cluster rotation for the vehicle side.
// Bearings of 180 and above flip which quadrant the side faces.
func rotationAngle(side Side, bearing float64) float64 {
	if side == SideRight {
		if bearing < 180 {
			return bearing + 90
		}
		return bearing + 180
	}
	if bearing < 180 {
		return bearing + 180
	}
	return bearing + 90
}

// RotateCluster rotates the cluster's (X, Y) about the sensor origin so that
// it is aligned with the direction of travel.
func RotateCluster(c RadarCluster, bearing float64) RadarCluster {
	theta := degToRad(rotationAngle(c.Side, bearing))
	sin, cos := math.Sincos(theta)
	out := c
	out.X = c.X*cos - c.Y*sin
	out.Y = c.X*sin + c.Y*cos
	return out
}

// Fuse places a radar cluster in absolute coordinates using a bearing fix.
// X maps to longitude and Y to latitude.
func Fuse(c RadarCluster, fix GpsBearingFix) ObjectLocation {
	r := RotateCluster(c, fix.Bearing)
	return ObjectLocation{
		Lat:      fix.Lat + ToDecimalDegrees(r.Y),
		Lon:      fix.Lon + ToDecimalDegrees(r.X),
		Time:     c.Time,
		Side:     c.Side,
		Strength: c.Strength,
		Size:     c.Size,
	}
}

// InitialBearing returns the great-circle initial bearing in degrees from
// the first point to the second, in the range (-180, 180].
func InitialBearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := degToRad(lat1), degToRad(lat2)
	dLon := degToRad(lon2 - lon1)
	y := math.Sin(dLon) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLon)
	return radToDeg(math.Atan2(y, x))
}

// Haversine returns the great-circle distance in meters.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := degToRad(lat1), degToRad(lat2)
	dPhi := phi2 - phi1
	dLambda := degToRad(lon2 - lon1)
	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}

// PlanarDistance is the Euclidean distance in degree space. It is only
// meaningful for the tiny radii used by cleanup.
func PlanarDistance(a, b ObjectLocation) float64 {
	return floats.Distance([]float64{a.Lat, a.Lon}, []float64{b.Lat, b.Lon}, 2)
}
