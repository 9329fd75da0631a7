// Package geo provides the spherical distance math used by the assembly
// engine. Coordinate convention throughout the repo: X is longitude, Y is
// latitude.
package geo

import "math"

// EarthRadiusM is the default sphere radius in metres.
const EarthRadiusM = 6_371_000

// Point is a geographic position. X=longitude, Y=latitude, degrees.
type Point struct {
	X float64
	Y float64
}

// Distance returns the haversine distance in metres between two points given
// as (lat, lon) pairs, on a sphere of the default radius.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	return DistanceR(EarthRadiusM, lat1, lon1, lat2, lon2)
}

// DistanceR is Distance on a sphere of the given radius in metres.
func DistanceR(radiusM, lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return radiusM * c
}

// DistanceTo returns the distance in metres between two points on the
// default sphere.
func (p Point) DistanceTo(q Point) float64 {
	return Distance(p.Y, p.X, q.Y, q.X)
}
