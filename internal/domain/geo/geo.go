// Package geo provides the geographic math used to match votes to markers.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used for all distance math.
const EarthRadiusMeters = 6371000.0

// Coordinate bounds in decimal degrees.
const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0
)

const (
	degToRad        = math.Pi / 180
	radToDeg        = 180 / math.Pi
	metersPerDegree = EarthRadiusMeters * degToRad
)

// Distance returns the great-circle distance in meters between two points
// given in decimal degrees, using the haversine formula on a spherical
// Earth of radius EarthRadiusMeters.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * degToRad
	dLon := (lon2 - lon1) * degToRad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// Destination returns the point reached by travelling distanceMeters from
// the start point along the given compass bearing in degrees (0 = north,
// 90 = east). The longitude is normalized to [-180, 180].
func Destination(lat, lon, distanceMeters, bearingDeg float64) (destLat, destLon float64) {
	phi := lat * degToRad
	lambda := lon * degToRad
	theta := bearingDeg * degToRad
	delta := distanceMeters / EarthRadiusMeters

	phi2 := math.Asin(math.Sin(phi)*math.Cos(delta) +
		math.Cos(phi)*math.Sin(delta)*math.Cos(theta))
	lambda2 := lambda + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(phi),
		math.Cos(delta)-math.Sin(phi)*math.Sin(phi2),
	)

	destLat = phi2 * radToDeg
	destLon = math.Mod(lambda2*radToDeg+540, 360) - 180
	return destLat, destLon
}

// BoundingBox returns an inclusive latitude/longitude window guaranteed to
// contain every point within radiusMeters of the center. The window
// over-covers near the poles and across the antimeridian, so callers must
// still filter by exact Distance.
func BoundingBox(lat, lon, radiusMeters float64) (minLat, maxLat, minLon, maxLon float64) {
	latDelta := radiusMeters / metersPerDegree
	minLat = math.Max(lat-latDelta, MinLatitude)
	maxLat = math.Min(lat+latDelta, MaxLatitude)

	cosLat := math.Cos(lat * degToRad)
	if cosLat < 1e-2 {
		// Close enough to a pole that a longitude window is meaningless.
		return minLat, maxLat, MinLongitude, MaxLongitude
	}

	lonDelta := radiusMeters / (metersPerDegree * cosLat)
	minLon = lon - lonDelta
	maxLon = lon + lonDelta
	if minLon < MinLongitude || maxLon > MaxLongitude {
		// Window crosses the antimeridian; fall back to the full range.
		return minLat, maxLat, MinLongitude, MaxLongitude
	}
	return minLat, maxLat, minLon, maxLon
}

// ValidLatitude reports whether lat is a finite latitude within [-90, 90].
func ValidLatitude(lat float64) bool {
	return !math.IsNaN(lat) && !math.IsInf(lat, 0) &&
		lat >= MinLatitude && lat <= MaxLatitude
}

// ValidLongitude reports whether lon is a finite longitude within [-180, 180].
func ValidLongitude(lon float64) bool {
	return !math.IsNaN(lon) && !math.IsInf(lon, 0) &&
		lon >= MinLongitude && lon <= MaxLongitude
}

// ValidPoint reports whether the pair is a usable map coordinate.
func ValidPoint(lat, lon float64) bool {
	return ValidLatitude(lat) && ValidLongitude(lon)
}
