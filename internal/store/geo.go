package store

import "math"

const earthRadiusM = 6371000.0

// DistanceMeters is the haversine great-circle distance between two points.
func DistanceMeters(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// OffsetMeters shifts p east/north by the given meters, clamped to
// valid coordinate ranges. Used for bounded drop jitter.
func OffsetMeters(p Point, eastM, northM float64) Point {
	dLat := northM / earthRadiusM * 180 / math.Pi
	cos := math.Cos(p.Lat * math.Pi / 180)
	dLng := 0.0
	if cos > 1e-6 {
		dLng = eastM / (earthRadiusM * cos) * 180 / math.Pi
	}
	return Point{
		Lng: math.Max(-180, math.Min(180, p.Lng+dLng)),
		Lat: math.Max(-90, math.Min(90, p.Lat+dLat)),
	}
}

// BoundingBox returns a lng/lat window that contains every point within
// radiusMeters of center. Used by stores to prefilter before the exact
// distance check; near the poles the lng window degrades to the full range.
func BoundingBox(center Point, radiusMeters float64) (minLng, maxLng, minLat, maxLat float64) {
	dLat := radiusMeters / earthRadiusM * 180 / math.Pi
	minLat = math.Max(-90, center.Lat-dLat)
	maxLat = math.Min(90, center.Lat+dLat)

	cos := math.Cos(center.Lat * math.Pi / 180)
	if cos < 1e-6 {
		return -180, 180, minLat, maxLat
	}
	dLng := dLat / cos
	minLng = math.Max(-180, center.Lng-dLng)
	maxLng = math.Min(180, center.Lng+dLng)
	return minLng, maxLng, minLat, maxLat
}
