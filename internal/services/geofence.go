package services

import "math"

// earthRadiusM is the mean Earth radius used by the haversine formula.
const earthRadiusM = 6371000.0

// DefaultGeofenceRadiusM applies when a coverage node has a center but no
// explicit radius.
const DefaultGeofenceRadiusM = 5000.0

// DistanceMeters returns the great-circle distance between two coordinates.
// ok is false when any input is NaN or infinite; callers treat that as
// "cannot evaluate, do not flag".
func DistanceMeters(lat1, lng1, lat2, lng2 float64) (float64, bool) {
	for _, v := range [4]float64{lat1, lng1, lat2, lng2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
	}
	dLat := radians(lat2 - lat1)
	dLng := radians(lng2 - lng1)
	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	a := sinLat*sinLat + math.Cos(radians(lat1))*math.Cos(radians(lat2))*sinLng*sinLng
	c := 2 * math.Asin(math.Sqrt(a))
	return earthRadiusM * c, true
}

// IsOutside reports whether distance exceeds the geofence radius, falling
// back to DefaultGeofenceRadiusM when radiusM is absent.
func IsOutside(distance float64, radiusM *float64) bool {
	r := DefaultGeofenceRadiusM
	if radiusM != nil {
		r = *radiusM
	}
	return distance > r
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
