package source

import (
	"math"

	"github.com/allprecisely/Ad-parser/internal/model"
)

const earthRadiusKm = 6371.0

// haversine returns the great-circle distance between two points in
// kilometres.
func haversine(a, b model.Coords) float64 {
	latA := a.Lat * math.Pi / 180
	latB := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latA)*math.Cos(latB)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
