package aoi

import (
	"math"
	"sort"

	"github.com/kestrel-run/aoi-runtime/internal/config"
)

const earthRadiusMeters = 6371000.0

// haversineMeters returns the great-circle distance between two lat/lng
// points in meters.
func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// nearbyGeographies implements §4.4 step 1: Phase-1 MVP returns the first
// geography in geographies's stored order (no distance computation);
// Phase-2 computes Haversine distance from (lat, lng) to every geography,
// keeps those within radiusM, and sorts the result ascending by distance.
func nearbyGeographies(geographies []config.Geography, lat, lng float64, phaseTwo bool, radiusM float64) []config.Geography {
	if !phaseTwo {
		if len(geographies) == 0 {
			return nil
		}
		return geographies[:1]
	}

	type candidate struct {
		geo      config.Geography
		distance float64
	}
	candidates := make([]candidate, 0, len(geographies))
	for _, g := range geographies {
		d := haversineMeters(lat, lng, g.Lat, g.Lng)
		if d <= radiusM {
			candidates = append(candidates, candidate{geo: g, distance: d})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].distance < candidates[j].distance })

	out := make([]config.Geography, len(candidates))
	for i, c := range candidates {
		out[i] = c.geo
	}
	return out
}
