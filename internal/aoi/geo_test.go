package aoi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-run/aoi-runtime/internal/config"
)

func TestHaversineMeters_SamePointIsZero(t *testing.T) {
	assert.InDelta(t, 0, haversineMeters(37.7749, -122.4194, 37.7749, -122.4194), 0.001)
}

func TestHaversineMeters_KnownDistance(t *testing.T) {
	// Roughly downtown SF to Oakland, ~13km.
	d := haversineMeters(37.7749, -122.4194, 37.8044, -122.2712)
	assert.InDelta(t, 13000, d, 2000)
}

func TestNearbyGeographies_PhaseOneReturnsFirstUnsorted(t *testing.T) {
	geos := []config.Geography{
		{ID: "far", Lat: 40, Lng: 40, ZoneID: "zone-far"},
		{ID: "near", Lat: 37.7749, Lng: -122.4194, ZoneID: "zone-near"},
	}
	got := nearbyGeographies(geos, 37.7749, -122.4194, false, 100)
	assert.Equal(t, []config.Geography{geos[0]}, got)
}

func TestNearbyGeographies_PhaseOneEmptyInputReturnsEmpty(t *testing.T) {
	got := nearbyGeographies(nil, 0, 0, false, 100)
	assert.Empty(t, got)
}

func TestNearbyGeographies_PhaseTwoFiltersByRadiusAndSortsAscending(t *testing.T) {
	geos := []config.Geography{
		{ID: "far", Lat: 38.5, Lng: -122.4194, ZoneID: "zone-far"},
		{ID: "near", Lat: 37.7750, Lng: -122.4194, ZoneID: "zone-near"},
		{ID: "outside", Lat: 50, Lng: 50, ZoneID: "zone-outside"},
	}
	got := nearbyGeographies(geos, 37.7749, -122.4194, true, 100000)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].ID)
	assert.Equal(t, "far", got[1].ID)
}
