// Package aoi is the AOI Builder: a read path that merges world state,
// template denormalization, and a player view into the single
// Area-of-Interest payload a client receives for its current GPS position.
package aoi

import (
	"context"
	"fmt"

	"github.com/kestrel-run/aoi-runtime/internal/config"
	"github.com/kestrel-run/aoi-runtime/internal/statestore"
	"github.com/kestrel-run/aoi-runtime/internal/template"
)

// ZoneView is the emitted zone record (§4.4 step 3).
type ZoneView struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
}

// AreaView is one area within the chosen zone, with its items/NPCs resolved
// and denormalized.
type AreaView struct {
	ID          string                     `json:"id"`
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Items       []template.RuntimeRecord   `json:"items"`
	NPCs        []template.RuntimeRecord   `json:"npcs"`
}

// PlayerSummary is the player block of the AOI payload (§4.4 step 4).
type PlayerSummary struct {
	CurrentLocation string                   `json:"current_location"`
	CurrentArea     string                   `json:"current_area"`
	Inventory       []template.RuntimeRecord `json:"inventory"`
}

// AOI is the full Area-of-Interest payload. Zone is nil when no geography
// matched — never an error (§4.4 step 2).
type AOI struct {
	Zone            *ZoneView           `json:"zone"`
	Areas           map[string]AreaView `json:"areas"`
	Player          PlayerSummary       `json:"player"`
	SnapshotVersion uint64              `json:"snapshot_version"`
}

// Builder composes AOI payloads from the State Store and Template Registry.
type Builder struct {
	store     statestore.Store
	templates *template.Registry
}

// NewBuilder creates a Builder over store and templates.
func NewBuilder(store statestore.Store, templates *template.Registry) *Builder {
	return &Builder{store: store, templates: templates}
}

// Build composes the AOI for (userID, experienceID) at (lat, lng), per
// §4.4's algorithm.
func (b *Builder) Build(ctx context.Context, experienceID, userID string, lat, lng float64) (*AOI, error) {
	exp, err := b.store.LoadExperienceConfig(experienceID)
	if err != nil {
		return nil, fmt.Errorf("aoi: load experience config: %w", err)
	}

	view, err := b.store.GetPlayerView(ctx, experienceID, userID)
	if err != nil {
		return nil, fmt.Errorf("aoi: get player view: %w", err)
	}

	candidates := nearbyGeographies(exp.Geographies, lat, lng, exp.Capabilities.PhaseTwoAOI, exp.Capabilities.GeofenceRadiusM)
	inventory := b.mergeInstances(exp.ContentPaths.Root, view.Inventory)

	player := PlayerSummary{
		CurrentLocation: view.CurrentLocation,
		CurrentArea:     view.CurrentArea,
		Inventory:       inventory,
	}

	if len(candidates) == 0 {
		return &AOI{Zone: nil, Areas: map[string]AreaView{}, Player: player, SnapshotVersion: view.SnapshotVersion}, nil
	}

	zones, err := b.zonesFor(ctx, exp, experienceID, view)
	if err != nil {
		return nil, err
	}

	zone, ok := zones[candidates[0].ZoneID]
	if !ok {
		return &AOI{Zone: nil, Areas: map[string]AreaView{}, Player: player, SnapshotVersion: view.SnapshotVersion}, nil
	}

	areas := make(map[string]AreaView, len(zone.Areas))
	for areaID, area := range zone.Areas {
		items := make([]template.RuntimeRecord, 0, len(area.Items))
		npcs := make([]template.RuntimeRecord, 0, len(area.Items))
		for _, inst := range area.Items {
			if !inst.Visible {
				continue
			}
			t, err := b.templates.Resolve(exp.ContentPaths.Root, inst.TemplateID)
			if err != nil {
				continue
			}
			rec := template.Merge(inst, t)
			switch t.Type {
			case template.KindNPC:
				npcs = append(npcs, rec)
			default:
				items = append(items, rec)
			}
		}
		areas[areaID] = AreaView{
			ID:          area.ID,
			Name:        area.Name,
			Description: area.Description,
			Items:       items,
			NPCs:        npcs,
		}
	}

	return &AOI{
		Zone: &ZoneView{
			ID:          zone.ID,
			Name:        zone.Name,
			Description: zone.Description,
			Lat:         zone.GPS.Lat,
			Lng:         zone.GPS.Lng,
		},
		Areas:           areas,
		Player:          player,
		SnapshotVersion: view.SnapshotVersion,
	}, nil
}

// zonesFor returns the zone map to read from: the shared experience world
// for shared-model experiences, the player's own private copy for isolated
// ones (§3 Entities — World state).
func (b *Builder) zonesFor(ctx context.Context, exp config.Experience, experienceID string, view *statestore.PlayerView) (map[string]statestore.Zone, error) {
	if exp.StateModel == config.StateModelIsolated {
		return view.Locations, nil
	}
	world, err := b.store.GetWorldState(ctx, experienceID)
	if err != nil {
		return nil, fmt.Errorf("aoi: get world state: %w", err)
	}
	return world.Zones, nil
}

func (b *Builder) mergeInstances(contentRoot string, instances []statestore.Instance) []template.RuntimeRecord {
	out := make([]template.RuntimeRecord, 0, len(instances))
	for _, inst := range instances {
		t, err := b.templates.Resolve(contentRoot, inst.TemplateID)
		if err != nil {
			continue
		}
		out = append(out, template.Merge(inst, t))
	}
	return out
}
