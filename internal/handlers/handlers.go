// Package handlers implements the deterministic command handlers of §4.6:
// collect, drop, give, go, inventory/examine/look, talk, and the admin `@`
// verbs. Each type here satisfies [dispatcher.Handler]; none calls the LLM
// directly — talk proxies to the chatproxy package, which is itself a bounded
// HTTP call with a canned fallback.
package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrel-run/aoi-runtime/internal/config"
	"github.com/kestrel-run/aoi-runtime/internal/dispatcher"
	"github.com/kestrel-run/aoi-runtime/internal/statestore"
)

// errMsg is a precondition/validation failure rendered as a non-fatal
// CommandResult (§7 kinds 2-3: validation and precondition failures never
// touch state).
func errMsg(format string, args ...any) dispatcher.HandlerResult {
	return dispatcher.HandlerResult{Success: false, MessageToPlayer: fmt.Sprintf(format, args...)}
}

// argString reads a string field from a command's args, trimmed of nothing —
// the dispatcher has already validated required fields are non-empty.
func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// zonesFor returns the zone map a handler should read from: the shared
// experience world for shared-model experiences, the player's own private
// copy for isolated ones — the same split the AOI Builder makes (§3 Entities
// — World state).
func zonesFor(ctx context.Context, store statestore.Store, exp config.Experience, experienceID string, view *statestore.PlayerView) (map[string]statestore.Zone, error) {
	if exp.StateModel == config.StateModelIsolated {
		return view.Locations, nil
	}
	world, err := store.GetWorldState(ctx, experienceID)
	if err != nil {
		return nil, fmt.Errorf("handlers: get world state: %w", err)
	}
	return world.Zones, nil
}

// currentArea locates the player's current zone/area within zones. Returns
// false if the player has no current location, or it no longer resolves.
func currentArea(zones map[string]statestore.Zone, view *statestore.PlayerView) (statestore.Zone, statestore.Area, bool) {
	if view.CurrentLocation == "" || view.CurrentArea == "" {
		return statestore.Zone{}, statestore.Area{}, false
	}
	zone, ok := zones[view.CurrentLocation]
	if !ok {
		return statestore.Zone{}, statestore.Area{}, false
	}
	area, ok := zone.Areas[view.CurrentArea]
	if !ok {
		return statestore.Zone{}, statestore.Area{}, false
	}
	return zone, area, true
}

// areaItemsDelta builds the delta tree applying {operator: value} to one
// area's item list — a world delta for shared experiences (collect/drop
// mutate the shared world), a player delta scoped to the private `locations`
// copy for isolated ones, where no other player can ever contend for it.
func areaItemsDelta(exp config.Experience, zoneID, areaID, operator string, value any) map[string]any {
	zone := map[string]any{
		"id": zoneID,
		"areas": map[string]any{
			areaID: map[string]any{
				"id":    areaID,
				"items": map[string]any{operator: value},
			},
		},
	}
	if exp.StateModel == config.StateModelIsolated {
		return map[string]any{"locations": map[string]any{zoneID: zone}}
	}
	return map[string]any{"zones": map[string]any{zoneID: zone}}
}

func nowMS() int64 { return time.Now().UnixMilli() }
