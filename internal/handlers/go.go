package handlers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kestrel-run/aoi-runtime/internal/dispatcher"
	"github.com/kestrel-run/aoi-runtime/internal/statestore"
)

// GoHandler implements §4.6.4: move the player within or across zones.
// Cross-zone `go` is a logical teleport (no GPS re-confirmation) per the
// Phase-2 decision recorded in the design notes: the client issues a fresh
// update_location afterward and the AOI Builder reconciles against whatever
// GPS it reports next.
type GoHandler struct {
	Store statestore.Store
}

func (h *GoHandler) RequiredFields() []string { return []string{"target"} }

func (h *GoHandler) Handle(ctx context.Context, actor dispatcher.ActorContext, args map[string]any) (dispatcher.HandlerResult, error) {
	target := argString(args, "target")

	exp, err := h.Store.LoadExperienceConfig(actor.ExperienceID)
	if err != nil {
		return dispatcher.HandlerResult{}, err
	}
	view, err := h.Store.GetPlayerView(ctx, actor.ExperienceID, actor.UserID)
	if err != nil {
		return dispatcher.HandlerResult{}, err
	}

	zones, err := zonesFor(ctx, h.Store, exp, actor.ExperienceID, view)
	if err != nil {
		return dispatcher.HandlerResult{}, err
	}

	zone, area, inArea := currentArea(zones, view)
	lower := strings.ToLower(target)

	if inArea {
		if cardinalTarget, ok := area.CardinalExits[lower]; ok {
			return h.moveWithinZone(cardinalTarget, zone)
		}
		for _, exitID := range area.Exits {
			if strings.EqualFold(exitID, target) {
				return h.moveWithinZone(exitID, zone)
			}
		}
		for areaID, a := range zone.Areas {
			if strings.EqualFold(areaID, target) || strings.EqualFold(a.Name, target) {
				return h.moveWithinZone(areaID, zone)
			}
		}
	}

	for zoneID, z := range zones {
		if zoneID == view.CurrentLocation {
			continue
		}
		if strings.EqualFold(zoneID, target) || strings.EqualFold(z.Name, target) {
			return dispatcher.HandlerResult{
				Success:         true,
				MessageToPlayer: fmt.Sprintf("You make your way to %s.", z.Name),
				PlayerDelta: map[string]any{
					"current_location": map[string]any{"$set": zoneID},
					"current_area":     map[string]any{"$set": ""},
				},
				Changes: []statestore.Change{{Operation: "update", Path: "current_location"}},
			}, nil
		}
	}

	return errMsg("You can't go that way. Options: %s", availableExits(area)), nil
}

func (h *GoHandler) moveWithinZone(areaID string, zone statestore.Zone) (dispatcher.HandlerResult, error) {
	dest, ok := zone.Areas[areaID]
	if !ok {
		return errMsg("You can't go that way."), nil
	}
	return dispatcher.HandlerResult{
		Success:         true,
		MessageToPlayer: fmt.Sprintf("You head to %s.", dest.Name),
		PlayerDelta:     map[string]any{"current_area": map[string]any{"$set": areaID}},
		Changes:         []statestore.Change{{Operation: "update", Path: "current_area"}},
	}, nil
}

func availableExits(area statestore.Area) string {
	opts := make([]string, 0, len(area.Exits)+len(area.CardinalExits))
	opts = append(opts, area.Exits...)
	for dir := range area.CardinalExits {
		opts = append(opts, dir)
	}
	if len(opts) == 0 {
		return "none"
	}
	sort.Strings(opts)
	return strings.Join(opts, ", ")
}
