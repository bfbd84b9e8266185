package handlers

import (
	"context"
	"fmt"

	"github.com/kestrel-run/aoi-runtime/internal/config"
	"github.com/kestrel-run/aoi-runtime/internal/dispatcher"
	"github.com/kestrel-run/aoi-runtime/internal/statestore"
)

// DropHandler implements §4.6.2: the inverse of collect. Proximity is not
// required — only a current_location and current_area.
type DropHandler struct {
	Store statestore.Store
}

func (h *DropHandler) RequiredFields() []string { return []string{"item_id"} }

func (h *DropHandler) Handle(ctx context.Context, actor dispatcher.ActorContext, args map[string]any) (dispatcher.HandlerResult, error) {
	itemID := argString(args, "item_id")

	exp, err := h.Store.LoadExperienceConfig(actor.ExperienceID)
	if err != nil {
		return dispatcher.HandlerResult{}, err
	}
	view, err := h.Store.GetPlayerView(ctx, actor.ExperienceID, actor.UserID)
	if err != nil {
		return dispatcher.HandlerResult{}, err
	}

	if view.CurrentLocation == "" || view.CurrentArea == "" {
		return errMsg("You have nowhere to drop that."), nil
	}

	var found *statestore.Instance
	for i := range view.Inventory {
		if view.Inventory[i].InstanceID == itemID {
			found = &view.Inventory[i]
			break
		}
	}
	if found == nil {
		return errMsg("You aren't carrying that."), nil
	}

	zoneID, areaID := view.CurrentLocation, view.CurrentArea
	dropped := *found

	changes := []statestore.Change{
		{Operation: "update", Path: "inventory", InstanceID: itemID},
		{Operation: "add", AreaID: areaID, Item: &dropped},
	}

	playerDelta := map[string]any{
		"inventory": map[string]any{"$remove": map[string]any{"instance_id": itemID}},
	}

	var worldDelta, extraPlayerDelta map[string]any
	areaDelta := areaItemsDelta(exp, zoneID, areaID, "$append", mustMap(dropped))
	if exp.StateModel == config.StateModelIsolated {
		extraPlayerDelta = areaDelta
	} else {
		worldDelta = areaDelta
	}
	for k, v := range extraPlayerDelta {
		playerDelta[k] = v
	}

	return dispatcher.HandlerResult{
		Success:         true,
		MessageToPlayer: fmt.Sprintf("You drop the %s.", dropped.TemplateID),
		WorldDelta:      worldDelta,
		PlayerDelta:     playerDelta,
		Changes:         changes,
	}, nil
}
