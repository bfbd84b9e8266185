package handlers

import (
	"context"
	"fmt"

	"github.com/kestrel-run/aoi-runtime/internal/dispatcher"
	"github.com/kestrel-run/aoi-runtime/internal/statestore"
)

// GiveHandler implements §4.6.3: hand an inventory item to an NPC. The item
// is removed from inventory and not re-added anywhere — NPC-owned items are
// not world-visible. No quest logic lives here; quest evaluation is a
// separate subsystem this runtime does not implement.
type GiveHandler struct {
	Store statestore.Store
}

func (h *GiveHandler) RequiredFields() []string { return []string{"item_id", "npc_id"} }

func (h *GiveHandler) Handle(ctx context.Context, actor dispatcher.ActorContext, args map[string]any) (dispatcher.HandlerResult, error) {
	itemID := argString(args, "item_id")
	npcID := argString(args, "npc_id")

	exp, err := h.Store.LoadExperienceConfig(actor.ExperienceID)
	if err != nil {
		return dispatcher.HandlerResult{}, err
	}
	view, err := h.Store.GetPlayerView(ctx, actor.ExperienceID, actor.UserID)
	if err != nil {
		return dispatcher.HandlerResult{}, err
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

	zones, err := zonesFor(ctx, h.Store, exp, actor.ExperienceID, view)
	if err != nil {
		return dispatcher.HandlerResult{}, err
	}
	_, area, ok := currentArea(zones, view)
	if !ok || area.NPC != npcID {
		return errMsg("That NPC isn't here."), nil
	}

	changes := []statestore.Change{
		{Operation: "update", Path: "inventory", InstanceID: itemID},
	}
	playerDelta := map[string]any{
		"inventory": map[string]any{"$remove": map[string]any{"instance_id": itemID}},
	}

	return dispatcher.HandlerResult{
		Success:         true,
		MessageToPlayer: fmt.Sprintf("You give the %s to %s.", found.TemplateID, npcID),
		PlayerDelta:     playerDelta,
		Changes:         changes,
	}, nil
}
