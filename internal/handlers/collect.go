package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kestrel-run/aoi-runtime/internal/config"
	"github.com/kestrel-run/aoi-runtime/internal/dispatcher"
	"github.com/kestrel-run/aoi-runtime/internal/statestore"
)

// CollectHandler implements §4.6.1: move an item from an Area's item list
// into the acting player's inventory.
type CollectHandler struct {
	Store statestore.Store
}

func (h *CollectHandler) RequiredFields() []string { return []string{"item_id"} }

func (h *CollectHandler) Handle(ctx context.Context, actor dispatcher.ActorContext, args map[string]any) (dispatcher.HandlerResult, error) {
	itemID := argString(args, "item_id")

	exp, err := h.Store.LoadExperienceConfig(actor.ExperienceID)
	if err != nil {
		return dispatcher.HandlerResult{}, err
	}

	view, err := h.Store.GetPlayerView(ctx, actor.ExperienceID, actor.UserID)
	if err != nil {
		return dispatcher.HandlerResult{}, err
	}

	areaID := argString(args, "area_id")
	if areaID == "" {
		areaID = view.CurrentArea
	}
	zoneID := view.CurrentLocation
	if zoneID == "" || areaID == "" {
		return errMsg("You aren't anywhere an item could be collected from."), nil
	}

	if exp.StateModel == config.StateModelShared {
		return h.collectShared(ctx, actor, exp, zoneID, areaID, itemID)
	}
	return h.collectIsolated(view, exp, zoneID, areaID, itemID)
}

// collectShared removes the instance from the world and credits it to the
// player's inventory as one failure boundary via [statestore.Store.CollectItem]
// — the world-side removal happens under the world file's lock (the only way
// two racing collects on the same instance_id resolve to exactly one
// success, §8 testable property 7), and if the inventory credit fails
// afterward the store reinserts the instance into its area rather than
// leaving it orphaned (§3 invariant 1).
func (h *CollectHandler) collectShared(ctx context.Context, actor dispatcher.ActorContext, exp config.Experience, zoneID, areaID, itemID string) (dispatcher.HandlerResult, error) {
	_, appended, err := h.Store.CollectItem(ctx, actor.ExperienceID, zoneID, areaID, actor.UserID, itemID, collectedInstance)
	if err != nil {
		if errors.Is(err, statestore.ErrInstanceNotFound) {
			return errMsg("That item isn't here to collect."), nil
		}
		if errors.Is(err, statestore.ErrLockTimeout) {
			return errMsg("That didn't go through — try again."), nil
		}
		return dispatcher.HandlerResult{}, err
	}

	return dispatcher.HandlerResult{Success: true, MessageToPlayer: fmt.Sprintf("You take the %s.", appended.TemplateID)}, nil
}

// collectIsolated handles an isolated-model experience, where the area lives
// in the player's own private `locations` copy — no other player can ever
// contend for it, so the ordinary declarative delta + dispatcher-commit path
// is race-free.
func (h *CollectHandler) collectIsolated(view *statestore.PlayerView, exp config.Experience, zoneID, areaID, itemID string) (dispatcher.HandlerResult, error) {
	zone, ok := view.Locations[zoneID]
	if !ok {
		return errMsg("That item isn't here to collect."), nil
	}
	area, ok := zone.Areas[areaID]
	if !ok {
		return errMsg("That item isn't here to collect."), nil
	}

	var found *statestore.Instance
	for i := range area.Items {
		if area.Items[i].InstanceID == itemID {
			found = &area.Items[i]
			break
		}
	}
	if found == nil || !found.Visible || !found.Collectible {
		return errMsg("That item isn't here to collect."), nil
	}

	appended := collectedInstance(*found)
	changes := []statestore.Change{
		{Operation: "remove", AreaID: areaID, InstanceID: itemID, TemplateID: found.TemplateID},
		{Operation: "add", Path: "inventory", Item: &appended},
	}

	playerDelta := map[string]any{
		"inventory": map[string]any{"$append": mustMap(appended)},
	}
	for k, v := range areaItemsDelta(exp, zoneID, areaID, "$remove", map[string]any{"instance_id": itemID}) {
		playerDelta[k] = v
	}

	return dispatcher.HandlerResult{
		Success:         true,
		MessageToPlayer: fmt.Sprintf("You take the %s.", found.TemplateID),
		PlayerDelta:     playerDelta,
		Changes:         changes,
	}, nil
}

// collectedInstance stamps collected_at onto inst's state and carries the
// rest of its state through intact (§3 invariant 6: transferred state, no
// new instance_id minted).
func collectedInstance(inst statestore.Instance) statestore.Instance {
	state := make(map[string]any, len(inst.State)+1)
	for k, v := range inst.State {
		state[k] = v
	}
	state["collected_at"] = nowMS()
	inst.State = state
	return inst
}

func mustMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		panic(err)
	}
	return m
}
