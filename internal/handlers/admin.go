package handlers

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/kestrel-run/aoi-runtime/internal/audit"
	"github.com/kestrel-run/aoi-runtime/internal/config"
	"github.com/kestrel-run/aoi-runtime/internal/dispatcher"
	"github.com/kestrel-run/aoi-runtime/internal/opsnotify"
	"github.com/kestrel-run/aoi-runtime/internal/statestore"
)

// cardinalOpposite maps a cardinal direction to the direction installed on
// the peer area when @connect wires an edge (§4.6.7: "north ↔ south, east ↔
// west").
var cardinalOpposite = map[string]string{
	"n": "s", "s": "n", "e": "w", "w": "e",
}

// requireAdmin is the common gate every admin verb opens with (§4.6.7:
// "Gated on an is_admin claim on the session"). Non-admin callers get an
// ordinary validation-style failure, not a connection close — §7 names
// admin-only rejection only among the session endpoint's close codes for
// protocol-level abuse; a single rejected command still leaves "the
// connection... usable after any non-fatal error" (§7), the stronger and
// more specific contract.
func requireAdmin(actor dispatcher.ActorContext) (dispatcher.HandlerResult, bool) {
	if !actor.IsAdmin {
		return errMsg("This command requires admin privileges."), false
	}
	return dispatcher.HandlerResult{}, true
}

// confirmed reports whether args carries the literal CONFIRM token destructive
// admin verbs require before they mutate anything.
func confirmed(args map[string]any) bool {
	return strings.EqualFold(argString(args, "confirm"), "CONFIRM")
}

// AdminListHandler implements `@list`: enumerate zones, or the areas/items of
// one zone when zone_id is given.
type AdminListHandler struct {
	Store statestore.Store
}

func (h *AdminListHandler) RequiredFields() []string { return nil }

func (h *AdminListHandler) Handle(ctx context.Context, actor dispatcher.ActorContext, args map[string]any) (dispatcher.HandlerResult, error) {
	if r, ok := requireAdmin(actor); !ok {
		return r, nil
	}
	world, err := h.Store.GetWorldState(ctx, actor.ExperienceID)
	if err != nil {
		return dispatcher.HandlerResult{}, err
	}

	zoneID := argString(args, "zone_id")
	if zoneID == "" {
		ids := make([]string, 0, len(world.Zones))
		for id := range world.Zones {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return dispatcher.HandlerResult{Success: true, MessageToPlayer: "Zones: " + strings.Join(ids, ", ")}, nil
	}

	zone, ok := world.Zones[zoneID]
	if !ok {
		return errMsg("No such zone %q.", zoneID), nil
	}
	var lines []string
	for areaID, area := range zone.Areas {
		lines = append(lines, fmt.Sprintf("%s (%d items)", areaID, len(area.Items)))
	}
	sort.Strings(lines)
	return dispatcher.HandlerResult{Success: true, MessageToPlayer: fmt.Sprintf("Areas in %s: %s", zoneID, strings.Join(lines, "; "))}, nil
}

// AdminInspectHandler implements `@inspect <type> <zone_id> [area_id] [instance_id]`.
type AdminInspectHandler struct {
	Store statestore.Store
}

func (h *AdminInspectHandler) RequiredFields() []string { return []string{"zone_id"} }

func (h *AdminInspectHandler) Handle(ctx context.Context, actor dispatcher.ActorContext, args map[string]any) (dispatcher.HandlerResult, error) {
	if r, ok := requireAdmin(actor); !ok {
		return r, nil
	}
	world, err := h.Store.GetWorldState(ctx, actor.ExperienceID)
	if err != nil {
		return dispatcher.HandlerResult{}, err
	}
	zoneID := argString(args, "zone_id")
	zone, ok := world.Zones[zoneID]
	if !ok {
		return errMsg("No such zone %q.", zoneID), nil
	}

	areaID := argString(args, "area_id")
	if areaID == "" {
		return dispatcher.HandlerResult{Success: true, MessageToPlayer: fmt.Sprintf("%s: %s (%d areas)", zone.ID, zone.Description, len(zone.Areas))}, nil
	}
	area, ok := zone.Areas[areaID]
	if !ok {
		return errMsg("No such area %q in zone %q.", areaID, zoneID), nil
	}

	instanceID := argString(args, "instance_id")
	if instanceID == "" {
		ids := make([]string, 0, len(area.Items))
		for _, inst := range area.Items {
			ids = append(ids, inst.InstanceID)
		}
		return dispatcher.HandlerResult{
			Success:         true,
			MessageToPlayer: fmt.Sprintf("%s: %s — exits %v, cardinals %v, items [%s]", area.ID, area.Description, area.Exits, area.CardinalExits, strings.Join(ids, ", ")),
		}, nil
	}
	for _, inst := range area.Items {
		if inst.InstanceID == instanceID {
			return dispatcher.HandlerResult{
				Success:         true,
				MessageToPlayer: fmt.Sprintf("%s (template %s): visible=%v collectible=%v state=%v", inst.InstanceID, inst.TemplateID, inst.Visible, inst.Collectible, inst.State),
			}, nil
		}
	}
	return errMsg("No such instance %q in %s/%s.", instanceID, zoneID, areaID), nil
}

// AdminWhereHandler implements `@where <user_id>`: report another player's
// current location.
type AdminWhereHandler struct {
	Store statestore.Store
}

func (h *AdminWhereHandler) RequiredFields() []string { return []string{"user_id"} }

func (h *AdminWhereHandler) Handle(ctx context.Context, actor dispatcher.ActorContext, args map[string]any) (dispatcher.HandlerResult, error) {
	if r, ok := requireAdmin(actor); !ok {
		return r, nil
	}
	userID := argString(args, "user_id")
	view, err := h.Store.GetPlayerView(ctx, actor.ExperienceID, userID)
	if err != nil {
		return dispatcher.HandlerResult{}, err
	}
	return dispatcher.HandlerResult{
		Success:         true,
		MessageToPlayer: fmt.Sprintf("%s is at %s/%s.", userID, view.CurrentLocation, view.CurrentArea),
	}, nil
}

// AdminFindHandler implements `@find [user_id] [verb]` over the command
// audit trail.
type AdminFindHandler struct {
	Audit audit.Recorder
}

func (h *AdminFindHandler) RequiredFields() []string { return nil }

func (h *AdminFindHandler) Handle(ctx context.Context, actor dispatcher.ActorContext, args map[string]any) (dispatcher.HandlerResult, error) {
	if r, ok := requireAdmin(actor); !ok {
		return r, nil
	}
	entries, err := h.Audit.Find(ctx, actor.ExperienceID, audit.Filter{
		UserID: argString(args, "user_id"),
		Verb:   argString(args, "verb"),
	})
	if err != nil {
		return dispatcher.HandlerResult{}, err
	}
	if len(entries) == 0 {
		return dispatcher.HandlerResult{Success: true, MessageToPlayer: "No matching commands recorded."}, nil
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("[%d] %s %s success=%v", e.TimestampMS, e.UserID, e.Verb, e.Success))
	}
	return dispatcher.HandlerResult{Success: true, MessageToPlayer: strings.Join(lines, "\n")}, nil
}

// AdminStatsHandler implements `@stats` over the command audit trail.
type AdminStatsHandler struct {
	Audit audit.Recorder
}

func (h *AdminStatsHandler) RequiredFields() []string { return nil }

func (h *AdminStatsHandler) Handle(ctx context.Context, actor dispatcher.ActorContext, args map[string]any) (dispatcher.HandlerResult, error) {
	if r, ok := requireAdmin(actor); !ok {
		return r, nil
	}
	stats, err := h.Audit.Stats(ctx, actor.ExperienceID)
	if err != nil {
		return dispatcher.HandlerResult{}, err
	}
	return dispatcher.HandlerResult{
		Success:         true,
		MessageToPlayer: fmt.Sprintf("%d commands (%d ok, %d failed) across %d verbs.", stats.TotalCommands, stats.SuccessCount, stats.FailureCount, len(stats.ByVerb)),
		Metadata:        map[string]any{"by_verb": stats.ByVerb},
	}, nil
}

// AdminCreateHandler implements `@create <type> <zone_id> <area_id> <template_id>`:
// spawn a new Instance into an area.
type AdminCreateHandler struct {
	Store statestore.Store
}

func (h *AdminCreateHandler) RequiredFields() []string {
	return []string{"zone_id", "area_id", "template_id"}
}

func (h *AdminCreateHandler) Handle(ctx context.Context, actor dispatcher.ActorContext, args map[string]any) (dispatcher.HandlerResult, error) {
	if r, ok := requireAdmin(actor); !ok {
		return r, nil
	}
	exp, err := h.Store.LoadExperienceConfig(actor.ExperienceID)
	if err != nil {
		return dispatcher.HandlerResult{}, err
	}

	zoneID := argString(args, "zone_id")
	areaID := argString(args, "area_id")
	templateID := argString(args, "template_id")
	instanceType := argString(args, "type")
	if instanceType == "" {
		instanceType = "item"
	}

	inst := statestore.Instance{
		InstanceID:  ulid.Make().String(),
		TemplateID:  templateID,
		Type:        instanceType,
		Visible:     true,
		Collectible: instanceType == "item",
	}

	worldDelta := areaItemsDelta(exp, zoneID, areaID, "$append", mustMap(inst))
	changes := []statestore.Change{{Operation: "add", AreaID: areaID, TemplateID: templateID, Item: &inst}}

	if exp.StateModel == config.StateModelShared {
		if _, err := h.Store.UpdateWorldState(ctx, actor.ExperienceID, worldDelta, changes, actor.UserID); err != nil {
			return dispatcher.HandlerResult{}, err
		}
		return dispatcher.HandlerResult{Success: true, MessageToPlayer: fmt.Sprintf("Created %s in %s/%s.", inst.InstanceID, zoneID, areaID)}, nil
	}
	return dispatcher.HandlerResult{
		Success:         true,
		MessageToPlayer: fmt.Sprintf("Created %s in %s/%s.", inst.InstanceID, zoneID, areaID),
		PlayerDelta:     worldDelta,
		Changes:         changes,
	}, nil
}

// AdminEditHandler implements `@edit <type> <zone_id> <area_id> <instance_id> <field> <value>`.
// Only a small, explicitly validated set of fields is editable.
type AdminEditHandler struct {
	Store statestore.Store
}

func (h *AdminEditHandler) RequiredFields() []string {
	return []string{"zone_id", "area_id", "instance_id", "field", "value"}
}

func (h *AdminEditHandler) Handle(ctx context.Context, actor dispatcher.ActorContext, args map[string]any) (dispatcher.HandlerResult, error) {
	if r, ok := requireAdmin(actor); !ok {
		return r, nil
	}
	exp, err := h.Store.LoadExperienceConfig(actor.ExperienceID)
	if err != nil {
		return dispatcher.HandlerResult{}, err
	}

	zoneID := argString(args, "zone_id")
	areaID := argString(args, "area_id")
	instanceID := argString(args, "instance_id")
	field := argString(args, "field")
	raw := args["value"]

	var value any
	switch field {
	case "visible", "collectible":
		b, err := toBool(raw)
		if err != nil {
			return errMsg("%s must be true or false.", field), nil
		}
		value = b
	case "state":
		m, ok := raw.(map[string]any)
		if !ok {
			return errMsg("state must be an object."), nil
		}
		value = m
	default:
		return errMsg("unsupported field %q; editable fields: visible, collectible, state.", field), nil
	}

	patch := map[string]any{"instance_id": instanceID, field: value}
	worldDelta := areaItemsDelta(exp, zoneID, areaID, "$update", []any{patch})
	changes := []statestore.Change{{Operation: "update", AreaID: areaID, InstanceID: instanceID}}

	if exp.StateModel == config.StateModelShared {
		if _, err := h.Store.UpdateWorldState(ctx, actor.ExperienceID, worldDelta, changes, actor.UserID); err != nil {
			return dispatcher.HandlerResult{}, err
		}
		return dispatcher.HandlerResult{Success: true, MessageToPlayer: fmt.Sprintf("Updated %s.%s on %s.", field, instanceID, instanceID)}, nil
	}
	return dispatcher.HandlerResult{
		Success:         true,
		MessageToPlayer: fmt.Sprintf("Updated %s on %s.", field, instanceID),
		PlayerDelta:     worldDelta,
		Changes:         changes,
	}, nil
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(b)
	}
	return false, fmt.Errorf("not a bool: %v", v)
}

// AdminDeleteHandler implements `@delete <type> <zone_id> <area_id> <instance_id> [CONFIRM]`
// (§4.6.7: destructive verbs require a literal CONFIRM token; otherwise a
// preview message).
type AdminDeleteHandler struct {
	Store statestore.Store
}

func (h *AdminDeleteHandler) RequiredFields() []string {
	return []string{"zone_id", "area_id", "instance_id"}
}

func (h *AdminDeleteHandler) Handle(ctx context.Context, actor dispatcher.ActorContext, args map[string]any) (dispatcher.HandlerResult, error) {
	if r, ok := requireAdmin(actor); !ok {
		return r, nil
	}
	zoneID := argString(args, "zone_id")
	areaID := argString(args, "area_id")
	instanceID := argString(args, "instance_id")

	if !confirmed(args) {
		return dispatcher.HandlerResult{
			Success:         false,
			MessageToPlayer: fmt.Sprintf("This will permanently delete %s from %s/%s. Repeat with confirm:CONFIRM to proceed.", instanceID, zoneID, areaID),
		}, nil
	}

	exp, err := h.Store.LoadExperienceConfig(actor.ExperienceID)
	if err != nil {
		return dispatcher.HandlerResult{}, err
	}
	worldDelta := areaItemsDelta(exp, zoneID, areaID, "$remove", map[string]any{"instance_id": instanceID})
	changes := []statestore.Change{{Operation: "remove", AreaID: areaID, InstanceID: instanceID}}

	if exp.StateModel == config.StateModelShared {
		if _, err := h.Store.UpdateWorldState(ctx, actor.ExperienceID, worldDelta, changes, actor.UserID); err != nil {
			return dispatcher.HandlerResult{}, err
		}
		return dispatcher.HandlerResult{Success: true, MessageToPlayer: fmt.Sprintf("Deleted %s.", instanceID)}, nil
	}
	return dispatcher.HandlerResult{
		Success:         true,
		MessageToPlayer: fmt.Sprintf("Deleted %s.", instanceID),
		PlayerDelta:     worldDelta,
		Changes:         changes,
	}, nil
}

// AdminConnectHandler implements `@connect <zone_id> <area_a> <area_b> [cardinal]`:
// a bidirectional exit edge (§8 testable property 5).
type AdminConnectHandler struct {
	Store statestore.Store
}

func (h *AdminConnectHandler) RequiredFields() []string { return []string{"zone_id", "area_a", "area_b"} }

func (h *AdminConnectHandler) Handle(ctx context.Context, actor dispatcher.ActorContext, args map[string]any) (dispatcher.HandlerResult, error) {
	if r, ok := requireAdmin(actor); !ok {
		return r, nil
	}
	exp, err := h.Store.LoadExperienceConfig(actor.ExperienceID)
	if err != nil {
		return dispatcher.HandlerResult{}, err
	}
	if exp.StateModel != config.StateModelShared {
		return errMsg("@connect is only meaningful in shared-model experiences."), nil
	}

	zoneID := argString(args, "zone_id")
	areaA := argString(args, "area_a")
	areaB := argString(args, "area_b")
	cardinal := strings.ToLower(argString(args, "cardinal"))

	world, err := h.Store.GetWorldState(ctx, actor.ExperienceID)
	if err != nil {
		return dispatcher.HandlerResult{}, err
	}
	zone, ok := world.Zones[zoneID]
	if !ok {
		return errMsg("No such zone %q.", zoneID), nil
	}
	if _, ok := zone.Areas[areaA]; !ok {
		return errMsg("No such area %q.", areaA), nil
	}
	if _, ok := zone.Areas[areaB]; !ok {
		return errMsg("No such area %q.", areaB), nil
	}

	delta := map[string]any{
		"zones": map[string]any{
			zoneID: map[string]any{
				"id": zoneID,
				"areas": map[string]any{
					areaA: map[string]any{"id": areaA, "exits": map[string]any{"$append": areaB}},
					areaB: map[string]any{"id": areaB, "exits": map[string]any{"$append": areaA}},
				},
			},
		},
	}
	if cardinal != "" {
		opposite, ok := cardinalOpposite[cardinal]
		if !ok {
			return errMsg("unknown cardinal %q; use n, s, e, or w.", cardinal), nil
		}
		zones := delta["zones"].(map[string]any)[zoneID].(map[string]any)["areas"].(map[string]any)
		aMap := zones[areaA].(map[string]any)
		aMap["cardinal_exits"] = map[string]any{cardinal: map[string]any{"$set": areaB}}
		bMap := zones[areaB].(map[string]any)
		bMap["cardinal_exits"] = map[string]any{opposite: map[string]any{"$set": areaA}}
	}

	changes := []statestore.Change{
		{Operation: "update", AreaID: areaA, Path: "exits"},
		{Operation: "update", AreaID: areaB, Path: "exits"},
	}
	if _, err := h.Store.UpdateWorldState(ctx, actor.ExperienceID, delta, changes, actor.UserID); err != nil {
		return dispatcher.HandlerResult{}, err
	}
	return dispatcher.HandlerResult{Success: true, MessageToPlayer: fmt.Sprintf("Connected %s ↔ %s.", areaA, areaB)}, nil
}

// AdminDisconnectHandler implements `@disconnect <zone_id> <area_a> <area_b>`:
// the inverse of @connect, removing both directions of the edge and any
// cardinal exits between the two areas.
type AdminDisconnectHandler struct {
	Store statestore.Store
}

func (h *AdminDisconnectHandler) RequiredFields() []string {
	return []string{"zone_id", "area_a", "area_b"}
}

func (h *AdminDisconnectHandler) Handle(ctx context.Context, actor dispatcher.ActorContext, args map[string]any) (dispatcher.HandlerResult, error) {
	if r, ok := requireAdmin(actor); !ok {
		return r, nil
	}
	exp, err := h.Store.LoadExperienceConfig(actor.ExperienceID)
	if err != nil {
		return dispatcher.HandlerResult{}, err
	}
	if exp.StateModel != config.StateModelShared {
		return errMsg("@disconnect is only meaningful in shared-model experiences."), nil
	}

	zoneID := argString(args, "zone_id")
	areaA := argString(args, "area_a")
	areaB := argString(args, "area_b")

	world, err := h.Store.GetWorldState(ctx, actor.ExperienceID)
	if err != nil {
		return dispatcher.HandlerResult{}, err
	}
	zone, ok := world.Zones[zoneID]
	if !ok {
		return errMsg("No such zone %q.", zoneID), nil
	}
	aArea, aOK := zone.Areas[areaA]
	bArea, bOK := zone.Areas[areaB]
	if !aOK || !bOK {
		return errMsg("No such area in zone %q.", zoneID), nil
	}

	newExitsA := removeExit(aArea.Exits, areaB)
	newExitsB := removeExit(bArea.Exits, areaA)
	cardinalsA := removeCardinalsTo(aArea.CardinalExits, areaB)
	cardinalsB := removeCardinalsTo(bArea.CardinalExits, areaA)

	delta := map[string]any{
		"zones": map[string]any{
			zoneID: map[string]any{
				"id": zoneID,
				"areas": map[string]any{
					areaA: map[string]any{"id": areaA, "exits": map[string]any{"$set": newExitsA}, "cardinal_exits": map[string]any{"$set": cardinalsA}},
					areaB: map[string]any{"id": areaB, "exits": map[string]any{"$set": newExitsB}, "cardinal_exits": map[string]any{"$set": cardinalsB}},
				},
			},
		},
	}
	changes := []statestore.Change{
		{Operation: "update", AreaID: areaA, Path: "exits"},
		{Operation: "update", AreaID: areaB, Path: "exits"},
	}
	if _, err := h.Store.UpdateWorldState(ctx, actor.ExperienceID, delta, changes, actor.UserID); err != nil {
		return dispatcher.HandlerResult{}, err
	}
	return dispatcher.HandlerResult{Success: true, MessageToPlayer: fmt.Sprintf("Disconnected %s ↔ %s.", areaA, areaB)}, nil
}

func removeExit(exits []string, target string) []string {
	out := make([]string, 0, len(exits))
	for _, e := range exits {
		if e != target {
			out = append(out, e)
		}
	}
	return out
}

func removeCardinalsTo(cardinals map[string]string, target string) map[string]string {
	out := make(map[string]string, len(cardinals))
	for dir, dest := range cardinals {
		if dest != target {
			out[dir] = dest
		}
	}
	return out
}

// AdminResetHandler implements `@reset instance|player|experience <id> [CONFIRM]`
// (§8 testable property 6: idempotent reset).
type AdminResetHandler struct {
	Store statestore.Store

	// Notifier posts a best-effort ops notification on a successful reset
	// (SPEC_FULL.md's "Supplemented feature 1: admin ops notifications").
	// Nil is treated as [opsnotify.NopNotifier].
	Notifier opsnotify.Notifier
}

func (h *AdminResetHandler) notify(ctx context.Context, actor dispatcher.ActorContext, message string) {
	if h.Notifier == nil {
		return
	}
	h.Notifier.Notify(ctx, fmt.Sprintf("[%s] %s reset by %s", actor.ExperienceID, message, actor.UserID))
}

func (h *AdminResetHandler) RequiredFields() []string { return []string{"scope"} }

func (h *AdminResetHandler) Handle(ctx context.Context, actor dispatcher.ActorContext, args map[string]any) (dispatcher.HandlerResult, error) {
	if r, ok := requireAdmin(actor); !ok {
		return r, nil
	}
	scope := argString(args, "scope")

	if !confirmed(args) {
		return dispatcher.HandlerResult{
			Success:         false,
			MessageToPlayer: fmt.Sprintf("This will reset %s state. Repeat with confirm:CONFIRM to proceed.", scope),
		}, nil
	}

	switch scope {
	case "instance":
		instanceID := argString(args, "instance_id")
		if instanceID == "" {
			return errMsg("instance_id is required to reset an instance."), nil
		}
		if err := h.Store.ResetInstance(ctx, actor.ExperienceID, instanceID); err != nil {
			return dispatcher.HandlerResult{}, err
		}
		h.notify(ctx, actor, fmt.Sprintf("instance %s", instanceID))
		return dispatcher.HandlerResult{Success: true, MessageToPlayer: fmt.Sprintf("Reset instance %s.", instanceID)}, nil

	case "player":
		userID := argString(args, "user_id")
		if userID == "" {
			return errMsg("user_id is required to reset a player."), nil
		}
		if err := h.Store.ResetPlayer(ctx, userID, actor.ExperienceID); err != nil {
			return dispatcher.HandlerResult{}, err
		}
		h.notify(ctx, actor, fmt.Sprintf("player %s", userID))
		return dispatcher.HandlerResult{Success: true, MessageToPlayer: fmt.Sprintf("Reset player %s.", userID)}, nil

	case "experience":
		if err := h.Store.ResetExperience(ctx, actor.ExperienceID); err != nil {
			return dispatcher.HandlerResult{}, err
		}
		h.notify(ctx, actor, "experience world state")
		return dispatcher.HandlerResult{Success: true, MessageToPlayer: "Reset experience world state."}, nil
	}

	return errMsg("unknown reset scope %q; use instance, player, or experience.", scope), nil
}
