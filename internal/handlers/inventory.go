package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/kestrel-run/aoi-runtime/internal/dispatcher"
	"github.com/kestrel-run/aoi-runtime/internal/statestore"
	"github.com/kestrel-run/aoi-runtime/internal/template"
)

// InventoryHandler implements the read-only `inventory` verb of §4.6.5.
type InventoryHandler struct {
	Store     statestore.Store
	Templates *template.Registry
}

func (h *InventoryHandler) RequiredFields() []string { return nil }

func (h *InventoryHandler) Handle(ctx context.Context, actor dispatcher.ActorContext, args map[string]any) (dispatcher.HandlerResult, error) {
	exp, err := h.Store.LoadExperienceConfig(actor.ExperienceID)
	if err != nil {
		return dispatcher.HandlerResult{}, err
	}
	view, err := h.Store.GetPlayerView(ctx, actor.ExperienceID, actor.UserID)
	if err != nil {
		return dispatcher.HandlerResult{}, err
	}

	if len(view.Inventory) == 0 {
		return dispatcher.HandlerResult{Success: true, MessageToPlayer: "You aren't carrying anything."}, nil
	}

	names := make([]string, 0, len(view.Inventory))
	for _, inst := range view.Inventory {
		names = append(names, h.displayName(exp.ContentPaths.Root, inst))
	}
	return dispatcher.HandlerResult{
		Success:         true,
		MessageToPlayer: fmt.Sprintf("You are carrying: %s.", strings.Join(names, ", ")),
	}, nil
}

func (h *InventoryHandler) displayName(contentRoot string, inst statestore.Instance) string {
	t, err := h.Templates.Resolve(contentRoot, inst.TemplateID)
	if err != nil {
		return inst.TemplateID
	}
	return t.Name
}

// LookHandler implements the read-only `look` verb of §4.6.5: a narrative
// description of the player's current area.
type LookHandler struct {
	Store     statestore.Store
	Templates *template.Registry
}

func (h *LookHandler) RequiredFields() []string { return nil }

func (h *LookHandler) Handle(ctx context.Context, actor dispatcher.ActorContext, args map[string]any) (dispatcher.HandlerResult, error) {
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
	_, area, ok := currentArea(zones, view)
	if !ok {
		return dispatcher.HandlerResult{Success: true, MessageToPlayer: "You are nowhere in particular."}, nil
	}

	var visible []string
	for _, inst := range area.Items {
		if !inst.Visible {
			continue
		}
		visible = append(visible, h.nameOf(exp.ContentPaths.Root, inst.TemplateID))
	}

	msg := fmt.Sprintf("%s — %s", area.Name, area.Description)
	if len(visible) > 0 {
		msg += fmt.Sprintf(" You see: %s.", strings.Join(visible, ", "))
	}
	if area.NPC != "" {
		msg += fmt.Sprintf(" %s is here.", area.NPC)
	}
	return dispatcher.HandlerResult{Success: true, MessageToPlayer: msg}, nil
}

func (h *LookHandler) nameOf(contentRoot, templateID string) string {
	t, err := h.Templates.Resolve(contentRoot, templateID)
	if err != nil {
		return templateID
	}
	return t.Name
}

// ExamineHandler implements the read-only `examine(target?)` verb of §4.6.5.
// With no target it behaves like look; otherwise it searches the player's
// inventory and then the current area for a matching item or NPC.
type ExamineHandler struct {
	Store     statestore.Store
	Templates *template.Registry
	Look      *LookHandler
}

func (h *ExamineHandler) RequiredFields() []string { return nil }

func (h *ExamineHandler) Handle(ctx context.Context, actor dispatcher.ActorContext, args map[string]any) (dispatcher.HandlerResult, error) {
	target := argString(args, "target")
	if target == "" {
		return h.Look.Handle(ctx, actor, args)
	}

	exp, err := h.Store.LoadExperienceConfig(actor.ExperienceID)
	if err != nil {
		return dispatcher.HandlerResult{}, err
	}
	view, err := h.Store.GetPlayerView(ctx, actor.ExperienceID, actor.UserID)
	if err != nil {
		return dispatcher.HandlerResult{}, err
	}

	for _, inst := range view.Inventory {
		if matchesTarget(inst, target) {
			return h.describe(exp.ContentPaths.Root, inst), nil
		}
	}

	zones, err := zonesFor(ctx, h.Store, exp, actor.ExperienceID, view)
	if err != nil {
		return dispatcher.HandlerResult{}, err
	}
	if _, area, ok := currentArea(zones, view); ok {
		for _, inst := range area.Items {
			if inst.Visible && matchesTarget(inst, target) {
				return h.describe(exp.ContentPaths.Root, inst), nil
			}
		}
		if strings.EqualFold(area.NPC, target) {
			return dispatcher.HandlerResult{Success: true, MessageToPlayer: fmt.Sprintf("%s is here.", area.NPC)}, nil
		}
	}

	return errMsg("You don't see %q here.", target), nil
}

func (h *ExamineHandler) describe(contentRoot string, inst statestore.Instance) dispatcher.HandlerResult {
	t, err := h.Templates.Resolve(contentRoot, inst.TemplateID)
	if err != nil {
		return dispatcher.HandlerResult{Success: true, MessageToPlayer: inst.TemplateID}
	}
	return dispatcher.HandlerResult{Success: true, MessageToPlayer: fmt.Sprintf("%s: %s", t.Name, t.Description)}
}

func matchesTarget(inst statestore.Instance, target string) bool {
	return strings.EqualFold(inst.InstanceID, target) || strings.EqualFold(inst.TemplateID, target)
}
