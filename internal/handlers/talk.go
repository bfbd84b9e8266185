package handlers

import (
	"context"
	"fmt"

	"github.com/kestrel-run/aoi-runtime/internal/chatproxy"
	"github.com/kestrel-run/aoi-runtime/internal/dispatcher"
	"github.com/kestrel-run/aoi-runtime/internal/statestore"
	"github.com/kestrel-run/aoi-runtime/internal/template"
)

// conversationHistoryLimit mirrors statestore's ring buffer bound (§3 Entities
// — Relationship State): kept independently since statestore does not export
// it and handlers must compute the trimmed history before writing the delta.
const conversationHistoryLimit = 20

// TalkHandler implements §4.6.6: the only handler that consults an external
// generative service. It never calls the chat service directly — only
// through [chatproxy.Client], which degrades to a canned reply on any
// failure so an LLM outage never blocks or fails the command.
type TalkHandler struct {
	Store     statestore.Store
	Templates *template.Registry
	Chat      chatproxy.Client
}

func (h *TalkHandler) RequiredFields() []string { return []string{"npc_id"} }

func (h *TalkHandler) Handle(ctx context.Context, actor dispatcher.ActorContext, args map[string]any) (dispatcher.HandlerResult, error) {
	npcID := argString(args, "npc_id")
	message := argString(args, "message")

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
	if !ok || area.NPC != npcID {
		return errMsg("That NPC isn't here."), nil
	}

	rel := view.NPCs[npcID]
	if view.NPCs == nil {
		rel = statestore.RelationshipState{}
	}

	npcName := npcID
	npcDescription := ""
	if t, err := h.Templates.Resolve(exp.ContentPaths.Root, npcID); err == nil {
		npcName, npcDescription = t.Name, t.Description
	}

	reply, err := h.Chat.Reply(ctx, chatproxy.Request{
		NPCID:              npcID,
		NPCName:            npcName,
		NPCDescription:     npcDescription,
		TrustLevel:         rel.TrustLevel,
		TotalConversations: rel.TotalConversations,
		PlayerSummary: map[string]any{
			"current_location": view.CurrentLocation,
			"current_area":     view.CurrentArea,
			"inventory_count":  len(view.Inventory),
		},
		Message: message,
	})
	if err != nil {
		return dispatcher.HandlerResult{}, err
	}

	delta := ScoreSentiment(message)
	newTrust := clampTrust(rel.TrustLevel + delta)
	firstMet := rel.FirstMet
	if firstMet == 0 {
		firstMet = nowMS()
	}
	history := appendHistory(rel.ConversationHistory, message)

	newRel := map[string]any{
		"trust_level":          newTrust,
		"total_conversations":  rel.TotalConversations + 1,
		"first_met":            firstMet,
		"conversation_history": history,
	}

	return dispatcher.HandlerResult{
		Success:         true,
		MessageToPlayer: reply.Text,
		Metadata:        map[string]any{"trust_delta": delta, "trust_level": newTrust},
		PlayerDelta: map[string]any{
			"npcs": map[string]any{npcID: map[string]any{"$set": newRel}},
		},
		Changes: []statestore.Change{{Operation: "update", Path: fmt.Sprintf("npcs.%s", npcID)}},
	}, nil
}

func clampTrust(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func appendHistory(history []string, message string) []string {
	out := make([]string, 0, len(history)+1)
	out = append(out, history...)
	out = append(out, message)
	if len(out) > conversationHistoryLimit {
		out = out[len(out)-conversationHistoryLimit:]
	}
	return out
}

// ScoreSentiment re-exports chatproxy's heuristic under the handlers package
// so talk's delta-building code reads as one self-contained unit.
func ScoreSentiment(message string) int { return chatproxy.ScoreSentiment(message) }
