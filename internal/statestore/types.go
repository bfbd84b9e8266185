// Package statestore is the authoritative, durable, concurrent-safe state
// engine: it owns every world and player-view JSON file on disk, applies
// structured delta operators under an advisory exclusive lock, tracks
// per-player snapshot versions, and publishes v0.4 world-update events.
package statestore

// GPS is a lat/lng pair.
type GPS struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Instance is a runtime entity spawned from a Template. It lives in exactly
// one of: an Area's item list, a player inventory, or nowhere (after
// deletion) — its location is identified by its containing path, not an
// explicit back-pointer.
type Instance struct {
	InstanceID  string         `json:"instance_id"`
	TemplateID  string         `json:"template_id"`
	Type        string         `json:"type"`
	Visible     bool           `json:"visible"`
	Collectible bool           `json:"collectible"`
	State       map[string]any `json:"state,omitempty"`
}

// Area is a subdivision of a Zone. The Items list is ordered and is the
// authoritative source for which items exist at that area.
type Area struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	Items         []Instance        `json:"items"`
	NPC           string            `json:"npc,omitempty"`
	Exits         []string          `json:"exits,omitempty"`
	CardinalExits map[string]string `json:"cardinal_exits,omitempty"`
}

// Zone is a themed location within an experience. In shared experiences a
// Zone is global; in isolated experiences a Zone exists per player view.
type Zone struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	GPS         GPS             `json:"gps"`
	Areas       map[string]Area `json:"areas"`
	NPC         string          `json:"npc,omitempty"`
}

// World is the shared-model authoritative world snapshot for one experience.
type World struct {
	Zones map[string]Zone `json:"zones"`
}

// RelationshipState is a per-NPC, per-player record of accumulated rapport.
type RelationshipState struct {
	TrustLevel          int      `json:"trust_level"`
	TotalConversations  int      `json:"total_conversations"`
	FirstMet            int64    `json:"first_met"`
	ConversationHistory []string `json:"conversation_history"`
}

// conversationHistoryLimit bounds RelationshipState.ConversationHistory to a
// ring buffer of this length (§3 Entities — Relationship State).
const conversationHistoryLimit = 20

// PlayerView is the per-(user, experience) record. In an isolated
// experience, Locations additionally holds that player's private copy of
// the world; in a shared experience Locations is empty and Zones are read
// from the experience's shared World instead.
type PlayerView struct {
	CurrentLocation string                       `json:"current_location"`
	CurrentArea     string                       `json:"current_area"`
	Inventory       []Instance                   `json:"inventory"`
	NPCs            map[string]RelationshipState `json:"npcs"`
	SnapshotVersion uint64                       `json:"snapshot_version"`
	LastAction      string                       `json:"last_action,omitempty"`

	// Locations is populated only for isolated-model experiences.
	Locations map[string]Zone `json:"locations,omitempty"`
}
