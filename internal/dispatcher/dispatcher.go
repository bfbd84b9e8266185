// Package dispatcher is the Command Dispatcher: it accepts a typed command,
// resolves its canonical verb, routes to a registered handler, applies any
// returned deltas through the State Store, and returns a CommandResult.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/antzucaro/matchr"

	"github.com/kestrel-run/aoi-runtime/internal/statestore"
)

// fuzzyVerbThreshold is the minimum Jaro-Winkler similarity required to
// accept an unrecognized verb as a typo of a registered one.
const fuzzyVerbThreshold = 0.85

// Action is one entry of a CommandResult's actions list — a loosely typed
// wire record describing a client-facing side effect (§4.5: "actions?:
// [{type, ...}]").
type Action map[string]any

// CommandResult is the dispatcher's wire-facing response to one command
// (§4.5).
type CommandResult struct {
	Success         bool           `json:"success"`
	MessageToPlayer string         `json:"message_to_player,omitempty"`
	Actions         []Action       `json:"actions,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// ActorContext identifies who is issuing a command and in which experience.
type ActorContext struct {
	UserID       string
	ExperienceID string
	IsAdmin      bool
}

// HandlerResult is what a Handler returns internally — richer than
// CommandResult because it carries the raw deltas the dispatcher applies
// through the State Store rather than publishing itself (§4.5: "the
// dispatcher does not publish events directly").
type HandlerResult struct {
	Success         bool
	MessageToPlayer string
	Actions         []Action
	Metadata        map[string]any

	// WorldDelta and PlayerDelta are applied as one logical commit via
	// [statestore.Store.ApplyCombined]. Either may be nil.
	WorldDelta  map[string]any
	PlayerDelta map[string]any
	Changes     []statestore.Change
}

// Handler implements one command verb. All handlers share the signature
// described in §4.6: handle(user_id, experience_id, args) → CommandResult.
type Handler interface {
	// RequiredFields lists the args keys the dispatcher must find present
	// (and non-empty) before invoking Handle.
	RequiredFields() []string

	// Handle executes the command. Handlers are deterministic; they must
	// not call the LLM directly (talk proxies to the chat service, which
	// is itself deterministic from the dispatcher's point of view: a
	// bounded HTTP call with a canned fallback).
	Handle(ctx context.Context, actor ActorContext, args map[string]any) (HandlerResult, error)
}

// Dispatcher routes verbs (after alias/fuzzy resolution) to registered
// Handlers and commits their deltas through a [statestore.Store].
type Dispatcher struct {
	store statestore.Store

	mu       sync.RWMutex
	handlers map[string]Handler
	aliases  map[string]string
}

// New creates an empty Dispatcher over store.
func New(store statestore.Store) *Dispatcher {
	return &Dispatcher{
		store:    store,
		handlers: make(map[string]Handler),
		aliases:  make(map[string]string),
	}
}

// Register adds a Handler under its canonical verb.
func (d *Dispatcher) Register(verb string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[verb] = h
}

// Alias maps an alternate phrasing (e.g. "take", "grab", "pick up") to a
// canonical verb already passed to Register (e.g. "collect").
func (d *Dispatcher) Alias(alias, canonical string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.aliases[strings.ToLower(alias)] = canonical
}

// resolveVerb implements §4.5's "lightweight natural-language alias
// resolution at the edge". It checks the exact alias table first, then
// falls back to Jaro-Winkler similarity against every registered canonical
// verb to tolerate minor typos (e.g. "colect").
func (d *Dispatcher) resolveVerb(raw string) (string, Handler, bool) {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if lower == "" {
		return "", nil, false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if h, ok := d.handlers[lower]; ok {
		return lower, h, true
	}
	if canonical, ok := d.aliases[lower]; ok {
		if h, ok := d.handlers[canonical]; ok {
			return canonical, h, true
		}
	}

	best := ""
	bestScore := 0.0
	for verb := range d.handlers {
		score := matchr.JaroWinkler(lower, verb, false)
		if score > bestScore {
			bestScore = score
			best = verb
		}
	}
	if best != "" && bestScore >= fuzzyVerbThreshold {
		return best, d.handlers[best], true
	}
	return "", nil, false
}

// Dispatch resolves rawVerb, validates required fields, invokes the
// handler, and commits any resulting deltas (§4.5 contract and failure
// semantics).
func (d *Dispatcher) Dispatch(ctx context.Context, actor ActorContext, rawVerb string, args map[string]any) CommandResult {
	verb, handler, ok := d.resolveVerb(rawVerb)
	if !ok {
		return CommandResult{Success: false, MessageToPlayer: fmt.Sprintf("I don't understand %q.", rawVerb)}
	}

	for _, field := range handler.RequiredFields() {
		if !hasNonEmpty(args, field) {
			return CommandResult{Success: false, MessageToPlayer: fmt.Sprintf("Missing required field %q for %q.", field, verb)}
		}
	}

	result, err := d.invoke(ctx, handler, actor, args)
	if err != nil {
		slog.Error("dispatcher: handler panicked", "verb", verb, "user_id", actor.UserID, "experience_id", actor.ExperienceID, "error", err)
		return CommandResult{Success: false, MessageToPlayer: "Something went wrong. Please try again."}
	}

	if result.WorldDelta != nil || result.PlayerDelta != nil {
		_, _, err := d.store.ApplyCombined(ctx, actor.ExperienceID, actor.UserID, result.WorldDelta, result.PlayerDelta, result.Changes)
		if err != nil {
			if errors.Is(err, statestore.ErrLockTimeout) {
				return CommandResult{Success: false, MessageToPlayer: "The world is busy right now — try again."}
			}
			slog.Error("dispatcher: commit state changes", "verb", verb, "user_id", actor.UserID, "experience_id", actor.ExperienceID, "error", err)
			return CommandResult{Success: false, MessageToPlayer: "Something went wrong. Please try again."}
		}
	}

	return CommandResult{
		Success:         result.Success,
		MessageToPlayer: result.MessageToPlayer,
		Actions:         result.Actions,
		Metadata:        result.Metadata,
	}
}

// invoke calls handler.Handle, converting a panic into an error so one
// misbehaving handler cannot take down the dispatch loop (§4.5: "Handler
// exceptions: caught and converted to success=false with a generic
// player-facing message").
func (d *Dispatcher) invoke(ctx context.Context, handler Handler, actor ActorContext, args map[string]any) (result HandlerResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Handle(ctx, actor, args)
}

func hasNonEmpty(args map[string]any, field string) bool {
	v, ok := args[field]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}
