package wsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/kestrel-run/aoi-runtime/internal/aoi"
	"github.com/kestrel-run/aoi-runtime/internal/config"
	"github.com/kestrel-run/aoi-runtime/internal/dispatcher"
	"github.com/kestrel-run/aoi-runtime/internal/eventbus"
	"github.com/kestrel-run/aoi-runtime/internal/observe"
	"github.com/kestrel-run/aoi-runtime/internal/statestore"
	"github.com/kestrel-run/aoi-runtime/internal/template"
	"github.com/kestrel-run/aoi-runtime/pkg/wire"
)

// connState is the session's lifecycle state (§4.7: "State machine: {INIT →
// AUTH_OK → CONNECTED → CLOSING → CLOSED}").
type connState int32

const (
	stateInit connState = iota
	stateAuthOK
	stateConnected
	stateClosing
	stateClosed
)

// Session owns one persistent client connection (§4.7). It is created after
// authentication succeeds and torn down on any disconnect path.
type Session struct {
	id           string
	userID       string
	experienceID string
	isAdmin      bool

	conn *websocket.Conn

	store      statestore.Store
	templates  *template.Registry
	builder    *aoi.Builder
	dispatcher *dispatcher.Dispatcher
	bus        eventbus.Client
	registry   *Registry
	metrics    *observe.Metrics

	heartbeatInterval time.Duration

	state   atomic.Int32
	writeMu sync.Mutex
	sub     eventbus.SubscriptionHandle
	hasSub  bool
	done    chan struct{}
}

// closeDueToReplacement closes a session that a newer connection for the
// same (experience, user) has superseded (§4.7 step 2).
func (s *Session) closeDueToReplacement() {
	s.closeWithStatus(websocket.StatusNormalClosure, "replaced by a newer connection")
}

func (s *Session) closeWithStatus(code websocket.StatusCode, reason string) {
	if !s.state.CompareAndSwap(int32(stateConnected), int32(stateClosing)) &&
		!s.state.CompareAndSwap(int32(stateAuthOK), int32(stateClosing)) {
		return
	}
	_ = s.conn.Close(code, reason)
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *Session) writeJSON(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wsapi: marshal frame: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(ctx, websocket.MessageText, payload)
}

// run drives the session's lifecycle: welcome, subscribe, heartbeat loop,
// message loop. It blocks until the connection closes, then performs
// teardown (§4.7 step 7).
func (s *Session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.teardown()

	s.state.Store(int32(stateConnected))
	if s.metrics != nil {
		s.metrics.ActiveConnections.Add(ctx, 1)
		defer s.metrics.ActiveConnections.Add(ctx, -1)
	}

	if err := s.writeJSON(ctx, wire.Connected{
		Type:         wire.TypeConnected,
		ConnectionID: s.id,
		UserID:       s.userID,
		Experience:   s.experienceID,
		Timestamp:    nowMS(),
	}); err != nil {
		slog.Warn("wsapi: send welcome frame", "error", err)
		return
	}

	handle, err := s.bus.Subscribe(ctx, eventbus.SubjectForUser(s.userID), s.onWorldUpdate(ctx))
	if err != nil {
		slog.Error("wsapi: subscribe to event bus", "user_id", s.userID, "error", err)
	} else {
		s.sub = handle
		s.hasSub = true
	}

	go s.heartbeatLoop(ctx)

	s.messageLoop(ctx)
}

func (s *Session) teardown() {
	if s.hasSub {
		_ = s.bus.Unsubscribe(s.sub)
	}
	s.registry.Unregister(s.experienceID, s.userID, s)
	s.state.Store(int32(stateClosed))
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	_ = s.conn.CloseNow()
}

// onWorldUpdate relays a published world_update event to this connection.
// It decodes the State Store's event and rebuilds each change with
// [toWireOperation], which merges the raw Instance with its Template, so the
// client receives the same denormalized records the AOI frame carries.
func (s *Session) onWorldUpdate(ctx context.Context) eventbus.Handler {
	return func(payload []byte) {
		if s.state.Load() != int32(stateConnected) {
			return
		}
		var evt statestore.WorldUpdateEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			slog.Warn("wsapi: decode world_update payload", "error", err)
			return
		}

		exp, err := s.store.LoadExperienceConfig(s.experienceID)
		if err != nil {
			slog.Warn("wsapi: load experience for world_update relay", "error", err)
			return
		}
		changes := make([]wire.Operation, 0, len(evt.Changes))
		for _, c := range evt.Changes {
			changes = append(changes, toWireOperation(c, s.templates, exp.ContentPaths.Root))
		}

		frame := wire.WorldUpdate{
			Type:            wire.TypeWorldUpdate,
			Version:         evt.Version,
			Experience:      evt.Experience,
			UserID:          evt.UserID,
			BaseVersion:     evt.BaseVersion,
			SnapshotVersion: evt.SnapshotVersion,
			Changes:         changes,
			Timestamp:       evt.TimestampMS,
			Metadata:        wire.UpdateMetadata{Source: evt.Metadata.Source, StateModel: evt.Metadata.StateModel},
		}
		if err := s.writeJSON(ctx, frame); err != nil {
			s.closeWithStatus(websocket.StatusInternalError, "write failure")
		}
	}
}

func (s *Session) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.writeJSON(ctx, wire.Heartbeat{Type: wire.TypeHeartbeat, Timestamp: nowMS()}); err != nil {
				s.closeWithStatus(websocket.StatusInternalError, "heartbeat write failure")
				return
			}
		}
	}
}

// messageLoop implements §4.7 step 5: read frames, dispatch by type.
func (s *Session) messageLoop(ctx context.Context) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return
		}

		var env wire.Inbound
		if err := json.Unmarshal(data, &env); err != nil {
			_ = s.writeJSON(ctx, errorFrame(wire.ErrCodeInvalidJSON, "invalid JSON frame"))
			continue
		}
		if env.Type == "" {
			_ = s.writeJSON(ctx, errorFrame(wire.ErrCodeMissingType, "frame is missing a type field"))
			continue
		}

		switch env.Type {
		case wire.TypeUpdateLocation:
			s.handleUpdateLocation(ctx, data)
		case wire.TypeAction:
			s.handleAction(ctx, data)
		case wire.TypePing:
			s.handlePing(ctx, data)
		case wire.TypeChat:
			s.handleChat(ctx, data)
		default:
			_ = s.writeJSON(ctx, errorFrame(wire.ErrCodeUnknownType, fmt.Sprintf("unknown frame type %q", env.Type)))
		}
	}
}

func (s *Session) handleUpdateLocation(ctx context.Context, data []byte) {
	var msg wire.UpdateLocation
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = s.writeJSON(ctx, errorFrame(wire.ErrCodeInvalidJSON, "invalid update_location frame"))
		return
	}
	a, err := s.builder.Build(ctx, s.experienceID, s.userID, msg.Lat, msg.Lng)
	if err != nil {
		slog.Error("wsapi: build aoi", "user_id", s.userID, "error", err)
		_ = s.writeJSON(ctx, errorFrame(wire.ErrCodeInternal, "could not resolve area of interest"))
		return
	}
	frame := toWireAOI(a)
	frame.Type = wire.TypeAreaOfInterest
	if err := s.writeJSON(ctx, frame); err != nil {
		s.closeWithStatus(websocket.StatusInternalError, "write failure")
	}
}

func (s *Session) handleAction(ctx context.Context, data []byte) {
	var msg wire.Action
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = s.writeJSON(ctx, errorFrame(wire.ErrCodeInvalidJSON, "invalid action frame"))
		return
	}

	actor := dispatcher.ActorContext{UserID: s.userID, ExperienceID: s.experienceID, IsAdmin: s.isAdmin}
	start := time.Now()
	result := s.dispatcher.Dispatch(ctx, actor, msg.Action, msg.Args)
	if s.metrics != nil {
		status := "ok"
		if !result.Success {
			status = "error"
		}
		s.metrics.RecordCommand(ctx, msg.Action, status, time.Since(start).Seconds())
	}

	frame := wire.ActionResponse{
		Type:      wire.TypeActionResponse,
		Action:    msg.Action,
		Success:   result.Success,
		Message:   result.MessageToPlayer,
		Metadata:  result.Metadata,
		Timestamp: nowMS(),
	}
	if err := s.writeJSON(ctx, frame); err != nil {
		s.closeWithStatus(websocket.StatusInternalError, "write failure")
	}
}

func (s *Session) handlePing(ctx context.Context, data []byte) {
	var msg wire.Ping
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = s.writeJSON(ctx, errorFrame(wire.ErrCodeInvalidJSON, "invalid ping frame"))
		return
	}
	_ = s.writeJSON(ctx, wire.Heartbeat{Type: wire.TypePong, Timestamp: msg.Timestamp})
}

// handleChat proxies a free-text chat frame to the talk handler, targeting
// whatever NPC occupies the player's current area (§4.7 step 5: "proxied to
// talk handler or returned as a placeholder canned response").
func (s *Session) handleChat(ctx context.Context, data []byte) {
	var msg wire.Chat
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = s.writeJSON(ctx, errorFrame(wire.ErrCodeInvalidJSON, "invalid chat frame"))
		return
	}

	view, err := s.store.GetPlayerView(ctx, s.experienceID, s.userID)
	if err != nil {
		_ = s.writeJSON(ctx, errorFrame(wire.ErrCodeInternal, "could not resolve player state"))
		return
	}
	if view.CurrentLocation == "" || view.CurrentArea == "" {
		_ = s.writeJSON(ctx, wire.ActionResponse{Type: wire.TypeActionResponse, Action: "talk", Success: false, Message: "There's no one here to talk to.", Timestamp: nowMS()})
		return
	}

	actor := dispatcher.ActorContext{UserID: s.userID, ExperienceID: s.experienceID, IsAdmin: s.isAdmin}
	result := s.dispatcher.Dispatch(ctx, actor, "talk", map[string]any{"npc_id": currentAreaNPC(ctx, s, view), "message": msg.Text})
	_ = s.writeJSON(ctx, wire.ActionResponse{
		Type:      wire.TypeActionResponse,
		Action:    "talk",
		Success:   result.Success,
		Message:   result.MessageToPlayer,
		Metadata:  result.Metadata,
		Timestamp: nowMS(),
	})
}

func currentAreaNPC(ctx context.Context, s *Session, view *statestore.PlayerView) string {
	exp, err := s.store.LoadExperienceConfig(s.experienceID)
	if err != nil {
		return ""
	}
	var zones map[string]statestore.Zone
	if exp.StateModel == config.StateModelIsolated {
		zones = view.Locations
	} else if world, err := s.store.GetWorldState(ctx, s.experienceID); err == nil {
		zones = world.Zones
	}
	zone, ok := zones[view.CurrentLocation]
	if !ok {
		return ""
	}
	area, ok := zone.Areas[view.CurrentArea]
	if !ok {
		return ""
	}
	return area.NPC
}

func errorFrame(code, message string) wire.ErrorFrame {
	return wire.ErrorFrame{Type: wire.TypeError, Code: code, Message: message, Timestamp: nowMS()}
}

func nowMS() int64 { return time.Now().UnixMilli() }

func newConnectionID() string { return ulid.Make().String() }
