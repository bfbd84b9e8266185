// Package opsnotify is a minimal, best-effort operations notification
// side-channel: admin resets, circuit-breaker transitions, and event-bus
// reconnects are posted to a Discord channel for visibility. It is a
// supplemental feature with no place in the request path — a notify failure
// is logged and otherwise invisible; it never gates a handler's success.
package opsnotify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/kestrel-run/aoi-runtime/internal/config"
)

// Notifier sends best-effort text notifications.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// NopNotifier discards every notification. Used when ops_notify.token is unset.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, message string) {}

var _ Notifier = NopNotifier{}

// DiscordNotifier posts to a single channel via a bot session. Unlike the
// full command-routing bot this runtime's design is modeled on, it opens no
// gateway connection and registers no commands or intents — it only needs
// the REST surface to send a channel message.
type DiscordNotifier struct {
	session   *discordgo.Session
	channelID string
}

// NewDiscordNotifier creates a DiscordNotifier from cfg. Returns
// [NopNotifier] if cfg.Token is empty.
func NewDiscordNotifier(cfg config.OpsNotifyConfig) (Notifier, error) {
	if cfg.Token == "" {
		return NopNotifier{}, nil
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("opsnotify: create session: %w", err)
	}
	return &DiscordNotifier{session: session, channelID: cfg.ChannelID}, nil
}

// Notify implements [Notifier]. Failures are logged, never returned —
// callers never have to handle an ops-notify error.
func (n *DiscordNotifier) Notify(ctx context.Context, message string) {
	if _, err := n.session.ChannelMessageSend(n.channelID, message); err != nil {
		slog.Warn("opsnotify: send message", "error", err)
	}
}
