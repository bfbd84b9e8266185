// Package audit is the durable command-audit trail backing the admin
// `@stats`/`@find` verbs (§4.6.7). It is a supplemental feature: the core
// spec does not mandate persistence of command history, but an admin surface
// with no record of what happened is hard to operate, and the teacher
// repository's NPC definition store already shows the JSONB-over-pgx shape
// this needs.
package audit

import "context"

// Entry is one recorded command invocation.
type Entry struct {
	TimestampMS  int64          `json:"timestamp_ms"`
	ExperienceID string         `json:"experience_id"`
	UserID       string         `json:"user_id"`
	Verb         string         `json:"verb"`
	Args         map[string]any `json:"args,omitempty"`
	Success      bool           `json:"success"`
	Message      string         `json:"message,omitempty"`
}

// Filter narrows a [Recorder.Find] query. A zero value matches everything,
// subject to Limit.
type Filter struct {
	UserID string
	Verb   string
	Limit  int
}

// Stats summarizes command activity for one experience.
type Stats struct {
	TotalCommands int            `json:"total_commands"`
	SuccessCount  int            `json:"success_count"`
	FailureCount  int            `json:"failure_count"`
	ByVerb        map[string]int `json:"by_verb"`
}

// Recorder is the audit trail's contract. Recording failures are logged and
// swallowed by callers the same way event-bus publish failures are — an
// audit outage must never fail a command.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
	Find(ctx context.Context, experienceID string, filter Filter) ([]Entry, error)
	Stats(ctx context.Context, experienceID string) (Stats, error)
}

// NopRecorder discards everything. Used when audit.postgres_dsn is unset.
type NopRecorder struct{}

func (NopRecorder) Record(ctx context.Context, entry Entry) error { return nil }

func (NopRecorder) Find(ctx context.Context, experienceID string, filter Filter) ([]Entry, error) {
	return nil, nil
}

func (NopRecorder) Stats(ctx context.Context, experienceID string) (Stats, error) {
	return Stats{ByVerb: map[string]int{}}, nil
}

var _ Recorder = NopRecorder{}
