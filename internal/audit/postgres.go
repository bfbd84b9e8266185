package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the command_audit table.
const Schema = `
CREATE TABLE IF NOT EXISTS command_audit (
    id              BIGSERIAL PRIMARY KEY,
    timestamp_ms    BIGINT NOT NULL,
    experience_id   TEXT NOT NULL,
    user_id         TEXT NOT NULL,
    verb            TEXT NOT NULL,
    args            JSONB NOT NULL DEFAULT '{}',
    success         BOOLEAN NOT NULL,
    message         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_command_audit_experience ON command_audit(experience_id, timestamp_ms DESC);
CREATE INDEX IF NOT EXISTS idx_command_audit_user ON command_audit(experience_id, user_id);
CREATE INDEX IF NOT EXISTS idx_command_audit_verb ON command_audit(experience_id, verb);
`

// DB is the database interface used by [PostgresRecorder]. Both
// *pgxpool.Pool and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRecorder is a [Recorder] backed by PostgreSQL, append-only by
// convention (no Delete/Update method is exposed).
type PostgresRecorder struct {
	db DB
}

var _ Recorder = (*PostgresRecorder)(nil)

// NewPostgresRecorder creates a PostgresRecorder over db. Call [Migrate]
// once before first use.
func NewPostgresRecorder(db DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

// Migrate executes [Schema] against the database.
func (r *PostgresRecorder) Migrate(ctx context.Context) error {
	_, err := r.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	return nil
}

// Record implements [Recorder.Record].
func (r *PostgresRecorder) Record(ctx context.Context, entry Entry) error {
	argsJSON, err := json.Marshal(emptyMap(entry.Args))
	if err != nil {
		return fmt.Errorf("audit: marshal args: %w", err)
	}

	const query = `
		INSERT INTO command_audit (timestamp_ms, experience_id, user_id, verb, args, success, message)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err = r.db.Exec(ctx, query, entry.TimestampMS, entry.ExperienceID, entry.UserID, entry.Verb, argsJSON, entry.Success, entry.Message)
	if err != nil {
		return fmt.Errorf("audit: record: %w", err)
	}
	return nil
}

// Find implements [Recorder.Find].
func (r *PostgresRecorder) Find(ctx context.Context, experienceID string, filter Filter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT timestamp_ms, experience_id, user_id, verb, args, success, message
		FROM command_audit
		WHERE experience_id = $1`
	args := []any{experienceID}

	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if filter.Verb != "" {
		args = append(args, filter.Verb)
		query += fmt.Sprintf(" AND verb = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY timestamp_ms DESC LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: find: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var argsJSON []byte
		if err := rows.Scan(&e.TimestampMS, &e.ExperienceID, &e.UserID, &e.Verb, &argsJSON, &e.Success, &e.Message); err != nil {
			return nil, fmt.Errorf("audit: find scan: %w", err)
		}
		if err := json.Unmarshal(argsJSON, &e.Args); err != nil {
			return nil, fmt.Errorf("audit: unmarshal args: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: find: %w", err)
	}
	return entries, nil
}

// Stats implements [Recorder.Stats].
func (r *PostgresRecorder) Stats(ctx context.Context, experienceID string) (Stats, error) {
	stats := Stats{ByVerb: map[string]int{}}

	const totalsQuery = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE success),
			COUNT(*) FILTER (WHERE NOT success)
		FROM command_audit WHERE experience_id = $1`
	if err := r.db.QueryRow(ctx, totalsQuery, experienceID).Scan(&stats.TotalCommands, &stats.SuccessCount, &stats.FailureCount); err != nil {
		return Stats{}, fmt.Errorf("audit: stats totals: %w", err)
	}

	const byVerbQuery = `
		SELECT verb, COUNT(*) FROM command_audit WHERE experience_id = $1 GROUP BY verb`
	rows, err := r.db.Query(ctx, byVerbQuery, experienceID)
	if err != nil {
		return Stats{}, fmt.Errorf("audit: stats by verb: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var verb string
		var count int
		if err := rows.Scan(&verb, &count); err != nil {
			return Stats{}, fmt.Errorf("audit: stats by verb scan: %w", err)
		}
		stats.ByVerb[verb] = count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("audit: stats by verb: %w", err)
	}
	return stats, nil
}

func emptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
