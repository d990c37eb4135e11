// Package eventstore keeps an optional SQLite log of completed utterances for
// operators who want to inspect what the pipeline heard and said. The default
// retention mode is ephemeral, which keeps nothing and opens no database.
package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/murmurlabs/murmur-core/internal/config"
	_ "modernc.org/sqlite"
)

// Utterance kinds.
const (
	KindTranscription = "transcription"
	KindGeneration    = "generation"
)

// Utterance is one completed request through either worker.
type Utterance struct {
	ID        int64
	RequestID string
	Kind      string
	Text      string
	Model     string
	Device    string
	LatencyMS int64
	CreatedAt time.Time
}

// Store wraps the SQLite-backed utterance log.
type Store struct {
	db    *sql.DB
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config. Ephemeral mode returns a
// store whose writes are no-ops; session mode keeps the log in memory for the
// process lifetime only.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dsn := "file::memory:?cache=shared"
	if cfg.RetentionMode != "session" {
		dir := filepath.Dir(cfg.Path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("utterance store vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("utterance store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS utterances (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    text TEXT NOT NULL,
    model TEXT,
    device TEXT,
    latency_ms INTEGER,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_utterances_kind_created ON utterances(kind, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append records a completed utterance. No-op in ephemeral mode.
func (s *Store) Append(ctx context.Context, u Utterance) error {
	if s == nil || s.db == nil {
		return nil
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO utterances(request_id, kind, text, model, device, latency_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		u.RequestID, u.Kind, u.Text, u.Model, u.Device, u.LatencyMS, u.CreatedAt)
	return err
}

// ListRecent returns up to limit utterances of a kind, newest first.
func (s *Store) ListRecent(ctx context.Context, kind string, limit int) ([]Utterance, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, kind, text, model, device, latency_ms, created_at
		 FROM utterances WHERE kind = ? ORDER BY created_at DESC, id DESC LIMIT ?`, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Utterance
	for rows.Next() {
		var u Utterance
		var created string
		if err := rows.Scan(&u.ID, &u.RequestID, &u.Kind, &u.Text, &u.Model, &u.Device, &u.LatencyMS, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			u.CreatedAt = ts
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Prune applies configured retention.
func (s *Store) Prune(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err := s.db.ExecContext(ctx, `DELETE FROM utterances WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxUtterances > 0 {
		_, err := s.db.ExecContext(ctx, `DELETE FROM utterances WHERE id IN (
			SELECT id FROM utterances ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxUtterances)
		if err != nil {
			return err
		}
	}
	return nil
}
