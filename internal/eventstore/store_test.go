package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/murmurlabs/murmur-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	cfg := config.StoreConfig{Path: "./unused.db", RetentionMode: "ephemeral"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Append(context.Background(), Utterance{RequestID: "r1", Kind: KindTranscription, Text: "hi"}); err != nil {
		t.Fatalf("ephemeral append should no-op: %v", err)
	}
	rows, err := s.ListRecent(context.Background(), KindTranscription, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("ephemeral store should keep nothing, got %d rows", len(rows))
	}
}

func TestAppendAndList(t *testing.T) {
	cfg := config.StoreConfig{Path: filepath.Join(t.TempDir(), "utterances.db"), RetentionMode: "session"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	u := Utterance{
		RequestID: "req-1",
		Kind:      KindTranscription,
		Text:      "hello world",
		Model:     "base.en",
		Device:    "cpu",
		LatencyMS: 120,
	}
	if err := s.Append(context.Background(), u); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(context.Background(), Utterance{RequestID: "req-2", Kind: KindGeneration, Text: "red, blue"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	rows, err := s.ListRecent(context.Background(), KindTranscription, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 transcription, got %d", len(rows))
	}
	if rows[0].Text != "hello world" || rows[0].Model != "base.en" {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
}

func TestPruneRetention(t *testing.T) {
	cfg := config.StoreConfig{
		Path:          filepath.Join(t.TempDir(), "utterances.db"),
		RetentionMode: "persistent",
		RetentionDays: 1,
		MaxUtterances: 1,
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	s.clock = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.Append(context.Background(), Utterance{RequestID: "old", Kind: KindTranscription, Text: "old"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	s.clock = func() time.Time { return time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC) }
	if err := s.Append(context.Background(), Utterance{RequestID: "new", Kind: KindTranscription, Text: "new"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	rows, err := s.ListRecent(context.Background(), KindTranscription, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].RequestID != "new" {
		t.Fatalf("expected only the new utterance to survive, got %+v", rows)
	}
}
