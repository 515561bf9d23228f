package logbuffer

import (
	"testing"
	"time"
)

func TestRingOverwritesOldest(t *testing.T) {
	b := New(3)
	for i, msg := range []string{"a", "b", "c", "d"} {
		b.Add(LogEntry{Message: msg, Timestamp: time.Unix(int64(i), 0)})
	}

	all := b.GetAll()
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].Message != "b" || all[2].Message != "d" {
		t.Fatalf("entries = %v", all)
	}
}

func TestQueryFilters(t *testing.T) {
	b := New(10)
	b.Add(LogEntry{Level: "info", Component: "playlist", Message: "item started"})
	b.Add(LogEntry{Level: "warn", Component: "media", Message: "prefetch failed"})
	b.Add(LogEntry{Level: "info", Component: "playlist", Message: "switched to pin 1"})

	if got := b.Query(QueryParams{Level: "warn"}); len(got) != 1 || got[0].Component != "media" {
		t.Fatalf("level filter = %v", got)
	}
	if got := b.Query(QueryParams{Component: "playlist"}); len(got) != 2 {
		t.Fatalf("component filter returned %d entries", len(got))
	}
	if got := b.Query(QueryParams{Search: "SWITCHED"}); len(got) != 1 {
		t.Fatalf("search filter returned %d entries", len(got))
	}
	if got := b.Query(QueryParams{Limit: 1, Descending: true}); len(got) != 1 || got[0].Message != "switched to pin 1" {
		t.Fatalf("limit+descending = %v", got)
	}
}

func TestWriterParsesJSONEvents(t *testing.T) {
	b := New(10)
	w := NewWriter(b, nil)

	line := []byte(`{"level":"info","component":"whip","session_id":"s1","message":"whip session started"}`)
	if _, err := w.Write(line); err != nil {
		t.Fatalf("write: %v", err)
	}

	all := b.GetAll()
	if len(all) != 1 {
		t.Fatalf("len = %d, want 1", len(all))
	}
	entry := all[0]
	if entry.Level != "info" || entry.Component != "whip" || entry.Message != "whip session started" {
		t.Fatalf("entry = %+v", entry)
	}
	if entry.Fields["session_id"] != "s1" {
		t.Fatalf("fields = %v", entry.Fields)
	}

	// Garbage input is ignored, not an error.
	if _, err := w.Write([]byte("not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if stats := b.Stats(); stats.Count != 1 {
		t.Fatalf("count = %d, want 1", stats.Count)
	}
}

func TestComponentsAndStats(t *testing.T) {
	b := New(10)
	b.Add(LogEntry{Level: "info", Component: "playlist"})
	b.Add(LogEntry{Level: "error", Component: "api"})
	b.Add(LogEntry{Level: "info", Component: "playlist"})

	comps := b.Components()
	if len(comps) != 2 {
		t.Fatalf("components = %v", comps)
	}
	stats := b.Stats()
	if stats.Count != 3 || stats.LevelCount["info"] != 2 || stats.LevelCount["error"] != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}
