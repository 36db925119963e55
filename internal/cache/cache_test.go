package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/guilherme-santos/smartcal"
)

func TestKey(t *testing.T) {
	fields := map[string]string{"timezone": "Asia/Seoul", "date": "2024-08-20"}

	k1 := Key("  내일 오후 2시 회의 ", fields)
	k2 := Key("내일 오후 2시 회의", map[string]string{"date": "2024-08-20", "timezone": "Asia/Seoul"})
	if k1 != k2 {
		t.Fatalf("expected same key, got %q and %q", k1, k2)
	}

	if k := Key("MEETING tomorrow", nil); k != Key("meeting tomorrow", nil) {
		t.Errorf("expected key to ignore case, got %q", k)
	}

	k3 := Key("내일 오후 2시 회의", map[string]string{"timezone": "UTC", "date": "2024-08-20"})
	if k1 == k3 {
		t.Error("expected different context to change the key")
	}
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 8, 20, 10, 0, 0, 0, time.UTC)
	m := NewMemory().WithClock(func() time.Time { return now })

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, smartcal.ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}

	ev := &smartcal.ParsedEvent{Title: "회의", StartAt: now, EndAt: now.Add(time.Hour), Confidence: 0.9}
	if err := m.Set(ctx, "k", ev, time.Hour); err != nil {
		t.Fatal(err)
	}
	ev.Title = "mutated"

	got, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "회의" {
		t.Errorf("expected stored title to be unaffected, got %q", got.Title)
	}

	now = now.Add(time.Hour)
	if _, err := m.Get(ctx, "k"); !errors.Is(err, smartcal.ErrCacheMiss) {
		t.Errorf("expected expired entry to miss, got %v", err)
	}
}

func TestMemoryPurge(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	m := NewMemory().WithClock(func() time.Time { return now })

	m.Set(ctx, "short", &smartcal.ParsedEvent{Title: "a"}, time.Minute)
	m.Set(ctx, "long", &smartcal.ParsedEvent{Title: "b"}, time.Hour)

	now = now.Add(2 * time.Minute)
	if n := m.Purge(); n != 1 {
		t.Fatalf("expected 1 purged entry, got %d", n)
	}
	if _, err := m.Get(ctx, "long"); err != nil {
		t.Errorf("expected long entry to survive, got %v", err)
	}
}

func TestMemoryExpiredEntryIsReplaced(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 8, 20, 10, 0, 0, 0, time.UTC)
	m := NewMemory().WithClock(func() time.Time { return now })

	m.Set(ctx, "k", &smartcal.ParsedEvent{Title: "old"}, time.Hour)
	m.Set(ctx, "other", &smartcal.ParsedEvent{Title: "other"}, time.Hour)

	now = now.Add(2 * time.Hour)
	if _, err := m.Get(ctx, "k"); !errors.Is(err, smartcal.ErrCacheMiss) {
		t.Fatalf("expected expired entry to miss, got %v", err)
	}
	if n := m.Purge(); n != 1 {
		t.Errorf("expected the remaining expired entry to be purged, got %d", n)
	}

	m.Set(ctx, "k", &smartcal.ParsedEvent{Title: "new"}, time.Hour)
	got, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "new" {
		t.Errorf("expected the newer parse, got %q", got.Title)
	}
}
