// Package cache derives parse cache keys and keeps validated parses in memory.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/guilherme-santos/smartcal"
)

// DefaultTTL is how long a parse stays reusable.
const DefaultTTL = 24 * time.Hour

// Key hashes the normalized text together with the context fields sorted by name,
// so the same request always maps to the same key across restarts.
func Key(text string, fields map[string]string) string {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	pairs := make([][2]string, len(names))
	for i, k := range names {
		pairs[i] = [2]string{k, fields[k]}
	}
	ctxJSON, _ := json.Marshal(pairs)

	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(text))))
	h.Write([]byte{0})
	h.Write(ctxJSON)
	return "parse:" + hex.EncodeToString(h.Sum(nil))
}

type entry struct {
	data      []byte
	expiresAt time.Time
}

// Memory is a process-local Cache. Values are stored encoded, so callers
// can't mutate a cached parse through the pointer they got back.
type Memory struct {
	entries sync.Map
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

// WithClock replaces the clock used for expiry checks.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Get(ctx context.Context, key string) (*smartcal.ParsedEvent, error) {
	v, ok := m.entries.Load(key)
	if !ok {
		return nil, smartcal.ErrCacheMiss
	}
	e := v.(*entry)
	if !m.now().Before(e.expiresAt) {
		m.entries.CompareAndDelete(key, v)
		return nil, smartcal.ErrCacheMiss
	}
	var ev smartcal.ParsedEvent
	if err := json.Unmarshal(e.data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (m *Memory) Set(ctx context.Context, key string, ev *smartcal.ParsedEvent, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	m.entries.Store(key, &entry{data: data, expiresAt: m.now().Add(ttl)})
	return nil
}

// Purge drops every expired entry and returns how many were removed.
func (m *Memory) Purge() int {
	now := m.now()
	var n int
	m.entries.Range(func(k, v any) bool {
		if !now.Before(v.(*entry).expiresAt) && m.entries.CompareAndDelete(k, v) {
			n++
		}
		return true
	})
	return n
}
