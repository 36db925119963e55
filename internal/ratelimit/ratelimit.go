// Package ratelimit implements sliding-window request counters that are safe
// to share across concurrent requests.
package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Window approximates a sliding window with two fixed buckets: the current
// one counts in full and the previous one is weighted by how much of it
// still overlaps the window.
type Window struct {
	limit   int64
	size    time.Duration
	buckets sync.Map // "key|n" -> *atomic.Int64
	latest  sync.Map // key -> newest bucket number
	now     func() time.Time
}

// New allows limit calls per key within any window of the given size.
// A limit <= 0 disables limiting.
func New(limit int, size time.Duration) *Window {
	if size <= 0 {
		size = time.Minute
	}
	return &Window{
		limit: int64(limit),
		size:  size,
		now:   time.Now,
	}
}

func (w *Window) WithClock(now func() time.Time) *Window {
	w.now = now
	return w
}

// Allow records one call for key. When the call would exceed the limit it is
// not counted and the returned duration says when to try again.
func (w *Window) Allow(key string) (bool, time.Duration) {
	if w.limit <= 0 {
		return true, 0
	}
	now := w.now()
	n := now.UnixNano() / int64(w.size)
	elapsed := time.Duration(now.UnixNano() - n*int64(w.size))

	cur := w.counter(key, n)
	count := cur.Add(1)

	var prev int64
	if v, ok := w.buckets.Load(bucketKey(key, n-1)); ok {
		prev = v.(*atomic.Int64).Load()
	}
	weight := 1 - float64(elapsed)/float64(w.size)
	if float64(prev)*weight+float64(count) <= float64(w.limit) {
		return true, 0
	}
	cur.Add(-1)

	retry := w.size - elapsed
	if retry < time.Second {
		retry = time.Second
	}
	return false, retry.Round(time.Second)
}

func (w *Window) counter(key string, n int64) *atomic.Int64 {
	if v, ok := w.buckets.Load(bucketKey(key, n)); ok {
		return v.(*atomic.Int64)
	}
	v, loaded := w.buckets.LoadOrStore(bucketKey(key, n), new(atomic.Int64))
	if !loaded {
		w.evict(key, n)
	}
	return v.(*atomic.Int64)
}

// evict drops the buckets of key that are older than the one before n. A key
// only ever holds its newest bucket and the one before it, so those are the
// only ones to look at.
func (w *Window) evict(key string, n int64) {
	v, ok := w.latest.Swap(key, n)
	if !ok {
		return
	}
	last := v.(int64)
	if last > n {
		// lost a race with a newer bucket
		w.latest.Store(key, last)
		return
	}
	for _, old := range []int64{last, last - 1} {
		if old < n-1 {
			w.buckets.Delete(bucketKey(key, old))
		}
	}
}

func bucketKey(key string, n int64) string {
	return fmt.Sprintf("%s|%d", key, n)
}
