package server

import (
	"sort"
	"sync"
	"time"
)

// leaseTracker remembers when each running trial was last heard from.
// A nil tracker never expires anything.
type leaseTracker struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]time.Time
}

func newLeaseTracker(ttl time.Duration) *leaseTracker {
	if ttl <= 0 {
		return nil
	}
	return &leaseTracker{
		ttl:     ttl,
		entries: make(map[string]time.Time),
	}
}

func (l *leaseTracker) touch(id string, now time.Time) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.entries[id] = now.Add(l.ttl)
	l.mu.Unlock()
}

func (l *leaseTracker) release(id string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.entries, id)
	l.mu.Unlock()
}

func (l *leaseTracker) active(id string, now time.Time) bool {
	if l == nil {
		return false
	}
	l.mu.RLock()
	expiresAt, ok := l.entries[id]
	l.mu.RUnlock()
	return ok && expiresAt.After(now)
}

// expire removes and returns the IDs whose lease lapsed before now.
func (l *leaseTracker) expire(now time.Time) []string {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for id, expiresAt := range l.entries {
		if !expiresAt.After(now) {
			out = append(out, id)
			delete(l.entries, id)
		}
	}
	sort.Strings(out)
	return out
}
