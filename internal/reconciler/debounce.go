package reconciler

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
)

// DebounceCache decides whether an observed entity state needs to be
// persisted.
//
// A write is due when the identity has no cached signature, when the
// signature changed, or when MinRewriteInterval has elapsed since the last
// write (periodic refresh keeps LastSeenAt current). All methods are safe for
// concurrent use; ShouldWrite performs its check and update under one lock.
//
// The cache also remembers when each identity was last observed, written or
// not, since a debounced observation leaves the stored LastSeenAt behind.
type DebounceCache struct {
	mu       sync.Mutex
	clock    clock.Clock
	interval time.Duration
	entries  map[string]debounceEntry
}

type debounceEntry struct {
	signature string
	writtenAt time.Time

	day        string
	observedAt time.Time
}

// NewDebounceCache creates a cache refreshing unchanged entities every
// interval. A nil clock uses the wall clock.
func NewDebounceCache(clk clock.Clock, interval time.Duration) *DebounceCache {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &DebounceCache{
		clock:    clk,
		interval: interval,
		entries:  make(map[string]debounceEntry),
	}
}

// ShouldWrite reports whether identity must be written with signature and,
// if so, records the write as done now.
func (c *DebounceCache) ShouldWrite(identity, signature string) bool {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[identity]
	if ok && entry.signature == signature && now.Sub(entry.writtenAt) < c.interval {
		return false
	}

	entry.signature = signature
	entry.writtenAt = now
	c.entries[identity] = entry
	return true
}

// Observe records that identity, belonging to referenceDay, was present in a
// snapshot taken at observedAt.
func (c *DebounceCache) Observe(identity, referenceDay string, observedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.entries[identity]
	entry.day = referenceDay
	if observedAt.After(entry.observedAt) {
		entry.observedAt = observedAt
	}
	c.entries[identity] = entry
}

// LastObserved returns the latest observation time recorded for identity.
func (c *DebounceCache) LastObserved(identity string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[identity]
	if !ok || entry.observedAt.IsZero() {
		return time.Time{}, false
	}
	return entry.observedAt, true
}

// EvictBefore drops every identity observed only on reference days before
// referenceDay and returns how many were removed.
func (c *DebounceCache) EvictBefore(referenceDay string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for identity, entry := range c.entries {
		if entry.day != "" && entry.day < referenceDay {
			delete(c.entries, identity)
			evicted++
		}
	}
	return evicted
}

// Invalidate drops the cached state of identity so that its next
// observation is written unconditionally.
func (c *DebounceCache) Invalidate(identity string) {
	c.mu.Lock()
	delete(c.entries, identity)
	c.mu.Unlock()
}

// SetInterval changes the refresh interval for subsequent decisions.
func (c *DebounceCache) SetInterval(interval time.Duration) {
	c.mu.Lock()
	c.interval = interval
	c.mu.Unlock()
}

// Len returns the number of cached identities.
func (c *DebounceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Signature summarizes the persisted fields of an observation.
func Signature(status Status, payload map[string]string) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(string(status))
	for _, k := range keys {
		v := payload[k]
		sb.WriteByte('|')
		sb.WriteString(strconv.Itoa(len(k)))
		sb.WriteByte(':')
		sb.WriteString(k)
		sb.WriteString(strconv.Itoa(len(v)))
		sb.WriteByte(':')
		sb.WriteString(v)
	}
	return sb.String()
}
