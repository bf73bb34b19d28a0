package monitor

import (
	"regexp"
	"sort"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
)

// State is the heartbeat state of a monitor.
type State string

const (
	// StateRunning means the monitor started and has not finished a cycle yet.
	StateRunning State = "RUNNING"

	// StateOnline means the last cycle read a trusted listing and persisted it.
	StateOnline State = "ONLINE"

	// StateWarning means the last cycle ran on a degraded listing or hit
	// persistence errors. The monitor keeps polling.
	StateWarning State = "WARNING"

	// StateIdle means the last tick fell outside working hours.
	StateIdle State = "IDLE"

	// StateError means the last cycle failed outright, for example an
	// expired upstream session.
	StateError State = "ERROR"
)

// Heartbeat is the last known status of one monitor.
type Heartbeat struct {
	// Monitor is the partition key the monitor observes.
	Monitor string `json:"monitor" yaml:"monitor"`

	State   State  `json:"state" yaml:"state"`
	Message string `json:"message" yaml:"message"`

	// CycleID identifies the cycle that produced this heartbeat.
	CycleID string `json:"cycle_id,omitempty" yaml:"cycle_id,omitempty"`

	// UpdatedAt is when the heartbeat was recorded.
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`

	// LastOnlineAt is the last time the monitor reported ONLINE.
	LastOnlineAt *time.Time `json:"last_online_at,omitempty" yaml:"last_online_at,omitempty"`

	// Failures counts consecutive WARNING or ERROR heartbeats.
	Failures int `json:"failures" yaml:"failures"`
}

// StatusTracker keeps the heartbeat of every monitor in the process.
// It is safe for concurrent use.
type StatusTracker struct {
	mu      sync.RWMutex
	clock   clock.Clock
	entries map[string]*Heartbeat
}

// NewStatusTracker creates an empty tracker. A nil clock uses the wall clock.
func NewStatusTracker(clk clock.Clock) *StatusTracker {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &StatusTracker{
		clock:   clk,
		entries: make(map[string]*Heartbeat),
	}
}

// Update records a heartbeat for name.
func (t *StatusTracker) Update(name string, state State, cycleID, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	hb, ok := t.entries[name]
	if !ok {
		hb = &Heartbeat{Monitor: name}
		t.entries[name] = hb
	}

	now := t.clock.Now()
	hb.State = state
	hb.Message = message
	hb.CycleID = cycleID
	hb.UpdatedAt = now

	switch state {
	case StateOnline:
		hb.LastOnlineAt = &now
		hb.Failures = 0
	case StateWarning, StateError:
		hb.Failures++
	}
}

// Get returns a copy of the heartbeat of name.
func (t *StatusTracker) Get(name string) (Heartbeat, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	hb, ok := t.entries[name]
	if !ok {
		return Heartbeat{}, false
	}
	return hb.copy(), true
}

// All returns every heartbeat sorted by monitor name.
func (t *StatusTracker) All() []Heartbeat {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Heartbeat, 0, len(t.entries))
	for _, hb := range t.entries {
		out = append(out, hb.copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Monitor < out[j].Monitor })
	return out
}

func (hb *Heartbeat) copy() Heartbeat {
	c := *hb
	if hb.LastOnlineAt != nil {
		at := *hb.LastOnlineAt
		c.LastOnlineAt = &at
	}
	return c
}

var (
	urlCredentials = regexp.MustCompile(`://[^/\s:@]+:[^/\s@]+@`)
	bearerToken    = regexp.MustCompile(`(?i)\bbearer\s+\S+`)
	secretParam    = regexp.MustCompile(`(?i)\b(password|passwd|pwd|token|access_token|apikey|api_key|secret|session|sessionid)=[^\s&]+`)
	absolutePath   = regexp.MustCompile(`(^|[\s"'(])(/[A-Za-z0-9._-]+){2,}/?`)
	longOpaque     = regexp.MustCompile(`[A-Za-z0-9+/_-]{40,}={0,2}`)
)

// SanitizeErrorMessage removes credentials, tokens and local paths from an
// error message before it is stored in a heartbeat or printed by the CLI.
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}
	msg = urlCredentials.ReplaceAllString(msg, "://[REDACTED]@")
	msg = bearerToken.ReplaceAllString(msg, "bearer [REDACTED]")
	msg = secretParam.ReplaceAllString(msg, "$1=[REDACTED]")
	msg = absolutePath.ReplaceAllString(msg, "$1[path]")
	msg = longOpaque.ReplaceAllString(msg, "[REDACTED]")
	return msg
}
