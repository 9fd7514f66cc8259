// Package registry holds the ordered fleet of upstream decryption servers and
// their mutable busy/token state, and selects an idle upstream in round-robin
// order for key-packet dispatch.
package registry

import (
	"sync"
	"time"
)

// Descriptor is the static identity of a configured upstream.
type Descriptor struct {
	Index    int
	BaseURL  string
	Username string
	Password string
}

// state is the mutable per-upstream runtime state, guarded by Registry.mu.
type state struct {
	busyUntil     time.Time
	token         string
	tokenIssuedAt time.Time

	requestTotal    uint64
	keygenBusyCount uint64
	keySuccessCount uint64
}

// Snapshot is a read-only view of one upstream's current state, used by the
// stats endpoint.
type Snapshot struct {
	Descriptor
	Busy            bool
	BusyUntil       time.Time
	HasToken        bool
	TokenIssuedAt   time.Time
	RequestTotal    uint64
	KeygenBusyCount uint64
	KeySuccessCount uint64
}

// Registry is the ordered upstream fleet. It is safe for concurrent use.
type Registry struct {
	mu          sync.Mutex
	descriptors []Descriptor
	states      []state
	last        int
}

// New builds a Registry from an ordered list of upstream descriptors.
func New(descriptors []Descriptor) *Registry {
	r := &Registry{
		descriptors: descriptors,
		states:      make([]state, len(descriptors)),
		last:        -1,
	}
	return r
}

// Len returns the number of configured upstreams.
func (r *Registry) Len() int {
	return len(r.descriptors)
}

// Get returns the descriptor for a given index, or false if out of range.
func (r *Registry) Get(idx int) (Descriptor, bool) {
	if idx < 0 || idx >= len(r.descriptors) {
		return Descriptor{}, false
	}
	return r.descriptors[idx], true
}

// effectiveBusy reports whether the upstream at idx is currently busy,
// treating an expired busy-until as idle without writing it back eagerly.
func (r *Registry) effectiveBusy(idx int, now time.Time) bool {
	return r.states[idx].busyUntil.After(now)
}

// PickIdleRoundRobin returns the index of the next idle upstream starting
// just after the last one picked, wrapping around. Returns (-1, false) if
// every upstream is currently busy.
func (r *Registry) PickIdleRoundRobin() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.descriptors)
	if n == 0 {
		return -1, false
	}
	now := time.Now()
	for i := 0; i < n; i++ {
		idx := (r.last + 1 + i) % n
		if !r.effectiveBusy(idx, now) {
			r.last = idx
			return idx, true
		}
	}
	return -1, false
}

// SetBusy marks an upstream busy for the given duration (the dispatcher's
// default of 36s matches the processing-set TTL so a stuck drone id recovers
// on the same clock).
func (r *Registry) SetBusy(idx int, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx < 0 || idx >= len(r.states) {
		return
	}
	r.states[idx].busyUntil = time.Now().Add(d)
}

// Token returns the cached token and whether it is present and fresh enough
// (younger than maxAge). A zero maxAge means "any cached token is fine".
func (r *Registry) Token(idx int, maxAge time.Duration) (token string, fresh bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx < 0 || idx >= len(r.states) {
		return "", false
	}
	s := r.states[idx]
	if s.token == "" {
		return "", false
	}
	if maxAge > 0 && time.Since(s.tokenIssuedAt) >= maxAge {
		return s.token, false
	}
	return s.token, true
}

// SetToken stores a freshly issued token for an upstream.
func (r *Registry) SetToken(idx int, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx < 0 || idx >= len(r.states) {
		return
	}
	r.states[idx].token = token
	r.states[idx].tokenIssuedAt = time.Now()
}

// InvalidateToken clears a stale token so the next call re-authenticates.
func (r *Registry) InvalidateToken(idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx < 0 || idx >= len(r.states) {
		return
	}
	r.states[idx].token = ""
	r.states[idx].tokenIssuedAt = time.Time{}
}

// BumpRequestTotal increments the best-effort request counter for an upstream.
func (r *Registry) BumpRequestTotal(idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx < 0 || idx >= len(r.states) {
		return
	}
	r.states[idx].requestTotal++
}

// BumpKeygenBusy increments the best-effort keygen-busy counter for an upstream.
func (r *Registry) BumpKeygenBusy(idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx < 0 || idx >= len(r.states) {
		return
	}
	r.states[idx].keygenBusyCount++
}

// BumpKeySuccess increments the best-effort key-success counter for an upstream.
func (r *Registry) BumpKeySuccess(idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx < 0 || idx >= len(r.states) {
		return
	}
	r.states[idx].keySuccessCount++
}

// All returns a snapshot of every upstream's current state, for the stats
// endpoint.
func (r *Registry) All() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	out := make([]Snapshot, len(r.descriptors))
	for i, d := range r.descriptors {
		s := r.states[i]
		out[i] = Snapshot{
			Descriptor:      d,
			Busy:            r.effectiveBusy(i, now),
			BusyUntil:       s.busyUntil,
			HasToken:        s.token != "",
			TokenIssuedAt:   s.tokenIssuedAt,
			RequestTotal:    s.requestTotal,
			KeygenBusyCount: s.keygenBusyCount,
			KeySuccessCount: s.keySuccessCount,
		}
	}
	return out
}
