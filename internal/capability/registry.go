// Package capability tracks verification dependencies between tests. A
// test provides a capability when it verifies some server behavior (fork,
// queued tasks); other tests assume that capability and are skipped until
// every provider has passed. This lets a test say "I observe X through
// fork()" without naming the fork tests.
package capability

import (
	"fmt"
	"sort"
	"sync"
)

// State of a capability. Unverified until every provider has passed,
// Failed as soon as any provider fails.
type State int

const (
	Unverified State = iota
	Verified
	Failed
)

func (s State) String() string {
	switch s {
	case Verified:
		return "verified"
	case Failed:
		return "failed"
	default:
		return "unverified"
	}
}

// Role places a test in the run order. Providers run first so their
// capabilities are settled before anything depends on them; consumers run
// last.
type Role int

const (
	RoleProvider Role = iota
	RoleNormal
	RoleConsumer
)

// RoleOf classifies a test for scheduling. Providing wins over assuming:
// a test that does both still runs in the provider phase, with its
// assumptions checked at execution time.
func RoleOf(provides string, assumes []string) Role {
	switch {
	case provides != "":
		return RoleProvider
	case len(assumes) > 0:
		return RoleConsumer
	default:
		return RoleNormal
	}
}

type capability struct {
	state     State
	providers []string
	passed    map[string]struct{}
	failedBy  string
}

// Registry tracks capability states across a run. Safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]*capability
}

func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]*capability)}
}

// RegisterProvider records that testID verifies the named capability.
// Registration happens during collection, before anything runs.
func (r *Registry) RegisterProvider(name, testID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cap, ok := r.caps[name]
	if !ok {
		cap = &capability{passed: make(map[string]struct{})}
		r.caps[name] = cap
	}
	cap.providers = append(cap.providers, testID)
}

// MarkPassed records a provider success. The capability becomes Verified
// once every registered provider has passed. Unregistered capabilities are
// ignored.
func (r *Registry) MarkPassed(name, testID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cap, ok := r.caps[name]
	if !ok {
		return
	}
	cap.passed[testID] = struct{}{}
	if len(cap.passed) == len(cap.providers) {
		cap.state = Verified
	}
}

// MarkFailed records a provider failure. The capability fails immediately
// and remembers the first provider that broke it. Unregistered
// capabilities are ignored.
func (r *Registry) MarkFailed(name, testID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cap, ok := r.caps[name]
	if !ok {
		return
	}
	cap.state = Failed
	if cap.failedBy == "" {
		cap.failedBy = testID
	}
}

// CanRun checks the assumed capabilities in order and reports the first
// one that blocks execution. The reason is suitable for a skip message.
func (r *Registry) CanRun(assumes []string) (bool, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range assumes {
		cap, ok := r.caps[name]
		if !ok {
			return false, fmt.Sprintf("assumes '%s' which has no provider", name)
		}
		switch cap.state {
		case Failed:
			return false, fmt.Sprintf("assumes '%s' which failed verification", name)
		case Unverified:
			return false, fmt.Sprintf("assumes '%s' which is not yet verified", name)
		}
	}
	return true, ""
}

// State returns the current state of a capability and whether it exists.
func (r *Registry) State(name string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cap, ok := r.caps[name]
	if !ok {
		return Unverified, false
	}
	return cap.state, true
}

// Status is a point-in-time view of one capability, for reporting.
type Status struct {
	Name      string
	State     State
	Providers int
	Passed    int
	FailedBy  string
}

// Snapshot returns every capability sorted by name.
func (r *Registry) Snapshot() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.caps))
	for name, cap := range r.caps {
		out = append(out, Status{
			Name:      name,
			State:     cap.state,
			Providers: len(cap.providers),
			Passed:    len(cap.passed),
			FailedBy:  cap.failedBy,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
