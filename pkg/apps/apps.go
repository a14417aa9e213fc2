// Package apps implements the Application Registry: tracking
// applications, their declared AWM menus, priorities and sync state.
// Priority classes are dense small integers (0 highest); the registry
// keeps one bucket per class so iteration and counting by priority
// never scan the whole population.
package apps

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/bbque/pkg/attrs"
	"github.com/cuemby/bbque/pkg/awm"
	"github.com/cuemby/bbque/pkg/log"
	"github.com/cuemby/bbque/pkg/metrics"
)

// SyncState is the synchronization state of an application's lifecycle
// state machine.
type SyncState int

const (
	StateNew SyncState = iota
	StateStarting
	StateRunning
	StateReconf
	StateMigrate
	StateMigrec
	StateBlocked
	StateDisabled
	StateFinished
)

func (s SyncState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateReconf:
		return "reconf"
	case StateMigrate:
		return "migrate"
	case StateMigrec:
		return "migrec"
	case StateBlocked:
		return "blocked"
	case StateDisabled:
		return "disabled"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// ConstraintOp is the operation carried by a client-supplied constraint.
type ConstraintOp int

const (
	ConstraintAdd ConstraintOp = iota
	ConstraintRemove
)

// ConstraintBound is the admissibility test a constraint applies to an
// AWM id.
type ConstraintBound int

const (
	BoundExact ConstraintBound = iota
	BoundLower
	BoundUpper
)

// Constraint restricts the set of AWMs an application may be scheduled
// into, set via the RTLib client boundary.
type Constraint struct {
	AwmID uint8
	Op    ConstraintOp
	Bound ConstraintBound
}

var (
	// ErrAlreadyExists is returned by Register on a duplicate app id.
	ErrAlreadyExists = errors.New("apps: application already registered")
	// ErrNotFound is returned when an id has no registered application.
	ErrNotFound = errors.New("apps: application not found")
)

// Application is one registered application: its identity, declared
// menu, current/next AWM, sync state and attributes.
type Application struct {
	mu sync.Mutex

	ID       string
	Priority int
	Menu     []*awm.AWM

	Current *awm.AWM
	Next    *awm.AWM

	// CurrentCluster and NextCluster are the cluster ids Current/Next
	// are bound under, -1 meaning "not yet bound". Compared against
	// each other to distinguish a reconfig (same cluster) from a
	// migration (different cluster), independent of whether the AWM id
	// itself changed.
	CurrentCluster int
	NextCluster    int

	state       SyncState
	goalGap     float64
	constraints []Constraint

	Attrs *attrs.Container
}

// State returns the application's current sync state.
func (a *Application) State() SyncState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// SetState transitions the application to state. Concurrent
// transitions on the same application are serialized by a.mu.
func (a *Application) SetState(state SyncState) {
	a.mu.Lock()
	a.state = state
	a.mu.Unlock()
}

// GoalGap returns the application's current Normalized Actual Penalty
// (0..100), the RTLib-supplied scheduling hint.
func (a *Application) GoalGap() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.goalGap
}

// SetGoalGap records a new goal-gap hint from the client boundary.
func (a *Application) SetGoalGap(percent float64) {
	a.mu.Lock()
	a.goalGap = percent
	a.mu.Unlock()
}

// SetConstraints replaces the application's active constraint list.
func (a *Application) SetConstraints(cs []Constraint) {
	a.mu.Lock()
	a.constraints = append([]Constraint(nil), cs...)
	a.mu.Unlock()
}

// AdmissibleMenu returns the subset of the declared menu that survives
// the application's active constraints: each ConstraintAdd entry
// excludes AWMs outside its bound; ConstraintRemove entries do not
// filter.
func (a *Application) AdmissibleMenu() []*awm.AWM {
	a.mu.Lock()
	cs := append([]Constraint(nil), a.constraints...)
	menu := a.Menu
	a.mu.Unlock()

	if len(cs) == 0 {
		return menu
	}
	out := make([]*awm.AWM, 0, len(menu))
	for _, candidate := range menu {
		if admits(cs, candidate.ID) {
			out = append(out, candidate)
		}
	}
	return out
}

func admits(cs []Constraint, id uint8) bool {
	for _, c := range cs {
		if c.Op != ConstraintAdd {
			continue
		}
		switch c.Bound {
		case BoundExact:
			if id != c.AwmID {
				return false
			}
		case BoundLower:
			if id < c.AwmID {
				return false
			}
		case BoundUpper:
			if id > c.AwmID {
				return false
			}
		}
	}
	return true
}

// bucket is one priority class's ordered membership.
type bucket struct {
	mu      sync.Mutex
	byID    map[string]*Application
	ordered []string // sorted app ids, rebuilt lazily on Register/Deregister
	dirty   bool
}

func newBucket() *bucket {
	return &bucket{byID: make(map[string]*Application)}
}

func (b *bucket) add(app *Application) {
	b.mu.Lock()
	b.byID[app.ID] = app
	b.dirty = true
	b.mu.Unlock()
}

func (b *bucket) remove(id string) {
	b.mu.Lock()
	delete(b.byID, id)
	b.dirty = true
	b.mu.Unlock()
}

func (b *bucket) snapshot() []*Application {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dirty {
		ids := make([]string, 0, len(b.byID))
		for id := range b.byID {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		b.ordered = ids
		b.dirty = false
	}
	out := make([]*Application, 0, len(b.ordered))
	for _, id := range b.ordered {
		out = append(out, b.byID[id])
	}
	return out
}

func (b *bucket) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byID)
}

// Registry is the Application Registry: per-priority buckets
// guarded by their own mutex, so a scheduling round iterating one
// priority class never contends with registration activity in another.
type Registry struct {
	mu      sync.RWMutex
	buckets map[int]*bucket
	byID    map[string]*Application
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		buckets: make(map[int]*bucket),
		byID:    make(map[string]*Application),
	}
}

// Register adds a new application with the given id, priority and
// declared AWM menu, in StateNew. Fails with ErrAlreadyExists on a
// duplicate id.
func (r *Registry) Register(id string, priority int, menu []*awm.AWM) (*Application, error) {
	r.mu.Lock()
	if _, ok := r.byID[id]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}
	app := &Application{
		ID:             id,
		Priority:       priority,
		Menu:           menu,
		state:          StateNew,
		CurrentCluster: -1,
		NextCluster:    -1,
		Attrs:          attrs.New(),
	}
	r.byID[id] = app
	b, ok := r.buckets[priority]
	if !ok {
		b = newBucket()
		r.buckets[priority] = b
	}
	r.mu.Unlock()

	b.add(app)
	metrics.ApplicationsTotal.WithLabelValues(app.state.String()).Inc()
	log.WithComponent("apps").Info().Str("app", id).Int("priority", priority).Msg("registered application")
	return app, nil
}

// Deregister removes app, marking it StateFinished before eviction so
// any concurrent reader sees a terminal state.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	app, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.byID, id)
	b := r.buckets[app.Priority]
	r.mu.Unlock()

	prevState := app.State()
	app.SetState(StateFinished)
	if b != nil {
		b.remove(id)
	}
	metrics.ApplicationsTotal.WithLabelValues(prevState.String()).Dec()
	metrics.ApplicationsTotal.WithLabelValues(StateFinished.String()).Inc()
	return nil
}

// Lookup returns the application registered under id.
func (r *Registry) Lookup(id string) (*Application, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	app, ok := r.byID[id]
	return app, ok
}

// IterByPrio returns a stable-ordered snapshot of every application
// currently in priority class prio. The snapshot is a copy; mutating
// it does not affect the registry.
func (r *Registry) IterByPrio(prio int) []*Application {
	r.mu.RLock()
	b, ok := r.buckets[prio]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return b.snapshot()
}

// CountByPrio returns the number of applications in priority class
// prio.
func (r *Registry) CountByPrio(prio int) int {
	r.mu.RLock()
	b, ok := r.buckets[prio]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	return b.len()
}

// LowestPrio returns the numerically largest (lowest-priority) class
// with at least one member, or -1 if the registry is empty.
func (r *Registry) LowestPrio() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lowest := -1
	for prio, b := range r.buckets {
		if b.len() == 0 {
			continue
		}
		if prio > lowest {
			lowest = prio
		}
	}
	return lowest
}

// Priorities returns every non-empty priority class, highest first.
func (r *Registry) Priorities() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.buckets))
	for prio, b := range r.buckets {
		if b.len() > 0 {
			out = append(out, prio)
		}
	}
	sort.Ints(out)
	return out
}

// HasAny reports whether any registered application is currently in
// state.
func (r *Registry) HasAny(state SyncState) bool {
	r.mu.RLock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	apps := make([]*Application, 0, len(ids))
	for _, id := range ids {
		apps = append(apps, r.byID[id])
	}
	r.mu.RUnlock()

	for _, app := range apps {
		if app.State() == state {
			return true
		}
	}
	return false
}
