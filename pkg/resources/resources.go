// Package resources implements the Resource Registry: hierarchical
// naming and lookup of resource descriptors, keyed by dotted resource
// path (pkg/respath). Registration happens once at startup; lookups
// take only a read lock afterward.
package resources

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/bbque/pkg/respath"
)

// ErrAlreadyExists is returned by Register on a duplicate path.
var ErrAlreadyExists = fmt.Errorf("resources: path already registered")

// ViewToken names a snapshot of accounting state. Token 0 is the system
// (committed) view. Owned by pkg/accounter; resources only stores data
// keyed by it.
type ViewToken uint32

// SystemView is the token naming the committed system view.
const SystemView ViewToken = 0

// slot holds the accounting for one descriptor under one view: the
// amount already used, broken down per owning application.
type slot struct {
	used    uint64
	perApp  map[string]uint64
}

// Descriptor is a single registered resource (e.g. "tile0.cluster2.pe1").
// Total is immutable once registered. Per-view accounting is guarded by
// mu, independent of the registry's own lock, so that concurrent views
// over different descriptors never contend.
type Descriptor struct {
	mu    sync.Mutex
	Path  string
	Type  string // "pe", "mem", or a platform-defined resource type
	Total uint64

	slots map[ViewToken]*slot
}

func newDescriptor(path, typ string, total uint64) *Descriptor {
	return &Descriptor{
		Path:  path,
		Type:  typ,
		Total: total,
		slots: map[ViewToken]*slot{SystemView: {perApp: make(map[string]uint64)}},
	}
}

func (d *Descriptor) slotFor(v ViewToken) *slot {
	s, ok := d.slots[v]
	if !ok {
		s = &slot{perApp: make(map[string]uint64)}
		d.slots[v] = s
	}
	return s
}

// Used returns the total amount charged against v.
func (d *Descriptor) Used(v ViewToken) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.slots[v]; ok {
		return s.used
	}
	if s, ok := d.slots[SystemView]; ok {
		return s.used
	}
	return 0
}

// Available returns Total - Used(v), optionally adding back the share
// already charged to app (so a scheduler can treat an app's own current
// usage as reclaimable).
func (d *Descriptor) Available(v ViewToken, app string) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.effectiveSlot(v)
	used := s.used
	if app != "" {
		if charged, ok := s.perApp[app]; ok && charged <= used {
			used -= charged
		}
	}
	if used >= d.Total {
		return 0
	}
	return d.Total - used
}

// effectiveSlot returns the slot for v, falling back to the system view
// if v has not yet overlaid this descriptor (copy-on-write: a fresh view
// reads through to system state until it is first written).
func (d *Descriptor) effectiveSlot(v ViewToken) *slot {
	if s, ok := d.slots[v]; ok {
		return s
	}
	return d.slots[SystemView]
}

// Charge adds delta (signed) to v's usage for app, copy-on-write
// overlaying v from the system view on its first write. Returns the
// resulting used amount.
func (d *Descriptor) Charge(v ViewToken, app string, delta int64) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.charge(v, app, delta)
}

func (d *Descriptor) charge(v ViewToken, app string, delta int64) uint64 {
	// Ensure v has its own overlay, copy-on-write from the system view if
	// this is the first write against v.
	if _, ok := d.slots[v]; !ok {
		base := d.slots[SystemView]
		cp := &slot{used: base.used, perApp: make(map[string]uint64, len(base.perApp))}
		for k, val := range base.perApp {
			cp.perApp[k] = val
		}
		d.slots[v] = cp
	}
	s := d.slots[v]
	if delta >= 0 {
		s.used += uint64(delta)
		s.perApp[app] += uint64(delta)
	} else {
		dec := uint64(-delta)
		if dec > s.used {
			s.used = 0
		} else {
			s.used -= dec
		}
		if dec > s.perApp[app] {
			s.perApp[app] = 0
		} else {
			s.perApp[app] -= dec
		}
		if s.perApp[app] == 0 {
			delete(s.perApp, app)
		}
	}
	return s.used
}

// DropView discards the overlay for v, releasing its memory. Called
// when a view is released without being adopted.
func (d *Descriptor) DropView(v ViewToken) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.slots, v)
}

// Adopt replaces the system view's slot with v's overlay (or leaves the
// system slot untouched if v never wrote to this descriptor).
func (d *Descriptor) Adopt(v ViewToken) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.slots[v]; ok {
		d.slots[SystemView] = s
		delete(d.slots, v)
	}
}

// Registry is the hierarchical naming/lookup service for resource
// descriptors. Registration is one-shot at startup; reads afterward take
// only a read lock (effectively lock-free under the expected read-mostly
// access pattern).
type Registry struct {
	mu    sync.RWMutex
	byPath map[string]*Descriptor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byPath: make(map[string]*Descriptor)}
}

// Register adds a new descriptor at path with the given total capacity
// and resource type. Fails with ErrAlreadyExists on a duplicate path.
func (r *Registry) Register(path, typ string, total uint64) (*Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byPath[path]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, path)
	}
	d := newDescriptor(path, typ, total)
	r.byPath[path] = d
	return d, nil
}

// LookupExact returns the descriptor registered at the exact path, or
// ok=false if absent (not an error).
func (r *Registry) LookupExact(path string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byPath[path]
	return d, ok
}

// LookupTemplate returns every descriptor whose path matches template,
// in path order.
func (r *Registry) LookupTemplate(template string) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Descriptor
	for path, d := range r.byPath {
		if respath.MatchesTemplate(path, template) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// CountByType returns the number of registered descriptors of the given
// resource type.
func (r *Registry) CountByType(typ string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, d := range r.byPath {
		if d.Type == typ {
			n++
		}
	}
	return n
}

// PathTemplate returns the index-free template of path.
func (r *Registry) PathTemplate(path string) string {
	return respath.Template(path)
}

// PopHead splits path into its head segment and the remainder.
func (r *Registry) PopHead(path, sep string) (head, rest string, ok bool) {
	return respath.PopHead(path, sep)
}

// Count returns the number of descriptors matching a template (1 for an
// exact path that resolves to a single descriptor).
func (r *Registry) Count(pathOrTemplate string) int {
	if _, ok := r.LookupExact(pathOrTemplate); ok {
		return 1
	}
	return len(r.LookupTemplate(pathOrTemplate))
}

// All returns every registered descriptor, sorted by path. Used by the
// scheduler to enumerate cluster ids.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.byPath))
	for _, d := range r.byPath {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
