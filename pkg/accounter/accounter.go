// Package accounter implements the Resource Accounter: the
// transactional, multi-versioned bookkeeping of resource allocations.
// Views are zero-copy, lazy, copy-on-write overlays over the system
// (committed) view - a scheduling round touches only the handful of
// descriptors its candidates request, not the whole registry, rather
// than cloning the entire resource state per view.
//
// Locking follows a separation of per-bucket and whole-store locks:
// each descriptor guards its own accounting slots
// (pkg/resources), while the Accounter's own view directory is guarded
// by a single RWMutex, read-mostly after a view is created.
package accounter

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/bbque/pkg/awm"
	"github.com/cuemby/bbque/pkg/log"
	"github.com/cuemby/bbque/pkg/metrics"
	"github.com/cuemby/bbque/pkg/resources"
	"github.com/rs/zerolog"
)

// Sentinel errors for the accounter-level failure kinds.
var (
	ErrNoMemory      = errors.New("accounter: no memory for new view")
	ErrUnknownView   = errors.New("accounter: unknown view token")
	ErrUsageExceeded = errors.New("accounter: usage exceeded available capacity")
	ErrAppMismatch   = errors.New("accounter: usage owned by a different application")
	ErrAppUsages     = errors.New("accounter: application already reserved this awm under this view")
	ErrMissUsages    = errors.New("accounter: awm has no materialized usages to reserve")
	ErrMissAwm       = errors.New("accounter: no reservation on file for this application/awm/view")
)

// view tracks the bookkeeping the Accounter needs for one view token:
// who created it, when, how many holders pin it, and which descriptors
// it has overlaid (so PutView/AdoptView know what to clean up or fold
// back without scanning the whole registry).
type view struct {
	owner     string
	createdAt time.Time
	refcount  int32
	touched   map[*resources.Descriptor]struct{}
}

// reservationKey identifies one (application, awm, view) reservation,
// used to enforce exactly-once Reserve semantics and to drive Release.
type reservationKey struct {
	app   string
	awmID uint8
	view  resources.ViewToken
}

// Accounter is the Resource Accounter.
type Accounter struct {
	registry *resources.Registry
	logger   zerolog.Logger

	mu        sync.RWMutex
	views     map[resources.ViewToken]*view
	nextToken uint32
	maxViews  int // 0 = unlimited

	resMu        sync.Mutex
	reservations map[reservationKey][]*awm.Usage
}

// New creates an Accounter over registry. maxViews caps the number of
// concurrently open views (0 = unlimited); exceeding it surfaces
// ErrNoMemory from GetView rather than a validity-style failure.
func New(registry *resources.Registry, maxViews int) *Accounter {
	return &Accounter{
		registry:     registry,
		logger:       log.WithComponent("accounter"),
		views:        map[resources.ViewToken]*view{resources.SystemView: {owner: "system", createdAt: time.Now(), refcount: 1, touched: map[*resources.Descriptor]struct{}{}}},
		nextToken:    1,
		maxViews:     maxViews,
		reservations: make(map[reservationKey][]*awm.Usage),
	}
}

// GetView allocates a new view derived from the system view by
// zero-copy lazy overlay, owned by owner (a debug/identity string, e.g.
// "sched").
func (a *Accounter) GetView(owner string) (resources.ViewToken, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.maxViews > 0 && len(a.views) >= a.maxViews+1 {
		return 0, ErrNoMemory
	}

	token := resources.ViewToken(a.nextToken)
	a.nextToken++
	if a.nextToken == 0 {
		// wraparound reset: skip back past the reserved system token.
		a.nextToken = 1
	}

	a.views[token] = &view{owner: owner, createdAt: time.Now(), refcount: 1, touched: map[*resources.Descriptor]struct{}{}}
	metrics.AccounterViewsOpen.Inc()
	return token, nil
}

// PutView releases a pin on token. A no-op on the system view. Once the
// last pin is released, any copy-on-write overlays it created are
// discarded.
func (a *Accounter) PutView(token resources.ViewToken) error {
	if token == resources.SystemView {
		return nil
	}

	a.mu.Lock()
	v, ok := a.views[token]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownView, token)
	}
	v.refcount--
	done := v.refcount <= 0
	if done {
		delete(a.views, token)
	}
	a.mu.Unlock()

	if done {
		for d := range v.touched {
			d.DropView(token)
		}
		a.dropReservationsFor(token)
		metrics.AccounterViewsOpen.Dec()
	}
	return nil
}

// AdoptView replaces the system view with token: every descriptor
// overlay token created is folded into the system slot atomically per
// descriptor. Another open view keeps the prior state only on the
// descriptors it has already written to (its own overlay); on every
// other descriptor it reads through to the system slot and so observes
// the adopted state.
func (a *Accounter) AdoptView(token resources.ViewToken) error {
	if token == resources.SystemView {
		return nil
	}

	a.mu.Lock()
	v, ok := a.views[token]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownView, token)
	}
	delete(a.views, token)
	a.mu.Unlock()

	for d := range v.touched {
		d.Adopt(token)
	}

	a.promoteReservations(token)
	metrics.AccounterViewsOpen.Dec()
	a.logger.Info().Uint32("view", uint32(token)).Str("owner", v.owner).Msg("adopted new system view")
	return nil
}

// Count returns the number of descriptors matching a template (1 for a
// specific path).
func (a *Accounter) Count(pathOrTemplate string) int {
	return a.registry.Count(pathOrTemplate)
}

// Total returns a descriptor's immutable total capacity.
func (a *Accounter) Total(path string) (uint64, bool) {
	d, ok := a.registry.LookupExact(path)
	if !ok {
		return 0, false
	}
	return d.Total, true
}

// Used returns the amount used under token across the descriptors
// matching path (exact path or template).
func (a *Accounter) Used(path string, token resources.ViewToken) uint64 {
	var total uint64
	for _, d := range a.resolve(path) {
		total += d.Used(token)
	}
	return total
}

// Available returns the amount still available under token across the
// descriptors matching path. If app is non-empty, the amount already
// charged to app is added back.
func (a *Accounter) Available(path string, token resources.ViewToken, app string) uint64 {
	var total uint64
	for _, d := range a.resolve(path) {
		total += d.Available(token, app)
	}
	return total
}

func (a *Accounter) resolve(path string) []*resources.Descriptor {
	if d, ok := a.registry.LookupExact(path); ok {
		return []*resources.Descriptor{d}
	}
	return a.registry.LookupTemplate(path)
}

// Reserve commits every Usage in usages (the Usage set of AWM wmID as
// bound to one cluster) into token, on behalf of app. It walks each Usage's binding list in order,
// drawing from each descriptor the minimum of the remaining request and
// the remaining availability. On the first descriptor that cannot
// satisfy a positive residual, every partial charge made within this
// call is rolled back and ErrUsageExceeded is returned: a conservative
// release-all policy rather than keeping the partial charge.
func (a *Accounter) Reserve(app string, wmID uint8, usages map[string]*awm.Usage, token resources.ViewToken) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReservationLatency)

	if len(usages) == 0 {
		metrics.ReservationsTotal.WithLabelValues("miss_usages").Inc()
		return ErrMissUsages
	}

	key := reservationKey{app: app, awmID: wmID, view: token}
	a.resMu.Lock()
	if _, done := a.reservations[key]; done {
		a.resMu.Unlock()
		metrics.ReservationsTotal.WithLabelValues("app_usages").Inc()
		return fmt.Errorf("%w: app=%s awm=%d view=%d", ErrAppUsages, app, wmID, token)
	}
	a.resMu.Unlock()

	v, err := a.viewFor(token)
	if err != nil {
		metrics.ReservationsTotal.WithLabelValues("unknown_view").Inc()
		return err
	}

	var committed []*awm.Usage
	for _, u := range orderedUsages(usages) {
		if u.App != "" && u.App != app {
			a.rollback(committed)
			metrics.ReservationsTotal.WithLabelValues("app_mismatch").Inc()
			return fmt.Errorf("%w: usage already owned by %s", ErrAppMismatch, u.App)
		}

		remaining := u.Requested
		var charges []awm.Charge
		for _, d := range u.Bindings {
			if remaining == 0 {
				break
			}
			avail := d.Available(token, "")
			draw := remaining
			if avail < draw {
				draw = avail
			}
			if draw == 0 {
				continue
			}
			d.Charge(token, app, int64(draw))
			a.markTouched(v, d)
			charges = append(charges, awm.Charge{Descriptor: d, Amount: draw})
			remaining -= draw
		}

		if remaining > 0 {
			// undo this usage's own partial charges, then everything
			// committed earlier in this call.
			for _, c := range charges {
				c.Descriptor.Charge(token, app, -int64(c.Amount))
			}
			a.rollback(committed)
			metrics.ReservationsTotal.WithLabelValues("usage_exceeded").Inc()
			return fmt.Errorf("%w: app=%s awm=%d short by %d", ErrUsageExceeded, app, wmID, remaining)
		}

		u.Charges = charges
		u.FirstBind = 0
		u.LastBind = len(charges)
		u.App = app
		u.View = token
		u.Committed = true
		committed = append(committed, u)
	}

	a.resMu.Lock()
	a.reservations[key] = committed
	a.resMu.Unlock()
	metrics.ReservationsTotal.WithLabelValues("ok").Inc()
	return nil
}

// Release undoes the Usages committed by Reserve for app under token.
// Returns ErrMissAwm if no reservation is on file for this
// (app, wmID, token) triple - a no-op rollback rather than an error the
// caller must treat as fatal.
func (a *Accounter) Release(app string, wmID uint8, token resources.ViewToken) error {
	key := reservationKey{app: app, awmID: wmID, view: token}
	a.resMu.Lock()
	committed, ok := a.reservations[key]
	if ok {
		delete(a.reservations, key)
	}
	a.resMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: app=%s awm=%d view=%d", ErrMissAwm, app, wmID, token)
	}
	a.rollback(committed)
	return nil
}

func (a *Accounter) rollback(committed []*awm.Usage) {
	for i := len(committed) - 1; i >= 0; i-- {
		u := committed[i]
		for _, c := range u.Charges {
			c.Descriptor.Charge(u.View, u.App, -int64(c.Amount))
		}
		u.Charges = nil
		u.Committed = false
		u.App = ""
	}
}

func (a *Accounter) viewFor(token resources.ViewToken) (*view, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.views[token]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownView, token)
	}
	return v, nil
}

func (a *Accounter) markTouched(v *view, d *resources.Descriptor) {
	a.mu.Lock()
	v.touched[d] = struct{}{}
	a.mu.Unlock()
}

// dropReservationsFor discards any reservation bookkeeping left over for
// a view that was released without being adopted.
func (a *Accounter) dropReservationsFor(token resources.ViewToken) {
	a.resMu.Lock()
	defer a.resMu.Unlock()
	for k := range a.reservations {
		if k.view == token {
			delete(a.reservations, k)
		}
	}
}

// promoteReservations re-keys reservations recorded under an adopted
// view token onto the system view token, so a subsequent exactly-once
// check against the system view still sees them.
func (a *Accounter) promoteReservations(token resources.ViewToken) {
	a.resMu.Lock()
	defer a.resMu.Unlock()
	for k, usages := range a.reservations {
		if k.view == token {
			delete(a.reservations, k)
			k.view = resources.SystemView
			a.reservations[k] = usages
		}
	}
}

func orderedUsages(m map[string]*awm.Usage) []*awm.Usage {
	out := make([]*awm.Usage, 0, len(m))
	for _, u := range m {
		out = append(out, u)
	}
	return out
}
