// Package round implements the Scheduler/Sync glue: one struct
// that owns the scheduling policy, the SASB synchronization policy and
// the resource accounter, and drives one full round end to end.
//
// Follows the single-struct-holding-every-subsystem shape used
// throughout this codebase for lifecycle/cycle coordination, narrowed
// here to "owns accounter/scheduler/sasb". Cadence is driven by
// pkg/deferrable rather than a bare time.Ticker, so an external trigger
// coalesces into the next Deferrable fire instead of queuing a second
// round.
package round

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/bbque/pkg/accounter"
	"github.com/cuemby/bbque/pkg/apps"
	"github.com/cuemby/bbque/pkg/log"
	"github.com/cuemby/bbque/pkg/metrics"
	"github.com/cuemby/bbque/pkg/resources"
	"github.com/cuemby/bbque/pkg/sasb"
	"github.com/cuemby/bbque/pkg/scheduler"
	"github.com/rs/zerolog"
)

// Sentinel errors for the sync-level failure kinds.
var (
	// ErrTimeout wraps a per-application transition that blew past its
	// deadline before even reporting back a latency figure.
	ErrTimeout = errors.New("round: application transition timed out")
	// ErrInternal marks an invariant violation detected at runtime -
	// the round aborts and the previous system view stays adopted.
	ErrInternal = errors.New("round: internal invariant violation")
)

// Transitioner drives one application's platform-level transition to
// its next AWM via the platform proxy and reports how long it took, so
// the driver can feed it to sasb.CheckLatency.
type Transitioner interface {
	Transition(ctx context.Context, app *apps.Application) (time.Duration, error)
}

// Driver runs one full scheduling + synchronization round.
type Driver struct {
	Accounter    *accounter.Accounter
	Apps         *apps.Registry
	Policy       *scheduler.Policy
	Sync         *sasb.Policy
	Transitioner Transitioner

	// LatencyCeilingMs bounds how long a single application's
	// transition may take before check_latency reports a Violation.
	LatencyCeilingMs float64

	logger zerolog.Logger
}

// New creates a Driver over the given collaborators.
func New(acc *accounter.Accounter, appReg *apps.Registry, policy *scheduler.Policy, syncPolicy *sasb.Policy, t Transitioner, latencyCeilingMs float64) *Driver {
	return &Driver{
		Accounter:        acc,
		Apps:             appReg,
		Policy:           policy,
		Sync:             syncPolicy,
		Transitioner:     t,
		LatencyCeilingMs: latencyCeilingMs,
		logger:           log.WithComponent("round"),
	}
}

// Run executes one round: schedule, synchronize every yielded SASB
// subset, adopt the resulting view, and clear next-AWM markers.
func (d *Driver) Run(ctx context.Context) error {
	v, err := d.Policy.RunRound(ctx)
	if err != nil {
		return fmt.Errorf("round: scheduling failed: %w", err)
	}

	syncTimer := metrics.NewTimer()
	err = d.synchronize(ctx, v)
	syncTimer.ObserveDuration(metrics.SyncRoundDuration)
	if err != nil {
		d.Accounter.PutView(v)
		return fmt.Errorf("round: synchronization failed: %w", err)
	}

	if err := d.Accounter.AdoptView(v); err != nil {
		return fmt.Errorf("round: adopt view: %w: %w", ErrInternal, err)
	}

	d.clearMarkers()
	return nil
}

// synchronize drives every SASB subset to completion, demoting an
// application to disabled on a mandatory-transition failure and
// re-entering the subset loop. v is the view token the round is
// scheduling into, so a rejected or timed-out candidate's reservation
// can be released before falling back to its previous AWM.
func (d *Driver) synchronize(ctx context.Context, v resources.ViewToken) error {
	d.Sync.Reset()
	first := true

	for {
		subset := d.Sync.NextSubset(first)
		first = false
		if subset == nil {
			return nil
		}

		for _, app := range subset {
			start := time.Now()
			elapsed, err := d.Transitioner.Transition(ctx, app)
			if elapsed == 0 {
				elapsed = time.Since(start)
			}

			appLogger := log.WithAppID(app.ID)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					appLogger.Warn().Err(ErrTimeout).Dur("elapsed", elapsed).Msg("mandatory transition timed out")
					d.release(appLogger, app, v)
					app.SetState(apps.StateBlocked)
					continue
				}
				appLogger.Error().Err(err).Msg("mandatory transition failed")
				app.SetState(apps.StateDisabled)
				continue
			}

			result := sasb.CheckLatency(float64(elapsed.Milliseconds()), d.LatencyCeilingMs)
			if result == sasb.Violation {
				appLogger.Warn().Err(sasb.ErrViolation).Dur("elapsed", elapsed).Msg("transition exceeded latency ceiling")
				d.release(appLogger, app, v)
				app.SetState(apps.StateBlocked)
				continue
			}

			app.SetState(apps.StateRunning)
			app.Current = app.Next
			app.CurrentCluster = app.NextCluster
		}
	}
}

// release undoes the reservation held by app's rejected candidate AWM
// under v, so a Violation or timeout rolls the charge back to app's
// previous AWM instead of letting AdoptView promote an orphaned charge
// into the system view. A missing reservation (already released, or
// never committed) is logged but not treated as fatal.
func (d *Driver) release(appLogger zerolog.Logger, app *apps.Application, v resources.ViewToken) {
	if app.Next == nil {
		return
	}
	if err := d.Accounter.Release(app.ID, app.Next.ID, v); err != nil && !errors.Is(err, accounter.ErrMissAwm) {
		appLogger.Error().Err(err).Msg("failed to release rejected reservation")
	}
}

// clearMarkers clears every application's next-AWM marker so the next
// round starts clean.
func (d *Driver) clearMarkers() {
	for _, prio := range d.Apps.Priorities() {
		for _, app := range d.Apps.IterByPrio(prio) {
			app.Next = nil
			app.NextCluster = -1
		}
	}
}
