// Package sasb implements the SASB Synchronization Policy: after
// a scheduling round produces a new view, applications whose next-AWM
// differs from their current AWM (or whose state changed) must be
// transitioned in a deterministic order that reclaims resources before
// redistributing them.
//
// Modeled as an explicit state machine: a cycle method that walks an
// ordered set of phases over a registry snapshot, but pulled rather
// than pushed - the caller drives NextSubset one subset at a time
// instead of a fixed "always process everything every tick" cadence.
package sasb

import (
	"errors"
	"sort"

	"github.com/cuemby/bbque/pkg/apps"
	"github.com/cuemby/bbque/pkg/log"
	"github.com/cuemby/bbque/pkg/metrics"
	"github.com/rs/zerolog"
)

// ErrViolation is the sentinel wrapped around a sync-level latency
// breach, for callers that want errors.Is rather than comparing
// LatencyResult directly.
var ErrViolation = errors.New("sasb: transition exceeded latency ceiling")

// phase names the five ordered subsets a synchronization pass walks.
type phase int

const (
	phaseBlocked phase = iota
	phaseMigrate
	phaseMigrec
	phaseReconf
	phaseStarting
	phaseDone
)

// LatencyResult is returned by CheckLatency.
type LatencyResult int

const (
	Ok LatencyResult = iota
	Violation
)

// Policy drives one synchronization pass over an apps.Registry,
// yielding subsets in the fixed sequence:
// blocked -> migrate(low->high) -> migrec(low->high) -> reconf(low->high) -> starting.
type Policy struct {
	apps *apps.Registry

	cur       phase
	restarted bool
	logger    zerolog.Logger
}

// New creates a Policy over the given application registry.
func New(appReg *apps.Registry) *Policy {
	return &Policy{apps: appReg, cur: phaseBlocked, logger: log.WithComponent("sasb")}
}

// NextSubset returns the next non-empty subset of applications
// requiring synchronization, advancing through the five ordered
// phases. If restartRound is true, the sequence restarts from
// "blocked" regardless of where it left off (used after a new
// scheduling round has produced fresh next-AWM markers). Returns nil
// once every phase has been drained for this round; the caller should
// then request a new scheduling round before calling NextSubset again.
func (p *Policy) NextSubset(restartRound bool) []*apps.Application {
	if restartRound {
		p.cur = phaseBlocked
	}

	for p.cur < phaseDone {
		subset := p.subsetFor(p.cur)
		state := p.cur
		p.cur++
		if len(subset) > 0 {
			metrics.SyncSubsetSize.WithLabelValues(stateLabel(state)).Observe(float64(len(subset)))
			p.logger.Debug().Str("phase", stateLabel(state)).Int("count", len(subset)).Msg("yielding sync subset")
			return subset
		}
	}
	return nil
}

// Reset returns the policy to the start of the sequence, for use
// before the first round or after a full pass completes.
func (p *Policy) Reset() {
	p.cur = phaseBlocked
}

func (p *Policy) subsetFor(ph phase) []*apps.Application {
	switch ph {
	case phaseBlocked:
		return p.collect(func(a *apps.Application) bool {
			return a.State() == apps.StateBlocked
		}, false)
	case phaseMigrate:
		return p.collect(func(a *apps.Application) bool {
			return a.State() == apps.StateMigrate
		}, true)
	case phaseMigrec:
		return p.collect(func(a *apps.Application) bool {
			return a.State() == apps.StateMigrec
		}, true)
	case phaseReconf:
		return p.collect(func(a *apps.Application) bool {
			return a.State() == apps.StateReconf
		}, true)
	case phaseStarting:
		return p.collect(func(a *apps.Application) bool {
			return a.State() == apps.StateStarting
		}, false)
	default:
		return nil
	}
}

// collect gathers every application matching pred, in priority order
// (lowest numeric priority class first = highest priority) reversed
// when lowFirst is set, so lower-priority losers are touched before
// higher-priority winners, so losers reclaim resources before
// winners redistribute them.
func (p *Policy) collect(pred func(*apps.Application) bool, lowFirst bool) []*apps.Application {
	priorities := p.apps.Priorities()
	if lowFirst {
		sort.Sort(sort.Reverse(sort.IntSlice(priorities)))
	}

	var out []*apps.Application
	for _, prio := range priorities {
		for _, app := range p.apps.IterByPrio(prio) {
			if pred(app) {
				out = append(out, app)
			}
		}
	}
	return out
}

// CheckLatency reports whether observedMs exceeds ceilingMs for one
// application's transition, incrementing the violation counter on
// breach. A Violation signals the caller should demote the application
// (typically back to Blocked) rather than complete the transition.
func CheckLatency(observedMs, ceilingMs float64) LatencyResult {
	if observedMs > ceilingMs {
		metrics.SyncLatencyViolations.Inc()
		return Violation
	}
	return Ok
}

// EstimatedSyncTime returns a coarse estimate, in milliseconds, of how
// long synchronizing n applications is expected to take, given a
// per-application baseline cost. Used as the latency ceiling input
// when no per-application historical estimate is available.
func EstimatedSyncTime(n int, perAppMs float64) float64 {
	return float64(n) * perAppMs
}

func stateLabel(p phase) string {
	switch p {
	case phaseBlocked:
		return "blocked"
	case phaseMigrate:
		return "migrate"
	case phaseMigrec:
		return "migrec"
	case phaseReconf:
		return "reconf"
	case phaseStarting:
		return "starting"
	default:
		return "unknown"
	}
}
