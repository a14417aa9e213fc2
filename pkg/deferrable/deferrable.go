// Package deferrable implements the Deferrable executor: a
// coalesced, cancellable scheduler for one task. Repeated Schedule
// calls before the pending execution fires are absorbed into whichever
// request names the nearest deadline; the earliest deadline wins.
//
// Built around a condition-variable-style "wake on the nearest pending
// request" pattern, translated into Go's idiom: one goroutine owns a
// resettable time.Timer and a request channel, generalized to an
// on-demand-or-periodic deadline instead of a constant interval.
package deferrable

import (
	"sync"
	"time"

	"github.com/cuemby/bbque/pkg/log"
	"github.com/cuemby/bbque/pkg/metrics"
	"github.com/rs/zerolog"
)

// ScheduleNow requests immediate execution.
const ScheduleNow time.Duration = 0

// Deferrable coalesces scheduling requests for one task function,
// executing it no later than the earliest requested delay (or, in
// periodic mode, at least once every period).
type Deferrable struct {
	name   string
	task   func()
	logger zerolog.Logger

	mu       sync.Mutex
	period   time.Duration // 0 = on-demand
	nextTime time.Time
	running  bool
	stopped  bool

	requests chan time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a Deferrable named name, running task on each fire.
// period is the repetition interval for a "periodic" deferrable, or 0
// for "on-demand" (fires only on an explicit Schedule call).
func New(name string, task func(), period time.Duration) *Deferrable {
	return &Deferrable{
		name:     name,
		task:     task,
		logger:   log.WithComponent("deferrable").With().Str("task", name).Logger(),
		period:   period,
		requests: make(chan time.Duration, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the executor goroutine. Calling Start twice is a
// no-op.
func (d *Deferrable) Start() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	go d.run()
}

// Stop terminates the executor goroutine, waiting for any in-flight
// execution to finish. Idempotent.
func (d *Deferrable) Stop() {
	d.mu.Lock()
	if d.stopped || !d.running {
		d.stopped = true
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	close(d.stopCh)
	<-d.doneCh
}

// Schedule requests an execution no later than delay from now. If a
// pending request already names an earlier deadline, this call is
// coalesced (absorbed) and does nothing; ScheduleNow always wins
// immediately.
func (d *Deferrable) Schedule(delay time.Duration) {
	now := time.Now()
	requestedTime := now.Add(delay)

	d.mu.Lock()
	if delay > 0 && !d.nextTime.IsZero() && d.nextTime.After(now) && !d.nextTime.After(requestedTime) {
		// a nearer (or equal) schedule is already pending.
		d.mu.Unlock()
		metrics.DeferrableCoalesced.WithLabelValues(d.name).Inc()
		return
	}
	d.nextTime = requestedTime
	d.mu.Unlock()

	// drain any stale pending request, then replace it - the executor
	// only ever needs the most recently requested deadline.
	select {
	case <-d.requests:
		metrics.DeferrableCoalesced.WithLabelValues(d.name).Inc()
	default:
	}
	d.requests <- delay
}

// SetPeriodic switches the deferrable into repetitive mode with the
// given period.
func (d *Deferrable) SetPeriodic(period time.Duration) {
	d.mu.Lock()
	d.period = period
	d.mu.Unlock()
	d.Schedule(ScheduleNow)
}

// SetOnDemand switches the deferrable to fire only on explicit
// Schedule calls.
func (d *Deferrable) SetOnDemand() {
	d.mu.Lock()
	d.period = 0
	d.mu.Unlock()
}

func (d *Deferrable) run() {
	defer close(d.doneCh)

	d.mu.Lock()
	timeout := d.period
	d.mu.Unlock()

	timer := time.NewTimer(timeoutOrForever(timeout))
	defer timer.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case delay := <-d.requests:
			if !timer.Stop() {
				drain(timer)
			}
			timer.Reset(timeoutOrForever(delay))
		case <-timer.C:
			d.logger.Debug().Msg("deferrable fired")
			d.task()
			metrics.DeferrableFires.WithLabelValues(d.name).Inc()

			d.mu.Lock()
			next := d.period
			d.nextTime = time.Now().Add(next)
			d.mu.Unlock()
			timer.Reset(timeoutOrForever(next))
		}
	}
}

// timeoutOrForever maps the zero duration ("on-demand, no pending
// request") to an effectively unbounded wait, since time.Timer has no
// "never fire" sentinel.
func timeoutOrForever(d time.Duration) time.Duration {
	if d <= 0 {
		return 24 * time.Hour
	}
	return d
}

func drain(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}
