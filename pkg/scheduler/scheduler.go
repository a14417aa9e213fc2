// Package scheduler implements the YaMS Scheduling Policy: one
// full scheduling round that, given an accounter and an application
// registry, produces a new candidate allocation into a fresh view.
//
// The round structure follows a familiar scheduler cycle: a top-level
// method that opens a transaction (here, an RA view), enumerates
// candidates, scores them and commits the survivors - but the per-app
// scoring step is dispatched across an errgroup.Group instead of
// running serially, since scoring is stateless against the view beyond
// reads.
package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/cuemby/bbque/pkg/accounter"
	"github.com/cuemby/bbque/pkg/apps"
	"github.com/cuemby/bbque/pkg/awm"
	"github.com/cuemby/bbque/pkg/contrib"
	"github.com/cuemby/bbque/pkg/log"
	"github.com/cuemby/bbque/pkg/metrics"
	"github.com/cuemby/bbque/pkg/resources"
	"github.com/cuemby/bbque/pkg/respath"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// candidate is one successfully bound and scored (app, awm, cluster)
// scheduling entity - the "Ephemeral triple" of app, AWM and cluster,
// carrying everything Reserve needs to commit it.
type candidate struct {
	app        *apps.Application
	wm         *awm.AWM
	clusterID  int
	metric     float64
	goalGap    float64
	value      float64
	usages     map[string]*awm.Usage
	clusterKey string
}

// Policy is the YaMS Scheduling Policy.
type Policy struct {
	Accounter *accounter.Accounter
	Apps      *apps.Registry
	Registry  *resources.Registry
	Contrib   *contrib.Registry
	Config    contrib.Config

	logger zerolog.Logger
}

// New creates a Policy over the given collaborators.
func New(acc *accounter.Accounter, appReg *apps.Registry, resReg *resources.Registry, cfg contrib.Config) *Policy {
	return &Policy{
		Accounter: acc,
		Apps:      appReg,
		Registry:  resReg,
		Contrib:   contrib.NewDefaultRegistry(cfg),
		Config:    cfg,
		logger:    log.WithComponent("scheduler"),
	}
}

// RunRound executes one full scheduling round - open a view, score
// every priority class in order, reserve the winners - and returns the
// resulting view, left open for the caller (normally pkg/round) to
// adopt or discard.
func (p *Policy) RunRound(ctx context.Context) (resources.ViewToken, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingRoundDuration)

	v, err := p.Accounter.GetView("scheduler")
	if err != nil {
		return 0, fmt.Errorf("scheduler: open view: %w", err)
	}

	clusterIDs := p.clusterIDs()
	fullClusters := make(map[int]bool)
	var fullMu sync.Mutex

	for _, prio := range p.Apps.Priorities() {
		if fairness, ok := p.Contrib.Get("fairness"); ok {
			fairness.Init(prio, p.fairnessParams(prio, v))
		}

		entities, err := p.scoreClass(ctx, v, prio, clusterIDs, &fullMu, fullClusters)
		if err != nil {
			p.Accounter.PutView(v)
			return 0, err
		}

		sortEntities(entities)

		scheduledApp := make(map[string]bool)
		for _, c := range entities {
			if scheduledApp[c.app.ID] {
				continue
			}
			fullMu.Lock()
			full := fullClusters[c.clusterID]
			fullMu.Unlock()
			if full {
				continue
			}

			if err := p.Accounter.Reserve(c.app.ID, c.wm.ID, c.usages, v); err != nil {
				c.wm.ClearBind(c.clusterKey)
				continue
			}

			scheduledApp[c.app.ID] = true
			nextState := nextStateFor(c.app, c.wm, c.clusterID)
			c.app.Next = c.wm
			c.app.NextCluster = c.clusterID
			c.app.SetState(nextState)
			metrics.AppsScheduled.Inc()
		}

		for _, app := range p.Apps.IterByPrio(prio) {
			if !scheduledApp[app.ID] && app.State() != apps.StateDisabled && app.State() != apps.StateFinished {
				app.SetState(apps.StateBlocked)
				metrics.AppsBlocked.Inc()
			}
		}
	}

	return v, nil
}

// scoreClass binds and scores every (app, awm, cluster) candidate for
// the applications of one priority class, dispatching the per-app work
// across a bounded worker pool.
func (p *Policy) scoreClass(ctx context.Context, v resources.ViewToken, prio int, clusterIDs []int, fullMu *sync.Mutex, fullClusters map[int]bool) ([]candidate, error) {
	appList := p.Apps.IterByPrio(prio)

	var mu sync.Mutex
	var entities []candidate

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for _, app := range appList {
		app := app
		if app.State() == apps.StateDisabled || app.State() == apps.StateFinished || isSynchronizing(app.State()) {
			continue
		}

		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			found := p.scoreApp(v, app, clusterIDs, fullMu, fullClusters)
			if len(found) == 0 {
				return nil
			}
			mu.Lock()
			entities = append(entities, found...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scheduler: score priority %d: %w", prio, err)
	}
	return entities, nil
}

func (p *Policy) scoreApp(v resources.ViewToken, app *apps.Application, clusterIDs []int, fullMu *sync.Mutex, fullClusters map[int]bool) []candidate {
	var out []candidate

	for _, wm := range app.AdmissibleMenu() {
		for _, clusterID := range clusterIDs {
			fullMu.Lock()
			full := fullClusters[clusterID]
			fullMu.Unlock()
			if full {
				continue
			}

			clusterKey := strconv.Itoa(clusterID)
			usages, err := wm.Bind(clusterKey, clusterID, p.Registry)
			if err != nil {
				continue
			}

			entity, ok := p.buildEntity(v, app, wm, clusterID, usages)
			metrics.EntitiesScored.Inc()
			if !ok {
				fullMu.Lock()
				fullClusters[clusterID] = true
				fullMu.Unlock()
				wm.ClearBind(clusterKey)
				continue
			}

			score := contrib.Evaluate(p.Contrib, p.Config, entity)
			out = append(out, candidate{
				app:        app,
				wm:         wm,
				clusterID:  clusterID,
				metric:     score,
				goalGap:    app.GoalGap(),
				value:      wm.Quality,
				usages:     usages,
				clusterKey: clusterKey,
			})
		}
	}
	return out
}

// buildEntity reads the view for per-Usage facts and assembles a
// contrib.Entity. ok is false if any Usage has zero free capacity
// across its bound descriptors, marking the cluster "full" for the
// rest of the round.
func (p *Policy) buildEntity(v resources.ViewToken, app *apps.Application, wm *awm.AWM, clusterID int, usages map[string]*awm.Usage) (contrib.Entity, bool) {
	e := contrib.Entity{
		AppID:             app.ID,
		Priority:          app.Priority,
		AwmID:             wm.ID,
		AwmQuality:        wm.Quality,
		GoalGap:           app.GoalGap(),
		HasCurrent:        app.Current != nil,
		SameAsCurrent:     app.Current != nil && app.Current.ID == wm.ID,
		MigrationRequired: app.Current != nil && app.CurrentCluster != clusterID,
	}
	if app.Current != nil {
		e.CurrentQuality = app.Current.Quality
	}

	for _, u := range usages {
		if len(u.Bindings) == 0 {
			return contrib.Entity{}, false
		}
		var total, used, free uint64
		typ := "pe"
		for _, d := range u.Bindings {
			total += d.Total
			used += d.Used(v)
			free += d.Available(v, "")
			typ = d.Type
		}
		if free == 0 {
			return contrib.Entity{}, false
		}
		e.Usages = append(e.Usages, contrib.UsageFact{
			ResourceType: typ,
			Requested:    u.Requested,
			Total:        total,
			Used:         used,
			Free:         free,
		})
	}
	return e, true
}

func (p *Policy) fairnessParams(prio int, v resources.ViewToken) contrib.FairnessParams {
	total := make(map[string]uint64)
	for _, d := range p.Registry.All() {
		total[d.Type] += p.Accounter.Available(d.Path, v, "")
	}
	return contrib.FairnessParams{
		TotalAvailable: total,
		AppCount:       p.Apps.CountByPrio(prio),
	}
}

// clusterIDs enumerates the distinct "clusterN" indices present in the
// registry.
func (p *Policy) clusterIDs() []int {
	seen := make(map[int]bool)
	for _, d := range p.Registry.All() {
		for _, seg := range respath.Split(d.Path) {
			if seg.Name == "cluster" && seg.Index >= 0 {
				seen[seg.Index] = true
			}
		}
	}
	out := make([]int, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func isSynchronizing(s apps.SyncState) bool {
	switch s {
	case apps.StateStarting, apps.StateMigrate, apps.StateMigrec, apps.StateReconf:
		return true
	default:
		return false
	}
}

// nextStateFor derives the sync state a candidate implies for app: a
// fresh application always starts; otherwise AWM-id equality drives
// whether a reconfig is needed at all, and cluster equality drives
// whether it is a migration, independently of each other (per
// spec.md §8 scenario 3, "reconfig preferred over migration" - a
// cluster change alone is a migration even when the AWM id is
// unchanged, and an AWM-id change alone is a reconfig as long as the
// cluster binding stays put).
func nextStateFor(app *apps.Application, wm *awm.AWM, clusterID int) apps.SyncState {
	if app.Current == nil {
		return apps.StateStarting
	}
	sameAwm := app.Current.ID == wm.ID
	sameCluster := app.CurrentCluster == clusterID
	switch {
	case sameAwm && sameCluster:
		return apps.StateRunning
	case sameAwm && !sameCluster:
		return apps.StateMigrate
	case !sameAwm && sameCluster:
		return apps.StateReconf
	default:
		return apps.StateMigrec
	}
}

// sortEntities orders candidates by the standard comparator: metric
// descending, goal-gap-positive first, awm value descending.
func sortEntities(entities []candidate) {
	sort.SliceStable(entities, func(i, j int) bool {
		a, b := entities[i], entities[j]
		if a.metric != b.metric {
			return a.metric > b.metric
		}
		aGap, bGap := a.goalGap > 0, b.goalGap > 0
		if aGap != bGap {
			return aGap
		}
		return a.value > b.value
	})
}
