package sasb

import (
	"testing"

	"github.com/cuemby/bbque/pkg/apps"
	"github.com/cuemby/bbque/pkg/awm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) *apps.Registry {
	t.Helper()
	r := apps.New()
	mk := func(id string, prio int, state apps.SyncState) {
		app, err := r.Register(id, prio, []*awm.AWM{awm.New(1, 0.5, nil)})
		require.NoError(t, err)
		app.SetState(state)
	}
	mk("blocked1", 0, apps.StateBlocked)
	mk("migrateLow", 3, apps.StateMigrate)
	mk("migrateHigh", 0, apps.StateMigrate)
	mk("reconf1", 1, apps.StateReconf)
	mk("starting1", 0, apps.StateStarting)
	return r
}

func TestNextSubsetOrderedSequence(t *testing.T) {
	r := setup(t)
	p := New(r)

	blocked := p.NextSubset(true)
	require.Len(t, blocked, 1)
	assert.Equal(t, "blocked1", blocked[0].ID)

	migrate := p.NextSubset(false)
	require.Len(t, migrate, 2)
	assert.Equal(t, "migrateLow", migrate[0].ID)
	assert.Equal(t, "migrateHigh", migrate[1].ID)

	reconf := p.NextSubset(false)
	require.Len(t, reconf, 1)
	assert.Equal(t, "reconf1", reconf[0].ID)

	starting := p.NextSubset(false)
	require.Len(t, starting, 1)
	assert.Equal(t, "starting1", starting[0].ID)

	done := p.NextSubset(false)
	assert.Nil(t, done)
}

func TestNextSubsetSkipsEmptyPhases(t *testing.T) {
	r := apps.New()
	_, err := r.Register("a", 0, []*awm.AWM{awm.New(1, 0.5, nil)})
	require.NoError(t, err)
	app, _ := r.Lookup("a")
	app.SetState(apps.StateStarting)

	p := New(r)
	subset := p.NextSubset(true)
	require.Len(t, subset, 1)
	assert.Equal(t, "a", subset[0].ID)
}

func TestCheckLatencyViolation(t *testing.T) {
	assert.Equal(t, Ok, CheckLatency(50, 100))
	assert.Equal(t, Violation, CheckLatency(150, 100))
}

func TestEstimatedSyncTime(t *testing.T) {
	assert.Equal(t, 500.0, EstimatedSyncTime(5, 100))
}
