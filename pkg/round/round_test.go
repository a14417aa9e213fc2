package round

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/bbque/pkg/accounter"
	"github.com/cuemby/bbque/pkg/apps"
	"github.com/cuemby/bbque/pkg/awm"
	"github.com/cuemby/bbque/pkg/contrib"
	"github.com/cuemby/bbque/pkg/resources"
	"github.com/cuemby/bbque/pkg/sasb"
	"github.com/cuemby/bbque/pkg/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransitioner struct {
	elapsed time.Duration
	err     error
}

func (f *fakeTransitioner) Transition(ctx context.Context, app *apps.Application) (time.Duration, error) {
	return f.elapsed, f.err
}

func newDriver(t *testing.T, transitioner Transitioner, ceilingMs float64) (*Driver, *apps.Registry) {
	t.Helper()
	reg := resources.NewRegistry()
	_, err := reg.Register("cluster0.pe0", "pe", 100)
	require.NoError(t, err)

	acc := accounter.New(reg, 0)
	appReg := apps.New()
	policy := scheduler.New(acc, appReg, reg, contrib.DefaultConfig())
	syncPolicy := sasb.New(appReg)

	return New(acc, appReg, policy, syncPolicy, transitioner, ceilingMs), appReg
}

func TestRunSchedulesAndAdoptsView(t *testing.T) {
	d, appReg := newDriver(t, &fakeTransitioner{elapsed: 5 * time.Millisecond}, 1000)

	wm := awm.New(1, 0.8, []awm.Request{{Template: "cluster.pe", Amount: 40}})
	_, err := appReg.Register("app1", 0, []*awm.AWM{wm})
	require.NoError(t, err)

	require.NoError(t, d.Run(context.Background()))

	app, _ := appReg.Lookup("app1")
	assert.Equal(t, apps.StateRunning, app.State())
	assert.Equal(t, wm, app.Current)
	assert.Nil(t, app.Next)
}

func TestRunDemotesOnLatencyViolation(t *testing.T) {
	d, appReg := newDriver(t, &fakeTransitioner{elapsed: 500 * time.Millisecond}, 10)

	wm := awm.New(1, 0.8, []awm.Request{{Template: "cluster.pe", Amount: 40}})
	_, err := appReg.Register("app1", 0, []*awm.AWM{wm})
	require.NoError(t, err)

	require.NoError(t, d.Run(context.Background()))

	app, _ := appReg.Lookup("app1")
	assert.Equal(t, apps.StateBlocked, app.State())
}

// A candidate rejected on a latency violation must give back the
// reservation Reserve already committed for it - otherwise AdoptView
// would promote an orphaned charge into the system view even though
// the application never actually moved to that AWM.
func TestRunReleasesReservationOnLatencyViolation(t *testing.T) {
	d, appReg := newDriver(t, &fakeTransitioner{elapsed: 500 * time.Millisecond}, 10)

	wm := awm.New(1, 0.8, []awm.Request{{Template: "cluster.pe", Amount: 40}})
	_, err := appReg.Register("app1", 0, []*awm.AWM{wm})
	require.NoError(t, err)

	require.NoError(t, d.Run(context.Background()))

	app, _ := appReg.Lookup("app1")
	assert.Equal(t, apps.StateBlocked, app.State())
	assert.Nil(t, app.Current)
	assert.Equal(t, uint64(0), d.Accounter.Used("cluster0.pe0", resources.SystemView))
}

// A transition that blows its deadline is classified as a timeout
// rather than a hard failure, and also releases its reservation.
func TestRunReleasesReservationOnTransitionTimeout(t *testing.T) {
	d, appReg := newDriver(t, &fakeTransitioner{err: context.DeadlineExceeded}, 1000)

	wm := awm.New(1, 0.8, []awm.Request{{Template: "cluster.pe", Amount: 40}})
	_, err := appReg.Register("app1", 0, []*awm.AWM{wm})
	require.NoError(t, err)

	require.NoError(t, d.Run(context.Background()))

	app, _ := appReg.Lookup("app1")
	assert.Equal(t, apps.StateBlocked, app.State())
	assert.Nil(t, app.Current)
	assert.Equal(t, uint64(0), d.Accounter.Used("cluster0.pe0", resources.SystemView))
}

func TestRunDisablesOnMandatoryTransitionFailure(t *testing.T) {
	d, appReg := newDriver(t, &fakeTransitioner{err: assertErr}, 1000)

	wm := awm.New(1, 0.8, []awm.Request{{Template: "cluster.pe", Amount: 40}})
	_, err := appReg.Register("app1", 0, []*awm.AWM{wm})
	require.NoError(t, err)

	require.NoError(t, d.Run(context.Background()))

	app, _ := appReg.Lookup("app1")
	assert.Equal(t, apps.StateDisabled, app.State())
}

var assertErr = &transitionError{"platform proxy unreachable"}

type transitionError struct{ msg string }

func (e *transitionError) Error() string { return e.msg }
