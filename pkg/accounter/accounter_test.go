package accounter

import (
	"testing"

	"github.com/cuemby/bbque/pkg/awm"
	"github.com/cuemby/bbque/pkg/resources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, total uint64) (*resources.Registry, *resources.Descriptor) {
	t.Helper()
	reg := resources.NewRegistry()
	d, err := reg.Register("cluster0.pe0", "pe", total)
	require.NoError(t, err)
	return reg, d
}

func usagesFor(d *resources.Descriptor, amount uint64) map[string]*awm.Usage {
	return map[string]*awm.Usage{
		"cluster.pe": {Requested: amount, Bindings: []*resources.Descriptor{d}},
	}
}

// Conservation: for every descriptor and view, used + available == total.
func TestConservation(t *testing.T) {
	reg, d := newTestRegistry(t, 100)
	acc := New(reg, 0)

	v, err := acc.GetView("sched")
	require.NoError(t, err)

	require.NoError(t, acc.Reserve("app1", 1, usagesFor(d, 30), v))

	used := acc.Used("cluster0.pe0", v)
	available := acc.Available("cluster0.pe0", v, "")
	assert.Equal(t, d.Total, used+available)
}

// View isolation: operations confined to v1 leave (used, available) under a
// disjoint v2 unchanged.
func TestViewIsolation(t *testing.T) {
	reg, d := newTestRegistry(t, 100)
	acc := New(reg, 0)

	v1, err := acc.GetView("sched")
	require.NoError(t, err)
	v2, err := acc.GetView("sched")
	require.NoError(t, err)

	usedBefore := acc.Used("cluster0.pe0", v2)
	availBefore := acc.Available("cluster0.pe0", v2, "")

	require.NoError(t, acc.Reserve("app1", 1, usagesFor(d, 40), v1))

	assert.Equal(t, usedBefore, acc.Used("cluster0.pe0", v2))
	assert.Equal(t, availBefore, acc.Available("cluster0.pe0", v2, ""))
	assert.Equal(t, uint64(40), acc.Used("cluster0.pe0", v1))
}

// Reserve atomicity: a Reserve call that fails with ErrUsageExceeded
// leaves the view exactly as it was before the call - no partial charge
// survives.
func TestReserveAtomicity(t *testing.T) {
	reg, d := newTestRegistry(t, 100)
	acc := New(reg, 0)

	v, err := acc.GetView("sched")
	require.NoError(t, err)

	usedBefore := acc.Used("cluster0.pe0", v)

	usages := map[string]*awm.Usage{
		"cluster.pe.a": {Requested: 60, Bindings: []*resources.Descriptor{d}},
		"cluster.pe.b": {Requested: 60, Bindings: []*resources.Descriptor{d}},
	}
	err = acc.Reserve("app1", 1, usages, v)
	require.ErrorIs(t, err, ErrUsageExceeded)

	assert.Equal(t, usedBefore, acc.Used("cluster0.pe0", v))
}

// Exactly-once reservation: two consecutive Reserve calls for the same
// (app, awm, view) without an intervening Release - the second fails
// with ErrAppUsages, and the first reservation's charge is untouched.
func TestExactlyOnceReservation(t *testing.T) {
	reg, d := newTestRegistry(t, 100)
	acc := New(reg, 0)

	v, err := acc.GetView("sched")
	require.NoError(t, err)

	require.NoError(t, acc.Reserve("app1", 1, usagesFor(d, 30), v))

	err = acc.Reserve("app1", 1, usagesFor(d, 30), v)
	require.ErrorIs(t, err, ErrAppUsages)
	assert.Equal(t, uint64(30), acc.Used("cluster0.pe0", v))
}

func TestReleaseUndoesReservation(t *testing.T) {
	reg, d := newTestRegistry(t, 100)
	acc := New(reg, 0)

	v, err := acc.GetView("sched")
	require.NoError(t, err)

	require.NoError(t, acc.Reserve("app1", 1, usagesFor(d, 30), v))
	require.NoError(t, acc.Release("app1", 1, v))

	assert.Equal(t, uint64(0), acc.Used("cluster0.pe0", v))
}

func TestReleaseUnknownReservationReturnsErrMissAwm(t *testing.T) {
	reg, _ := newTestRegistry(t, 100)
	acc := New(reg, 0)

	v, err := acc.GetView("sched")
	require.NoError(t, err)

	err = acc.Release("app1", 1, v)
	assert.ErrorIs(t, err, ErrMissAwm)
}

func TestAdoptViewPromotesReservedUsage(t *testing.T) {
	reg, d := newTestRegistry(t, 100)
	acc := New(reg, 0)

	v, err := acc.GetView("sched")
	require.NoError(t, err)
	require.NoError(t, acc.Reserve("app1", 1, usagesFor(d, 30), v))
	require.NoError(t, acc.AdoptView(v))

	assert.Equal(t, uint64(30), acc.Used("cluster0.pe0", resources.SystemView))
}
