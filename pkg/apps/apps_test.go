package apps

import (
	"errors"
	"testing"

	"github.com/cuemby/bbque/pkg/awm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func menu(ids ...uint8) []*awm.AWM {
	out := make([]*awm.AWM, 0, len(ids))
	for _, id := range ids {
		out = append(out, awm.New(id, 0.5, nil))
	}
	return out
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := New()
	_, err := r.Register("app1", 0, menu(1, 2))
	require.NoError(t, err)

	_, err = r.Register("app1", 0, menu(1))
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestIterByPrioOrderedAndIsolated(t *testing.T) {
	r := New()
	_, err := r.Register("b", 1, menu(1))
	require.NoError(t, err)
	_, err = r.Register("a", 1, menu(1))
	require.NoError(t, err)
	_, err = r.Register("c", 2, menu(1))
	require.NoError(t, err)

	got := r.IterByPrio(1)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)

	assert.Equal(t, 2, r.CountByPrio(1))
	assert.Equal(t, 1, r.CountByPrio(2))
	assert.Equal(t, 0, r.CountByPrio(9))
}

func TestLowestPrio(t *testing.T) {
	r := New()
	assert.Equal(t, -1, r.LowestPrio())

	_, _ = r.Register("a", 0, menu(1))
	_, _ = r.Register("b", 3, menu(1))
	assert.Equal(t, 3, r.LowestPrio())
}

func TestDeregisterMarksFinishedAndRemoves(t *testing.T) {
	r := New()
	_, err := r.Register("a", 0, menu(1))
	require.NoError(t, err)

	require.NoError(t, r.Deregister("a"))
	assert.Empty(t, r.IterByPrio(0))

	err = r.Deregister("a")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestHasAnyReflectsState(t *testing.T) {
	r := New()
	app, err := r.Register("a", 0, menu(1))
	require.NoError(t, err)

	assert.False(t, r.HasAny(StateBlocked))
	app.SetState(StateBlocked)
	assert.True(t, r.HasAny(StateBlocked))
}

func TestAdmissibleMenuFiltersByConstraint(t *testing.T) {
	app := &Application{ID: "a", Menu: menu(1, 2, 3, 8)}

	// Only AWMs with id <= 2 are admissible.
	app.SetConstraints([]Constraint{{AwmID: 2, Op: ConstraintAdd, Bound: BoundUpper}})

	admissible := app.AdmissibleMenu()
	require.Len(t, admissible, 2)
	assert.Equal(t, uint8(1), admissible[0].ID)
	assert.Equal(t, uint8(2), admissible[1].ID)
}

func TestGoalGapRoundtrip(t *testing.T) {
	app := &Application{ID: "a"}
	app.SetGoalGap(42.5)
	assert.Equal(t, 42.5, app.GoalGap())
}
