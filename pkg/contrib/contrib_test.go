package contrib

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCLEParamsConstantRegion(t *testing.T) {
	p := DefaultCLEParams()
	assert.Equal(t, p.K, p.Eval(0))
	assert.Equal(t, p.K, p.Eval(p.CThresh))
}

// XScale is an independent, configurable tunable of the exponential
// region - not a stand-in hardcoded to (1 - XOffset).
func TestCLEParamsXScaleIndependentOfXOffset(t *testing.T) {
	p := DefaultCLEParams()
	p.XScale = 0.25

	x := 0.95
	yScale := (1 - p.Penalty) / (p.Base - 1)
	want := yScale * (math.Pow(p.Base, (x-p.XOffset)/p.XScale) - 1)

	assert.InDelta(t, want, p.Eval(x), 1e-9)
	assert.NotEqual(t, DefaultCLEParams().Eval(x), p.Eval(x))
}

// A zero XScale falls back to the historical (1 - XOffset) derivation,
// so params built before XScale existed keep their old behavior.
func TestCLEParamsXScaleZeroFallsBackToXOffsetDerivation(t *testing.T) {
	p := DefaultCLEParams()
	p.XScale = 0

	x := 0.95
	xScale := 1 - p.XOffset
	yScale := (1 - p.Penalty) / (p.Base - 1)
	want := yScale * (math.Pow(p.Base, (x-p.XOffset)/xScale) - 1)

	assert.InDelta(t, want, p.Eval(x), 1e-9)
}

func TestCLEParamsMonotonicDecline(t *testing.T) {
	p := DefaultCLEParams()
	a := p.Eval(0.6)
	b := p.Eval(0.8)
	c := p.Eval(0.95)
	assert.Greater(t, a, b)
	assert.Greater(t, b, c)
}

func TestValueContributionBounded(t *testing.T) {
	v := &ValueContribution{}
	s := v.Score(Entity{AwmQuality: 1, GoalGap: 100})
	assert.LessOrEqual(t, s, 1.0)
	assert.GreaterOrEqual(t, s, 0.0)
}

func TestValueContributionNoImprovementUsesQualityOnly(t *testing.T) {
	v := &ValueContribution{}
	s := v.Score(Entity{AwmQuality: 0.5, GoalGap: 0})
	assert.InDelta(t, 0.2, s, 1e-9)
}

// A brand-new application (no current AWM) never qualifies for the
// improvement bonus, regardless of goal gap or candidate quality.
func TestValueContributionNewAppNeverImproves(t *testing.T) {
	v := &ValueContribution{}
	s := v.Score(Entity{HasCurrent: false, AwmQuality: 0.9, GoalGap: 100})
	assert.InDelta(t, 0.4*0.9, s, 1e-9)
}

// The bonus requires the candidate to be strictly higher quality than
// the application's current AWM - a lateral or worse candidate falls
// back to the quality-only score even with a live goal gap.
func TestValueContributionRequiresStrictQualityImprovement(t *testing.T) {
	v := &ValueContribution{}

	worse := v.Score(Entity{HasCurrent: true, CurrentQuality: 0.9, AwmQuality: 0.5, GoalGap: 50})
	assert.InDelta(t, 0.4*0.5, worse, 1e-9)

	equal := v.Score(Entity{HasCurrent: true, CurrentQuality: 0.5, AwmQuality: 0.5, GoalGap: 50})
	assert.InDelta(t, 0.4*0.5, equal, 1e-9)

	better := v.Score(Entity{HasCurrent: true, CurrentQuality: 0.2, AwmQuality: 0.9, GoalGap: 50})
	assert.InDelta(t, 0.4*0.9+0.6*0.5, better, 1e-9)
}

func TestReconfigSameAwmNoMigration(t *testing.T) {
	r := &ReconfigContribution{Migfact: 4}
	s := r.Score(Entity{SameAsCurrent: true, MigrationRequired: false})
	assert.Equal(t, 1.0, s)
}

func TestReconfigUnavailableResourceCollapsesToZero(t *testing.T) {
	r := &ReconfigContribution{Migfact: 4}
	s := r.Score(Entity{
		Usages: []UsageFact{{Total: 100, Free: 10, Requested: 50}},
	})
	assert.Equal(t, 0.0, s)
}

func TestCongestionWorstCaseDominates(t *testing.T) {
	c := &CongestionContribution{MSL: DefaultMSL(), CLE: DefaultCLEParams()}
	s := c.Score(Entity{
		Usages: []UsageFact{
			{Total: 100, Used: 10, Requested: 10},  // low saturation
			{Total: 100, Used: 85, Requested: 10},  // near LThresh
		},
	})
	solo := c.Score(Entity{Usages: []UsageFact{{Total: 100, Used: 85, Requested: 10}}})
	assert.Equal(t, solo, s)
}

func TestFairnessInitPrecomputesShare(t *testing.T) {
	f := &FairnessContribution{MSL: DefaultMSL(), CLE: DefaultCLEParams()}
	f.Init(0, FairnessParams{TotalAvailable: map[string]uint64{"pe": 100}, AppCount: 4})

	under := f.Score(Entity{Priority: 0, Usages: []UsageFact{{ResourceType: "pe", Requested: 10}}})
	over := f.Score(Entity{Priority: 0, Usages: []UsageFact{{ResourceType: "pe", Requested: 40}}})
	assert.Greater(t, under, over)
}

func TestEvaluateWeightsAllContributions(t *testing.T) {
	cfg := DefaultConfig()
	r := NewDefaultRegistry(cfg)
	score := Evaluate(r, cfg, Entity{AwmQuality: 1, SameAsCurrent: true})
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestNormalizedWeightSumsToOne(t *testing.T) {
	cfg := DefaultConfig()
	var sum float64
	for name := range cfg.Weights {
		sum += cfg.NormalizedWeight(name)
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}
