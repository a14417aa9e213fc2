// Package contrib implements the Scheduling Contribution framework: a
// set of weighted scoring functions over the resource state evaluated
// for one scheduling entity, plus the shared saturation/CLE filter
// machinery every built-in contribution draws on.
//
// A dynamic "plugin pattern -> capability set" is replaced here by a
// static map, in the idiom of pkg/scheduler.go's compile-time-known
// step sequence: a contribution is a Go value registered once at init
// time, not a dynamically loaded shared object.
package contrib

import (
	"math"
)

// Entity is the (app, awm, cluster) candidate a contribution scores.
// It carries only the read-only facts a contribution needs, never a
// reference back into the accounter beyond these computed availabilities.
type Entity struct {
	AppID        string
	Priority     int
	AwmID        uint8
	AwmQuality   float64
	GoalGap      float64
	SameAsCurrent bool
	MigrationRequired bool

	// HasCurrent reports whether the application already has a current
	// AWM (false for a brand-new application); CurrentQuality is that
	// AWM's static quality value, meaningful only when HasCurrent is
	// true.
	HasCurrent     bool
	CurrentQuality float64

	// Usages is the materialized per-request draw, one entry per
	// resource request: resource type, amount requested, and total,
	// used and free capacity in the candidate cluster.
	Usages []UsageFact
}

// UsageFact is the per-Usage facts a contribution needs: how much is
// requested, the resource type it draws from (for MSL lookup) and the
// candidate cluster's total/free capacity for that resource.
type UsageFact struct {
	ResourceType string
	Requested    uint64
	Total        uint64
	Used         uint64
	Free         uint64
}

// Saturate returns the MSL-scaled saturation point for this fact.
func (f UsageFact) Saturate(msl float64) float64 {
	return float64(f.Total) * msl
}

// SatLack returns how far current usage falls short of the saturation
// point (0 if already past it).
func (f UsageFact) SatLack(msl float64) float64 {
	lack := f.Saturate(msl) - float64(f.Total-f.Free)
	if lack < 0 {
		return 0
	}
	return lack
}

// MSL is the Maximum Saturation Level per resource type, defaulting to
// 0.9 for compute and 0.7 for memory.
type MSL map[string]float64

// DefaultMSL returns the compiled-in default saturation levels.
func DefaultMSL() MSL {
	return MSL{
		"pe":  0.9,
		"mem": 0.7,
	}
}

// Lookup returns the MSL for resourceType, falling back to the compute
// default if the type is unrecognized.
func (m MSL) Lookup(resourceType string) float64 {
	if v, ok := m[resourceType]; ok {
		return v
	}
	return 0.9
}

// CLEParams configures one instantiation of the Constant-Linear-
// Exponential filter.
type CLEParams struct {
	CThresh float64 // constant region upper bound
	LThresh float64 // linear region upper bound
	K       float64 // constant value below CThresh
	Scale   float64 // linear slope
	XOffset float64
	XScale  float64 // exponential x-axis scale, default 1-XOffset
	Base    float64 // exponential base, default 2
	Penalty float64 // resource-type penalty at LThresh
}

// DefaultCLEParams returns reasonable defaults: constant 1 up to 50%
// saturation, linear decline to 90%, exponential falloff after.
func DefaultCLEParams() CLEParams {
	return CLEParams{
		CThresh: 0.5,
		LThresh: 0.9,
		K:       1,
		Scale:   1,
		XOffset: 0.5,
		XScale:  0.5,
		Base:    2,
		Penalty: 0.1,
	}
}

// Eval evaluates the CLE filter at x (a saturation fraction in [0,1]):
// y_scale * (base^((x-x_offset)/x_scale) - 1) past LThresh.
func (p CLEParams) Eval(x float64) float64 {
	switch {
	case x <= p.CThresh:
		return p.K
	case x <= p.LThresh:
		return 1 - p.Scale*(x-p.XOffset)
	default:
		base := p.Base
		if base <= 1 {
			base = 2
		}
		xScale := p.XScale
		if xScale == 0 {
			xScale = 1 - p.XOffset
		}
		yScale := (1 - p.Penalty) / (base - 1)
		return yScale * (math.Pow(base, (x-p.XOffset)/xScale) - 1)
	}
}

// Contribution is a weighted scoring function evaluated once per
// scheduling entity. Init is called once per priority class before any
// Score call for that class, with an implementation-defined params
// value (e.g. fairness's per-type fair share).
type Contribution interface {
	Name() string
	Init(priority int, params any)
	Score(e Entity) float64
}

// Config is the shared contribution-framework configuration: per-type
// MSL and per-contribution weight, loadable from YAML
// (pkg/contrib.LoadConfig) or used as compiled-in defaults.
type Config struct {
	MSL     MSL                `yaml:"msl"`
	Weights map[string]float64 `yaml:"weights"`
	CLE     CLEParams          `yaml:"cle"`
	Migfact float64            `yaml:"migfact"`
}

// DefaultConfig returns the compiled-in defaults so the zero-value
// scheduler is usable without a config file.
func DefaultConfig() Config {
	return Config{
		MSL: DefaultMSL(),
		Weights: map[string]float64{
			"value":      1,
			"reconfig":   1,
			"congestion": 1,
			"fairness":   1,
		},
		CLE:     DefaultCLEParams(),
		Migfact: 4,
	}
}

// NormalizedWeight returns w_name / Σ w_j.
func (c Config) NormalizedWeight(name string) float64 {
	var sum float64
	for _, w := range c.Weights {
		sum += w
	}
	if sum <= 0 {
		return 0
	}
	return c.Weights[name] / sum
}

// Registry is the static set of known contributions, replacing the
// original's dynamically loaded plugin set.
type Registry struct {
	byName map[string]Contribution
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Contribution)}
}

// Register adds c under its own Name(). Re-registering the same name
// overwrites the previous entry.
func (r *Registry) Register(c Contribution) {
	r.byName[c.Name()] = c
}

// Get returns the contribution registered under name.
func (r *Registry) Get(name string) (Contribution, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// All returns every registered contribution.
func (r *Registry) All() []Contribution {
	out := make([]Contribution, 0, len(r.byName))
	for _, c := range r.byName {
		out = append(out, c)
	}
	return out
}

// Evaluate computes the weighted sum of every registered contribution
// for e, under cfg's normalized weights.
func Evaluate(r *Registry, cfg Config, e Entity) float64 {
	var total float64
	for name, c := range r.byName {
		w := cfg.NormalizedWeight(name)
		if w == 0 {
			continue
		}
		total += w * c.Score(e)
	}
	return total
}

// NewDefaultRegistry returns a Registry carrying the four built-in
// contributions, ready to Evaluate against.
func NewDefaultRegistry(cfg Config) *Registry {
	r := NewRegistry()
	r.Register(&ValueContribution{})
	r.Register(&ReconfigContribution{Migfact: cfg.Migfact})
	r.Register(&CongestionContribution{MSL: cfg.MSL, CLE: cfg.CLE})
	r.Register(&FairnessContribution{MSL: cfg.MSL, CLE: cfg.CLE})
	return r
}
