package contrib

// ValueContribution rewards quality and goal-gap improvement. It
// carries no per-round state.
type ValueContribution struct{}

func (*ValueContribution) Name() string { return "value" }

func (*ValueContribution) Init(int, any) {}

func (*ValueContribution) Score(e Entity) float64 {
	improves := e.HasCurrent && e.GoalGap > 0 && e.AwmQuality > e.CurrentQuality
	if improves {
		return clamp01(0.4*e.AwmQuality + 0.6*(e.GoalGap/100))
	}
	return clamp01(0.4 * e.AwmQuality)
}

// ReconfigContribution penalizes migration, scaled by the fraction of
// capacity the entity would consume.
type ReconfigContribution struct {
	Migfact float64
}

func (*ReconfigContribution) Name() string { return "reconfig" }

func (c *ReconfigContribution) Init(int, any) {}

func (c *ReconfigContribution) Score(e Entity) float64 {
	if e.SameAsCurrent && !e.MigrationRequired {
		return 1
	}
	if len(e.Usages) == 0 {
		return 1
	}

	migfact := c.Migfact
	if migfact <= 0 {
		migfact = 4
	}
	var m float64
	if e.MigrationRequired {
		m = 1
	}

	var fracSum float64
	for _, u := range e.Usages {
		if u.Total == 0 {
			return 0
		}
		if u.Requested > u.Free {
			return 0
		}
		fracSum += float64(u.Requested) / float64(u.Total)
	}
	typeCount := float64(len(e.Usages))
	factor := (1 + m*migfact) / (1 + migfact)
	return clamp01(1 - factor*(fracSum/typeCount))
}

// CongestionContribution applies the CLE filter to the post-allocation
// saturation level of every Usage, taking the worst case across them.
type CongestionContribution struct {
	MSL MSL
	CLE CLEParams
}

func (*CongestionContribution) Name() string { return "congestion" }

func (c *CongestionContribution) Init(int, any) {}

func (c *CongestionContribution) Score(e Entity) float64 {
	worst := 1.0
	for _, u := range e.Usages {
		if u.Total == 0 {
			return 0
		}
		postUsed := u.Used + u.Requested
		x := float64(postUsed) / float64(u.Total)
		score := c.CLE.Eval(x)
		if score < worst {
			worst = score
		}
	}
	return clamp01(worst)
}

// fairShare is the per-resource-type fair partition computed once per
// priority class by FairnessContribution.Init.
type fairShare struct {
	perType map[string]float64
}

// FairnessContribution enforces a per-priority, per-type fair share:
// Init precomputes total_available / app_count per resource type;
// Score applies the CLE filter around that bound, worst-case across
// Usages.
type FairnessContribution struct {
	MSL MSL
	CLE CLEParams

	shares map[int]fairShare
}

func (*FairnessContribution) Name() string { return "fairness" }

// FairnessParams is the params value passed to Init: the total
// available capacity per resource type and the number of applications
// competing in this priority class.
type FairnessParams struct {
	TotalAvailable map[string]uint64
	AppCount       int
}

func (f *FairnessContribution) Init(priority int, params any) {
	if f.shares == nil {
		f.shares = make(map[int]fairShare)
	}
	fp, ok := params.(FairnessParams)
	if !ok || fp.AppCount == 0 {
		f.shares[priority] = fairShare{perType: map[string]float64{}}
		return
	}
	per := make(map[string]float64, len(fp.TotalAvailable))
	for typ, avail := range fp.TotalAvailable {
		per[typ] = float64(avail) / float64(fp.AppCount)
	}
	f.shares[priority] = fairShare{perType: per}
}

func (f *FairnessContribution) Score(e Entity) float64 {
	share, ok := f.shares[e.Priority]
	if !ok {
		return 1
	}
	worst := 1.0
	for _, u := range e.Usages {
		bound, ok := share.perType[u.ResourceType]
		if !ok || bound <= 0 {
			continue
		}
		x := float64(u.Requested) / bound
		score := f.CLE.Eval(x)
		if score < worst {
			worst = score
		}
	}
	return clamp01(worst)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
