package ai

// Pricing holds per-million-token USD prices for one model. The zero value
// yields zero cost, which is what unknown models get.
type Pricing struct {
	InputPer1M      float64
	OutputPer1M     float64
	CacheReadPer1M  float64
	CacheWritePer1M float64
}

// ComputeCost derives the per-category cost and total from usage counts.
// Called on every usage delta so that cost and total are invariants of the
// assistant message at all times.
func ComputeCost(u Usage, p Pricing) Cost {
	c := Cost{
		Input:      float64(u.Input) * p.InputPer1M / 1_000_000,
		Output:     float64(u.Output) * p.OutputPer1M / 1_000_000,
		CacheRead:  float64(u.CacheRead) * p.CacheReadPer1M / 1_000_000,
		CacheWrite: float64(u.CacheWrite) * p.CacheWritePer1M / 1_000_000,
	}
	c.Total = c.Input + c.Output + c.CacheRead + c.CacheWrite
	return c
}

// ApplyUsage folds new token counts into u and recomputes cost and the
// token total.
func ApplyUsage(u *Usage, p Pricing) {
	u.TotalTokens = u.Input + u.Output + u.CacheRead + u.CacheWrite
	u.Cost = ComputeCost(*u, p)
}
