package risk

// CycleLoss is the worst case of a cycle that flips MaxFlips times and is
// then stopped out.
type CycleLoss struct {
	Positions         []float64
	RangePcts         []float64
	FlipLosses        []float64
	TotalCapital      float64
	TotalFlipLosses   float64
	FinalPositionLoss float64
	FeesUSD           float64
	MaxLoss           float64
	MarginUsed        float64
	LossPctInitial    float64
	LossPctTotal      float64
}

func (e *Engine) MaxCycleLoss(initialUSD float64) CycleLoss {
	cl := CycleLoss{Positions: e.SizeLadder(initialUSD)}

	for i, size := range cl.Positions {
		r := e.DynamicRange(i, 0)
		loss := size * r / 100
		cl.RangePcts = append(cl.RangePcts, r)
		cl.TotalCapital += size
		cl.FeesUSD += size * e.cfg.FeeRate * 2
		if i < len(cl.Positions)-1 {
			cl.FlipLosses = append(cl.FlipLosses, loss)
			cl.TotalFlipLosses += loss
		} else {
			cl.FinalPositionLoss = loss
		}
	}

	cl.MaxLoss = cl.TotalFlipLosses + cl.FinalPositionLoss + cl.FeesUSD
	cl.MarginUsed = e.Margin(cl.TotalCapital)
	if initialUSD > 0 {
		cl.LossPctInitial = cl.MaxLoss / initialUSD * 100
	}
	if cl.TotalCapital > 0 {
		cl.LossPctTotal = cl.MaxLoss / cl.TotalCapital * 100
	}
	return cl
}
