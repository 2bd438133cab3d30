package stages

type RULInput struct {
	CumulativeDamage        float64
	DamageRate              float64
	MaxDamage               float64
	HighStressRateThreshold float64
	ReducedConfidence       float64
	InfiniteRULSentinel     float64
}

type RULOutput struct {
	RUL               float64
	Confidence        float64
	RemainingCapacity float64
}

// RULStage extrapolates the current damage rate linearly to the damage limit.
//
// A non-positive rate yields the configured sentinel: damage never decreases,
// so such a rate is a data anomaly, not an error. Confidence is a two-level
// heuristic that drops when the rate exceeds the high-stress threshold.
type RULStage struct{}

func (RULStage) Name() string { return "rul" }

func (RULStage) Compute(in RULInput) RULOutput {
	remaining := max(0, in.MaxDamage-in.CumulativeDamage)

	rul := in.InfiniteRULSentinel
	if in.DamageRate > 0 {
		rul = remaining / in.DamageRate
	}

	confidence := 1.0
	if in.DamageRate > in.HighStressRateThreshold {
		confidence = clamp(in.ReducedConfidence, 0, 1)
	}

	return RULOutput{
		RUL:               rul,
		Confidence:        confidence,
		RemainingCapacity: remaining,
	}
}

var _ Stage[RULInput, RULOutput] = RULStage{}
