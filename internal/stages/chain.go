package stages

import "github.com/ghalamif/AegisHealth/internal/domain"

// Result is everything the four stages derived from one reading.
type Result struct {
	ShiftMultiplier       float64
	EnvironmentalModifier float64
	CombinedMultiplier    float64
	DamageIncrement       float64
	CumulativeDamage      float64
	RUL                   float64
	Confidence            float64
	RemainingCapacity     float64
}

// Chain runs Shift → Environmental → Damage → RUL in that order.
type Chain struct {
	Shift         Stage[ShiftInput, float64]
	Environmental Stage[EnvironmentalInput, float64]
	Damage        Stage[DamageInput, float64]
	RUL           Stage[RULInput, RULOutput]
}

// NewChain builds the default chain. observer may be nil.
func NewChain(observer ViolationObserver) Chain {
	return Chain{
		Shift:         ShiftStage{Observer: observer},
		Environmental: EnvironmentalStage{},
		Damage:        DamageStage{},
		RUL:           RULStage{},
	}
}

// Run applies the chain to a validated reading on top of priorDamage.
// Cumulative damage is capped at p.MaxDamage: an asset there has exhausted
// its design life, and further readings are audited without moving it.
func (c Chain) Run(key domain.AssetKey, r domain.TelemetryReading, priorDamage float64, p domain.ReliabilityParams) Result {
	var load float64
	if r.Load != nil {
		load = *r.Load
	}

	shift := c.Shift.Compute(ShiftInput{
		Asset:         key,
		Load:          load,
		ThresholdLoad: p.ThresholdLoad,
		PenaltyWeight: p.PenaltyWeight,
	})
	env := c.Environmental.Compute(EnvironmentalInput{
		AmbientTemp: r.Ambient(),
		Humidity:    r.RelativeHumidity(),
	})
	combined := shift * env
	increment := c.Damage.Compute(DamageInput{
		BaseDamageFactor:   r.BaseFactor(p.DefaultBaseDamageFactor),
		CombinedMultiplier: combined,
	})
	cumulative := priorDamage + increment
	if p.MaxDamage > 0 {
		cumulative = min(p.MaxDamage, cumulative)
	}

	out := c.RUL.Compute(RULInput{
		CumulativeDamage:        cumulative,
		DamageRate:              increment,
		MaxDamage:               p.MaxDamage,
		HighStressRateThreshold: p.HighStressRateThreshold,
		ReducedConfidence:       p.ReducedConfidence,
		InfiniteRULSentinel:     p.InfiniteRULSentinel,
	})

	return Result{
		ShiftMultiplier:       shift,
		EnvironmentalModifier: env,
		CombinedMultiplier:    combined,
		DamageIncrement:       increment,
		CumulativeDamage:      cumulative,
		RUL:                   out.RUL,
		Confidence:            out.Confidence,
		RemainingCapacity:     out.RemainingCapacity,
	}
}
