package stages

type DamageInput struct {
	BaseDamageFactor   float64
	CombinedMultiplier float64
}

// DamageStage scales the baseline wear of one reading by the stress multiplier.
type DamageStage struct{}

func (DamageStage) Name() string { return "damage" }

func (DamageStage) Compute(in DamageInput) float64 {
	return max(0, in.BaseDamageFactor*in.CombinedMultiplier)
}

var _ Stage[DamageInput, float64] = DamageStage{}
