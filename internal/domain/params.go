package domain

// ReliabilityParams is the per tenant/asset configuration surface of the
// health computation.
type ReliabilityParams struct {
	ThresholdLoad           float64 `yaml:"threshold_load" json:"threshold_load"`
	PenaltyWeight           float64 `yaml:"penalty_weight" json:"penalty_weight"`
	DefaultBaseDamageFactor float64 `yaml:"default_base_damage_factor" json:"default_base_damage_factor"`
	MaxDamage               float64 `yaml:"max_damage" json:"max_damage"`
	HighStressRateThreshold float64 `yaml:"high_stress_rate_threshold" json:"high_stress_rate_threshold"`
	ReducedConfidence       float64 `yaml:"reduced_confidence" json:"reduced_confidence"`
	InfiniteRULSentinel     float64 `yaml:"infinite_rul_sentinel" json:"infinite_rul_sentinel"`
}

// DefaultParams mirrors the values the reliability service has always shipped with.
func DefaultParams() ReliabilityParams {
	return ReliabilityParams{
		ThresholdLoad:           80.0,
		PenaltyWeight:           0.4,
		DefaultBaseDamageFactor: 0.0001,
		MaxDamage:               1.0,
		HighStressRateThreshold: 0.001,
		ReducedConfidence:       0.85,
		InfiniteRULSentinel:     99999.0,
	}
}
