package stages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/AegisHealth/internal/domain"
)

const eps = 1e-12

func TestShiftStage(t *testing.T) {
	tests := []struct {
		name      string
		load      float64
		threshold float64
		penalty   float64
		want      float64
	}{
		{"at threshold", 80, 80, 0.4, 1.0},
		{"below threshold", 10, 80, 0.4, 1.0},
		{"double threshold", 160, 80, 0.4, 1.4},
		{"slightly over", 90, 80, 0.4, 1.05},
		{"clamped", 8000, 80, 0.4, MaxShiftMultiplier},
		{"zero threshold is ignored", 50, 0, 0.4, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShiftStage{}.Compute(ShiftInput{Load: tt.load, ThresholdLoad: tt.threshold, PenaltyWeight: tt.penalty})
			assert.InDelta(t, tt.want, got, eps)
		})
	}
}

func TestShiftStageReportsViolations(t *testing.T) {
	var seen []ShiftViolation
	stage := ShiftStage{Observer: ViolationObserverFunc(func(v ShiftViolation) {
		seen = append(seen, v)
	})}
	key := domain.AssetKey{TenantID: "t1", AssetID: "pump-7"}

	stage.Compute(ShiftInput{Asset: key, Load: 80, ThresholdLoad: 80, PenaltyWeight: 0.4})
	assert.Empty(t, seen, "load at threshold is not a violation")

	got := stage.Compute(ShiftInput{Asset: key, Load: 160, ThresholdLoad: 80, PenaltyWeight: 0.4})
	require.Len(t, seen, 1)
	assert.Equal(t, key, seen[0].Asset)
	assert.Equal(t, 160.0, seen[0].Load)
	assert.Equal(t, 80.0, seen[0].Threshold)
	assert.InDelta(t, got, seen[0].Multiplier, eps)
}

func TestEnvironmentalStage(t *testing.T) {
	stage := EnvironmentalStage{}
	assert.InDelta(t, 1.0, stage.Compute(EnvironmentalInput{AmbientTemp: 25, Humidity: 70}), eps)
	assert.InDelta(t, 1.0, stage.Compute(EnvironmentalInput{AmbientTemp: -10, Humidity: 0}), eps)
	assert.InDelta(t, 1.1, stage.Compute(EnvironmentalInput{AmbientTemp: 35, Humidity: 50}), eps)
	assert.InDelta(t, 1.2, stage.Compute(EnvironmentalInput{AmbientTemp: 25, Humidity: 80}), eps)
	assert.InDelta(t, 2.0, stage.Compute(EnvironmentalInput{AmbientTemp: 125, Humidity: 120}), eps)
}

func TestDamageStage(t *testing.T) {
	stage := DamageStage{}
	assert.InDelta(t, 0.00014, stage.Compute(DamageInput{BaseDamageFactor: 0.0001, CombinedMultiplier: 1.4}), eps)
	assert.Equal(t, 0.0, stage.Compute(DamageInput{BaseDamageFactor: 0, CombinedMultiplier: 3}))
	assert.Equal(t, 0.0, stage.Compute(DamageInput{BaseDamageFactor: -1, CombinedMultiplier: 1}))
}

func TestRULStage(t *testing.T) {
	p := domain.DefaultParams()
	in := RULInput{
		CumulativeDamage:        0.5,
		DamageRate:              0.0001,
		MaxDamage:               p.MaxDamage,
		HighStressRateThreshold: p.HighStressRateThreshold,
		ReducedConfidence:       p.ReducedConfidence,
		InfiniteRULSentinel:     p.InfiniteRULSentinel,
	}

	out := RULStage{}.Compute(in)
	assert.InDelta(t, 5000.0, out.RUL, 1e-6)
	assert.Equal(t, 1.0, out.Confidence)
	assert.InDelta(t, 0.5, out.RemainingCapacity, eps)

	for _, rate := range []float64{0, -0.5} {
		in.DamageRate = rate
		out = RULStage{}.Compute(in)
		assert.Equal(t, p.InfiniteRULSentinel, out.RUL)
	}

	in.DamageRate = 0.002
	out = RULStage{}.Compute(in)
	assert.Equal(t, 0.85, out.Confidence)
	assert.InDelta(t, 250.0, out.RUL, 1e-9)

	in.CumulativeDamage = 1.3
	in.DamageRate = 0.0001
	out = RULStage{}.Compute(in)
	assert.Equal(t, 0.0, out.RemainingCapacity)
	assert.Equal(t, 0.0, out.RUL)
}

func TestChainRun(t *testing.T) {
	key := domain.AssetKey{TenantID: "t1", AssetID: "turbine-1"}
	reading := domain.TelemetryReading{
		Load:             domain.Float(90),
		Temperature:      domain.Float(60),
		AmbientTemp:      domain.Float(25),
		Humidity:         domain.Float(50),
		BaseDamageFactor: domain.Float(0.0001),
		Sequence:         1,
	}

	res := NewChain(nil).Run(key, reading, 0, domain.DefaultParams())

	assert.InDelta(t, 1.05, res.ShiftMultiplier, eps)
	assert.InDelta(t, 1.0, res.EnvironmentalModifier, eps)
	assert.InDelta(t, 1.05, res.CombinedMultiplier, eps)
	assert.InDelta(t, 0.000105, res.DamageIncrement, eps)
	assert.InDelta(t, 0.000105, res.CumulativeDamage, eps)
	assert.InDelta(t, (1-0.000105)/0.000105, res.RUL, 1e-6)
	assert.Equal(t, 1.0, res.Confidence)
}

func TestChainRunUsesDefaultBaseFactor(t *testing.T) {
	p := domain.DefaultParams()
	p.DefaultBaseDamageFactor = 0.0005
	reading := domain.TelemetryReading{Load: domain.Float(10), Temperature: domain.Float(20), Sequence: 1}

	res := NewChain(nil).Run(domain.AssetKey{TenantID: "t", AssetID: "a"}, reading, 0.25, p)

	assert.InDelta(t, 0.0005, res.DamageIncrement, eps)
	assert.InDelta(t, 0.2505, res.CumulativeDamage, eps)
}

func TestChainRunCapsDamage(t *testing.T) {
	reading := domain.TelemetryReading{
		Load:             domain.Float(10),
		Temperature:      domain.Float(20),
		BaseDamageFactor: domain.Float(0.5),
		Sequence:         1,
	}

	res := NewChain(nil).Run(domain.AssetKey{TenantID: "t", AssetID: "a"}, reading, 0.9, domain.DefaultParams())

	assert.Equal(t, 1.0, res.CumulativeDamage)
	assert.InDelta(t, 0.5, res.DamageIncrement, eps)
	assert.Equal(t, 0.0, res.RemainingCapacity)
}

func TestChainRunCapsAtConfiguredMaxDamage(t *testing.T) {
	p := domain.DefaultParams()
	p.MaxDamage = 2
	key := domain.AssetKey{TenantID: "t", AssetID: "a"}
	reading := domain.TelemetryReading{
		Load:             domain.Float(10),
		Temperature:      domain.Float(20),
		BaseDamageFactor: domain.Float(0.3),
		Sequence:         1,
	}

	damage := 0.0
	var res Result
	for range 6 {
		res = NewChain(nil).Run(key, reading, damage, p)
		damage = res.CumulativeDamage
	}
	assert.InDelta(t, 1.8, damage, eps)
	assert.InDelta(t, 0.2, res.RemainingCapacity, eps)
	assert.InDelta(t, 0.2/0.3, res.RUL, 1e-9)

	for range 2 {
		res = NewChain(nil).Run(key, reading, damage, p)
		damage = res.CumulativeDamage
	}
	assert.Equal(t, 2.0, damage)
	assert.Equal(t, 0.0, res.RUL)
}
