package stages

import "github.com/ghalamif/AegisHealth/internal/domain"

// MaxShiftMultiplier bounds the load-violation penalty.
const MaxShiftMultiplier = 5.0

// ShiftInput is the load of one reading and the asset's load limits.
type ShiftInput struct {
	Asset         domain.AssetKey
	Load          float64
	ThresholdLoad float64
	PenaltyWeight float64
}

// ShiftViolation describes a reading whose load exceeded the threshold.
type ShiftViolation struct {
	Asset      domain.AssetKey
	Load       float64
	Threshold  float64
	Multiplier float64
}

// ViolationObserver receives shift violations. Implementations must not block.
type ViolationObserver interface {
	ShiftViolation(v ShiftViolation)
}

// ViolationObserverFunc adapts a function to ViolationObserver.
type ViolationObserverFunc func(ShiftViolation)

func (f ViolationObserverFunc) ShiftViolation(v ShiftViolation) { f(v) }

// ShiftStage turns load above the configured threshold into a stress multiplier.
type ShiftStage struct {
	Observer ViolationObserver
}

func (ShiftStage) Name() string { return "shift" }

func (s ShiftStage) Compute(in ShiftInput) float64 {
	if in.ThresholdLoad <= 0 || in.Load <= in.ThresholdLoad {
		return 1.0
	}
	ratio := in.Load / in.ThresholdLoad
	multiplier := 1.0 + (ratio-1.0)*in.PenaltyWeight
	if multiplier > MaxShiftMultiplier {
		multiplier = MaxShiftMultiplier
	}
	if multiplier < 1.0 {
		multiplier = 1.0
	}
	if s.Observer != nil {
		s.Observer.ShiftViolation(ShiftViolation{
			Asset:      in.Asset,
			Load:       in.Load,
			Threshold:  in.ThresholdLoad,
			Multiplier: multiplier,
		})
	}
	return multiplier
}

var _ Stage[ShiftInput, float64] = ShiftStage{}
