package stages

// Aging model constants. Heat above 25°C and humidity above 70% accelerate
// wear linearly; the modifier never exceeds 2.0.
const (
	referenceAmbientTemp   = 25.0
	referenceHumidity      = 70.0
	tempAgingPerDegree     = 0.01
	humidityAgingPerPoint  = 0.02
	MaxEnvironmentModifier = 2.0
)

type EnvironmentalInput struct {
	AmbientTemp float64
	Humidity    float64
}

// EnvironmentalStage approximates accelerated aging from heat and humidity.
type EnvironmentalStage struct{}

func (EnvironmentalStage) Name() string { return "environmental" }

func (EnvironmentalStage) Compute(in EnvironmentalInput) float64 {
	modifier := 1.0 +
		max(0, in.AmbientTemp-referenceAmbientTemp)*tempAgingPerDegree +
		max(0, in.Humidity-referenceHumidity)*humidityAgingPerPoint
	return clamp(modifier, 1.0, MaxEnvironmentModifier)
}

var _ Stage[EnvironmentalInput, float64] = EnvironmentalStage{}
