package domain

import "time"

// Defaults substituted for optional environmental fields.
const (
	DefaultAmbientTemp = 25.0
	DefaultHumidity    = 50.0
)

// TelemetryReading is one sensor sample for a single asset. Optional fields are
// pointers so that "absent" can be told apart from zero.
type TelemetryReading struct {
	Load             *float64       `json:"load" validate:"required,finite,gte=0"`
	Temperature      *float64       `json:"temp" validate:"required,finite,gte=0"`
	AmbientTemp      *float64       `json:"ambient_temp,omitempty" validate:"omitempty,finite"`
	Humidity         *float64       `json:"humidity,omitempty" validate:"omitempty,finite,gte=0,lte=100"`
	BaseDamageFactor *float64       `json:"base_damage_factor,omitempty" validate:"omitempty,finite,gte=0"`
	Sequence         uint64         `json:"seq" validate:"gt=0"`
	ReceivedAt       time.Time      `json:"received_at"`
	Payload          map[string]any `json:"extra_data,omitempty"`
}

// Ambient returns the ambient temperature, or DefaultAmbientTemp when absent.
func (r TelemetryReading) Ambient() float64 {
	if r.AmbientTemp == nil {
		return DefaultAmbientTemp
	}
	return *r.AmbientTemp
}

// RelativeHumidity returns the humidity, or DefaultHumidity when absent.
func (r TelemetryReading) RelativeHumidity() float64 {
	if r.Humidity == nil {
		return DefaultHumidity
	}
	return *r.Humidity
}

// BaseFactor returns the reading's base damage factor or fallback when absent.
func (r TelemetryReading) BaseFactor(fallback float64) float64 {
	if r.BaseDamageFactor == nil {
		return fallback
	}
	return *r.BaseDamageFactor
}

// Float is a small helper for building readings in code and tests.
func Float(v float64) *float64 { return &v }

// Envelope carries a reading together with the asset it belongs to through the
// WAL and queue.
type Envelope struct {
	Key     AssetKey         `json:"key"`
	Reading TelemetryReading `json:"reading"`
}
