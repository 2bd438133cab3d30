// Package stages holds the pure computations that turn one telemetry reading
// into a damage increment and a remaining-useful-life estimate.
package stages

// Stage is a pure transform from a typed input to a typed output.
type Stage[In, Out any] interface {
	Name() string
	Compute(In) Out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
