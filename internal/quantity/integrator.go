package quantity

import "time"

// Integrator implements temp_thrs_intg(state, threshold, current, now):
// accumulates (current - threshold) * (now - last_tick), clamped between
// configured lower/upper caps. Used for the boiler's cold-start shift
// (lower cap negative, upper cap zero) and its return-temperature
// protection integrator (spec §4.1, §4.6).
//
// Value accumulates in milli-degree-seconds (DeltaK's milli-degree scale
// times elapsed seconds); callers that want a percent or a Temp divide by
// whatever constant their formula specifies (see heatsource's
// K_PRECISION-style conversion).
type Integrator struct {
	Value    int64
	LowerCap int64
	UpperCap int64

	lastTick time.Time
	started  bool
}

// NewIntegrator returns an Integrator clamped to [lowerCap, upperCap].
func NewIntegrator(lowerCap, upperCap int64) *Integrator {
	return &Integrator{LowerCap: lowerCap, UpperCap: upperCap}
}

// Update advances the integrator to now and returns the new clamped value.
// The first call after construction (or after Reset) only stamps the
// clock; it never integrates across an unknown interval.
func (in *Integrator) Update(threshold, current Temp, now time.Time) int64 {
	if !in.started {
		in.lastTick = now
		in.started = true
		return in.Value
	}
	dt := Since(in.lastTick, now)
	in.lastTick = now

	delta := int64(current) - int64(threshold)
	in.Value += delta * int64(dt.Seconds())
	in.Value = clampInt64(in.Value, in.LowerCap, in.UpperCap)
	return in.Value
}

// Reset zeroes the accumulator and forgets the last tick time, so the next
// Update call re-anchors the clock instead of integrating a stale gap.
func (in *Integrator) Reset() {
	in.Value = 0
	in.started = false
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
