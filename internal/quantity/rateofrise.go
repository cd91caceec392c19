package quantity

// RateLimiter enforces that a target value rises by no more than a
// configured ΔK/hour, sampled at a fixed period (spec §4.1, consumed by
// the heating circuit's rate-of-rise interference, spec §4.4 step 8a).
//
// Per the design's Open Question decision (see DESIGN.md): only increases
// are limited. A falling requested value passes straight through; setting
// LimitDescentToo makes the limiter symmetric, for the "explicit
// implementer choice with a test hook" spec.md leaves open.
type RateLimiter struct {
	MaxPerHour      DeltaK
	SamplePeriod    Duration
	LimitDescentToo bool

	current     Temp
	initialized bool
}

func NewRateLimiter(maxPerHour DeltaK, samplePeriod Duration) *RateLimiter {
	return &RateLimiter{MaxPerHour: maxPerHour, SamplePeriod: samplePeriod}
}

// Armed reports whether the limiter has taken its first sample yet.
func (r *RateLimiter) Armed() bool {
	return r.initialized
}

// Arm seeds the limiter's current value without applying any limiting and
// marks it armed. The circuit calls Arm once, on its first tick with a
// mixing valve, with the feed temperature read that tick, then lets Step
// take over; it does not wait for the water to settle at a lowest value.
func (r *RateLimiter) Arm(value Temp) {
	r.current = value
	r.initialized = true
}

// Step advances the limiter by one sample period toward requested and
// returns the (possibly capped) new current value.
func (r *RateLimiter) Step(requested Temp) Temp {
	if !r.initialized {
		r.current = requested
		r.initialized = true
		return r.current
	}

	rising := requested > r.current
	if !rising && !r.LimitDescentToo {
		r.current = requested
		return r.current
	}
	if requested == r.current {
		return r.current
	}

	maxStep := int64(r.MaxPerHour) * int64(r.SamplePeriod) / int64(FromSeconds(3600))
	if maxStep < 0 {
		maxStep = -maxStep
	}

	if rising {
		next := int64(r.current) + maxStep
		if next > int64(requested) {
			next = int64(requested)
		}
		r.current = Temp(next)
	} else {
		next := int64(r.current) - maxStep
		if next < int64(requested) {
			next = int64(requested)
		}
		r.current = Temp(next)
	}
	return r.current
}

// Current returns the limiter's current output without stepping it.
func (r *RateLimiter) Current() Temp {
	return r.current
}
