package quantity

// EMA computes one step of an exponential moving average filter:
//
//	last + (new - last) * dt / (tau + dt)
//
// Used for sensor filtering, calibration smoothing, and the building
// model's outdoor-temperature "mixed" filter (spec §4.1). tau and dt share
// the Duration unit; a tau of zero degenerates to returning new unfiltered
// (dt/(0+dt) == 1). A step that integer division would truncate to zero
// while new != last moves one milli-degree toward new instead, so the
// filter reaches a constant input rather than stalling short of it.
func EMA(last, new Temp, tau, dt Duration) Temp {
	if dt <= 0 {
		return last
	}
	denom := int64(tau) + int64(dt)
	if denom <= 0 {
		return new
	}
	diff := int64(new) - int64(last)
	step := diff * int64(dt) / denom
	if step == 0 && diff > 0 {
		step = 1
	} else if step == 0 && diff < 0 {
		step = -1
	}
	return last + Temp(step)
}

// EMAWeighted is the decimated form used when samples arrive as discrete
// events rather than on a fixed clock: an integer weight w (typically the
// count of samples folded into this update) stands in for dt, against a
// tau expressed in the same integer weight units.
func EMAWeighted(last, new Temp, tauWeight, w int64) Temp {
	if w <= 0 {
		return last
	}
	denom := tauWeight + w
	if denom <= 0 {
		return new
	}
	diff := int64(new) - int64(last)
	step := diff * w / denom
	return last + Temp(step)
}
