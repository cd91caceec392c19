// Package quantity implements the fixed-point temperature arithmetic and
// filtering primitives the plant core uses throughout: Temp/DeltaK values,
// sentinel validation, exponential moving averages, a threshold integrator,
// a derivative estimator, and a rate-of-rise limiter.
//
// Temp and DeltaK are fixed-point, but not every computation on them is:
// the hardware backend converts sensor readings from float64, the bilinear
// water law (internal/circuit) computes in float64 Celsius, and the valve
// controller (internal/valve) computes its error term in float64 Kelvin.
// Temp and DeltaK are both scaled milli-degrees-Celsius stored in an
// int32, giving 0.001 K resolution across a far wider range than any plant ever needs, with
// plenty of headroom below int32's limits for arithmetic before it widens
// to int64.
package quantity

import (
	"math"

	"github.com/haavardk/plantd/internal/errs"
)

// Temp is a fixed-point absolute temperature in milli-degrees-Celsius.
// Four sentinel values outside the valid range stand in for the hardware
// abstraction's fault states; Validate turns them into typed errors.
type Temp int32

// DeltaK is a fixed-point temperature difference, same scale as Temp.
type DeltaK int32

const (
	scale = 1000 // milli-degrees per degree

	// Sentinels live just below the valid range's floor so ordinary
	// arithmetic on a valid Temp can never accidentally produce one.
	validFloor Temp = -60_000  // -60.000 C
	validCeil  Temp = 200_000  // 200.000 C
	UNSET      Temp = math.MinInt32
	SHORT      Temp = math.MinInt32 + 1
	DISCON     Temp = math.MinInt32 + 2
	INVALID    Temp = math.MinInt32 + 3
)

// CelsiusToTemp converts a float Celsius reading (as produced by a hardware
// backend) to fixed-point Temp, rounding half to even.
func CelsiusToTemp(c float64) Temp {
	return Temp(roundHalfToEven(c * scale))
}

// TempToCelsius converts a valid Temp back to float Celsius. Callers must
// Validate first; this function does not itself check sentinels.
func TempToCelsius(t Temp) float64 {
	return float64(t) / scale
}

// DeltaKToTemp reinterprets a DeltaK as an offset added to a base Temp. It
// exists mainly for readability at call sites that add a delta to a temp.
func DeltaKToTemp(base Temp, d DeltaK) Temp {
	return base + Temp(d)
}

// CelsiusToDeltaK converts a float Kelvin/Celsius delta to fixed-point DeltaK.
func CelsiusToDeltaK(c float64) DeltaK {
	return DeltaK(roundHalfToEven(c * scale))
}

func (d DeltaK) Celsius() float64 {
	return float64(d) / scale
}

// roundHalfToEven implements banker's rounding for the float->fixed
// conversions, per design note: "where the source uses roundf, the design
// requires rounding-half-to-even".
func roundHalfToEven(v float64) int32 {
	floor := math.Floor(v)
	diff := v - floor
	switch {
	case diff < 0.5:
		return int32(floor)
	case diff > 0.5:
		return int32(floor) + 1
	default:
		// exactly .5: round to even
		fi := int64(floor)
		if fi%2 == 0 {
			return int32(fi)
		}
		return int32(fi) + 1
	}
}

// Validate maps the sentinel values to the corresponding closed-taxonomy
// error; a Temp within the valid range returns nil.
func Validate(t Temp) error {
	switch t {
	case UNSET:
		return errs.New(errs.NOTCONFIGURED, "quantity.Temp", "sensor never read")
	case SHORT:
		return errs.New(errs.SENSORSHORT, "quantity.Temp", "sensor shorted")
	case DISCON:
		return errs.New(errs.SENSORDISCON, "quantity.Temp", "sensor disconnected")
	case INVALID:
		return errs.New(errs.SENSORINVAL, "quantity.Temp", "sensor reading invalid")
	}
	if t < validFloor || t > validCeil {
		return errs.New(errs.SENSORINVAL, "quantity.Temp", "sensor reading out of range")
	}
	return nil
}

// Clamp restricts t to [lo, hi]. Callers must have already Validated t;
// Clamp does not special-case sentinels.
func Clamp(t, lo, hi Temp) Temp {
	if t < lo {
		return lo
	}
	if t > hi {
		return hi
	}
	return t
}

func ClampDelta(d, lo, hi DeltaK) DeltaK {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
