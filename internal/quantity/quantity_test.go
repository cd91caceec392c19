package quantity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCelsiusRoundTrip(t *testing.T) {
	cases := []float64{20.0, -5.5, 55.123, 0.0005, 0.0015}
	for _, c := range cases {
		temp := CelsiusToTemp(c)
		assert.InDelta(t, c, TempToCelsius(temp), 0.001)
	}
}

func TestRoundHalfToEven(t *testing.T) {
	assert.Equal(t, int32(2), roundHalfToEven(2.5))
	assert.Equal(t, int32(4), roundHalfToEven(3.5))
	assert.Equal(t, int32(-2), roundHalfToEven(-2.5))
}

func TestValidateSentinels(t *testing.T) {
	assert.Error(t, Validate(UNSET))
	assert.Error(t, Validate(SHORT))
	assert.Error(t, Validate(DISCON))
	assert.Error(t, Validate(INVALID))
	assert.NoError(t, Validate(CelsiusToTemp(20)))
}

func TestEMAConverges(t *testing.T) {
	last := CelsiusToTemp(0)
	target := CelsiusToTemp(20)
	tau := FromSeconds(600)
	dt := FromSeconds(1)

	cur := last
	for i := 0; i < 10000; i++ {
		cur = EMA(cur, target, tau, dt)
	}
	assert.InDelta(t, 20.0, TempToCelsius(cur), 0.01)
}

func TestEMAZeroTauTracksImmediately(t *testing.T) {
	last := CelsiusToTemp(10)
	new := CelsiusToTemp(30)
	got := EMA(last, new, 0, FromSeconds(1))
	assert.Equal(t, new, got)
}

func TestThresholdIntegratorClampsAndAccumulates(t *testing.T) {
	in := NewIntegrator(-1000, 0)
	now := time.Now()
	in.Update(CelsiusToTemp(10), CelsiusToTemp(10), now) // anchor

	// boiler 2 degrees below threshold for 100 seconds -> -200000 m°C*s, clamped to -1000
	now = now.Add(100 * time.Second)
	v := in.Update(CelsiusToTemp(10), CelsiusToTemp(8), now)
	assert.Equal(t, int64(-1000), v)
}

func TestThresholdIntegratorClampsAtUpperCapAboveThreshold(t *testing.T) {
	in := NewIntegrator(-100000, 0)
	now := time.Now()
	in.Update(CelsiusToTemp(10), CelsiusToTemp(10), now)
	now = now.Add(10 * time.Second)
	v := in.Update(CelsiusToTemp(10), CelsiusToTemp(12), now)
	assert.Equal(t, int64(0), v) // above threshold clamps at upper cap 0
}

func TestRateLimiterCapsRise(t *testing.T) {
	r := NewRateLimiter(CelsiusToDeltaK(10), FromSeconds(1)) // 10 K/h max
	r.Arm(CelsiusToTemp(20))

	got := r.Step(CelsiusToTemp(60))
	// in one second, max allowed step is 10/3600 K ~= 0.00278 K
	assert.Less(t, got, CelsiusToTemp(20)+CelsiusToDeltaK(1).asTemp())
	assert.Greater(t, got, CelsiusToTemp(20))
}

func (d DeltaK) asTemp() Temp { return Temp(d) }

func TestRateLimiterPassesDescentThrough(t *testing.T) {
	r := NewRateLimiter(CelsiusToDeltaK(5), FromSeconds(1))
	r.Arm(CelsiusToTemp(50))
	got := r.Step(CelsiusToTemp(10))
	assert.Equal(t, CelsiusToTemp(10), got)
}

func TestDerivativeRate(t *testing.T) {
	d := NewDerivative(time.Hour)
	now := time.Now()
	d.Add(CelsiusToTemp(20), now)
	d.Add(CelsiusToTemp(25), now.Add(30*time.Minute))
	assert.InDelta(t, 10.0, d.Rate().Celsius(), 0.1)
}
