package dhwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haavardk/plantd/internal/hwabs"
	"github.com/haavardk/plantd/internal/hwabs/simhw"
	"github.com/haavardk/plantd/internal/pump"
	"github.com/haavardk/plantd/internal/quantity"
)

func newTestTank(hw *simhw.Backend) (*Tank, hwabs.InputId) {
	bottom := hw.RegisterTemperature("bottom")
	top := hw.RegisterTemperature("top")
	waterIn := hw.RegisterTemperature("water-in")
	electric := hw.RegisterRelay("electric")

	p := pump.New(pump.Config{Name: "feed", Relay: hw.RegisterRelay("feed-relay")})
	_ = p.Online()

	cfg := Config{
		Name:             "dhwt1",
		BottomSensor:     &bottom,
		TopSensor:        &top,
		WaterInSensor:    &waterIn,
		ElectricRelay:    &electric,
		FeedPump:         p,
		TargetComfort:    quantity.CelsiusToTemp(55),
		TargetEco:        quantity.CelsiusToTemp(45),
		TargetFrostfree:  quantity.CelsiusToTemp(10),
		Hysteresis:       quantity.CelsiusToDeltaK(5),
		Tmin:             quantity.CelsiusToTemp(10),
		Tmax:             quantity.CelsiusToTemp(65),
		Wintmax:          quantity.CelsiusToTemp(70),
		MaxChargetime:    1800 * time.Second,
		LegionellaTarget: quantity.CelsiusToTemp(65),
	}
	tank := New(cfg)
	return tank, bottom
}

func TestDHWTChargeTripAndOvertime(t *testing.T) {
	hw := simhw.New()
	hw.Online()
	bottom := hw.RegisterTemperature("bottom")
	top := hw.RegisterTemperature("top")
	waterIn := hw.RegisterTemperature("water-in")
	electric := hw.RegisterRelay("electric")
	p := pump.New(pump.Config{Name: "feed", Relay: hw.RegisterRelay("feed-relay")})
	_ = p.Online()

	tank := New(Config{
		Name: "dhwt1", BottomSensor: &bottom, TopSensor: &top, WaterInSensor: &waterIn,
		ElectricRelay: &electric, FeedPump: p,
		TargetComfort: quantity.CelsiusToTemp(55), Hysteresis: quantity.CelsiusToDeltaK(5),
		Tmin: quantity.CelsiusToTemp(10), Wintmax: quantity.CelsiusToTemp(70),
		MaxChargetime: 1800 * time.Second,
	})
	require.NoError(t, tank.Online())
	tank.Mode = ModeComfort

	hw.SetTemperature(bottom, 40)
	hw.SetTemperature(top, 40)
	hw.SetTemperature(waterIn, 60)

	now := time.Now()
	_, err := tank.Run(hw, RunCtx{Now: now})
	require.NoError(t, err)
	assert.True(t, tank.ChargeOn, "charge trips below target-hysteresis")

	// heat source never achieves charge: advance past the chargetime limit
	now = now.Add(1801 * time.Second)
	_, err = tank.Run(hw, RunCtx{Now: now})
	require.NoError(t, err)
	assert.False(t, tank.ChargeOn)
	assert.True(t, tank.ChargeOvertime)

	overtimeEntered := now
	// even with bottom still cold, no re-trip for the next 1800s
	now = now.Add(1000 * time.Second)
	_, err = tank.Run(hw, RunCtx{Now: now})
	require.NoError(t, err)
	assert.False(t, tank.ChargeOn, "re-trip refused during overtime guard window")

	// guard window elapses: the heat source now works and the tank
	// completes a fully normal charge/untrip cycle.
	now = overtimeEntered.Add(1801 * time.Second)
	_, err = tank.Run(hw, RunCtx{Now: now})
	require.NoError(t, err)
	require.True(t, tank.ChargeOn, "re-trip allowed once the guard window elapses")

	hw.SetTemperature(bottom, 60)
	hw.SetTemperature(top, 60)
	now = now.Add(10 * time.Second)
	_, err = tank.Run(hw, RunCtx{Now: now})
	require.NoError(t, err)
	assert.False(t, tank.ChargeOn, "charge untrips normally once target is reached")
	assert.False(t, tank.ChargeOvertime, "a normal untrip clears stale overtime state")

	// a later, unrelated charge cycle that completes well within
	// MaxChargetime must not be blocked by the earlier overtime event.
	hw.SetTemperature(bottom, 40)
	hw.SetTemperature(top, 40)
	now = now.Add(100 * time.Second)
	_, err = tank.Run(hw, RunCtx{Now: now})
	require.NoError(t, err)
	assert.True(t, tank.ChargeOn, "unrelated later cycle trips normally")

	hw.SetTemperature(bottom, 60)
	hw.SetTemperature(top, 60)
	now = now.Add(10 * time.Second)
	_, err = tank.Run(hw, RunCtx{Now: now})
	require.NoError(t, err)
	assert.False(t, tank.ChargeOn, "unrelated later cycle untrips normally, unaffected by stale overtime")
}

func TestDHWTBothSensorsInvalidFailsafe(t *testing.T) {
	hw := simhw.New()
	hw.Online()
	bottom := hw.RegisterTemperature("bottom")
	top := hw.RegisterTemperature("top")
	p := pump.New(pump.Config{Name: "feed", Relay: hw.RegisterRelay("feed-relay")})
	_ = p.Online()
	electric := hw.RegisterRelay("electric")

	tank := New(Config{Name: "dhwt1", BottomSensor: &bottom, TopSensor: &top, FeedPump: p, ElectricRelay: &electric, ElectricFailover: true})
	require.NoError(t, tank.Online())
	tank.Mode = ModeComfort

	hw.SetTemperatureFault(bottom, assertErr())
	hw.SetTemperatureFault(top, assertErr())

	_, err := tank.Run(hw, RunCtx{Now: time.Now()})
	assert.Error(t, err)
	assert.True(t, hw.RelayState(electric))
}

type simErr struct{}

func (s *simErr) Error() string { return "injected fault" }
func assertErr() error          { return &simErr{} }

func TestDHWTModeOffClearsRequest(t *testing.T) {
	hw := simhw.New()
	hw.Online()
	tank, _ := newTestTank(hw)
	require.NoError(t, tank.Online())
	tank.Mode = ModeOff

	req, err := tank.Run(hw, RunCtx{Now: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, NoRequest, req)
}
