package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haavardk/plantd/internal/bmodel"
	"github.com/haavardk/plantd/internal/circuit"
	"github.com/haavardk/plantd/internal/heatsource"
	"github.com/haavardk/plantd/internal/hwabs/simhw"
	"github.com/haavardk/plantd/internal/plant"
	"github.com/haavardk/plantd/internal/pump"
	"github.com/haavardk/plantd/internal/quantity"
)

func newTestPlant(t *testing.T, hw *simhw.Backend) *plant.Plant {
	outdoor := hw.RegisterTemperature("outdoor")
	bm := bmodel.New(bmodel.Config{Name: "house", OutdoorSensor: outdoor, Tau: quantity.FromSeconds(600)})
	require.NoError(t, bm.Online())

	feedPump := pump.New(pump.Config{Name: "feed", Relay: hw.RegisterRelay("feed-relay")})
	require.NoError(t, feedPump.Online())

	c := circuit.New(circuit.Config{
		Name:       "main",
		Building:   bm,
		Pump:       feedPump,
		FeedSensor: hw.RegisterTemperature("feed"),
		WaterLaw: circuit.Bilinear{
			OutdoorLow: quantity.CelsiusToTemp(-10), WaterHigh: quantity.CelsiusToTemp(65),
			OutdoorHigh: quantity.CelsiusToTemp(15), WaterLow: quantity.CelsiusToTemp(25),
			NH100: 110,
		},
		ComfortAmbient:   quantity.CelsiusToTemp(20),
		EcoAmbient:       quantity.CelsiusToTemp(18),
		FrostfreeAmbient: quantity.CelsiusToTemp(8),
		WtempMin:         quantity.CelsiusToTemp(15),
		WtempMax:         quantity.CelsiusToTemp(80),
	})
	require.NoError(t, c.Online())

	boiler := heatsource.New(heatsource.Config{
		Name:          "boiler1",
		OutSensor:     hw.RegisterTemperature("boiler-out"),
		Stage1Relay:   hw.RegisterRelay("stage1"),
		Hysteresis:    quantity.CelsiusToDeltaK(6),
		Tmin:          quantity.CelsiusToTemp(10),
		Tmax:          quantity.CelsiusToTemp(90),
		Thardmax:      quantity.CelsiusToTemp(100),
		Tfreeze:       quantity.CelsiusToTemp(5),
		BurnerMinTime: 0,
		IdleMode:      heatsource.IdleFrostonly,
	})
	require.NoError(t, boiler.Online())

	p := plant.New()
	p.AddModel(bm)
	p.AddPump(feedPump)
	p.AddCircuit(c)
	p.AddHeatsource(boiler)
	return p
}

func TestApplyComfortPropagatesToEveryEntity(t *testing.T) {
	hw := simhw.New()
	hw.Online()
	p := newTestPlant(t, hw)

	r := New(AlwaysOn{Mode: SysComfort})
	r.Apply(p, time.Now())

	assert.Equal(t, circuit.ModeComfort, p.Circuits[0].Mode)
	assert.Equal(t, heatsource.ModeComfort, p.Heatsources[0].Mode)
}

func TestApplyOffPropagatesToEveryEntity(t *testing.T) {
	hw := simhw.New()
	hw.Online()
	p := newTestPlant(t, hw)

	r := New(AlwaysOn{Mode: SysOff})
	r.Apply(p, time.Now())

	assert.Equal(t, circuit.ModeOff, p.Circuits[0].Mode)
	assert.Equal(t, heatsource.ModeOff, p.Heatsources[0].Mode)
}

// scheduleStub answers ResolveRunMode only for a specific entity name,
// exercising the "no opinion" fallback for every other entity.
type scheduleStub struct {
	name string
	mode SystemMode
}

func (s scheduleStub) ResolveRunMode(entityName string, _ time.Time) (SystemMode, bool) {
	if entityName == s.name {
		return s.mode, true
	}
	return 0, false
}

func TestAutoModeFallsBackToFrostfreeWithoutScheduleOpinion(t *testing.T) {
	hw := simhw.New()
	hw.Online()
	p := newTestPlant(t, hw)

	r := New(scheduleStub{name: "nonexistent", mode: SysComfort})
	r.SetSystemMode(SysAuto)
	r.Apply(p, time.Now())

	assert.Equal(t, circuit.ModeFrostfree, p.Circuits[0].Mode)
}

func TestAutoModeHonorsScheduleOverride(t *testing.T) {
	hw := simhw.New()
	hw.Online()
	p := newTestPlant(t, hw)

	r := New(scheduleStub{name: "main", mode: SysComfort})
	r.SetSystemMode(SysAuto)
	r.Apply(p, time.Now())

	assert.Equal(t, circuit.ModeComfort, p.Circuits[0].Mode)
}

func TestAutoModeWithNilScheduleFallsBackToFrostfree(t *testing.T) {
	hw := simhw.New()
	hw.Online()
	p := newTestPlant(t, hw)

	r := New(nil)
	r.SetSystemMode(SysAuto)
	r.Apply(p, time.Now())

	assert.Equal(t, circuit.ModeFrostfree, p.Circuits[0].Mode)
}

func TestShutdownWithErrorCallsExitFunc(t *testing.T) {
	var gotCode int
	orig := ExitFunc
	ExitFunc = func(code int) { gotCode = code }
	defer func() { ExitFunc = orig }()

	ShutdownWithError(assertErr(), "fatal wiring error")
	assert.Equal(t, 1, gotCode)
}

type simErr struct{}

func (s *simErr) Error() string { return "injected fault" }
func assertErr() error          { return &simErr{} }
