// Package heatsource implements the boiler heatsource of spec §3, §4.6: a
// target-temperature controller with burner hysteresis, a minimum on/off
// time guard, antifreeze override, a hard-max safety trip, and a cold-start
// integral protection term that asks consumers to back off while the
// boiler catches up from a cold start.
//
// Grounded on the teacher's internal/controllers/failsafecontroller.go for
// the safety-checklist-first, fail-fast shape (validate, then failsafe and
// return on any problem, before touching normal control logic), and on
// device.go's CanToggle guard (again) for the burner minimum on/off time,
// generalized from a single min-on/min-off pair to the trip/untrip pair
// spec §4.6 describes.
package heatsource

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/haavardk/plantd/internal/errs"
	"github.com/haavardk/plantd/internal/hwabs"
	"github.com/haavardk/plantd/internal/pump"
	"github.com/haavardk/plantd/internal/quantity"
	"github.com/haavardk/plantd/internal/valve"
)

type RunMode int

const (
	ModeOff RunMode = iota
	ModeFrostfree
	ModeEco
	ModeComfort
	ModeDHWOnly
	ModeTest
)

// IdleMode selects what a heatsource with no consumer heat request does,
// per spec §4.6 step 5.
type IdleMode int

const (
	IdleNever IdleMode = iota
	IdleAlways
	IdleFrostonly
)

const NoRequest = quantity.UNSET

type lifecycle int

const (
	unconfigured lifecycle = iota
	configured
	online
	offline
)

// kPrecision is one Kelvin-hour in the integrator's milli-degree-second
// units (1000 milli-degrees/degree * 3600 seconds/hour). cshift_crit =
// 2*intgrl/kPrecision, so the integrator's -50*kPrecision lower cap
// saturates cshift_crit at -100% after a sustained 50 K-hour deficit
// against tmin.
const kPrecision = int64(1000) * 3600

// Config is the wiring and tuning of one boiler heatsource.
type Config struct {
	Name string

	OutSensor    hwabs.InputId
	ReturnSensor *hwabs.InputId

	Stage1Relay hwabs.OutputId
	Stage2Relay *hwabs.OutputId

	LoadPump      *pump.Pump
	LoadPumpOwner pump.OwnerId

	ReturnMixValve *valve.Valve

	Hysteresis quantity.DeltaK
	Tmin       quantity.Temp
	Tmax       quantity.Temp
	Thardmax   quantity.Temp
	Treturnmin *quantity.Temp
	Tfreeze    quantity.Temp

	BurnerMinTime time.Duration
	IdleMode      IdleMode
}

// RunCtx carries the plant-wide values a heatsource needs but doesn't own.
// Mode lives on the Heatsource itself (set by the runtime layer), matching
// circuit.Circuit and dhwt.Tank.
type RunCtx struct {
	Now            time.Time
	HeatRequest    quantity.Temp // max of consumer heat requests, or NoRequest
	CouldSleep     bool
	ConsumerSdelay time.Duration
}

// RunResult is what a heatsource reports back to the plant orchestrator
// for aggregation (spec §4.7 step 5).
type RunResult struct {
	CshiftCrit           int
	HsOvertemp           bool
	TargetConsumerSdelay time.Duration
}

// Heatsource is the runtime state of one boiler.
type Heatsource struct {
	cfg   Config
	state lifecycle

	Mode RunMode

	TargetTemp quantity.Temp
	ActualTemp quantity.Temp
	Antifreeze bool

	burnerOn         bool
	burnerLastSwitch time.Time

	coldStart *quantity.Integrator
	returnIntg *quantity.Integrator
}

func New(cfg Config) *Heatsource {
	return &Heatsource{
		cfg:        cfg,
		state:      configured,
		TargetTemp: NoRequest,
		coldStart:  quantity.NewIntegrator(-50*kPrecision, 0),
		returnIntg: quantity.NewIntegrator(-50*kPrecision, 50*kPrecision),
	}
}

func (h *Heatsource) Online() error {
	h.state = online
	return nil
}

func (h *Heatsource) IsOnline() bool { return h.state == online }

// failsafe implements spec §4.6's safety checklist outcome: both burner
// stages OFF, load pump ON if present so residual heat doesn't stagnate.
func (h *Heatsource) failsafe(hw hwabs.Backend) {
	_ = hw.OutputStateSet(hwabs.KindRelay, h.cfg.Stage1Relay, false)
	if h.cfg.Stage2Relay != nil {
		_ = hw.OutputStateSet(hwabs.KindRelay, *h.cfg.Stage2Relay, false)
	}
	if h.cfg.LoadPump != nil {
		h.cfg.LoadPump.SetState(h.cfg.LoadPumpOwner, true, false)
	}
	h.burnerOn = false
}

func (h *Heatsource) Offline(hw hwabs.Backend) error {
	h.state = offline
	h.failsafe(hw)
	if h.cfg.LoadPump != nil {
		h.cfg.LoadPump.SetState(h.cfg.LoadPumpOwner, false, true)
	}
	return nil
}

// Run executes one tick of spec §4.6's logic and run phases combined.
func (h *Heatsource) Run(hw hwabs.Backend, ctx RunCtx) (RunResult, error) {
	if h.state != online {
		return RunResult{}, errs.New(errs.OFFLINE, "heatsource."+h.cfg.Name, "not online")
	}

	// 1. safety checklist
	val, err := hw.InputValue(hwabs.KindTemperature, h.cfg.OutSensor)
	out := quantity.CelsiusToTemp(val.TemperatureC)
	if err != nil || quantity.Validate(out) != nil {
		log.Error().Err(err).Str("heatsource", h.cfg.Name).Msg("boiler-out sensor invalid, entering failsafe")
		h.failsafe(hw)
		if err == nil {
			err = quantity.Validate(out)
		}
		return RunResult{}, err
	}
	h.ActualTemp = out

	// 2. antifreeze (only meaningful while online, per design decision in
	// DESIGN.md: antifreeze never overrides a boiler that hasn't come
	// online yet).
	if h.ActualTemp <= h.cfg.Tfreeze {
		h.Antifreeze = true
	} else if h.Antifreeze && h.ActualTemp > h.cfg.Tmin+quantity.Temp(h.cfg.Hysteresis)/2 {
		h.Antifreeze = false
	}

	// 3. resolve target_temp from run mode
	mode := h.Mode
	var target quantity.Temp
	switch mode {
	case ModeOff:
		target = NoRequest
	case ModeTest:
		target = h.cfg.Tmax
	default:
		target = ctx.HeatRequest
	}

	// 4. antifreeze raises target
	if h.Antifreeze {
		if target == NoRequest || target < h.cfg.Tmin {
			target = h.cfg.Tmin
		}
	}

	// 5. idle-mode resolution when nobody asked for heat
	if target == NoRequest {
		switch {
		case h.cfg.IdleMode == IdleNever:
			target = h.cfg.Tmin
		case h.cfg.IdleMode == IdleFrostonly && mode != ModeFrostfree:
			target = h.cfg.Tmin
		case ctx.CouldSleep:
			mode = ModeOff
		default:
			target = h.cfg.Tmin
		}
	}

	// 6. clamp
	if target != NoRequest {
		target = quantity.Clamp(target, h.cfg.Tmin, h.cfg.Tmax)
	}
	h.TargetTemp = target

	// run phase step 2: hard-max safety trip
	if h.ActualTemp > h.cfg.Thardmax {
		log.Error().Str("heatsource", h.cfg.Name).Msg("boiler out temperature exceeds hard max, safety trip")
		h.failsafe(hw)
		return RunResult{CshiftCrit: 100, HsOvertemp: true},
			errs.New(errs.SAFETY, "heatsource."+h.cfg.Name, "boiler temperature exceeds hard max")
	}

	// run phase step 3: cold-start integrator
	intgrl := h.coldStart.Update(h.cfg.Tmin, h.ActualTemp, ctx.Now)
	cshiftCrit := 0
	if intgrl < 0 {
		cshiftCrit = int(2 * intgrl / kPrecision)
		if cshiftCrit < -100 {
			cshiftCrit = -100
		}
	} else {
		h.coldStart.Reset()
	}

	// run phase step 4
	if h.cfg.LoadPump != nil {
		h.cfg.LoadPump.SetState(h.cfg.LoadPumpOwner, true, false)
	}

	// run phase step 5: trip points
	noRequest := h.TargetTemp == NoRequest
	var trip, untrip quantity.Temp
	if noRequest {
		trip = quantity.CelsiusToTemp(0)
		untrip = h.cfg.Tmax
	} else {
		trip = quantity.Clamp(h.TargetTemp-quantity.Temp(h.cfg.Hysteresis)/2, h.cfg.Tmin, h.cfg.Tmax)
		untrip = quantity.Clamp(h.TargetTemp+quantity.Temp(h.cfg.Hysteresis)/2, h.cfg.Tmin, h.cfg.Tmax)
	}

	want := h.burnerOn
	switch {
	case h.ActualTemp < trip:
		want = true
	case h.ActualTemp > untrip:
		want = false
	}
	if want != h.burnerOn && ctx.Now.Sub(h.burnerLastSwitch) < h.cfg.BurnerMinTime {
		want = h.burnerOn
	}
	if want != h.burnerOn {
		h.burnerOn = want
		h.burnerLastSwitch = ctx.Now
	}
	if err := hw.OutputStateSet(hwabs.KindRelay, h.cfg.Stage1Relay, h.burnerOn); err != nil {
		log.Error().Err(err).Str("heatsource", h.cfg.Name).Msg("burner relay write failed")
		h.failsafe(hw)
		return RunResult{CshiftCrit: cshiftCrit}, errs.Wrap(errs.HARDWARE, "heatsource."+h.cfg.Name, "burner relay write", err)
	}

	targetSdelay := time.Duration(0)
	if h.burnerOn {
		targetSdelay = ctx.ConsumerSdelay
	}

	// return-temperature protection
	if h.cfg.Treturnmin != nil && h.cfg.ReturnSensor != nil {
		h.runReturnProtection(hw, ctx.Now)
	}

	return RunResult{CshiftCrit: cshiftCrit, TargetConsumerSdelay: targetSdelay}, nil
}

// runReturnProtection implements spec §4.6's final paragraph: it updates a
// second integrator on the return sensor and runs the return-mix valve, if
// any, with limit_treturnmin as its target. The integrator's value is not
// used: the valve is driven by its own controller straight toward
// limit_treturnmin.
func (h *Heatsource) runReturnProtection(hw hwabs.Backend, now time.Time) {
	val, err := hw.InputValue(hwabs.KindTemperature, *h.cfg.ReturnSensor)
	ret := quantity.CelsiusToTemp(val.TemperatureC)
	if err != nil || quantity.Validate(ret) != nil {
		return
	}
	h.returnIntg.Update(*h.cfg.Treturnmin, ret, now)
	if h.cfg.ReturnMixValve == nil {
		return
	}
	if verr := h.cfg.ReturnMixValve.Run(hw, *h.cfg.Treturnmin, now); verr != nil && !errs.IsDeadzone(verr) {
		log.Warn().Err(verr).Str("heatsource", h.cfg.Name).Msg("return-mix valve run error")
	}
}

func (h *Heatsource) Name() string { return h.cfg.Name }
