// Package circuit implements the heating circuit of spec §3, §4.4: the
// entity that computes a target water temperature from outdoor + ambient
// via a water law, drives an optional mixing valve and feed pump toward
// it, and issues a heat request to the heatsource layer.
//
// Grounded on the teacher's internal/controllers/zonecontroller.go for
// the run-mode dispatch shape (OFF/comfort/eco/frostfree/test handling,
// mode-vs-system-mode reconciliation) and its ambient-setpoint struct
// layout, generalized from a single-zone thermostat loop to spec §4.4's
// full water-law + valve + rate-of-rise + consumer-shift pipeline.
package circuit

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/haavardk/plantd/internal/bmodel"
	"github.com/haavardk/plantd/internal/errs"
	"github.com/haavardk/plantd/internal/hwabs"
	"github.com/haavardk/plantd/internal/pump"
	"github.com/haavardk/plantd/internal/quantity"
	"github.com/haavardk/plantd/internal/valve"
)

// RunMode mirrors spec §6's run-mode enumeration, minus AUTO (resolved to
// a concrete mode by the runtime before Run is invoked, per spec §4.4).
type RunMode int

const (
	ModeOff RunMode = iota
	ModeFrostfree
	ModeEco
	ModeComfort
	ModeDHWOnly
	ModeTest
)

// NoRequest is the heat_request sentinel meaning "I don't need heat".
const NoRequest = quantity.UNSET

// HeatRequest is the value a circuit asks a heatsource to deliver, or
// NoRequest.
type HeatRequest = quantity.Temp

// Config is the wiring and tuning of one heating circuit.
type Config struct {
	Name          string
	Building      *bmodel.Model
	Pump          *pump.Pump
	PumpOwner     pump.OwnerId
	Valve         *valve.Valve // nil if the circuit has no mixing valve
	FeedSensor    hwabs.InputId
	ReturnSensor  *hwabs.InputId
	AmbientSensor *hwabs.InputId

	WaterLaw WaterLaw

	ComfortAmbient   quantity.Temp
	EcoAmbient       quantity.Temp
	FrostfreeAmbient quantity.Temp

	WtempMin      quantity.Temp
	WtempMax      quantity.Temp
	ReturnInOffset quantity.DeltaK

	RorhMaxPerHour quantity.DeltaK // 0 disables rate-of-rise limiting
	RorhSamplePeriod quantity.Duration

	BoostDelta      quantity.DeltaK
	BoostMax        time.Duration
}

type lifecycle int

const (
	unconfigured lifecycle = iota
	configured
	online
	offline
)

// Circuit is the runtime state of one heating circuit.
type Circuit struct {
	cfg   Config
	state lifecycle

	Mode RunMode

	RequestAmbient quantity.Temp
	TargetAmbient  quantity.Temp
	ActualAmbient  quantity.Temp
	TargetWtemp    quantity.Temp
	ActualWtemp    quantity.Temp
	HeatRequest    HeatRequest

	rateLimiter  *quantity.RateLimiter
	boostUntil   time.Time
	boosting     bool
}

func New(cfg Config) *Circuit {
	c := &Circuit{cfg: cfg, state: configured, HeatRequest: NoRequest}
	if cfg.RorhMaxPerHour != 0 {
		c.rateLimiter = quantity.NewRateLimiter(cfg.RorhMaxPerHour, cfg.RorhSamplePeriod)
	}
	return c
}

func (c *Circuit) Online() error {
	c.state = online
	return nil
}

func (c *Circuit) IsOnline() bool { return c.state == online }

// failsafe puts the circuit in the safe state of spec §4.4 step 1: no
// heat request, valve fully closed, pump on (to bleed any residual heat
// out of the loop rather than stagnate it against a dead sensor).
func (c *Circuit) failsafe(hw hwabs.Backend) {
	c.HeatRequest = NoRequest
	if c.cfg.Valve != nil {
		c.cfg.Valve.ReqCloseFull()
	}
	c.cfg.Pump.SetState(c.cfg.PumpOwner, true, false)
}

func (c *Circuit) Shutdown(hw hwabs.Backend) error {
	c.HeatRequest = NoRequest
	if c.cfg.Valve != nil {
		_ = c.cfg.Valve.Shutdown(hw)
	}
	c.cfg.Pump.SetState(c.cfg.PumpOwner, false, true)
	return nil
}

func (c *Circuit) Offline(hw hwabs.Backend) error {
	c.state = offline
	return c.Shutdown(hw)
}

// Boost temporarily raises TargetAmbient by cfg.BoostDelta for up to
// cfg.BoostMax, if ambient is currently below target (spec §4.4 step 5).
func (c *Circuit) Boost(now time.Time) {
	c.boosting = true
	c.boostUntil = now.Add(c.cfg.BoostMax)
}

// RunCtx carries the plant-wide values a circuit needs but doesn't own:
// the global consumer-shift percent, the overtemp/shutdown-delay flags,
// and an optional schedule ambient override.
type RunCtx struct {
	Now             time.Time
	ConsumerShift   int // percent, -100..100
	ConsumerSdelay  time.Duration
	HsOvertemp      bool
	ScheduleOverride *quantity.Temp // optional explicit ambient override
}

// Run executes one tick of spec §4.4's algorithm and returns the
// entity's heat request (or NoRequest) plus any error. Sensor failures
// are recovered locally into failsafe and the error is still returned for
// status aggregation, per spec §7's propagation policy.
func (c *Circuit) Run(hw hwabs.Backend, ctx RunCtx) (HeatRequest, error) {
	if c.state != online {
		return NoRequest, errs.New(errs.OFFLINE, "circuit."+c.cfg.Name, "not online")
	}

	// 1. fetch feed sensor
	feedVal, err := hw.InputValue(hwabs.KindTemperature, c.cfg.FeedSensor)
	feed := quantity.CelsiusToTemp(feedVal.TemperatureC)
	if err != nil || quantity.Validate(feed) != nil {
		log.Error().Err(err).Str("circuit", c.cfg.Name).Msg("feed sensor invalid, entering failsafe")
		c.failsafe(hw)
		if err == nil {
			err = quantity.Validate(feed)
		}
		return NoRequest, err
	}
	c.ActualWtemp = feed

	mode := c.Mode
	// 2. global overtemp dissipation override
	if ctx.HsOvertemp {
		mode = ModeComfort
	}

	// 3. OFF with consumer-shutdown-delay hold
	if mode == ModeOff {
		if ctx.ConsumerSdelay > 0 && c.TargetWtemp != 0 {
			c.HeatRequest = NoRequest
			c.cfg.Pump.SetState(c.cfg.PumpOwner, true, false)
			return NoRequest, nil
		}
		_ = c.Shutdown(hw)
		return NoRequest, nil
	}

	// 4. TEST: valve stopped, pump on
	if mode == ModeTest {
		if c.cfg.Valve != nil {
			_ = c.cfg.Valve.ReqStop(hw)
		}
		c.cfg.Pump.SetState(c.cfg.PumpOwner, true, false)
		return c.HeatRequest, nil
	}

	// 5. target ambient from mode set points, with optional schedule
	// override and boost.
	c.TargetAmbient = c.ambientSetpoint(mode)
	if ctx.ScheduleOverride != nil {
		c.TargetAmbient = *ctx.ScheduleOverride
	}
	c.RequestAmbient = c.TargetAmbient
	if c.boosting {
		if ctx.Now.After(c.boostUntil) {
			c.boosting = false
		} else if c.cfg.AmbientSensor != nil && c.ActualAmbient < c.TargetAmbient {
			c.TargetAmbient += quantity.Temp(c.cfg.BoostDelta)
		}
	}

	if c.cfg.AmbientSensor != nil {
		aVal, aErr := hw.InputValue(hwabs.KindTemperature, *c.cfg.AmbientSensor)
		a := quantity.CelsiusToTemp(aVal.TemperatureC)
		if aErr == nil && quantity.Validate(a) == nil {
			c.ActualAmbient = a
		}
	}

	// 6. target water temperature from the configured water law
	outdoorMixed := c.cfg.Building.Mixed
	water := c.cfg.WaterLaw.Target(outdoorMixed, c.TargetAmbient)

	// 7. clamp, save non-interfered target, compute heat request
	water = quantity.Clamp(water, c.cfg.WtempMin, c.cfg.WtempMax)
	c.TargetWtemp = water
	c.HeatRequest = quantity.DeltaKToTemp(water, c.cfg.ReturnInOffset)

	// 8. valve interferences, only when a mixing valve is present
	if c.cfg.Valve != nil {
		water = c.applyInterferences(water, hw, ctx)
	}

	// 9. command valve + pump
	if c.cfg.Valve != nil {
		verr := c.cfg.Valve.Run(hw, water, ctx.Now)
		if verr != nil && !errs.IsDeadzone(verr) {
			log.Warn().Err(verr).Str("circuit", c.cfg.Name).Msg("valve run error")
		}
	}
	c.cfg.Pump.SetState(c.cfg.PumpOwner, true, false)

	return c.HeatRequest, nil
}

func (c *Circuit) ambientSetpoint(mode RunMode) quantity.Temp {
	switch mode {
	case ModeComfort:
		return c.cfg.ComfortAmbient
	case ModeEco:
		return c.cfg.EcoAmbient
	case ModeFrostfree, ModeDHWOnly:
		return c.cfg.FrostfreeAmbient
	default:
		return c.cfg.FrostfreeAmbient
	}
}

// applyInterferences implements spec §4.4 step 8's ordered list: rate of
// rise, consumer shift, then the hs_overtemp pin. Output flooring is not
// applied.
func (c *Circuit) applyInterferences(water quantity.Temp, hw hwabs.Backend, ctx RunCtx) quantity.Temp {
	// a. rate-of-rise
	if c.rateLimiter != nil {
		if !c.rateLimiter.Armed() {
			c.rateLimiter.Arm(c.ActualWtemp)
		}
		water = c.rateLimiter.Step(water)
	}

	// b. output flooring: there is no flooring flag and no code here; the
	// target is never floored at the current water temperature.

	// c. consumer shift
	if ctx.ConsumerShift != 0 {
		returnTemp := quantity.CelsiusToTemp(0)
		if c.cfg.ReturnSensor != nil {
			rv, rerr := hw.InputValue(hwabs.KindTemperature, *c.cfg.ReturnSensor)
			rt := quantity.CelsiusToTemp(rv.TemperatureC)
			if rerr == nil && quantity.Validate(rt) == nil {
				returnTemp = rt
			}
		}
		shift := int64(water-returnTemp) * int64(ctx.ConsumerShift) / 100
		water = water + quantity.Temp(shift)
	}

	// d. hard overtemp pin
	if ctx.HsOvertemp {
		water = c.cfg.WtempMax
	}
	water = quantity.Clamp(water, c.cfg.WtempMin, c.cfg.WtempMax)
	return water
}

// PinDissipate forces the same-tick safety pin of spec §4.4 step 8d
// (water target pinned to limit_wtmax) when a heatsource's hard-max trip
// is only discovered *after* this circuit has already run earlier in the
// same tick (spec.md §4.7 runs consumers before heatsources, so hs_overtemp
// would otherwise reach a circuit one tick late). It skips the water-law
// and rate-of-rise recompute — those already ran this tick against a
// reading that is still valid — and only redrives the valve/pump toward
// the pinned target, matching scenario 2's "within that tick" requirement.
func (c *Circuit) PinDissipate(hw hwabs.Backend, now time.Time) error {
	if c.state != online {
		return nil
	}
	c.TargetWtemp = c.cfg.WtempMax
	c.HeatRequest = quantity.DeltaKToTemp(c.cfg.WtempMax, c.cfg.ReturnInOffset)
	if c.cfg.Valve != nil {
		if verr := c.cfg.Valve.Run(hw, c.cfg.WtempMax, now); verr != nil && !errs.IsDeadzone(verr) {
			log.Warn().Err(verr).Str("circuit", c.cfg.Name).Msg("valve run error")
		}
	}
	c.cfg.Pump.SetState(c.cfg.PumpOwner, true, false)
	return nil
}

func (c *Circuit) Name() string { return c.cfg.Name }
