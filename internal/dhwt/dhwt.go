// Package dhwt implements the domestic hot water tank of spec §3, §4.5: a
// charge/recharge hysteresis state machine with a chargetime overrun
// guard, legionella/force-charge subcycles, and electric self-heater
// failover.
//
// Grounded on internal/controllers/buffercontroller's
// ShouldBeOn/GetThreshold hysteresis-band pattern (target +/- margin,
// mode-dependent threshold) for the trip/untrip temperature comparisons,
// and on internal/controllers/recirculationcontroller's
// interval/duration-window shape (an external-trigger boolean plus an
// internal "since" timestamp) for the legionella/force-charge subcycle,
// adapted from "is it time to recirculate" into "is a forced charge still
// in its overtime guard window".
package dhwt

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/haavardk/plantd/internal/errs"
	"github.com/haavardk/plantd/internal/hwabs"
	"github.com/haavardk/plantd/internal/pump"
	"github.com/haavardk/plantd/internal/quantity"
)

type RunMode int

const (
	ModeOff RunMode = iota
	ModeFrostfree
	ModeEco
	ModeComfort
	ModeTest
)

const NoRequest = quantity.UNSET

type lifecycle int

const (
	unconfigured lifecycle = iota
	configured
	online
	offline
)

// Config is the wiring and tuning of one DHW tank.
type Config struct {
	Name string

	BottomSensor  *hwabs.InputId
	TopSensor     *hwabs.InputId
	WaterInSensor *hwabs.InputId

	ElectricRelay      *hwabs.OutputId
	ElectricFailover   bool
	FeedPump           *pump.Pump
	FeedPumpOwner      pump.OwnerId
	RecyclePump        *pump.Pump
	RecyclePumpOwner   pump.OwnerId

	TargetComfort   quantity.Temp
	TargetEco       quantity.Temp
	TargetFrostfree quantity.Temp
	Hysteresis      quantity.DeltaK
	Tmin            quantity.Temp
	Tmax            quantity.Temp
	Wintmax         quantity.Temp
	MaxChargetime   time.Duration
	LegionellaTarget quantity.Temp
	ReturnInOffset  quantity.DeltaK
}

// Tank is the runtime state of one DHW tank.
type Tank struct {
	cfg   Config
	state lifecycle

	Mode            RunMode
	ChargeOn        bool
	ModeSince       time.Time
	ElectricMode    bool
	LegionellaOn    bool
	ForceOn         bool
	ChargeOvertime  bool
	TargetTemp      quantity.Temp
	HeatRequest     quantity.Temp
	RecycleOn       bool
}

func New(cfg Config) *Tank {
	return &Tank{cfg: cfg, state: configured, HeatRequest: NoRequest}
}

func (t *Tank) Online() error {
	t.state = online
	return nil
}

func (t *Tank) IsOnline() bool { return t.state == online }

// RequestLegionella and RequestForceCharge are the external scheduler /
// inter-DHWT-coordinator triggers of spec §4.5's last paragraph.
func (t *Tank) RequestLegionella() {
	t.ForceOn = true
	t.LegionellaOn = true
}

func (t *Tank) RequestForceCharge() {
	t.ForceOn = true
}

func (t *Tank) failsafe(hw hwabs.Backend) {
	if t.cfg.FeedPump != nil {
		t.cfg.FeedPump.SetState(t.cfg.FeedPumpOwner, false, true)
	}
	if t.cfg.RecyclePump != nil {
		t.cfg.RecyclePump.SetState(t.cfg.RecyclePumpOwner, false, true)
	}
	t.HeatRequest = NoRequest
	if t.cfg.ElectricFailover && t.cfg.ElectricRelay != nil {
		if err := hw.OutputStateSet(hwabs.KindRelay, *t.cfg.ElectricRelay, true); err != nil {
			log.Error().Err(err).Str("dhwt", t.cfg.Name).Msg("failsafe electric heater write failed")
		}
	}
}

// shutdownSafe puts every owned actuator in its safe state without
// touching the tank's lifecycle state, so both Offline (a lifecycle
// transition) and a ModeOff tick (which must stay online) can share it.
func (t *Tank) shutdownSafe(hw hwabs.Backend) {
	if t.cfg.FeedPump != nil {
		t.cfg.FeedPump.SetState(t.cfg.FeedPumpOwner, false, true)
	}
	if t.cfg.RecyclePump != nil {
		t.cfg.RecyclePump.SetState(t.cfg.RecyclePumpOwner, false, true)
	}
	if t.cfg.ElectricRelay != nil {
		_ = hw.OutputStateSet(hwabs.KindRelay, *t.cfg.ElectricRelay, false)
	}
	t.HeatRequest = NoRequest
	t.ChargeOn = false
}

func (t *Tank) Offline(hw hwabs.Backend) error {
	t.state = offline
	t.shutdownSafe(hw)
	return nil
}

// RunCtx carries plant-wide values a tank needs but doesn't own.
type RunCtx struct {
	Now        time.Time
	CouldSleep bool
}

// readTemp fetches and validates a sensor, returning (value, ok).
func readTemp(hw hwabs.Backend, id *hwabs.InputId) (quantity.Temp, bool) {
	if id == nil {
		return 0, false
	}
	v, err := hw.InputValue(hwabs.KindTemperature, *id)
	if err != nil {
		return 0, false
	}
	tp := quantity.CelsiusToTemp(v.TemperatureC)
	return tp, quantity.Validate(tp) == nil
}

// Run executes one tick of spec §4.5's state machine.
func (t *Tank) Run(hw hwabs.Backend, ctx RunCtx) (quantity.Temp, error) {
	if t.state != online {
		return NoRequest, errs.New(errs.OFFLINE, "dhwt."+t.cfg.Name, "not online")
	}

	if t.Mode == ModeOff {
		t.shutdownSafe(hw)
		return NoRequest, nil
	}

	if t.Mode == ModeTest {
		if t.cfg.FeedPump != nil {
			t.cfg.FeedPump.SetState(t.cfg.FeedPumpOwner, true, false)
		}
		if t.cfg.RecyclePump != nil {
			t.cfg.RecyclePump.SetState(t.cfg.RecyclePumpOwner, true, false)
		}
		return t.HeatRequest, nil
	}

	bottom, bottomOK := readTemp(hw, t.cfg.BottomSensor)
	top, topOK := readTemp(hw, t.cfg.TopSensor)
	if !bottomOK && !topOK {
		log.Error().Str("dhwt", t.cfg.Name).Msg("both bottom and top sensors invalid, entering failsafe")
		t.failsafe(hw)
		return NoRequest, errs.New(errs.SENSORINVAL, "dhwt."+t.cfg.Name, "both tank sensors invalid")
	}

	t.TargetTemp = t.targetForMode()
	if t.LegionellaOn {
		t.TargetTemp = t.cfg.LegionellaTarget
	}

	if !t.ChargeOn {
		t.tryTrip(hw, bottom, bottomOK, top, topOK, ctx)
	} else {
		t.tryUntrip(bottom, bottomOK, top, topOK, ctx)
	}

	t.manageFeedPump(hw, bottom, bottomOK)
	if t.cfg.RecyclePump != nil {
		t.cfg.RecyclePump.SetState(t.cfg.RecyclePumpOwner, t.RecycleOn, false)
	}

	return t.HeatRequest, nil
}

func (t *Tank) targetForMode() quantity.Temp {
	switch t.Mode {
	case ModeComfort:
		return t.cfg.TargetComfort
	case ModeEco:
		return t.cfg.TargetEco
	default:
		return t.cfg.TargetFrostfree
	}
}

// tryTrip implements spec §4.5 step 3: current_temp / trip_temp
// comparison, electric-heater fallback when the plant could sleep, and
// the charge-pumping guard while charge_overtime is set.
func (t *Tank) tryTrip(hw hwabs.Backend, bottom quantity.Temp, bottomOK bool, top quantity.Temp, topOK bool, ctx RunCtx) {
	if t.ChargeOvertime && ctx.Now.Sub(t.ModeSince) < t.cfg.MaxChargetime {
		return
	}

	current := top
	if bottomOK {
		current = bottom
	} else if !topOK {
		return
	}

	hyst := t.cfg.Hysteresis
	if t.ForceOn {
		hyst = quantity.CelsiusToDeltaK(1)
	}
	tripTemp := t.TargetTemp - quantity.Temp(hyst)

	if current >= tripTemp {
		return
	}

	if ctx.CouldSleep && t.cfg.ElectricRelay != nil {
		t.ElectricMode = true
		if err := hw.OutputStateSet(hwabs.KindRelay, *t.cfg.ElectricRelay, true); err != nil {
			log.Error().Err(err).Str("dhwt", t.cfg.Name).Msg("electric heater relay write failed")
		}
		t.HeatRequest = NoRequest
	} else {
		t.ElectricMode = false
		target := quantity.DeltaKToTemp(t.TargetTemp, t.cfg.ReturnInOffset)
		t.HeatRequest = quantity.Clamp(target, t.cfg.Tmin, t.cfg.Wintmax)
	}
	t.ChargeOn = true
	t.ModeSince = ctx.Now
}

// tryUntrip implements spec §4.5 step 4.
func (t *Tank) tryUntrip(bottom quantity.Temp, bottomOK bool, top quantity.Temp, topOK bool, ctx RunCtx) {
	current := bottom
	haveCurrent := bottomOK
	if topOK {
		current = top
		haveCurrent = true
	}
	if !haveCurrent {
		return
	}

	untrip := current >= t.TargetTemp
	if untrip {
		t.ChargeOvertime = false
	} else if !t.ElectricMode && !t.LegionellaOn {
		if ctx.Now.Sub(t.ModeSince) > t.cfg.MaxChargetime {
			t.ChargeOvertime = true
			untrip = true
		}
	}
	if !untrip {
		return
	}

	t.ElectricMode = false
	t.HeatRequest = NoRequest
	t.ForceOn = false
	t.LegionellaOn = false
	t.ChargeOn = false
	t.ModeSince = ctx.Now
}

// manageFeedPump implements spec §4.5 step 5: prefer ON while charging if
// water-in is hotter than current tank temp (with 1K hysteresis); force
// OFF to prevent anti-discharge if water-in runs cooler.
func (t *Tank) manageFeedPump(hw hwabs.Backend, current quantity.Temp, currentOK bool) {
	if t.cfg.FeedPump == nil {
		return
	}
	waterIn, waterInOK := readTemp(hw, t.cfg.WaterInSensor)
	if !waterInOK || !currentOK {
		t.cfg.FeedPump.SetState(t.cfg.FeedPumpOwner, t.ChargeOn, false)
		return
	}

	hyst := quantity.CelsiusToDeltaK(1)
	if t.ChargeOn {
		if waterIn < current-quantity.Temp(hyst) {
			t.cfg.FeedPump.SetState(t.cfg.FeedPumpOwner, false, true)
		} else {
			t.cfg.FeedPump.SetState(t.cfg.FeedPumpOwner, true, false)
		}
		return
	}

	if waterIn < current {
		t.cfg.FeedPump.SetState(t.cfg.FeedPumpOwner, false, true)
	} else {
		t.cfg.FeedPump.SetState(t.cfg.FeedPumpOwner, false, false)
	}
}

func (t *Tank) Name() string { return t.cfg.Name }
