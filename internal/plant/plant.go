// Package plant implements the orchestrator of spec.md §3, §4.7: it owns
// every building model, pump, valve, circuit, DHW tank and heatsource, and
// ticks them in dependency order once per cycle, aggregating the
// cross-entity signals (consumer_shift, hs_overtemp, could_sleep,
// consumer_sdelay) that couple consumers to producers.
//
// Grounded on the teacher's zonecontroller-coordinator loop in
// cmd/hvac-controller/main.go (a flat "tick every registered controller in
// a fixed order" driver) generalized to spec.md §4.7's five-phase
// dependency order and its cross-entity aggregation step.
package plant

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/haavardk/plantd/internal/bmodel"
	"github.com/haavardk/plantd/internal/circuit"
	"github.com/haavardk/plantd/internal/dhwt"
	"github.com/haavardk/plantd/internal/heatsource"
	"github.com/haavardk/plantd/internal/hwabs"
	"github.com/haavardk/plantd/internal/pump"
	"github.com/haavardk/plantd/internal/valve"
)

// Plant owns every entity and the plant-wide aggregates of spec.md §3's
// Plant data model. Cross-references to pumps/valves are plain pointers
// into these slices rather than typed arena indices (spec.md §9's
// arena-plus-index note): Go's garbage collector and slice-of-pointers
// already give the "stable reference, no dangling index" property the
// note is chasing, without a hand-rolled arena.
type Plant struct {
	Models      []*bmodel.Model
	Pumps       []*pump.Pump
	Valves      []*valve.Valve
	Circuits    []*circuit.Circuit
	Tanks       []*dhwt.Tank
	Heatsources []*heatsource.Heatsource

	// Aggregates carried from the previous tick's heatsource pass into
	// this tick's consumer pass (spec.md §4.7 steps 4-5 run before step
	// 6, so a consumer's inputs are necessarily one tick behind the
	// producer state they influence — the same single-tick lag the
	// shared-pump/valve command pattern already has). HsOvertemp is the
	// exception: a hard-max trip discovered only during this tick's
	// heatsource pass is still pinned into every circuit before Tick
	// returns (see the PinDissipate call below), so it never actually
	// lags a full cycle the way ConsumerShift/ConsumerSdelay do.
	ConsumerShift  int
	HsOvertemp     bool
	CouldSleep     bool
	ConsumerSdelay time.Duration

	lastTick time.Time
}

func New() *Plant {
	return &Plant{CouldSleep: true}
}

func (p *Plant) AddModel(m *bmodel.Model)         { p.Models = append(p.Models, m) }
func (p *Plant) AddPump(pm *pump.Pump)             { p.Pumps = append(p.Pumps, pm) }
func (p *Plant) AddValve(v *valve.Valve)           { p.Valves = append(p.Valves, v) }
func (p *Plant) AddCircuit(c *circuit.Circuit)     { p.Circuits = append(p.Circuits, c) }
func (p *Plant) AddTank(d *dhwt.Tank)              { p.Tanks = append(p.Tanks, d) }
func (p *Plant) AddHeatsource(h *heatsource.Heatsource) {
	p.Heatsources = append(p.Heatsources, h)
}

// Tick executes one full input-logic/run cycle over every owned entity, per
// spec.md §4.7. Per-entity errors are logged and recovered locally (each
// entity already enters its own failsafe on failure, per spec.md §7's
// propagation policy); Tick itself never aborts partway through a cycle on
// a single entity's error.
func (p *Plant) Tick(hw hwabs.Backend, now time.Time) {
	// 1. advance every building model's outdoor EMA.
	for _, m := range p.Models {
		if !m.IsOnline() {
			continue
		}
		if err := m.Update(hw, now); err != nil {
			log.Error().Err(err).Str("model", m.Name()).Msg("building model update failed")
		}
	}

	// 2-4. run consumers (circuits, then DHW tanks), collecting heat
	// requests. Each consumer drives its own valve and pump internally
	// (spec.md §4.4 step 9, §4.5 step 5) rather than plant running valves
	// as a separate top-level pass; see DESIGN.md for why this departs
	// from §4.7's literal step ordering.
	wasOvertemp := p.HsOvertemp
	maxReq := circuit.NoRequest

	for _, c := range p.Circuits {
		if !c.IsOnline() {
			continue
		}
		req, err := c.Run(hw, circuit.RunCtx{
			Now:            now,
			ConsumerShift:  p.ConsumerShift,
			ConsumerSdelay: p.ConsumerSdelay,
			HsOvertemp:     p.HsOvertemp,
		})
		if err != nil {
			log.Error().Err(err).Str("circuit", c.Name()).Msg("circuit run failed")
		}
		if req != circuit.NoRequest && req > maxReq {
			maxReq = req
		}
	}

	for _, d := range p.Tanks {
		if !d.IsOnline() {
			continue
		}
		req, err := d.Run(hw, dhwt.RunCtx{Now: now, CouldSleep: p.CouldSleep})
		if err != nil {
			log.Error().Err(err).Str("dhwt", d.Name()).Msg("dhwt run failed")
		}
		if req != dhwt.NoRequest && req > maxReq {
			maxReq = req
		}
	}

	couldSleep := maxReq == circuit.NoRequest

	// 5. run pumps so their physical state reflects the requests every
	// consumer (and, next tick, every heatsource) just issued.
	for _, pm := range p.Pumps {
		if !pm.IsOnline() {
			continue
		}
		if err := pm.Run(hw, now); err != nil {
			log.Error().Err(err).Str("pump", pm.Name()).Msg("pump run failed")
		}
	}

	// 6. run heatsources with the aggregated heat request, collecting the
	// next tick's consumer_shift/hs_overtemp/consumer_sdelay.
	shift := 0
	overtemp := false
	var sdelay time.Duration
	for _, hs := range p.Heatsources {
		if !hs.IsOnline() {
			continue
		}
		res, err := hs.Run(hw, heatsource.RunCtx{
			Now:            now,
			HeatRequest:    maxReq,
			CouldSleep:     couldSleep,
			ConsumerSdelay: p.ConsumerSdelay,
		})
		if err != nil {
			log.Error().Err(err).Str("heatsource", hs.Name()).Msg("heatsource run failed")
		}
		if res.CshiftCrit < shift {
			shift = res.CshiftCrit
		}
		if res.HsOvertemp {
			overtemp = true
		}
		if res.TargetConsumerSdelay > sdelay {
			sdelay = res.TargetConsumerSdelay
		}
	}

	p.ConsumerShift = shift
	p.HsOvertemp = overtemp
	p.CouldSleep = couldSleep

	// a hard-max trip discovered only this tick (the consumer pass above
	// still ran against last tick's hs_overtemp) must still pin every
	// circuit's dissipation target within this same tick, per spec.md
	// scenario 2. A trip that was already known before the consumer pass
	// ran needs no repeat: those circuits already pinned inline.
	if overtemp && !wasOvertemp {
		for _, c := range p.Circuits {
			if !c.IsOnline() {
				continue
			}
			if err := c.PinDissipate(hw, now); err != nil {
				log.Error().Err(err).Str("circuit", c.Name()).Msg("circuit overtemp pin failed")
			}
		}
	}

	// 7. decrement consumer_sdelay by the elapsed tick, floored at zero,
	// then let a tripped heatsource re-arm it for the next off transition.
	if p.ConsumerSdelay > 0 && !p.lastTick.IsZero() {
		p.ConsumerSdelay -= now.Sub(p.lastTick)
		if p.ConsumerSdelay < 0 {
			p.ConsumerSdelay = 0
		}
	}
	if sdelay > p.ConsumerSdelay {
		p.ConsumerSdelay = sdelay
	}
	p.lastTick = now
}
