// Package pump implements the shared on/off actuator of spec §3, §4.2: a
// physical relay that may be requested by one or more owners (a circuit,
// a DHW tank, a heatsource's load pump), with an optional cooldown that
// delays an on->off transition.
//
// Grounded on the teacher's min-on/min-off guard
// (internal/device.CanToggle: "now.Sub(LastChanged) >= MinOn/MinOff") for
// the cooldown timer, and on the design note's arena-plus-index
// prescription for shared-pump ownership ("Re-architect as an arena of
// pump records with stable indices; virtual owners hold the parent's
// index and their own req_on/force_off cells").
package pump

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/haavardk/plantd/internal/errs"
	"github.com/haavardk/plantd/internal/hwabs"
)

type lifecycle int

const (
	unconfigured lifecycle = iota
	configured
	online
	offline
)

// OwnerId identifies one requester of a (possibly shared) pump. Owner 0 is
// always the pump's original/parent owner; VirtualNew hands out the rest.
type OwnerId int

type ownerState struct {
	reqOn    bool
	forceOff bool
}

// Config is the wiring a pump needs before it can go online.
type Config struct {
	Name     string
	Relay    hwabs.OutputId
	Shared   bool
	Cooldown time.Duration
}

// Pump is the physical actuator plus every owner currently sharing it.
type Pump struct {
	cfg   Config
	state lifecycle

	owners []ownerState

	physicalOn   bool
	offSince     time.Time
	pendingOff   bool
}

func New(cfg Config) *Pump {
	return &Pump{cfg: cfg, state: configured, owners: []ownerState{{}}}
}

// VirtualNew creates an additional owner on an already-shared pump and
// returns its OwnerId. Spec §4.2's "virtual_new(parent)".
func (p *Pump) VirtualNew() OwnerId {
	p.owners = append(p.owners, ownerState{})
	return OwnerId(len(p.owners) - 1)
}

func (p *Pump) Online() error {
	p.state = online
	return nil
}

func (p *Pump) IsOnline() bool { return p.state == online }

// Offline unconditionally writes OFF and releases the relay, per spec
// §4.2: "offline unconditionally writes OFF and releases the reservation
// on the relay."
func (p *Pump) Offline(hw hwabs.Backend) error {
	p.state = offline
	for i := range p.owners {
		p.owners[i] = ownerState{}
	}
	p.physicalOn = false
	p.pendingOff = false
	if hw == nil {
		return nil
	}
	return hw.OutputStateSet(hwabs.KindRelay, p.cfg.Relay, false)
}

// SetState is a request, not an immediate write: the owner identified by
// id asks for on/off, optionally forcing off regardless of other owners.
// The physical actuator is only written during Run's output phase (spec
// §4.2).
func (p *Pump) SetState(id OwnerId, reqOn, forceOff bool) {
	if int(id) >= len(p.owners) {
		return
	}
	p.owners[id] = ownerState{reqOn: reqOn, forceOff: forceOff}
}

// effective computes spec §4.2's aggregation rule: "(v of all owners' req_on)
// ^ !(v of any owner's force_off)".
func (p *Pump) effective() bool {
	anyReq := false
	anyForceOff := false
	for _, o := range p.owners {
		if o.reqOn {
			anyReq = true
		}
		if o.forceOff {
			anyForceOff = true
		}
	}
	return anyReq && !anyForceOff
}

// Run commands the relay from the aggregated owner requests, applying the
// cooldown delay on on->off transitions (bypassed by any owner's
// force_off). A relay write failure is logged, takes the pump offline and
// returns a HARDWARE error; no alarm is raised.
func (p *Pump) Run(hw hwabs.Backend, now time.Time) error {
	if p.state != online {
		return errs.New(errs.OFFLINE, "pump."+p.cfg.Name, "not online")
	}

	want := p.effective()
	anyForceOff := false
	for _, o := range p.owners {
		if o.forceOff {
			anyForceOff = true
		}
	}

	if want {
		p.pendingOff = false
	} else if p.physicalOn && p.cfg.Cooldown > 0 && !anyForceOff {
		if !p.pendingOff {
			p.pendingOff = true
			p.offSince = now
		}
		if now.Sub(p.offSince) < p.cfg.Cooldown {
			want = true // still cooling down, stay on
		}
	}

	if want == p.physicalOn {
		return nil
	}

	if err := hw.OutputStateSet(hwabs.KindRelay, p.cfg.Relay, want); err != nil {
		log.Error().Err(err).Str("pump", p.cfg.Name).Msg("relay write failed")
		_ = p.Offline(hw)
		return errs.Wrap(errs.HARDWARE, "pump."+p.cfg.Name, "relay write failed", err)
	}
	p.physicalOn = want
	if !want {
		p.pendingOff = false
	}
	return nil
}

// Shutdown is an alias spec §4.2 implies for an owner that wants the pump
// fully off regardless of sharing (e.g. a consumer entering failsafe):
// it force-requests off from owner 0 only; callers with their own OwnerId
// should use SetState directly.
func (p *Pump) Shutdown() {
	p.SetState(0, false, true)
}

func (p *Pump) GetState() bool { return p.physicalOn }

func (p *Pump) Name() string { return p.cfg.Name }
