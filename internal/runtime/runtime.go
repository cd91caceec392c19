// Package runtime implements the Runtime / system-mode component of
// spec.md §2, §6: it maps one global system mode, plus an optional
// schedule override, onto each plant entity's own per-entity run mode
// and writes it onto the entity before the next tick.
//
// Grounded on the teacher's internal/controllers/zonecontroller.go
// system-mode-vs-zone-mode reconciliation (again, at the layer above
// where circuit.go already grounds the per-entity half of that
// reconciliation) and its recirculationcontroller's interval/window
// trigger pattern for the Schedule seam.
package runtime

import (
	"time"

	"github.com/haavardk/plantd/internal/circuit"
	"github.com/haavardk/plantd/internal/dhwt"
	"github.com/haavardk/plantd/internal/heatsource"
	"github.com/haavardk/plantd/internal/plant"
)

// SystemMode mirrors spec.md §6's system-mode enumeration.
type SystemMode int

const (
	SysOff SystemMode = iota
	SysAuto
	SysComfort
	SysEco
	SysFrostfree
	SysTest
	SysDHWOnly
	SysManual
	SysUnknown
	SysNone
)

// Schedule resolves the active system mode for one named entity at a
// given time, standing in for spec.md §6's schedule-calendar consumed
// contract. ok is false when the schedule has no opinion on this entity,
// in which case the runtime falls back to a safe default.
type Schedule interface {
	ResolveRunMode(entityName string, now time.Time) (mode SystemMode, ok bool)
}

// AlwaysOn is the default Schedule: every entity runs at a single fixed
// system mode regardless of time, matching spec.md's scheduler-optional
// framing (a schedule is consumed, not required).
type AlwaysOn struct {
	Mode SystemMode
}

func (a AlwaysOn) ResolveRunMode(string, time.Time) (SystemMode, bool) {
	return a.Mode, true
}

// Runtime holds the one global system mode and the schedule consulted
// when that mode is SysAuto.
type Runtime struct {
	SystemMode SystemMode
	Schedule   Schedule
}

// New returns a Runtime whose system mode starts at sched's fixed mode when
// sched is an AlwaysOn, and at SysOff for any other schedule.
func New(sched Schedule) *Runtime {
	r := &Runtime{SystemMode: SysOff, Schedule: sched}
	if a, ok := sched.(AlwaysOn); ok {
		r.SystemMode = a.Mode
	}
	return r
}

func (r *Runtime) SetSystemMode(m SystemMode) { r.SystemMode = m }

// resolve returns the concrete (non-AUTO) system mode in effect for one
// named entity at now. An AUTO system mode with no schedule opinion falls
// back to frost-free, the same fail-safe-but-not-fail-dead default spec.md
// §4.6 step 5's idle-mode logic already uses elsewhere.
func (r *Runtime) resolve(entityName string, now time.Time) SystemMode {
	mode := r.SystemMode
	if mode != SysAuto {
		return mode
	}
	if r.Schedule == nil {
		return SysFrostfree
	}
	if m, ok := r.Schedule.ResolveRunMode(entityName, now); ok {
		return m
	}
	return SysFrostfree
}

// Apply writes the resolved run mode onto every entity in p. Call once
// per tick, before p.Tick, so each entity's Run sees this cycle's mode.
func (r *Runtime) Apply(p *plant.Plant, now time.Time) {
	for _, c := range p.Circuits {
		c.Mode = toCircuitMode(r.resolve(c.Name(), now))
	}
	for _, d := range p.Tanks {
		d.Mode = toDHWTMode(r.resolve(d.Name(), now))
	}
	for _, hs := range p.Heatsources {
		hs.Mode = toHeatsourceMode(r.resolve(hs.Name(), now))
	}
}

func toCircuitMode(m SystemMode) circuit.RunMode {
	switch m {
	case SysComfort:
		return circuit.ModeComfort
	case SysEco:
		return circuit.ModeEco
	case SysFrostfree:
		return circuit.ModeFrostfree
	case SysDHWOnly:
		return circuit.ModeDHWOnly
	case SysTest:
		return circuit.ModeTest
	default:
		return circuit.ModeOff
	}
}

// toDHWTMode has no DHWOnly target: a tank is always serving DHW, so
// SysDHWOnly (and any other consumer-suppressing mode) just means
// "run normally".
func toDHWTMode(m SystemMode) dhwt.RunMode {
	switch m {
	case SysComfort, SysDHWOnly:
		return dhwt.ModeComfort
	case SysEco:
		return dhwt.ModeEco
	case SysFrostfree:
		return dhwt.ModeFrostfree
	case SysTest:
		return dhwt.ModeTest
	default:
		return dhwt.ModeOff
	}
}

func toHeatsourceMode(m SystemMode) heatsource.RunMode {
	switch m {
	case SysComfort:
		return heatsource.ModeComfort
	case SysEco:
		return heatsource.ModeEco
	case SysFrostfree:
		return heatsource.ModeFrostfree
	case SysDHWOnly:
		return heatsource.ModeDHWOnly
	case SysTest:
		return heatsource.ModeTest
	default:
		return heatsource.ModeOff
	}
}
