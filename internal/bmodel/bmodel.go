// Package bmodel implements the building thermal model (spec §3, §4):
// an outdoor sensor reading low-pass filtered into a "mixed" outdoor
// temperature that water laws use instead of the raw, noisy reading.
//
// Grounded on the teacher's entity lifecycle shape (configured -> online
// -> offline, sensor read through the hardware abstraction, logging via
// zerolog) as seen in internal/controllers/zonecontroller.go, generalized
// to the fixed-point quantity package instead of float64 and to the
// hwabs.Backend contract instead of direct GPIO/1-wire calls.
package bmodel

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/haavardk/plantd/internal/errs"
	"github.com/haavardk/plantd/internal/hwabs"
	"github.com/haavardk/plantd/internal/quantity"
)

type lifecycle int

const (
	unconfigured lifecycle = iota
	configured
	online
	offline
)

// Config is the wiring a building model needs before it can go online.
type Config struct {
	Name          string
	OutdoorSensor hwabs.InputId
	Tau           quantity.Duration
}

// Model tracks one building's outdoor temperature and its EMA-filtered
// "mixed" value (spec §4.1, §4.4.1's water-law input).
type Model struct {
	cfg   Config
	state lifecycle

	Outdoor Temp
	Mixed   Temp

	lastTick time.Time
	started  bool
}

// Temp is a re-export alias kept local so callers don't need to import
// quantity just to read Model.Outdoor/Mixed.
type Temp = quantity.Temp

func New(cfg Config) *Model {
	return &Model{cfg: cfg, state: configured}
}

func (m *Model) Online() error {
	m.state = online
	return nil
}

func (m *Model) Offline() error {
	m.state = offline
	m.started = false
	return nil
}

func (m *Model) IsOnline() bool { return m.state == online }

// Update reads the outdoor sensor and advances the mixed-temperature EMA
// by the elapsed time since the last call. Called once per tick by the
// plant orchestrator, before any consumer runs (spec §4.7 step 1).
func (m *Model) Update(hw hwabs.Backend, now time.Time) error {
	if m.state != online {
		return errs.New(errs.OFFLINE, "bmodel."+m.cfg.Name, "not online")
	}

	v, err := hw.InputValue(hwabs.KindTemperature, m.cfg.OutdoorSensor)
	if err != nil {
		log.Error().Err(err).Str("model", m.cfg.Name).Msg("outdoor sensor read failed")
		return err
	}
	fetchedAt, err := hw.InputTime(hwabs.KindTemperature, m.cfg.OutdoorSensor)
	if err == nil && time.Since(fetchedAt) > hwabs.SensorTimeout {
		log.Warn().Str("model", m.cfg.Name).Dur("age", time.Since(fetchedAt)).Msg("outdoor sensor stale")
		return errs.New(errs.SENSORDISCON, "bmodel."+m.cfg.Name, "outdoor sensor stale")
	}

	t := quantity.CelsiusToTemp(v.TemperatureC)
	if err := quantity.Validate(t); err != nil {
		return err
	}
	m.Outdoor = t

	if !m.started {
		m.Mixed = t
		m.started = true
		m.lastTick = now
		return nil
	}

	dt := quantity.Since(m.lastTick, now)
	m.lastTick = now
	m.Mixed = quantity.EMA(m.Mixed, t, m.cfg.Tau, dt)
	return nil
}

func (m *Model) Name() string { return m.cfg.Name }
