// Package sensors implements spec.md §2's Input phase for temperature
// inputs: pull the raw hardware reading, check it against the
// SENSOR_TIMEOUT staleness rule of spec.md §5, convert to the
// fixed-point quantity.Temp, and filter out transient anomalies. Entities
// read their sensors from the hardware backend directly, not from here;
// this service's verdicts feed alarms and GetTemperature.
//
// This sits one layer below internal/bmodel: bmodel's EMA smooths one
// already-trusted outdoor reading into a "mixed" temperature for the
// water law, while Service here is the thing that decides whether a raw
// reading should be trusted at all, for every registered sensor.
//
// Grounded on the teacher's internal/temperature/service.go: its
// bootstrap-then-anomaly-detect filtering, per-sensor delta threshold,
// disable-after-N-consecutive-anomalies / recover-after-N-consecutive-
// good-readings state machine and stable-new-baseline escape hatch are
// all carried over, generalized from the teacher's DB-backed zone/sensor
// model to plain hwabs.InputId registration, and rewired to raise into
// internal/alarms instead of calling internal/notifications directly.
package sensors

import (
	"math"
	"sync"
	"time"

	"github.com/haavardk/plantd/internal/alarms"
	"github.com/haavardk/plantd/internal/hwabs"
	"github.com/haavardk/plantd/internal/quantity"
)

// Config tunes the anomaly filter. Defaults mirror the teacher's
// service.go constants.
type Config struct {
	MaxDeltaC    float64 // reject a reading more than this far from the last good one
	MaxAnomalies int     // consecutive anomalies (or good readings) before disable/recover
	HistorySize  int     // bootstrap + stable-baseline window size
}

func DefaultConfig() Config {
	return Config{MaxDeltaC: 5.0, MaxAnomalies: 6, HistorySize: 20}
}

type entry struct {
	name     string
	maxDelta float64

	readings      []float64
	anomalyCount  int
	recoveryCount int
	disabled      bool
	lastGood      float64
	haveLastGood  bool

	current    quantity.Temp
	lastPollOK bool
}

// Service filters every registered temperature sensor's raw reading
// each Poll, per spec.md §2's Input phase.
type Service struct {
	mu      sync.RWMutex
	cfg     Config
	entries map[hwabs.InputId]*entry
	alarms  *alarms.Queue
}

func New(cfg Config, alarmQueue *alarms.Queue) *Service {
	return &Service{cfg: cfg, entries: make(map[hwabs.InputId]*entry), alarms: alarmQueue}
}

// Register adds a temperature sensor to the filter. maxDeltaC of 0 uses
// the service's default threshold.
func (s *Service) Register(id hwabs.InputId, name string, maxDeltaC float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if maxDeltaC == 0 {
		maxDeltaC = s.cfg.MaxDeltaC
	}
	s.entries[id] = &entry{name: name, maxDelta: maxDeltaC}
}

// Poll reads every registered sensor and updates its filtered value.
// Call once per tick, before any entity consumes GetTemperature.
func (s *Service) Poll(hw hwabs.Backend, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.entries {
		val, err := hw.InputValue(hwabs.KindTemperature, id)
		fetchTime, timeErr := hw.InputTime(hwabs.KindTemperature, id)
		stale := timeErr == nil && now.Sub(fetchTime) > hwabs.SensorTimeout

		if err != nil || stale {
			e.lastPollOK = false
			s.alarms.Raise(e.name, "sensor read failed or reading is stale")
			continue
		}

		s.processReading(e, val.TemperatureC)
	}
}

// processReading applies the bootstrap/anomaly/disable/recover state
// machine to one raw reading.
func (s *Service) processReading(e *entry, tempC float64) {
	// bootstrap: accept unconditionally until we have a baseline window.
	if len(e.readings) < s.cfg.MaxAnomalies {
		e.appendReading(tempC, s.cfg.HistorySize)
		e.accept(tempC)
		return
	}

	delta := math.Abs(tempC - e.lastGood)
	anomalous := e.haveLastGood && delta > e.maxDelta

	if !anomalous && !e.disabled {
		e.anomalyCount = 0
		e.recoveryCount = 0
		e.appendReading(tempC, s.cfg.HistorySize)
		e.accept(tempC)
		return
	}

	e.appendReading(tempC, s.cfg.HistorySize)

	if e.disabled {
		e.recoveryCount++
		if e.recoveryCount >= s.cfg.MaxAnomalies {
			e.disabled = false
			e.anomalyCount = 0
			e.recoveryCount = 0
			e.accept(tempC)
			return
		}
		e.lastPollOK = false
		return
	}

	if e.stableNewBaseline() {
		e.anomalyCount = 0
		e.accept(tempC)
		return
	}

	e.anomalyCount++
	if e.anomalyCount >= s.cfg.MaxAnomalies && !e.disabled {
		e.disabled = true
		s.alarms.Raise(e.name, "sensor disabled after repeated anomalous readings")
	}
	e.lastPollOK = false
}

func (e *entry) accept(tempC float64) {
	e.lastGood = tempC
	e.haveLastGood = true
	e.current = quantity.CelsiusToTemp(tempC)
	e.lastPollOK = true
}

func (e *entry) appendReading(tempC float64, maxSize int) {
	if len(e.readings) >= maxSize {
		e.readings = e.readings[1:]
	}
	e.readings = append(e.readings, tempC)
}

// stableNewBaseline detects a low-variance cluster in the most recent
// readings, meaning the sensor settled at a new (legitimate) level
// rather than glitching — the teacher's smart-recovery escape hatch.
func (e *entry) stableNewBaseline() bool {
	const window = 3
	if len(e.readings) < window {
		return false
	}
	recent := e.readings[len(e.readings)-window:]

	var sum float64
	for _, t := range recent {
		sum += t
	}
	mean := sum / float64(len(recent))

	var variance float64
	for _, t := range recent {
		variance += (t - mean) * (t - mean)
	}
	variance /= float64(len(recent))

	return math.Sqrt(variance) < 2.0
}

// GetTemperature returns the last accepted reading for id. ok is false
// if the sensor has never produced an accepted reading, is currently
// disabled, or its last poll failed/was stale.
func (s *Service) GetTemperature(id hwabs.InputId) (quantity.Temp, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, found := s.entries[id]
	if !found || e.disabled || !e.lastPollOK {
		return quantity.UNSET, false
	}
	return e.current, true
}
