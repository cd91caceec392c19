// Package simhw is an in-memory hwabs.Backend used by tests and by the
// default plantd configuration when no real hardware is attached. It
// plays the same role the teacher's internal/gpio package-level
// overridable-function seams played for its tests, but as struct methods
// rather than package vars, since tests here routinely need several
// independent backend instances (one plant under test, one reference
// backend) rather than a single process-wide mock.
package simhw

import (
	"fmt"
	"sync"
	"time"

	"github.com/haavardk/plantd/internal/errs"
	"github.com/haavardk/plantd/internal/hwabs"
)

type tempChannel struct {
	name    string
	value   float64
	fault   error
	fetched time.Time
}

type switchChannel struct {
	name    string
	value   bool
	fetched time.Time
}

type relayChannel struct {
	name string
	on   bool
	fail bool
}

// Backend is the in-memory implementation. The zero value is not usable;
// construct with New.
type Backend struct {
	mu sync.Mutex

	online bool
	temps  []tempChannel
	sws    []switchChannel
	relays []relayChannel
}

func New() *Backend {
	return &Backend{}
}

// RegisterTemperature declares a new temperature channel and returns its id.
func (b *Backend) RegisterTemperature(name string) hwabs.InputId {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.temps = append(b.temps, tempChannel{name: name})
	return hwabs.InputId{Backend: 0, Channel: len(b.temps) - 1}
}

// RegisterSwitch declares a new switch input channel and returns its id.
func (b *Backend) RegisterSwitch(name string) hwabs.InputId {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sws = append(b.sws, switchChannel{name: name})
	return hwabs.InputId{Backend: 0, Channel: len(b.sws) - 1}
}

// RegisterRelay declares a new relay output channel and returns its id.
func (b *Backend) RegisterRelay(name string) hwabs.OutputId {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.relays = append(b.relays, relayChannel{name: name})
	return hwabs.OutputId{Backend: 0, Channel: len(b.relays) - 1}
}

// SetTemperature sets a channel's simulated reading and stamps "now" as its
// fetch time, clearing any injected fault.
func (b *Backend) SetTemperature(id hwabs.InputId, celsius float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.temps[id.Channel].value = celsius
	b.temps[id.Channel].fault = nil
	b.temps[id.Channel].fetched = time.Now()
}

// SetTemperatureFault injects a sensor fault (e.g. errs.SENSORSHORT) that
// every InputValue read of that channel returns until SetTemperature
// clears it.
func (b *Backend) SetTemperatureFault(id hwabs.InputId, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.temps[id.Channel].fault = err
}

// SetTemperatureStale backdates a channel's fetch time, for testing the
// staleness path without waiting out the real timeout.
func (b *Backend) SetTemperatureStale(id hwabs.InputId, age time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.temps[id.Channel].fetched = time.Now().Add(-age)
}

func (b *Backend) SetSwitch(id hwabs.InputId, on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sws[id.Channel].value = on
	b.sws[id.Channel].fetched = time.Now()
}

// RelayState returns the current simulated relay output, for test assertions.
func (b *Backend) RelayState(id hwabs.OutputId) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.relays[id.Channel].on
}

// FailRelay makes every OutputStateSet on that channel return a HARDWARE
// error, simulating a relay write failure, until FailRelay(id, false).
func (b *Backend) FailRelay(id hwabs.OutputId, fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.relays[id.Channel].fail = fail
}

func (b *Backend) Setup() error { return nil }

func (b *Backend) Online() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.online = true
	return nil
}

func (b *Backend) Offline() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.online = false
	for i := range b.relays {
		b.relays[i].on = false
	}
	return nil
}

func (b *Backend) Exit() error { return nil }

// Input and Output are no-ops here: the simulated backend's cells are
// already "fetched" the moment a test calls SetTemperature/SetSwitch, and
// OutputStateSet writes the relay immediately rather than buffering it.
func (b *Backend) Input() error  { return nil }
func (b *Backend) Output() error { return nil }

func (b *Backend) InputValue(kind hwabs.InputKind, id hwabs.InputId) (hwabs.InputValue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.online {
		return hwabs.InputValue{}, errs.New(errs.OFFLINE, "simhw", "backend offline")
	}
	switch kind {
	case hwabs.KindTemperature:
		ch := b.temps[id.Channel]
		if ch.fault != nil {
			return hwabs.InputValue{}, ch.fault
		}
		return hwabs.InputValue{TemperatureC: ch.value}, nil
	case hwabs.KindSwitch:
		return hwabs.InputValue{Switch: b.sws[id.Channel].value}, nil
	default:
		return hwabs.InputValue{}, errs.New(errs.INVALID, "simhw", "unknown input kind")
	}
}

func (b *Backend) InputTime(kind hwabs.InputKind, id hwabs.InputId) (time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch kind {
	case hwabs.KindTemperature:
		return b.temps[id.Channel].fetched, nil
	case hwabs.KindSwitch:
		return b.sws[id.Channel].fetched, nil
	default:
		return time.Time{}, errs.New(errs.INVALID, "simhw", "unknown input kind")
	}
}

func (b *Backend) OutputStateGet(kind hwabs.OutputKind, id hwabs.OutputId) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.relays[id.Channel].on, nil
}

func (b *Backend) OutputStateSet(kind hwabs.OutputKind, id hwabs.OutputId, on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.relays[id.Channel].fail {
		return errs.New(errs.HARDWARE, "simhw", fmt.Sprintf("relay %q write failed", b.relays[id.Channel].name))
	}
	b.relays[id.Channel].on = on
	return nil
}

func (b *Backend) InputByName(kind hwabs.InputKind, name string) (hwabs.InputId, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch kind {
	case hwabs.KindTemperature:
		for i, ch := range b.temps {
			if ch.name == name {
				return hwabs.InputId{Channel: i}, nil
			}
		}
	case hwabs.KindSwitch:
		for i, ch := range b.sws {
			if ch.name == name {
				return hwabs.InputId{Channel: i}, nil
			}
		}
	}
	return hwabs.InputId{}, hwabs.ErrNotConfigured
}

func (b *Backend) OutputByName(kind hwabs.OutputKind, name string) (hwabs.OutputId, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ch := range b.relays {
		if ch.name == name {
			return hwabs.OutputId{Channel: i}, nil
		}
	}
	return hwabs.OutputId{}, hwabs.ErrNotConfigured
}

func (b *Backend) InputName(kind hwabs.InputKind, id hwabs.InputId) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch kind {
	case hwabs.KindTemperature:
		return b.temps[id.Channel].name, nil
	case hwabs.KindSwitch:
		return b.sws[id.Channel].name, nil
	}
	return "", errs.New(errs.INVALID, "simhw", "unknown input kind")
}

func (b *Backend) OutputName(kind hwabs.OutputKind, id hwabs.OutputId) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.relays[id.Channel].name, nil
}

var _ hwabs.Backend = (*Backend)(nil)
