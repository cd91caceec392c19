// Package raspihw is a best-effort real hwabs.Backend for a Raspberry Pi:
// DS18B20 1-wire temperature sensors read from sysfs, relays and switch
// inputs driven through the `pinctrl` CLI (pinctrl.go, a single-package
// rewrite of the teacher's standalone internal/pinctrl wrapper). It is
// adapted directly from the teacher's internal/gpio (sysfs DS18B20
// parsing) and internal/pinctrl (CLI wrapper) packages — building a real
// hardware backend is optional per spec (the hardware transport is the
// explicit non-goal, consumed only as an interface), but this exercises
// those two teacher files instead of discarding them.
package raspihw

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/haavardk/plantd/internal/errs"
	"github.com/haavardk/plantd/internal/hwabs"
)

// GPIOPin describes a single relay or switch line: its BCM number and
// whether the hardware is active-high or active-low.
type GPIOPin struct {
	Number     int
	ActiveHigh bool
}

type tempChannel struct {
	name       string
	sensorPath string // directory containing w1_slave
	lastValue  float64
	lastFetch  time.Time
	lastErr    error
}

type switchChannel struct {
	name string
	pin  GPIOPin
}

type relayChannel struct {
	name string
	pin  GPIOPin
}

// Backend wires DS18B20 sensors and pinctrl-driven GPIO lines into the
// hwabs.Backend contract. SafeMode, once set, makes every output write a
// no-op, matching the teacher's gpio.SetSafeMode guard.
type Backend struct {
	mu       sync.Mutex
	SafeMode bool

	temps  []tempChannel
	sws    []switchChannel
	relays []relayChannel

	online bool
}

func New() *Backend {
	return &Backend{}
}

func (b *Backend) RegisterTemperature(name, sensorPath string) hwabs.InputId {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.temps = append(b.temps, tempChannel{name: name, sensorPath: sensorPath})
	return hwabs.InputId{Channel: len(b.temps) - 1}
}

func (b *Backend) RegisterSwitch(name string, pin GPIOPin) hwabs.InputId {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sws = append(b.sws, switchChannel{name: name, pin: pin})
	return hwabs.InputId{Channel: len(b.sws) - 1}
}

func (b *Backend) RegisterRelay(name string, pin GPIOPin) hwabs.OutputId {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.relays = append(b.relays, relayChannel{name: name, pin: pin})
	return hwabs.OutputId{Channel: len(b.relays) - 1}
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
	for _, r := range b.relays {
		_ = b.writeRelay(r.pin, false)
	}
	return nil
}

func (b *Backend) Exit() error { return nil }

// Input refreshes every registered temperature channel from sysfs. Switch
// channels are read lazily in InputValue since pinctrl reads are cheap
// single-pin queries, unlike the batched 1-wire reads.
func (b *Backend) Input() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.temps {
		c, err := readDS18B20(b.temps[i].sensorPath)
		b.temps[i].lastErr = err
		if err == nil {
			b.temps[i].lastValue = c
			b.temps[i].lastFetch = time.Now()
		}
	}
	return nil
}

func (b *Backend) Output() error { return nil }

func (b *Backend) InputValue(kind hwabs.InputKind, id hwabs.InputId) (hwabs.InputValue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch kind {
	case hwabs.KindTemperature:
		ch := b.temps[id.Channel]
		if ch.lastErr != nil {
			return hwabs.InputValue{}, ch.lastErr
		}
		return hwabs.InputValue{TemperatureC: ch.lastValue}, nil
	case hwabs.KindSwitch:
		ch := b.sws[id.Channel]
		level, err := pinLevel(ch.pin.Number)
		if err != nil {
			return hwabs.InputValue{}, errs.Wrap(errs.HARDWARE, "raspihw", "read switch", err)
		}
		return hwabs.InputValue{Switch: level == ch.pin.ActiveHigh}, nil
	default:
		return hwabs.InputValue{}, errs.New(errs.INVALID, "raspihw", "unknown input kind")
	}
}

func (b *Backend) InputTime(kind hwabs.InputKind, id hwabs.InputId) (time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch kind {
	case hwabs.KindTemperature:
		return b.temps[id.Channel].lastFetch, nil
	case hwabs.KindSwitch:
		return time.Now(), nil
	default:
		return time.Time{}, errs.New(errs.INVALID, "raspihw", "unknown input kind")
	}
}

func (b *Backend) OutputStateGet(kind hwabs.OutputKind, id hwabs.OutputId) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.relays[id.Channel]
	level, err := pinLevel(r.pin.Number)
	if err != nil {
		return false, errs.Wrap(errs.HARDWARE, "raspihw", "read relay", err)
	}
	return level == r.pin.ActiveHigh, nil
}

func (b *Backend) OutputStateSet(kind hwabs.OutputKind, id hwabs.OutputId, on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.relays[id.Channel]
	return b.writeRelay(r.pin, on)
}

// writeRelay mirrors the teacher's gpio.Activate/Deactivate pair: SafeMode
// turns every write into a no-op so a simulated or bench deployment never
// touches real relays.
func (b *Backend) writeRelay(pin GPIOPin, on bool) error {
	if b.SafeMode {
		return nil
	}
	driveHigh := on == pin.ActiveHigh
	drive := "dl"
	if driveHigh {
		drive = "dh"
	}
	if err := pinSet(pin.Number, "op", "pn", drive); err != nil {
		return errs.Wrap(errs.HARDWARE, "raspihw", fmt.Sprintf("write pin %d", pin.Number), err)
	}
	return nil
}

func (b *Backend) InputByName(kind hwabs.InputKind, name string) (hwabs.InputId, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch kind {
	case hwabs.KindTemperature:
		for i, c := range b.temps {
			if c.name == name {
				return hwabs.InputId{Channel: i}, nil
			}
		}
	case hwabs.KindSwitch:
		for i, c := range b.sws {
			if c.name == name {
				return hwabs.InputId{Channel: i}, nil
			}
		}
	}
	return hwabs.InputId{}, hwabs.ErrNotConfigured
}

func (b *Backend) OutputByName(kind hwabs.OutputKind, name string) (hwabs.OutputId, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.relays {
		if c.name == name {
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
	return "", errs.New(errs.INVALID, "raspihw", "unknown input kind")
}

func (b *Backend) OutputName(kind hwabs.OutputKind, id hwabs.OutputId) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.relays[id.Channel].name, nil
}

// readDS18B20 parses a 1-wire w1_slave file. Unlike the teacher's
// gpio.ReadSensorTemp, this returns Celsius: the stray Celsius->Fahrenheit
// conversion in that function was a latent bug (every other temperature in
// the teacher repo, and everything in this one, is Celsius), not a
// deliberate unit choice, so it is not carried over.
func readDS18B20(sensorPath string) (float64, error) {
	file := filepath.Join(sensorPath, "w1_slave")
	data, err := os.ReadFile(file)
	if err != nil {
		return 0, errs.Wrap(errs.SENSORDISCON, "raspihw", "read sensor file", err)
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) < 2 || !strings.Contains(lines[1], "t=") {
		return 0, errs.New(errs.SENSORINVAL, "raspihw", "temperature data missing or malformed")
	}

	parts := strings.Split(lines[1], "t=")
	if len(parts) != 2 {
		return 0, errs.New(errs.SENSORINVAL, "raspihw", "could not parse temperature line")
	}

	tempMilliC, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, errs.Wrap(errs.SENSORINVAL, "raspihw", "convert temperature", err)
	}
	if tempMilliC == 85000 {
		// DS18B20 power-on-reset default reading; a real conversion never
		// legitimately lands exactly here.
		return 0, errs.New(errs.SENSORSHORT, "raspihw", "sensor returned power-on default")
	}

	return float64(tempMilliC) / 1000.0, nil
}

var _ hwabs.Backend = (*Backend)(nil)
