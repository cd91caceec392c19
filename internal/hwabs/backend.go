// Package hwabs defines the hardware abstraction the plant core consumes
// (spec §6): an opaque set of input/output identifiers bound to a backend
// and channel, and a small bulk input/output cycle a backend implements.
// The plant core never talks to SPI, 1-wire sysfs, or relay boards
// directly — it only ever calls through this interface, so that concern
// stays exactly as peripheral as spec.md's non-goals describe it.
package hwabs

import (
	"time"

	"github.com/haavardk/plantd/internal/errs"
)

// InputKind distinguishes the two input classes the core reads.
type InputKind int

const (
	KindTemperature InputKind = iota
	KindSwitch
)

// OutputKind is the single output class the core drives.
type OutputKind int

const (
	KindRelay OutputKind = iota
)

// InputId and OutputId are opaque identifiers issued by a Backend at setup
// time; the core stores them on entities and never interprets their
// fields itself beyond equality.
type InputId struct {
	Backend int
	Channel int
}

type OutputId struct {
	Backend int
	Channel int
}

// InputValue carries whichever reading a given InputKind produced. Only
// one field is meaningful, selected by the kind passed to InputValue.
type InputValue struct {
	TemperatureC float64
	Switch       bool
}

// Backend is the consumed contract a hardware transport implements. Setup
// through Exit mirror the lifecycle callbacks of spec §6; Input/Output are
// the bulk pull/push the orchestrator calls once per tick, before reading
// any individual value.
type Backend interface {
	Setup() error
	Online() error
	Input() error
	Output() error
	Offline() error
	Exit() error

	InputValue(kind InputKind, id InputId) (InputValue, error)
	InputTime(kind InputKind, id InputId) (time.Time, error)
	OutputStateGet(kind OutputKind, id OutputId) (bool, error)
	OutputStateSet(kind OutputKind, id OutputId, on bool) error

	InputByName(kind InputKind, name string) (InputId, error)
	OutputByName(kind OutputKind, name string) (OutputId, error)
	InputName(kind InputKind, id InputId) (string, error)
	OutputName(kind OutputKind, id OutputId) (string, error)
}

// SensorTimeout is the default staleness threshold (spec §5): an input
// whose last-fetch time is older than this is treated as stale.
const SensorTimeout = 30 * time.Second

// ErrNotConfigured is returned by InputByName/OutputByName when a backend
// has no channel registered under that name.
var ErrNotConfigured = errs.New(errs.NOTCONFIGURED, "hwabs", "no such input/output name")
