// Package metrics emits the per-tick gauges and counters of SPEC_FULL.md's
// domain stack table. cmd/plantd sends valve position, boiler temperature,
// circuit water temperatures, pump state and consumer shift as gauges, and
// counts one hs_overtemp and one antifreeze_trip for each tick the flag is
// set; no burner-transition counter is emitted. This is the "peripheral activity... runs on
// a distinct thread" metrics sink spec.md §5 describes, fed
// non-blockingly from the tick loop.
//
// Grounded on the teacher's internal/datadog/datadog.go: same
// package-level client + Init-once shape, same guarded nil-client
// no-op behavior so metrics can be disabled without special-casing every
// call site.
package metrics

import (
	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"
)

var client *statsd.Client

// Config is the subset of ambient config metrics needs to dial out.
type Config struct {
	AgentAddr string
	Namespace string
	Tags      []string
	Enabled   bool
}

var enabled bool

// Init dials the dogstatsd agent. A failure to connect is logged and
// leaves metrics disabled (every emitter becomes a no-op) rather than
// fatal — metrics are peripheral, never load-bearing for the tick loop.
func Init(cfg Config) {
	enabled = cfg.Enabled
	if !cfg.Enabled {
		return
	}
	var err error
	client, err = statsd.New(cfg.AgentAddr)
	if err != nil {
		log.Warn().Err(err).Msg("failed to create dogstatsd client")
		client = nil
		return
	}
	client.Namespace = cfg.Namespace
	client.Tags = cfg.Tags

	log.Info().
		Str("addr", cfg.AgentAddr).
		Str("namespace", cfg.Namespace).
		Strs("tags", cfg.Tags).
		Msg("metrics initialized")
}

// Gauge emits a point-in-time value, e.g. valve position or boiler
// output temperature.
func Gauge(name string, value float64, tags ...string) {
	if client == nil {
		return
	}
	if err := client.Gauge(name, value, tags, 1); err != nil && enabled {
		log.Warn().Err(err).Str("metric", name).Msg("failed to emit gauge metric")
	}
}

// Count increments an event counter, e.g. burner transitions or safety
// trips.
func Count(name string, value int64, tags ...string) {
	if client == nil {
		return
	}
	if err := client.Count(name, value, tags, 1); err != nil && enabled {
		log.Warn().Err(err).Str("metric", name).Msg("failed to emit count metric")
	}
}
