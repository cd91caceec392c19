// Package alarms implements spec.md §5's alarm model: a multi-producer,
// single-consumer queue that the core (any number of entities, any
// number of ticks) raises into, and that gets cleaned out once per tick
// by the core itself — a stateless model where a condition that
// persists is simply re-raised next tick rather than carried forward.
// A separate printer logs each batch the core drained and pushes it out
// at a bounded rate (60 s), per spec.md §7.
//
// Grounded on the teacher's internal/notifications/notifications.go for
// the push-notification shape (ntfy.sh HTTP POST), generalized from a
// package-level singleton into an explicit Queue/Notifier pair per
// spec.md §9's "re-architect module-level singletons as explicit
// context" redesign note.
package alarms

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Alarm is one raised condition, stamped with when it was raised and
// which entity raised it.
type Alarm struct {
	Time   time.Time
	Entity string
	Msg    string
}

// Queue is the multi-producer single-consumer alarm list of spec.md §5.
// Any entity may Raise concurrently with the core draining it.
type Queue struct {
	mu      sync.Mutex
	pending []Alarm
}

func NewQueue() *Queue { return &Queue{} }

// Raise enqueues one alarm. Safe for concurrent use by multiple
// entities within the same tick.
func (q *Queue) Raise(entity, msg string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, Alarm{Time: time.Now(), Entity: entity, Msg: msg})
}

// Drain atomically takes and clears every pending alarm. The core calls
// this once per tick and hands the result to the printer, so a
// condition that's still true next tick shows up as a fresh alarm
// rather than an ever-growing backlog.
func (q *Queue) Drain() []Alarm {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	out := q.pending
	q.pending = nil
	return out
}

// Printer logs every alarm immediately but only pushes an external
// notification at most once per RateLimit window, per spec.md §7's
// "prints them at a bounded rate (60 s)".
type Printer struct {
	Notifier  *Notifier
	RateLimit time.Duration

	mu        sync.Mutex
	lastPush  time.Time
}

func NewPrinter(n *Notifier) *Printer {
	return &Printer{Notifier: n, RateLimit: 60 * time.Second}
}

// Print logs each alarm and, if the rate-limit window has elapsed,
// pushes a summary via the configured Notifier.
func (p *Printer) Print(batch []Alarm) {
	if len(batch) == 0 {
		return
	}
	for _, a := range batch {
		log.Warn().Str("entity", a.Entity).Time("raised_at", a.Time).Msg(a.Msg)
	}

	p.mu.Lock()
	due := time.Since(p.lastPush) >= p.RateLimit
	if due {
		p.lastPush = time.Now()
	}
	p.mu.Unlock()
	if !due || p.Notifier == nil {
		return
	}

	if err := p.Notifier.Send("plantd alarm", summarize(batch)); err != nil {
		log.Warn().Err(err).Msg("failed to push alarm notification")
	}
}

func summarize(batch []Alarm) string {
	if len(batch) == 1 {
		return batch[0].Entity + ": " + batch[0].Msg
	}
	msg := batch[0].Entity + ": " + batch[0].Msg
	for _, a := range batch[1:] {
		msg += "; " + a.Entity + ": " + a.Msg
	}
	return msg
}
