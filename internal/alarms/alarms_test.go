package alarms

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDrainClearsQueueAndReturnsPending(t *testing.T) {
	q := NewQueue()
	q.Raise("boiler1", "hard-max exceeded")
	q.Raise("circuit.main", "feed sensor stale")

	batch := q.Drain()
	assert.Len(t, batch, 2)

	assert.Empty(t, q.Drain(), "queue must be empty after drain, stateless alarm model")
}

func TestDrainOnEmptyQueueReturnsNil(t *testing.T) {
	q := NewQueue()
	assert.Nil(t, q.Drain())
}

func TestPrinterWithoutNotifierSkipsPush(t *testing.T) {
	q := NewQueue()
	q.Raise("boiler1", "hard-max exceeded")

	var pushed int
	p := NewPrinter(nil)
	p.RateLimit = 0 // always due, since we're testing the log-every-time half

	// No notifier configured: Print must not panic and simply skip the push.
	p.Print(q.Drain())

	q.Raise("boiler1", "hard-max exceeded again")
	p.Print(q.Drain())
	assert.Equal(t, 0, pushed, "no notifier means no push attempted")
}
