package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisabledConfigLeavesClientNil(t *testing.T) {
	Init(Config{Enabled: false})
	assert.Nil(t, client)
	// emitters against a nil client must not panic.
	Gauge("boiler.out_temp", 42.0, "boiler:boiler1")
	Count("burner.transitions", 1, "boiler:boiler1")
}
