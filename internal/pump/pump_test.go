package pump

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haavardk/plantd/internal/hwabs"
	"github.com/haavardk/plantd/internal/hwabs/simhw"
)

func newOnlinePump(hw *simhw.Backend, cfg Config) (*Pump, hwabs.OutputId) {
	relay := hw.RegisterRelay(cfg.Name)
	cfg.Relay = relay
	p := New(cfg)
	_ = p.Online()
	return p, relay
}

func TestSharedPumpAggregation(t *testing.T) {
	hw := simhw.New()
	hw.Online()
	p, relay := newOnlinePump(hw, Config{Name: "shared"})
	b := p.VirtualNew()

	// A wants on, B wants off with force -> relay OFF (spec scenario 5)
	p.SetState(0, true, false)
	p.SetState(b, false, true)
	require.NoError(t, p.Run(hw, time.Now()))
	assert.False(t, hw.RelayState(relay))

	// B drops force -> relay ON
	p.SetState(b, false, false)
	require.NoError(t, p.Run(hw, time.Now()))
	assert.True(t, hw.RelayState(relay))
}

func TestSharedPumpAnyForceOffWins(t *testing.T) {
	hw := simhw.New()
	hw.Online()
	p, relay := newOnlinePump(hw, Config{Name: "p"})
	b := p.VirtualNew()
	c := p.VirtualNew()

	p.SetState(0, true, false)
	p.SetState(b, true, false)
	p.SetState(c, false, true)
	require.NoError(t, p.Run(hw, time.Now()))
	assert.False(t, hw.RelayState(relay))
}

func TestCooldownDelaysOff(t *testing.T) {
	hw := simhw.New()
	hw.Online()
	p, relay := newOnlinePump(hw, Config{Name: "p", Cooldown: 10 * time.Second})

	now := time.Now()
	p.SetState(0, true, false)
	require.NoError(t, p.Run(hw, now))
	assert.True(t, hw.RelayState(relay))

	p.SetState(0, false, false)
	require.NoError(t, p.Run(hw, now.Add(2*time.Second)))
	assert.True(t, hw.RelayState(relay), "still within cooldown")

	require.NoError(t, p.Run(hw, now.Add(11*time.Second)))
	assert.False(t, hw.RelayState(relay), "cooldown elapsed")
}

func TestForceOffBypassesCooldown(t *testing.T) {
	hw := simhw.New()
	hw.Online()
	p, relay := newOnlinePump(hw, Config{Name: "p", Cooldown: time.Minute})

	now := time.Now()
	p.SetState(0, true, false)
	require.NoError(t, p.Run(hw, now))
	assert.True(t, hw.RelayState(relay))

	p.SetState(0, false, true)
	require.NoError(t, p.Run(hw, now.Add(time.Second)))
	assert.False(t, hw.RelayState(relay))
}

func TestOfflineWritesOffAndReleases(t *testing.T) {
	hw := simhw.New()
	hw.Online()
	p, relay := newOnlinePump(hw, Config{Name: "p"})
	p.SetState(0, true, false)
	require.NoError(t, p.Run(hw, time.Now()))
	assert.True(t, hw.RelayState(relay))

	require.NoError(t, p.Offline(hw))
	assert.False(t, hw.RelayState(relay))
	assert.False(t, p.GetState())
}

func TestRunFailureShutsDownAndSurfacesError(t *testing.T) {
	hw := simhw.New()
	hw.Online()
	p, relay := newOnlinePump(hw, Config{Name: "p"})
	hw.FailRelay(relay, true)

	p.SetState(0, true, false)
	err := p.Run(hw, time.Now())
	assert.Error(t, err)
	assert.False(t, p.IsOnline())
}

func TestRunRejectsWhenNotOnline(t *testing.T) {
	hw := simhw.New()
	p := New(Config{Name: "p"})
	err := p.Run(hw, time.Now())
	assert.Error(t, err)
}
