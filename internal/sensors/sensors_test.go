package sensors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haavardk/plantd/internal/alarms"
	"github.com/haavardk/plantd/internal/hwabs/simhw"
	"github.com/haavardk/plantd/internal/quantity"
)

func TestBootstrapThenAcceptsGoodReadings(t *testing.T) {
	hw := simhw.New()
	hw.Online()
	id := hw.RegisterTemperature("outdoor")

	q := alarms.NewQueue()
	cfg := Config{MaxDeltaC: 5.0, MaxAnomalies: 3, HistorySize: 10}
	s := New(cfg, q)
	s.Register(id, "outdoor", 0)

	now := time.Now()
	for i := 0; i < 3; i++ {
		hw.SetTemperature(id, 10.0)
		s.Poll(hw, now)
	}

	temp, ok := s.GetTemperature(id)
	require.True(t, ok)
	assert.Equal(t, quantity.CelsiusToTemp(10.0), temp)
}

func TestAnomalousReadingIsRejectedAfterBootstrap(t *testing.T) {
	hw := simhw.New()
	hw.Online()
	id := hw.RegisterTemperature("outdoor")

	q := alarms.NewQueue()
	cfg := Config{MaxDeltaC: 5.0, MaxAnomalies: 3, HistorySize: 10}
	s := New(cfg, q)
	s.Register(id, "outdoor", 0)

	now := time.Now()
	for i := 0; i < 3; i++ {
		hw.SetTemperature(id, 10.0)
		s.Poll(hw, now)
	}

	// a single wild spike should be rejected, last good reading retained.
	hw.SetTemperature(id, 80.0)
	s.Poll(hw, now)

	temp, ok := s.GetTemperature(id)
	assert.False(t, ok, "a single anomalous reading must not replace the filtered value")
	_ = temp
}

func TestSensorDisabledAfterRepeatedAnomaliesRaisesAlarm(t *testing.T) {
	hw := simhw.New()
	hw.Online()
	id := hw.RegisterTemperature("outdoor")

	q := alarms.NewQueue()
	cfg := Config{MaxDeltaC: 5.0, MaxAnomalies: 2, HistorySize: 10}
	s := New(cfg, q)
	s.Register(id, "outdoor", 0)

	now := time.Now()
	for i := 0; i < 2; i++ {
		hw.SetTemperature(id, 10.0)
		s.Poll(hw, now)
	}

	for i := 0; i < 2; i++ {
		hw.SetTemperature(id, 80.0)
		s.Poll(hw, now)
	}

	_, ok := s.GetTemperature(id)
	assert.False(t, ok)
	assert.NotEmpty(t, q.Drain(), "disabling a sensor must raise an alarm")
}

func TestStaleReadingRaisesAlarmAndIsRejected(t *testing.T) {
	hw := simhw.New()
	hw.Online()
	id := hw.RegisterTemperature("outdoor")

	q := alarms.NewQueue()
	s := New(DefaultConfig(), q)
	s.Register(id, "outdoor", 0)

	hw.SetTemperature(id, 10.0)
	hw.SetTemperatureStale(id, time.Minute)

	s.Poll(hw, time.Now())

	_, ok := s.GetTemperature(id)
	assert.False(t, ok)
	assert.NotEmpty(t, q.Drain())
}
