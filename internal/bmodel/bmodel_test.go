package bmodel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haavardk/plantd/internal/hwabs/simhw"
	"github.com/haavardk/plantd/internal/quantity"
)

func TestModelFirstUpdateSeedsMixed(t *testing.T) {
	hw := simhw.New()
	id := hw.RegisterTemperature("outdoor")
	hw.Online()
	hw.SetTemperature(id, 5.0)

	m := New(Config{Name: "main", OutdoorSensor: id, Tau: quantity.FromSeconds(600)})
	require.NoError(t, m.Online())

	now := time.Now()
	require.NoError(t, m.Update(hw, now))
	assert.Equal(t, quantity.CelsiusToTemp(5.0), m.Outdoor)
	assert.Equal(t, quantity.CelsiusToTemp(5.0), m.Mixed)
}

func TestModelFiltersTowardOutdoor(t *testing.T) {
	hw := simhw.New()
	id := hw.RegisterTemperature("outdoor")
	hw.Online()
	hw.SetTemperature(id, 0.0)

	m := New(Config{Name: "main", OutdoorSensor: id, Tau: quantity.FromSeconds(600)})
	require.NoError(t, m.Online())

	now := time.Now()
	require.NoError(t, m.Update(hw, now))

	hw.SetTemperature(id, 20.0)
	for i := 0; i < 5000; i++ {
		now = now.Add(time.Second)
		require.NoError(t, m.Update(hw, now))
	}
	assert.InDelta(t, 20.0, quantity.TempToCelsius(m.Mixed), 0.5)
}

func TestModelStaleSensorErrors(t *testing.T) {
	hw := simhw.New()
	id := hw.RegisterTemperature("outdoor")
	hw.Online()
	hw.SetTemperature(id, 5.0)
	hw.SetTemperatureStale(id, time.Minute)

	m := New(Config{Name: "main", OutdoorSensor: id, Tau: quantity.FromSeconds(600)})
	require.NoError(t, m.Online())
	err := m.Update(hw, time.Now())
	assert.Error(t, err)
}

func TestModelOfflineRejectsUpdate(t *testing.T) {
	hw := simhw.New()
	id := hw.RegisterTemperature("outdoor")
	m := New(Config{Name: "main", OutdoorSensor: id})
	err := m.Update(hw, time.Now())
	assert.Error(t, err)
}
