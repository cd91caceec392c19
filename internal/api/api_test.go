package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haavardk/plantd/internal/bmodel"
	"github.com/haavardk/plantd/internal/circuit"
	"github.com/haavardk/plantd/internal/heatsource"
	"github.com/haavardk/plantd/internal/hwabs/simhw"
	"github.com/haavardk/plantd/internal/plant"
	"github.com/haavardk/plantd/internal/pump"
	"github.com/haavardk/plantd/internal/quantity"
	"github.com/haavardk/plantd/internal/runtime"
)

func setupTestServer(t *testing.T) (*Server, *plant.Plant, *simhw.Backend) {
	hw := simhw.New()
	hw.Online()

	outdoor := hw.RegisterTemperature("outdoor")
	bm := bmodel.New(bmodel.Config{Name: "house", OutdoorSensor: outdoor, Tau: quantity.FromSeconds(600)})
	require.NoError(t, bm.Online())

	feedPump := pump.New(pump.Config{Name: "feed", Relay: hw.RegisterRelay("feed-relay")})
	require.NoError(t, feedPump.Online())

	feedSensor := hw.RegisterTemperature("feed")
	c := circuit.New(circuit.Config{
		Name:       "main",
		Building:   bm,
		Pump:       feedPump,
		FeedSensor: feedSensor,
		WaterLaw: circuit.Bilinear{
			OutdoorLow: quantity.CelsiusToTemp(-10), WaterHigh: quantity.CelsiusToTemp(65),
			OutdoorHigh: quantity.CelsiusToTemp(15), WaterLow: quantity.CelsiusToTemp(25),
			NH100: 110,
		},
		ComfortAmbient:   quantity.CelsiusToTemp(20),
		EcoAmbient:       quantity.CelsiusToTemp(18),
		FrostfreeAmbient: quantity.CelsiusToTemp(8),
		WtempMin:         quantity.CelsiusToTemp(15),
		WtempMax:         quantity.CelsiusToTemp(80),
	})
	require.NoError(t, c.Online())
	c.Mode = circuit.ModeComfort

	boiler := heatsource.New(heatsource.Config{
		Name:          "boiler1",
		OutSensor:     hw.RegisterTemperature("boiler-out"),
		Stage1Relay:   hw.RegisterRelay("stage1"),
		Hysteresis:    quantity.CelsiusToDeltaK(6),
		Tmin:          quantity.CelsiusToTemp(10),
		Tmax:          quantity.CelsiusToTemp(90),
		Thardmax:      quantity.CelsiusToTemp(100),
		Tfreeze:       quantity.CelsiusToTemp(5),
		BurnerMinTime: 0,
		IdleMode:      heatsource.IdleFrostonly,
	})
	require.NoError(t, boiler.Online())

	p := plant.New()
	p.AddModel(bm)
	p.AddPump(feedPump)
	p.AddCircuit(c)
	p.AddHeatsource(boiler)

	hw.SetTemperature(outdoor, -5)
	hw.SetTemperature(feedSensor, 40)
	p.Tick(hw, time.Now())

	rt := runtime.New(runtime.AlwaysOn{Mode: runtime.SysComfort})
	return NewServer(p, rt), p, hw
}

func TestGetStatus(t *testing.T) {
	server, _, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Circuits, 1)
	assert.Equal(t, "main", resp.Circuits[0].Name)
	assert.Equal(t, "comfort", resp.Circuits[0].Mode)
	require.Len(t, resp.Heatsources, 1)
	assert.Equal(t, "boiler1", resp.Heatsources[0].Name)
}

func TestGetSystemMode(t *testing.T) {
	server, _, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/system/mode", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp SystemModeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "comfort", resp.Mode)
}

func TestSetSystemMode(t *testing.T) {
	server, _, _ := setupTestServer(t)

	body, _ := json.Marshal(SystemModeRequest{Mode: "frostfree"})
	req := httptest.NewRequest(http.MethodPut, "/api/system/mode", bytes.NewReader(body))
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, runtime.SysFrostfree, server.rt.SystemMode)
}

func TestSetSystemModeInvalid(t *testing.T) {
	server, _, _ := setupTestServer(t)

	body, _ := json.Marshal(SystemModeRequest{Mode: "bogus"})
	req := httptest.NewRequest(http.MethodPut, "/api/system/mode", bytes.NewReader(body))
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMethodNotAllowedOnStatus(t *testing.T) {
	server, _, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/status", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
