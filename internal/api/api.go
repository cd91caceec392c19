// Package api exposes a read-only plant status view plus a system-mode
// control surface over HTTP, per SPEC_FULL.md's feature supplementation
// section: not part of spec.md's core tick loop, but consistent with
// spec.md §6's system/run-mode enumerations and not excluded by any of
// its Non-goals (the CLI/daemon lifecycle is the non-goal, not every
// external control surface).
//
// Grounded on the teacher's internal/api/api.go: identical ServeMux +
// hand-rolled CORS middleware + writeJSON/writeError helper shape,
// adapted from the teacher's zone/system-mode CRUD surface (backed by
// db.*) to a read-only snapshot of internal/plant.Plant plus a
// system-mode setter that writes through internal/runtime.Runtime.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/haavardk/plantd/internal/circuit"
	"github.com/haavardk/plantd/internal/dhwt"
	"github.com/haavardk/plantd/internal/heatsource"
	"github.com/haavardk/plantd/internal/plant"
	"github.com/haavardk/plantd/internal/quantity"
	"github.com/haavardk/plantd/internal/runtime"
)

type Server struct {
	plant *plant.Plant
	rt    *runtime.Runtime
}

func NewServer(p *plant.Plant, rt *runtime.Runtime) *Server {
	return &Server{plant: p, rt: rt}
}

type CircuitStatus struct {
	Name         string  `json:"name"`
	Mode         string  `json:"mode"`
	TargetWtempC float64 `json:"target_wtemp_c"`
	ActualWtempC float64 `json:"actual_wtemp_c"`
}

type TankStatus struct {
	Name        string  `json:"name"`
	Mode        string  `json:"mode"`
	ChargeOn    bool    `json:"charge_on"`
	TargetTempC float64 `json:"target_temp_c"`
}

type HeatsourceStatus struct {
	Name        string  `json:"name"`
	Mode        string  `json:"mode"`
	Antifreeze  bool    `json:"antifreeze"`
	TargetTempC float64 `json:"target_temp_c"`
	ActualTempC float64 `json:"actual_temp_c"`
}

type StatusResponse struct {
	ConsumerShift      int                `json:"consumer_shift"`
	HsOvertemp         bool               `json:"hs_overtemp"`
	CouldSleep         bool               `json:"could_sleep"`
	ConsumerSdelaySecs float64            `json:"consumer_sdelay_seconds"`
	Circuits           []CircuitStatus    `json:"circuits"`
	Tanks              []TankStatus       `json:"tanks"`
	Heatsources        []HeatsourceStatus `json:"heatsources"`
}

type SystemModeRequest struct {
	Mode string `json:"mode"`
}

type SystemModeResponse struct {
	Mode string `json:"mode"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler returns the CORS-wrapped mux, ready to pass to http.Serve or
// httptest.NewServer.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/system/mode", s.handleSystemMode)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	log.Info().Str("address", addr).Msg("starting plant status/control API")
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := StatusResponse{
		ConsumerShift:      s.plant.ConsumerShift,
		HsOvertemp:         s.plant.HsOvertemp,
		CouldSleep:         s.plant.CouldSleep,
		ConsumerSdelaySecs: s.plant.ConsumerSdelay.Seconds(),
	}
	for _, c := range s.plant.Circuits {
		resp.Circuits = append(resp.Circuits, CircuitStatus{
			Name:         c.Name(),
			Mode:         circuitModeName(c.Mode),
			TargetWtempC: quantity.TempToCelsius(c.TargetWtemp),
			ActualWtempC: quantity.TempToCelsius(c.ActualWtemp),
		})
	}
	for _, d := range s.plant.Tanks {
		resp.Tanks = append(resp.Tanks, TankStatus{
			Name:        d.Name(),
			Mode:        dhwtModeName(d.Mode),
			ChargeOn:    d.ChargeOn,
			TargetTempC: quantity.TempToCelsius(d.TargetTemp),
		})
	}
	for _, hs := range s.plant.Heatsources {
		resp.Heatsources = append(resp.Heatsources, HeatsourceStatus{
			Name:        hs.Name(),
			Mode:        heatsourceModeName(hs.Mode),
			Antifreeze:  hs.Antifreeze,
			TargetTempC: quantity.TempToCelsius(hs.TargetTemp),
			ActualTempC: quantity.TempToCelsius(hs.ActualTemp),
		})
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSystemMode(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, SystemModeResponse{Mode: SystemModeName(s.rt.SystemMode)})
	case http.MethodPut:
		var req SystemModeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
		mode, ok := ParseSystemModeName(req.Mode)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "invalid system mode")
			return
		}
		s.rt.SetSystemMode(mode)
		log.Info().Str("mode", req.Mode).Msg("system mode updated via API")
		w.WriteHeader(http.StatusOK)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}

func circuitModeName(m circuit.RunMode) string {
	switch m {
	case circuit.ModeComfort:
		return "comfort"
	case circuit.ModeEco:
		return "eco"
	case circuit.ModeFrostfree:
		return "frostfree"
	case circuit.ModeDHWOnly:
		return "dhwonly"
	case circuit.ModeTest:
		return "test"
	default:
		return "off"
	}
}

func dhwtModeName(m dhwt.RunMode) string {
	switch m {
	case dhwt.ModeComfort:
		return "comfort"
	case dhwt.ModeEco:
		return "eco"
	case dhwt.ModeFrostfree:
		return "frostfree"
	case dhwt.ModeTest:
		return "test"
	default:
		return "off"
	}
}

func heatsourceModeName(m heatsource.RunMode) string {
	switch m {
	case heatsource.ModeComfort:
		return "comfort"
	case heatsource.ModeEco:
		return "eco"
	case heatsource.ModeFrostfree:
		return "frostfree"
	case heatsource.ModeDHWOnly:
		return "dhwonly"
	case heatsource.ModeTest:
		return "test"
	default:
		return "off"
	}
}

// SystemModeName converts a runtime.SystemMode to its wire-format string,
// exported so cmd/plantd can reuse it for warm-restart persistence
// through internal/store rather than duplicating the enum mapping.
func SystemModeName(m runtime.SystemMode) string {
	switch m {
	case runtime.SysAuto:
		return "auto"
	case runtime.SysComfort:
		return "comfort"
	case runtime.SysEco:
		return "eco"
	case runtime.SysFrostfree:
		return "frostfree"
	case runtime.SysTest:
		return "test"
	case runtime.SysDHWOnly:
		return "dhwonly"
	case runtime.SysManual:
		return "manual"
	case runtime.SysNone:
		return "none"
	case runtime.SysUnknown:
		return "unknown"
	default:
		return "off"
	}
}

// ParseSystemModeName parses the wire-format string back to a
// runtime.SystemMode, exported for the same reason as SystemModeName.
func ParseSystemModeName(s string) (runtime.SystemMode, bool) {
	switch s {
	case "off":
		return runtime.SysOff, true
	case "auto":
		return runtime.SysAuto, true
	case "comfort":
		return runtime.SysComfort, true
	case "eco":
		return runtime.SysEco, true
	case "frostfree":
		return runtime.SysFrostfree, true
	case "test":
		return runtime.SysTest, true
	case "dhwonly":
		return runtime.SysDHWOnly, true
	case "manual":
		return runtime.SysManual, true
	default:
		return runtime.SysUnknown, false
	}
}
