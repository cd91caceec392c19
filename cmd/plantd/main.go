// Command plantd is the weather-compensated heating plant daemon: it loads
// a config file, builds every entity (building models, pumps, valves,
// circuits, DHW tanks, heatsources) against a hardware backend, then ticks
// the plant once per configured interval until a shutdown signal arrives.
//
// Grounded on the teacher's cmd/hvac-controller/main.go: same
// config-load/logging-init/signal-wait shape, generalized from the
// teacher's single flat controller.New(cfg, state) into the plant
// package's entity-graph construction and runtime/alarms/metrics/store/api
// wiring this daemon adds.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/haavardk/plantd/internal/alarms"
	"github.com/haavardk/plantd/internal/api"
	"github.com/haavardk/plantd/internal/config"
	"github.com/haavardk/plantd/internal/hwabs"
	"github.com/haavardk/plantd/internal/logging"
	"github.com/haavardk/plantd/internal/metrics"
	"github.com/haavardk/plantd/internal/plant"
	"github.com/haavardk/plantd/internal/quantity"
	"github.com/haavardk/plantd/internal/runtime"
	"github.com/haavardk/plantd/internal/sensors"
	"github.com/haavardk/plantd/internal/store"
)

func main() {
	flags := config.ParseFlags(os.Args[1:])

	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Init(config.ParseLogLevel(flags.LogLevel), cfg.Logging.File, cfg.Logging.Console); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logging: %v\n", err)
		os.Exit(1)
	}

	log.Info().Str("config_file", flags.ConfigFile).Str("backend", cfg.Hardware.Backend).Msg("starting plantd")

	metrics.Init(metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		AgentAddr: cfg.Metrics.AgentAddr,
		Namespace: cfg.Metrics.Namespace,
		Tags:      cfg.Metrics.Tags,
	})

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		runtime.ShutdownWithError(err, "failed to open state store")
	}
	defer st.Close()

	alarmQueue := alarms.NewQueue()
	var notifier *alarms.Notifier
	if cfg.Notifications.Enabled {
		notifier = alarms.NewNotifier(cfg.Notifications.Topic)
	}
	printer := alarms.NewPrinter(notifier)

	hw, err := buildBackend(cfg)
	if err != nil {
		runtime.ShutdownWithError(err, "failed to build hardware backend")
	}
	if err := hw.Setup(); err != nil {
		runtime.ShutdownWithError(err, "hardware backend setup failed")
	}
	if err := hw.Online(); err != nil {
		runtime.ShutdownWithError(err, "hardware backend failed to come online")
	}

	sensorSvc := sensors.New(sensors.DefaultConfig(), alarmQueue)
	registerConfiguredSensors(cfg, hw, sensorSvc)

	p, err := buildPlant(cfg, hw)
	if err != nil {
		runtime.ShutdownWithError(err, "failed to build plant from config")
	}

	rt := runtime.New(runtime.AlwaysOn{Mode: loadInitialSystemMode(st, cfg)})

	var apiServer *api.Server
	if cfg.Api.Enabled {
		apiServer = api.NewServer(p, rt)
		go func() {
			if err := apiServer.Start(cfg.Api.Port); err != nil {
				log.Error().Err(err).Msg("status/control API server exited")
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runTickLoop(ctx, cfg, hw, p, rt, sensorSvc, alarmQueue, printer, st)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutdown signal received")

	cancel()
	offlineEverything(hw, p)
	persistSystemMode(st, rt.SystemMode)
	_ = hw.Offline()
	_ = hw.Exit()
}

// runTickLoop drives the plant at cfg's configured interval: sensors are
// polled first (spec.md §2's Input phase anomaly filter), the runtime's
// resolved mode is written onto every entity, then the plant itself ticks.
// Alarms raised during the cycle are drained and printed once per tick,
// per spec.md §5/§7; each entity already fails safe on its own hardware
// error, so the loop itself never aborts early on one entity's failure.
func runTickLoop(
	ctx context.Context,
	cfg *config.Config,
	hw hwabs.Backend,
	p *plant.Plant,
	rt *runtime.Runtime,
	sensorSvc *sensors.Service,
	alarmQueue *alarms.Queue,
	printer *alarms.Printer,
	st *store.Store,
) {
	interval := time.Duration(cfg.TickIntervalSeconds * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := hw.Input(); err != nil {
				log.Error().Err(err).Msg("hardware input cycle failed")
			}

			sensorSvc.Poll(hw, now)
			rt.Apply(p, now)
			p.Tick(hw, now)

			if err := hw.Output(); err != nil {
				log.Error().Err(err).Msg("hardware output cycle failed")
			}

			printer.Print(alarmQueue.Drain())
			emitTickMetrics(p)
		}
	}
}

func emitTickMetrics(p *plant.Plant) {
	metrics.Gauge("plantd.consumer_shift", float64(p.ConsumerShift))
	if p.HsOvertemp {
		metrics.Count("plantd.hs_overtemp", 1)
	}
	for _, c := range p.Circuits {
		metrics.Gauge("plantd.circuit.actual_wtemp_c", quantity.TempToCelsius(c.ActualWtemp), "circuit:"+c.Name())
		metrics.Gauge("plantd.circuit.target_wtemp_c", quantity.TempToCelsius(c.TargetWtemp), "circuit:"+c.Name())
	}
	for _, hs := range p.Heatsources {
		metrics.Gauge("plantd.heatsource.actual_temp_c", quantity.TempToCelsius(hs.ActualTemp), "heatsource:"+hs.Name())
		if hs.Antifreeze {
			metrics.Count("plantd.heatsource.antifreeze_trip", 1, "heatsource:"+hs.Name())
		}
	}
	for _, v := range p.Valves {
		metrics.Gauge("plantd.valve.position_pct", float64(v.Position)/10, "valve:"+v.Name())
	}
	for _, pm := range p.Pumps {
		state := 0.0
		if pm.GetState() {
			state = 1.0
		}
		metrics.Gauge("plantd.pump.state", state, "pump:"+pm.Name())
	}
}

func offlineEverything(hw hwabs.Backend, p *plant.Plant) {
	for _, hs := range p.Heatsources {
		if err := hs.Offline(hw); err != nil {
			log.Warn().Err(err).Str("heatsource", hs.Name()).Msg("failed to take heatsource offline cleanly")
		}
	}
	for _, d := range p.Tanks {
		if err := d.Offline(hw); err != nil {
			log.Warn().Err(err).Str("tank", d.Name()).Msg("failed to take tank offline cleanly")
		}
	}
	for _, c := range p.Circuits {
		if err := c.Offline(hw); err != nil {
			log.Warn().Err(err).Str("circuit", c.Name()).Msg("failed to take circuit offline cleanly")
		}
	}
	for _, v := range p.Valves {
		if err := v.Offline(hw); err != nil {
			log.Warn().Err(err).Str("valve", v.Name()).Msg("failed to take valve offline cleanly")
		}
	}
	for _, pm := range p.Pumps {
		if err := pm.Offline(hw); err != nil {
			log.Warn().Err(err).Str("pump", pm.Name()).Msg("failed to take pump offline cleanly")
		}
	}
	for _, m := range p.Models {
		if err := m.Offline(); err != nil {
			log.Warn().Err(err).Str("model", m.Name()).Msg("failed to take building model offline cleanly")
		}
	}
}

const systemModeBlobName = "system_mode"

func loadInitialSystemMode(st *store.Store, cfg *config.Config) runtime.SystemMode {
	_, data, err := st.Fetch(systemModeBlobName)
	if err == nil {
		if m, ok := api.ParseSystemModeName(string(data)); ok {
			log.Info().Str("mode", string(data)).Msg("restored system mode from store")
			return m
		}
	}
	m, ok := api.ParseSystemModeName(cfg.System.DefaultMode)
	if !ok {
		return runtime.SysOff
	}
	return m
}

func persistSystemMode(st *store.Store, m runtime.SystemMode) {
	if err := st.Dump(systemModeBlobName, 1, []byte(api.SystemModeName(m))); err != nil {
		log.Warn().Err(err).Msg("failed to persist system mode")
	}
}
