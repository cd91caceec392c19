// Package config loads plantd's typed configuration tree. Adapted from the
// teacher's flag+JSON internal/config package and jpxor-burlo.v2's
// yaml-based config.LoadFile: the flag-driven entry point and
// reflection-based conflict validation are the teacher's; the YAML
// decoding and default-filling are burlo's. This is deliberately not the
// brace-delimited config grammar of spec.md §6 — that grammar (and its
// round-trip property) is an explicit non-goal; this is the ordinary
// ambient "load my config" concern every service in the pack carries.
package config

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type LoggingConfig struct {
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

type MetricsConfig struct {
	Enabled   bool     `yaml:"enabled"`
	AgentAddr string   `yaml:"agent_addr"`
	Namespace string   `yaml:"namespace"`
	Tags      []string `yaml:"tags"`
}

type NotificationsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Topic    string `yaml:"topic"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type HardwareConfig struct {
	// Backend selects which hwabs.Backend implementation cmd/plantd wires
	// up: "sim" (default, safe anywhere) or "raspi" (real GPIO/1-wire).
	Backend string `yaml:"backend"`

	// SafeMode mirrors the teacher's gpio.SetSafeMode: when true, every
	// output write on the raspihw backend is a no-op, regardless of what
	// the entity logic requests.
	SafeMode bool `yaml:"safe_mode"`

	// RaspiSensors/RaspiRelays/RaspiSwitches map the same channel names
	// used throughout the entity config sections onto the raspihw
	// backend's sysfs paths and BCM pin numbers. Unused when Backend is
	// "sim", since simhw.RegisterTemperature/RegisterRelay need nothing
	// beyond a name.
	RaspiSensors []RaspiSensorConfig `yaml:"raspi_sensors"`
	RaspiRelays  []RaspiPinConfig    `yaml:"raspi_relays"`
	RaspiSwitches []RaspiPinConfig   `yaml:"raspi_switches"`
}

type RaspiSensorConfig struct {
	Name       string `yaml:"name"`
	SensorPath string `yaml:"sensor_path"`
}

type RaspiPinConfig struct {
	Name       string `yaml:"name"`
	Pin        int    `yaml:"pin"`
	ActiveHigh bool   `yaml:"active_high"`
}

type ApiConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// SystemConfig seeds the initial internal/runtime.Runtime system mode
// before any API caller overrides it.
type SystemConfig struct {
	DefaultMode string `yaml:"default_mode"`
}

type BuildingModelConfig struct {
	Name          string  `yaml:"name"`
	OutdoorSensor string  `yaml:"outdoor_sensor"`
	TauSeconds    float64 `yaml:"tau_seconds"`
}

type PumpConfig struct {
	Name            string  `yaml:"name"`
	Relay           string  `yaml:"relay"`
	Shared          bool    `yaml:"shared"`
	CooldownSeconds float64 `yaml:"cooldown_seconds"`
}

type ValveConfig struct {
	Name               string  `yaml:"name"`
	MixedOutletSensor  string  `yaml:"mixed_outlet_sensor"`
	OpenCoil           string  `yaml:"open_coil"`
	CloseCoil          string  `yaml:"close_coil"`
	TravelTimeSeconds  float64 `yaml:"travel_time_seconds"`
	ProportionalFactor float64 `yaml:"proportional_factor"`
	IntegralSamples    int     `yaml:"integral_samples"`
	DeadzoneC          float64 `yaml:"deadzone_c"`
	ReversalDeadSeconds float64 `yaml:"reversal_dead_seconds"`
}

type WaterLawConfig struct {
	Kind        string  `yaml:"kind"` // only "bilinear" is implemented
	OutdoorLowC float64 `yaml:"outdoor_low_c"`
	WaterHighC  float64 `yaml:"water_high_c"`
	OutdoorHighC float64 `yaml:"outdoor_high_c"`
	WaterLowC   float64 `yaml:"water_low_c"`
	NH100       float64 `yaml:"nh100"`
}

type CircuitConfig struct {
	Name          string         `yaml:"name"`
	BuildingModel string         `yaml:"building_model"`
	Pump          string         `yaml:"pump"`
	Valve         string         `yaml:"valve"`
	FeedSensor    string         `yaml:"feed_sensor"`
	ReturnSensor  string         `yaml:"return_sensor"`
	AmbientSensor string         `yaml:"ambient_sensor"`
	WaterLaw      WaterLawConfig `yaml:"water_law"`

	ComfortAmbientC   float64 `yaml:"comfort_ambient_c"`
	EcoAmbientC       float64 `yaml:"eco_ambient_c"`
	FrostfreeAmbientC float64 `yaml:"frostfree_ambient_c"`

	WtempMinC       float64 `yaml:"wtemp_min_c"`
	WtempMaxC       float64 `yaml:"wtemp_max_c"`
	ReturnInOffsetC float64 `yaml:"return_in_offset_c"`

	RorhKPerHour         float64 `yaml:"rorh_k_per_hour"`
	RorhSamplePeriodSecs float64 `yaml:"rorh_sample_period_seconds"`

	BoostDeltaC       float64 `yaml:"boost_delta_c"`
	BoostMaxSeconds   float64 `yaml:"boost_max_seconds"`
}

type DHWTConfig struct {
	Name              string  `yaml:"name"`
	BottomSensor      string  `yaml:"bottom_sensor"`
	TopSensor         string  `yaml:"top_sensor"`
	WaterInSensor     string  `yaml:"water_in_sensor"`
	WaterOutSensor    string  `yaml:"water_out_sensor"`
	ElectricRelay     string  `yaml:"electric_relay"`
	FeedPump          string  `yaml:"feed_pump"`
	RecyclePump       string  `yaml:"recycle_pump"`

	TargetComfortC    float64 `yaml:"target_comfort_c"`
	TargetEcoC        float64 `yaml:"target_eco_c"`
	TargetFrostfreeC  float64 `yaml:"target_frostfree_c"`
	HysteresisC       float64 `yaml:"hysteresis_c"`
	TminC             float64 `yaml:"tmin_c"`
	TmaxC             float64 `yaml:"tmax_c"`
	WintmaxC          float64 `yaml:"wintmax_c"`
	MaxChargetimeSecs float64 `yaml:"max_chargetime_seconds"`
	LegionellaTargetC float64 `yaml:"legionella_target_c"`
	ReturnInOffsetC   float64 `yaml:"return_in_offset_c"`
}

type HeatsourceConfig struct {
	Name              string  `yaml:"name"`
	OutSensor         string  `yaml:"out_sensor"`
	ReturnSensor      string  `yaml:"return_sensor"`
	Stage1Relay       string  `yaml:"stage1_relay"`
	Stage2Relay       string  `yaml:"stage2_relay"`
	LoadPump          string  `yaml:"load_pump"`
	ReturnMixValve    string  `yaml:"return_mix_valve"`

	HysteresisC        float64 `yaml:"hysteresis_c"`
	TminC              float64 `yaml:"tmin_c"`
	TmaxC              float64 `yaml:"tmax_c"`
	ThardmaxC          float64 `yaml:"thardmax_c"`
	TreturnminC        float64 `yaml:"treturnmin_c"`
	HasTreturnmin      bool    `yaml:"has_treturnmin"`
	TfreezeC           float64 `yaml:"tfreeze_c"`
	BurnerMinTimeSecs  float64 `yaml:"burner_min_time_seconds"`
	IdleMode           string  `yaml:"idle_mode"` // never|always|frostonly
}

type Config struct {
	TickIntervalSeconds float64 `yaml:"tick_interval_seconds"`

	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Storage       StorageConfig       `yaml:"storage"`
	Hardware      HardwareConfig      `yaml:"hardware"`
	Api           ApiConfig           `yaml:"api"`
	System        SystemConfig        `yaml:"system"`

	BuildingModels []BuildingModelConfig `yaml:"building_models"`
	Pumps          []PumpConfig          `yaml:"pumps"`
	Valves         []ValveConfig         `yaml:"valves"`
	Circuits       []CircuitConfig       `yaml:"circuits"`
	DHWTs          []DHWTConfig          `yaml:"dhwts"`
	Heatsources    []HeatsourceConfig    `yaml:"heatsources"`
}

// Flags mirrors the teacher's flag-parsed startup options.
type Flags struct {
	ConfigFile string
	LogLevel   string
}

func ParseFlags(args []string) Flags {
	fs := flag.NewFlagSet("plantd", flag.ContinueOnError)
	f := Flags{}
	fs.StringVar(&f.ConfigFile, "config-file", "config.yaml", "path to plantd config file")
	fs.StringVar(&f.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	_ = fs.Parse(args)
	return f
}

func ParseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Load reads and decodes a YAML config file at path, applying defaults and
// validating cross-entity relay name conflicts.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(c *Config) {
	if c.TickIntervalSeconds == 0 {
		c.TickIntervalSeconds = 1
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "plantd.db"
	}
	if c.Logging.File == "" {
		c.Logging.File = "/var/log/plantd.log"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Hardware.Backend == "" {
		c.Hardware.Backend = "sim"
	}
	if c.Api.Port == 0 {
		c.Api.Port = 8080
	}
	if c.System.DefaultMode == "" {
		c.System.DefaultMode = "off"
	}
	for i := range c.Heatsources {
		if c.Heatsources[i].IdleMode == "" {
			c.Heatsources[i].IdleMode = "frostonly"
		}
		if c.Heatsources[i].BurnerMinTimeSecs == 0 {
			c.Heatsources[i].BurnerMinTimeSecs = 300
		}
	}
	for i := range c.Valves {
		if c.Valves[i].IntegralSamples == 0 {
			c.Valves[i].IntegralSamples = 10
		}
		if c.Valves[i].ReversalDeadSeconds == 0 {
			c.Valves[i].ReversalDeadSeconds = 2
		}
	}
}

// validate catches the same class of mistake the teacher's reflection-based
// GPIO validator did (two roles sharing one output channel) generalized
// across every relay-bearing entity kind, since invariant 1 (spec §3) is
// "every actuator is owned by exactly one configured entity".
func (c *Config) validate() error {
	usedRelays := map[string]string{}
	claim := func(relay, owner string) error {
		if relay == "" {
			return nil
		}
		if other, exists := usedRelays[relay]; exists {
			return fmt.Errorf("relay %q claimed by both %q and %q", relay, other, owner)
		}
		usedRelays[relay] = owner
		return nil
	}

	for _, p := range c.Pumps {
		if err := claim(p.Relay, "pump."+p.Name); err != nil {
			return err
		}
	}
	for _, v := range c.Valves {
		if err := claim(v.OpenCoil, "valve."+v.Name+".open"); err != nil {
			return err
		}
		if err := claim(v.CloseCoil, "valve."+v.Name+".close"); err != nil {
			return err
		}
	}
	for _, d := range c.DHWTs {
		if err := claim(d.ElectricRelay, "dhwt."+d.Name); err != nil {
			return err
		}
	}
	for _, h := range c.Heatsources {
		if err := claim(h.Stage1Relay, "heatsource."+h.Name+".stage1"); err != nil {
			return err
		}
		if err := claim(h.Stage2Relay, "heatsource."+h.Name+".stage2"); err != nil {
			return err
		}
	}
	return nil
}
