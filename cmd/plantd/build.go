package main

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/haavardk/plantd/internal/bmodel"
	"github.com/haavardk/plantd/internal/circuit"
	"github.com/haavardk/plantd/internal/config"
	"github.com/haavardk/plantd/internal/dhwt"
	"github.com/haavardk/plantd/internal/heatsource"
	"github.com/haavardk/plantd/internal/hwabs"
	"github.com/haavardk/plantd/internal/hwabs/raspihw"
	"github.com/haavardk/plantd/internal/hwabs/simhw"
	"github.com/haavardk/plantd/internal/plant"
	"github.com/haavardk/plantd/internal/pump"
	"github.com/haavardk/plantd/internal/quantity"
	"github.com/haavardk/plantd/internal/sensors"
	"github.com/haavardk/plantd/internal/valve"
)

// buildBackend returns the hwabs.Backend named by cfg.Hardware.Backend,
// registering every channel every entity config references. simhw needs
// only the channel name; raspihw additionally needs the sysfs path or
// BCM pin, taken from cfg.Hardware.Raspi*.
func buildBackend(cfg *config.Config) (hwabs.Backend, error) {
	switch cfg.Hardware.Backend {
	case "", "sim":
		return buildSimBackend(cfg), nil
	case "raspi":
		return buildRaspiBackend(cfg)
	default:
		return nil, fmt.Errorf("unknown hardware backend %q", cfg.Hardware.Backend)
	}
}

// every distinct temperature sensor / relay name referenced anywhere in
// the config tree, deduplicated, since a relay or sensor name may be
// shared across entity configs (a shared pump relay, for instance).
func collectChannelNames(cfg *config.Config) (sensorNames, relayNames []string) {
	seenSensor := map[string]bool{}
	seenRelay := map[string]bool{}
	addSensor := func(name string) {
		if name != "" && !seenSensor[name] {
			seenSensor[name] = true
			sensorNames = append(sensorNames, name)
		}
	}
	addRelay := func(name string) {
		if name != "" && !seenRelay[name] {
			seenRelay[name] = true
			relayNames = append(relayNames, name)
		}
	}

	for _, bm := range cfg.BuildingModels {
		addSensor(bm.OutdoorSensor)
	}
	for _, p := range cfg.Pumps {
		addRelay(p.Relay)
	}
	for _, v := range cfg.Valves {
		addSensor(v.MixedOutletSensor)
		addRelay(v.OpenCoil)
		addRelay(v.CloseCoil)
	}
	for _, c := range cfg.Circuits {
		addSensor(c.FeedSensor)
		addSensor(c.ReturnSensor)
		addSensor(c.AmbientSensor)
	}
	for _, d := range cfg.DHWTs {
		addSensor(d.BottomSensor)
		addSensor(d.TopSensor)
		addSensor(d.WaterInSensor)
		addSensor(d.WaterOutSensor)
		addRelay(d.ElectricRelay)
	}
	for _, h := range cfg.Heatsources {
		addSensor(h.OutSensor)
		addSensor(h.ReturnSensor)
		addRelay(h.Stage1Relay)
		addRelay(h.Stage2Relay)
	}
	return sensorNames, relayNames
}

func buildSimBackend(cfg *config.Config) *simhw.Backend {
	hw := simhw.New()
	sensorNames, relayNames := collectChannelNames(cfg)
	for _, name := range sensorNames {
		hw.RegisterTemperature(name)
	}
	for _, name := range relayNames {
		hw.RegisterRelay(name)
	}
	return hw
}

func buildRaspiBackend(cfg *config.Config) (*raspihw.Backend, error) {
	hw := raspihw.New()
	hw.SafeMode = cfg.Hardware.SafeMode

	sensorPaths := map[string]string{}
	for _, s := range cfg.Hardware.RaspiSensors {
		sensorPaths[s.Name] = s.SensorPath
	}
	pins := map[string]raspihw.GPIOPin{}
	for _, r := range cfg.Hardware.RaspiRelays {
		pins[r.Name] = raspihw.GPIOPin{Number: r.Pin, ActiveHigh: r.ActiveHigh}
	}

	sensorNames, relayNames := collectChannelNames(cfg)
	for _, name := range sensorNames {
		path, ok := sensorPaths[name]
		if !ok {
			return nil, fmt.Errorf("raspi backend: no sensor_path configured for sensor %q", name)
		}
		hw.RegisterTemperature(name, path)
	}
	for _, name := range relayNames {
		pin, ok := pins[name]
		if !ok {
			return nil, fmt.Errorf("raspi backend: no pin configured for relay %q", name)
		}
		hw.RegisterRelay(name, pin)
	}
	return hw, nil
}

func registerConfiguredSensors(cfg *config.Config, hw hwabs.Backend, svc *sensors.Service) {
	sensorNames, _ := collectChannelNames(cfg)
	for _, name := range sensorNames {
		id, err := hw.InputByName(hwabs.KindTemperature, name)
		if err != nil {
			continue
		}
		svc.Register(id, name, 0)
	}
}

func mustInput(hw hwabs.Backend, name string) hwabs.InputId {
	id, err := hw.InputByName(hwabs.KindTemperature, name)
	if err != nil {
		log.Error().Err(err).Str("sensor", name).Msg("sensor referenced in config was never registered on the hardware backend")
		return hwabs.InputId{}
	}
	return id
}

func mustInputPtr(hw hwabs.Backend, name string) *hwabs.InputId {
	if name == "" {
		return nil
	}
	id := mustInput(hw, name)
	return &id
}

func mustOutput(hw hwabs.Backend, name string) hwabs.OutputId {
	id, err := hw.OutputByName(hwabs.KindRelay, name)
	if err != nil {
		log.Error().Err(err).Str("relay", name).Msg("relay referenced in config was never registered on the hardware backend")
		return hwabs.OutputId{}
	}
	return id
}

func mustOutputPtr(hw hwabs.Backend, name string) *hwabs.OutputId {
	if name == "" {
		return nil
	}
	id := mustOutput(hw, name)
	return &id
}

// pumpOwner hands back owner 0 for a pump's first consumer and a fresh
// virtual owner (spec §4.2's virtual_new) for every consumer after that.
func pumpOwner(p *pump.Pump, claimed map[*pump.Pump]bool) pump.OwnerId {
	if !claimed[p] {
		claimed[p] = true
		return 0
	}
	return p.VirtualNew()
}

// buildPlant constructs every entity named in cfg, wires cross-references
// by name, brings each online, and assembles the resulting plant.Plant.
func buildPlant(cfg *config.Config, hw hwabs.Backend) (*plant.Plant, error) {
	p := plant.New()

	models := map[string]*bmodel.Model{}
	for _, bmc := range cfg.BuildingModels {
		m := bmodel.New(bmodel.Config{
			Name:          bmc.Name,
			OutdoorSensor: mustInput(hw, bmc.OutdoorSensor),
			Tau:           quantity.FromSeconds(bmc.TauSeconds),
		})
		if err := m.Online(); err != nil {
			return nil, fmt.Errorf("building model %s: %w", bmc.Name, err)
		}
		models[bmc.Name] = m
		p.AddModel(m)
	}

	pumps := map[string]*pump.Pump{}
	pumpClaimed := map[*pump.Pump]bool{}
	for _, pc := range cfg.Pumps {
		pm := pump.New(pump.Config{
			Name:     pc.Name,
			Relay:    mustOutput(hw, pc.Relay),
			Shared:   pc.Shared,
			Cooldown: quantity.FromSeconds(pc.CooldownSeconds).TimeDuration(),
		})
		if err := pm.Online(); err != nil {
			return nil, fmt.Errorf("pump %s: %w", pc.Name, err)
		}
		pumps[pc.Name] = pm
		p.AddPump(pm)
	}

	valves := map[string]*valve.Valve{}
	for _, vc := range cfg.Valves {
		v := valve.New(valve.Config{
			Name:               vc.Name,
			MixedOutletSensor:  mustInput(hw, vc.MixedOutletSensor),
			OpenCoil:           mustOutput(hw, vc.OpenCoil),
			CloseCoil:          mustOutput(hw, vc.CloseCoil),
			TravelTime:         quantity.FromSeconds(vc.TravelTimeSeconds).TimeDuration(),
			ProportionalFactor: vc.ProportionalFactor,
			IntegralSamples:    vc.IntegralSamples,
			DeadzoneC:          vc.DeadzoneC,
			ReversalDeadTime:   quantity.FromSeconds(vc.ReversalDeadSeconds).TimeDuration(),
		})
		if err := v.Online(); err != nil {
			return nil, fmt.Errorf("valve %s: %w", vc.Name, err)
		}
		valves[vc.Name] = v
		p.AddValve(v)
	}

	for _, cc := range cfg.Circuits {
		bm, ok := models[cc.BuildingModel]
		if !ok {
			return nil, fmt.Errorf("circuit %s: unknown building model %q", cc.Name, cc.BuildingModel)
		}
		pm, ok := pumps[cc.Pump]
		if !ok {
			return nil, fmt.Errorf("circuit %s: unknown pump %q", cc.Name, cc.Pump)
		}
		var v *valve.Valve
		if cc.Valve != "" {
			v, ok = valves[cc.Valve]
			if !ok {
				return nil, fmt.Errorf("circuit %s: unknown valve %q", cc.Name, cc.Valve)
			}
		}
		if cc.WaterLaw.Kind != "" && cc.WaterLaw.Kind != "bilinear" {
			return nil, fmt.Errorf("circuit %s: unsupported water law kind %q", cc.Name, cc.WaterLaw.Kind)
		}

		c := circuit.New(circuit.Config{
			Name:          cc.Name,
			Building:      bm,
			Pump:          pm,
			PumpOwner:     pumpOwner(pm, pumpClaimed),
			Valve:         v,
			FeedSensor:    mustInput(hw, cc.FeedSensor),
			ReturnSensor:  mustInputPtr(hw, cc.ReturnSensor),
			AmbientSensor: mustInputPtr(hw, cc.AmbientSensor),
			WaterLaw: circuit.Bilinear{
				OutdoorLow:  quantity.CelsiusToTemp(cc.WaterLaw.OutdoorLowC),
				WaterHigh:   quantity.CelsiusToTemp(cc.WaterLaw.WaterHighC),
				OutdoorHigh: quantity.CelsiusToTemp(cc.WaterLaw.OutdoorHighC),
				WaterLow:    quantity.CelsiusToTemp(cc.WaterLaw.WaterLowC),
				NH100:       cc.WaterLaw.NH100,
			},
			ComfortAmbient:   quantity.CelsiusToTemp(cc.ComfortAmbientC),
			EcoAmbient:       quantity.CelsiusToTemp(cc.EcoAmbientC),
			FrostfreeAmbient: quantity.CelsiusToTemp(cc.FrostfreeAmbientC),
			WtempMin:         quantity.CelsiusToTemp(cc.WtempMinC),
			WtempMax:         quantity.CelsiusToTemp(cc.WtempMaxC),
			ReturnInOffset:   quantity.CelsiusToDeltaK(cc.ReturnInOffsetC),
			RorhMaxPerHour:   quantity.CelsiusToDeltaK(cc.RorhKPerHour),
			RorhSamplePeriod: quantity.FromSeconds(cc.RorhSamplePeriodSecs),
			BoostDelta:       quantity.CelsiusToDeltaK(cc.BoostDeltaC),
			BoostMax:         quantity.FromSeconds(cc.BoostMaxSeconds).TimeDuration(),
		})
		if err := c.Online(); err != nil {
			return nil, fmt.Errorf("circuit %s: %w", cc.Name, err)
		}
		p.AddCircuit(c)
	}

	for _, dc := range cfg.DHWTs {
		var feedPump, recyclePump *pump.Pump
		var feedOwner, recycleOwner pump.OwnerId
		if dc.FeedPump != "" {
			feedPump = pumps[dc.FeedPump]
			if feedPump == nil {
				return nil, fmt.Errorf("dhwt %s: unknown feed pump %q", dc.Name, dc.FeedPump)
			}
			feedOwner = pumpOwner(feedPump, pumpClaimed)
		}
		if dc.RecyclePump != "" {
			recyclePump = pumps[dc.RecyclePump]
			if recyclePump == nil {
				return nil, fmt.Errorf("dhwt %s: unknown recycle pump %q", dc.Name, dc.RecyclePump)
			}
			recycleOwner = pumpOwner(recyclePump, pumpClaimed)
		}

		d := dhwt.New(dhwt.Config{
			Name:             dc.Name,
			BottomSensor:     mustInputPtr(hw, dc.BottomSensor),
			TopSensor:        mustInputPtr(hw, dc.TopSensor),
			WaterInSensor:    mustInputPtr(hw, dc.WaterInSensor),
			ElectricRelay:    mustOutputPtr(hw, dc.ElectricRelay),
			FeedPump:         feedPump,
			FeedPumpOwner:    feedOwner,
			RecyclePump:      recyclePump,
			RecyclePumpOwner: recycleOwner,
			TargetComfort:    quantity.CelsiusToTemp(dc.TargetComfortC),
			TargetEco:        quantity.CelsiusToTemp(dc.TargetEcoC),
			TargetFrostfree:  quantity.CelsiusToTemp(dc.TargetFrostfreeC),
			Hysteresis:       quantity.CelsiusToDeltaK(dc.HysteresisC),
			Tmin:             quantity.CelsiusToTemp(dc.TminC),
			Tmax:             quantity.CelsiusToTemp(dc.TmaxC),
			Wintmax:          quantity.CelsiusToTemp(dc.WintmaxC),
			MaxChargetime:    quantity.FromSeconds(dc.MaxChargetimeSecs).TimeDuration(),
			LegionellaTarget: quantity.CelsiusToTemp(dc.LegionellaTargetC),
			ReturnInOffset:   quantity.CelsiusToDeltaK(dc.ReturnInOffsetC),
		})
		if err := d.Online(); err != nil {
			return nil, fmt.Errorf("dhwt %s: %w", dc.Name, err)
		}
		p.AddTank(d)
	}

	for _, hc := range cfg.Heatsources {
		var loadPump *pump.Pump
		var loadOwner pump.OwnerId
		if hc.LoadPump != "" {
			loadPump = pumps[hc.LoadPump]
			if loadPump == nil {
				return nil, fmt.Errorf("heatsource %s: unknown load pump %q", hc.Name, hc.LoadPump)
			}
			loadOwner = pumpOwner(loadPump, pumpClaimed)
		}
		var mixValve *valve.Valve
		if hc.ReturnMixValve != "" {
			mixValve = valves[hc.ReturnMixValve]
			if mixValve == nil {
				return nil, fmt.Errorf("heatsource %s: unknown return mix valve %q", hc.Name, hc.ReturnMixValve)
			}
		}

		var treturnmin *quantity.Temp
		if hc.HasTreturnmin {
			t := quantity.CelsiusToTemp(hc.TreturnminC)
			treturnmin = &t
		}

		hs := heatsource.New(heatsource.Config{
			Name:           hc.Name,
			OutSensor:      mustInput(hw, hc.OutSensor),
			ReturnSensor:   mustInputPtr(hw, hc.ReturnSensor),
			Stage1Relay:    mustOutput(hw, hc.Stage1Relay),
			Stage2Relay:    mustOutputPtr(hw, hc.Stage2Relay),
			LoadPump:       loadPump,
			LoadPumpOwner:  loadOwner,
			ReturnMixValve: mixValve,
			Hysteresis:     quantity.CelsiusToDeltaK(hc.HysteresisC),
			Tmin:           quantity.CelsiusToTemp(hc.TminC),
			Tmax:           quantity.CelsiusToTemp(hc.TmaxC),
			Thardmax:       quantity.CelsiusToTemp(hc.ThardmaxC),
			Treturnmin:     treturnmin,
			Tfreeze:        quantity.CelsiusToTemp(hc.TfreezeC),
			BurnerMinTime:  quantity.FromSeconds(hc.BurnerMinTimeSecs).TimeDuration(),
			IdleMode:       parseIdleMode(hc.IdleMode),
		})
		if err := hs.Online(); err != nil {
			return nil, fmt.Errorf("heatsource %s: %w", hc.Name, err)
		}
		p.AddHeatsource(hs)
	}

	return p, nil
}

func parseIdleMode(s string) heatsource.IdleMode {
	switch s {
	case "always":
		return heatsource.IdleAlways
	case "never":
		return heatsource.IdleNever
	default:
		return heatsource.IdleFrostonly
	}
}
