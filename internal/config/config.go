// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the instrument configuration document consumed at
// startup: the selector plumbing, the vessel inventory, and the safety
// thresholds the supervisor enforces.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WasteVesselConfig describes one chemically-typed waste sink.
type WasteVesselConfig struct {
	Name                string   `yaml:"name"`
	MaxVolumeUL         float64  `yaml:"max_volume_ul"`
	CompatibleChemicals []string `yaml:"compatible_chemicals"`
}

// ReactionVesselConfig describes the sealed chamber wash steps execute in.
type ReactionVesselConfig struct {
	Name        string             `yaml:"name"`
	MaxVolumeUL float64            `yaml:"max_volume_ul"`
	Contents    map[string]float64 `yaml:"contents"`
}

// Config is the startup document. Port-map names other than "ambient" and
// "outlet" are the plumbed chemicals.
type Config struct {
	SelectorPortMap map[string]int `yaml:"selector_port_map"`
	SelectorLDSMap  map[string]int `yaml:"selector_lds_map"`

	WasteVessels   []WasteVesselConfig  `yaml:"waste_vessels"`
	ReactionVessel ReactionVesselConfig `yaml:"reaction_vessel"`

	MaxSafePressurePSIG              float64 `yaml:"max_safe_pressure_psig"`
	MaxPurgePressurePSIG             float64 `yaml:"max_purge_pressure_psig"`
	LeakCheckSqueezePercent          float64 `yaml:"leak_check_squeeze_percent"`
	MinLeakCheckStartingPressurePSIG float64 `yaml:"min_leak_check_starting_pressure_psig"`
	MaxLeakCheckPressureDeltaPSIG    float64 `yaml:"max_leak_check_pressure_delta_psig"`
	PumpApproxZeroUL                 float64 `yaml:"pump_approx_zero_ul"`
	PumpToVesselDeadVolumeUL         float64 `yaml:"pump_to_vessel_dead_volume_ul"`

	// StrictPrime upgrades a pump line primed with the wrong chemical from
	// a logged warning to a hard error.
	StrictPrime bool `yaml:"strict_prime"`
}

// Default returns a Config carrying the documented threshold defaults and no
// plumbing. Plumbing must come from the loaded document.
func Default() Config {
	return Config{
		MaxSafePressurePSIG:              13.0,
		MaxPurgePressurePSIG:             8.0,
		LeakCheckSqueezePercent:          15.0,
		MinLeakCheckStartingPressurePSIG: 1.0,
		MaxLeakCheckPressureDeltaPSIG:    0.10,
		PumpApproxZeroUL:                 30.0,
		PumpToVesselDeadVolumeUL:         10.0,
	}
}

// Load reads the document at path over the defaults and validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate enforces the structural requirements the supervisor assumes: the
// selector port map must carry "ambient" and "outlet", every LDS binding must
// name a selector port and every other selector port must have an LDS
// binding, and the vessel inventory must be plausible.
func (c *Config) Validate() error {
	for _, required := range []string{"ambient", "outlet"} {
		if _, ok := c.SelectorPortMap[required]; !ok {
			return fmt.Errorf("selector_port_map must include a %q port", required)
		}
	}
	for name := range c.SelectorLDSMap {
		if _, ok := c.SelectorPortMap[name]; !ok {
			return fmt.Errorf("selector_lds_map names %q which has no selector port", name)
		}
	}
	for name := range c.SelectorPortMap {
		if _, ok := c.SelectorLDSMap[name]; !ok && name != "ambient" && name != "outlet" {
			return fmt.Errorf("selector port %q has no selector_lds_map binding", name)
		}
	}
	if c.ReactionVessel.MaxVolumeUL <= 0 {
		return fmt.Errorf("reaction_vessel.max_volume_ul must be positive")
	}
	if len(c.WasteVessels) == 0 {
		return fmt.Errorf("at least one waste vessel is required")
	}
	for i, wv := range c.WasteVessels {
		if wv.Name == "" {
			return fmt.Errorf("waste_vessels[%d] has no name", i)
		}
		if wv.MaxVolumeUL <= 0 {
			return fmt.Errorf("waste_vessels[%d] max_volume_ul must be positive", i)
		}
	}
	if c.MaxPurgePressurePSIG >= c.MaxSafePressurePSIG {
		return fmt.Errorf("max_purge_pressure_psig must stay below max_safe_pressure_psig")
	}
	return nil
}

// PlumbedChemicals reports the LDS-instrumented chemical names.
func (c *Config) PlumbedChemicals() []string {
	out := make([]string, 0, len(c.SelectorLDSMap))
	for name := range c.SelectorLDSMap {
		out = append(out, name)
	}
	return out
}
