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

package config

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

const sampleDoc = `
selector_port_map:
  ambient: 1
  outlet: 2
  pbs: 3
  thf: 4
selector_lds_map:
  pbs: 0
  thf: 1
reaction_vessel:
  name: reaction
  max_volume_ul: 20000
  contents:
    pbs: 10000
waste_vessels:
  - name: aqueous
    max_volume_ul: 100000
    compatible_chemicals: [pbs]
  - name: organic
    max_volume_ul: 100000
    compatible_chemicals: [pbs, thf]
max_purge_pressure_psig: 6.5
strict_prime: true
`

func writeDoc(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "washer.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeDoc(t, sampleDoc))
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.SelectorPortMap["thf"] != 4 {
		t.Errorf("port map = %v", cfg.SelectorPortMap)
	}
	if cfg.ReactionVessel.MaxVolumeUL != 20000 || cfg.ReactionVessel.Contents["pbs"] != 10000 {
		t.Errorf("reaction vessel = %+v", cfg.ReactionVessel)
	}
	if len(cfg.WasteVessels) != 2 || cfg.WasteVessels[1].Name != "organic" {
		t.Errorf("waste vessels = %+v", cfg.WasteVessels)
	}
	// Overridden key takes the document value; untouched keys keep defaults.
	if cfg.MaxPurgePressurePSIG != 6.5 {
		t.Errorf("max_purge_pressure_psig = %v, want 6.5", cfg.MaxPurgePressurePSIG)
	}
	if cfg.MaxSafePressurePSIG != 13.0 {
		t.Errorf("max_safe_pressure_psig = %v, want default 13.0", cfg.MaxSafePressurePSIG)
	}
	if cfg.PumpToVesselDeadVolumeUL != 10.0 {
		t.Errorf("pump_to_vessel_dead_volume_ul = %v, want default 10.0", cfg.PumpToVesselDeadVolumeUL)
	}
	if !cfg.StrictPrime {
		t.Error("strict_prime not honored")
	}
	plumbed := cfg.PlumbedChemicals()
	sort.Strings(plumbed)
	if len(plumbed) != 2 || plumbed[0] != "pbs" || plumbed[1] != "thf" {
		t.Errorf("PlumbedChemicals() = %v", plumbed)
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"MissingAmbient", func(c *Config) { delete(c.SelectorPortMap, "ambient") }},
		{"MissingOutlet", func(c *Config) { delete(c.SelectorPortMap, "outlet") }},
		{"LDSWithoutPort", func(c *Config) { c.SelectorLDSMap["acetone"] = 9 }},
		{"NoWasteVessels", func(c *Config) { c.WasteVessels = nil }},
		{"ZeroReactionVolume", func(c *Config) { c.ReactionVessel.MaxVolumeUL = 0 }},
		{"PurgeAboveSafe", func(c *Config) { c.MaxPurgePressurePSIG = 14.0 }},
		{"UnnamedWaste", func(c *Config) { c.WasteVessels[0].Name = "" }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeDoc(t, sampleDoc))
			if err != nil {
				t.Fatal(err)
			}
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() accepted a broken configuration")
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() of a missing file succeeded")
	}
}
