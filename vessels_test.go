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

package washer

import (
	"errors"
	"testing"
)

func TestVesselAddSolution(t *testing.T) {
	t.Run("SumsExistingEntries", func(t *testing.T) {
		v := NewVessel("rxn", 10000, map[string]float64{"pbs": 1000})
		if err := v.AddSolution(map[string]float64{"pbs": 500, "thf": 200}); err != nil {
			t.Fatalf("AddSolution() = %v", err)
		}
		got := v.Solution()
		if got["pbs"] != 1500 || got["thf"] != 200 {
			t.Errorf("Solution() = %v, want pbs:1500 thf:200", got)
		}
		if v.CurrentVolumeUL() != 1700 {
			t.Errorf("CurrentVolumeUL() = %.1f, want 1700", v.CurrentVolumeUL())
		}
	})
	t.Run("ExactCapacityFits", func(t *testing.T) {
		v := NewVessel("rxn", 8000, map[string]float64{"pbs": 3000})
		if err := v.AddSolution(map[string]float64{"thf": 5000}); err != nil {
			t.Fatalf("AddSolution() up to exact capacity = %v, want nil", err)
		}
	})
	t.Run("OneMicroliterOverFails", func(t *testing.T) {
		v := NewVessel("rxn", 8000, map[string]float64{"pbs": 3000})
		err := v.AddSolution(map[string]float64{"thf": 5001})
		if !errors.Is(err, ErrOverCapacity) {
			t.Fatalf("AddSolution() = %v, want ErrOverCapacity", err)
		}
		if got := v.Solution(); got["thf"] != 0 {
			t.Errorf("failed add mutated contents: %v", got)
		}
	})
	t.Run("NegativeVolumeRejected", func(t *testing.T) {
		v := NewVessel("rxn", 8000, nil)
		if err := v.AddSolution(map[string]float64{"pbs": -1}); err == nil {
			t.Fatal("AddSolution() accepted a negative volume")
		}
	})
}

func TestVesselPurge(t *testing.T) {
	v := NewVessel("rxn", 8000, map[string]float64{"pbs": 3000, "thf": 1000})
	v.Purge()
	if !v.Empty() || v.CurrentVolumeUL() != 0 {
		t.Errorf("Purge() left contents: %v", v.Solution())
	}
}

func TestWasteVesselCompatibility(t *testing.T) {
	wv := NewWasteVessel("aqueous", 50000, []string{"pbs", "di_water"})
	testCases := []struct {
		name       string
		components []string
		want       bool
	}{
		{"Subset", []string{"pbs"}, true},
		{"FullSet", []string{"pbs", "di_water"}, true},
		{"EmptySet", nil, true},
		{"Disjoint", []string{"dcm"}, false},
		{"PartialOverlap", []string{"pbs", "dcm"}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := wv.CompatibleWith(tc.components); got != tc.want {
				t.Errorf("CompatibleWith(%v) = %v, want %v", tc.components, got, tc.want)
			}
		})
	}
}
