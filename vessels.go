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

// This file models the liquid-holding vessels. Contents are only mutated by
// the engine that just caused the physical change, always under the flowpath
// lock, so the types themselves carry no synchronization.
package washer

import "fmt"

// Vessel tracks the solution contents and capacity of a container. Contents
// are a mapping from chemical name to microliters.
type Vessel struct {
	Name        string
	MaxVolumeUL float64

	solution map[string]float64
}

// NewVessel builds a vessel with the given capacity and initial contents.
func NewVessel(name string, maxVolumeUL float64, contents map[string]float64) *Vessel {
	v := &Vessel{Name: name, MaxVolumeUL: maxVolumeUL, solution: map[string]float64{}}
	for chemical, ul := range contents {
		v.solution[chemical] = ul
	}
	return v
}

// CurrentVolumeUL is the summed volume of all components.
func (v *Vessel) CurrentVolumeUL() float64 {
	var total float64
	for _, ul := range v.solution {
		total += ul
	}
	return total
}

// AddSolution adds per-chemical volumes, summing into existing entries.
// It fails with ErrOverCapacity if the resulting total would exceed the
// vessel's maximum; on failure nothing is added.
func (v *Vessel) AddSolution(chemicals map[string]float64) error {
	var added float64
	for chemical, ul := range chemicals {
		if ul < 0 {
			return fmt.Errorf("negative volume %.1f uL of %s", ul, chemical)
		}
		added += ul
	}
	if v.CurrentVolumeUL()+added > v.MaxVolumeUL {
		return fmt.Errorf("adding %.1f uL to %s (%.1f/%.1f uL): %w",
			added, v.Name, v.CurrentVolumeUL(), v.MaxVolumeUL, ErrOverCapacity)
	}
	for chemical, ul := range chemicals {
		v.solution[chemical] += ul
	}
	return nil
}

// Purge empties the vessel contents.
func (v *Vessel) Purge() { v.solution = map[string]float64{} }

// Solution returns a copy of the contents.
func (v *Vessel) Solution() map[string]float64 {
	out := make(map[string]float64, len(v.solution))
	for chemical, ul := range v.solution {
		out[chemical] = ul
	}
	return out
}

// Components reports the chemical names currently present.
func (v *Vessel) Components() []string {
	out := make([]string, 0, len(v.solution))
	for chemical := range v.solution {
		out = append(out, chemical)
	}
	return out
}

// Empty reports whether the vessel holds nothing.
func (v *Vessel) Empty() bool { return len(v.solution) == 0 }

// WasteVessel is a chemically-typed sink: a solution may be dumped into it
// only if every component is in the compatibility set.
type WasteVessel struct {
	Vessel

	compatible map[string]struct{}
}

// NewWasteVessel builds a waste vessel accepting the given chemicals.
func NewWasteVessel(name string, maxVolumeUL float64, compatibleChemicals []string) *WasteVessel {
	w := &WasteVessel{
		Vessel:     Vessel{Name: name, MaxVolumeUL: maxVolumeUL, solution: map[string]float64{}},
		compatible: make(map[string]struct{}, len(compatibleChemicals)),
	}
	for _, chemical := range compatibleChemicals {
		w.compatible[chemical] = struct{}{}
	}
	return w
}

// CompatibleWith reports whether every named component is accepted.
func (w *WasteVessel) CompatibleWith(components []string) bool {
	for _, chemical := range components {
		if _, ok := w.compatible[chemical]; !ok {
			return false
		}
	}
	return true
}
