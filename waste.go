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

// This file routes solutions to chemically-compatible waste vessels.
package washer

// CompatibleWasteID returns the index of a waste vessel able to hold a
// solution with the given components, or -1 if none is compatible. With no
// components, or when several vessels qualify, the least-full vessel wins;
// ties go to the lower index. Callers decide whether -1 is fatal.
func (w *Washer) CompatibleWasteID(components []string) int {
	if len(components) == 0 {
		w.log.Warn().Msg("solution is empty; any waste vessel is compatible")
		return w.leastFull(func(*WasteVessel) bool { return true })
	}
	id := w.leastFull(func(wv *WasteVessel) bool { return wv.CompatibleWith(components) })
	if id < 0 {
		w.log.Error().Strs("components", components).Msg("no compatible waste vessel found")
	}
	return id
}

// leastFull returns the index of the least-full vessel passing the filter,
// preferring the lower index on equal volume, or -1 if none passes.
func (w *Washer) leastFull(ok func(*WasteVessel) bool) int {
	best := -1
	var bestVolume float64
	for i, wv := range w.wasteVessels {
		if !ok(wv) {
			continue
		}
		v := wv.CurrentVolumeUL()
		if best < 0 || v < bestVolume {
			best = i
			bestVolume = v
		}
	}
	return best
}
