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

// This file implements the dispense/drain engine: microliter-accurate
// transfer of reagent into the reaction vessel and gas-driven drain of the
// vessel to a chemically-compatible waste.
package washer

import (
	"fmt"

	"washer/internal/telemetry"
)

// DispenseToVessel withdraws the given volume of chemical from its reservoir
// and delivers it into the reaction vessel. The pump-to-vessel dead volume is
// withheld on the withdrawal and pushed in afterwards by a gas purge, so the
// vessel receives exactly the requested volume.
func (w *Washer) DispenseToVessel(microliters float64, chemical string) error {
	w.flowpath.Lock()
	defer w.flowpath.Unlock()
	return w.dispenseToVessel(microliters, chemical)
}

func (w *Washer) dispenseToVessel(microliters float64, chemical string) error {
	if err := w.abortedErr(); err != nil {
		return err
	}
	if microliters <= 0 {
		return fmt.Errorf("dispense volume must be positive, got %.1f uL", microliters)
	}
	if microliters+w.rxnVessel.CurrentVolumeUL() > w.rxnVessel.MaxVolumeUL {
		return fmt.Errorf("dispensing %.1f uL into %s (%.1f/%.1f uL): %w",
			microliters, w.rxnVessel.Name, w.rxnVessel.CurrentVolumeUL(),
			w.rxnVessel.MaxVolumeUL, ErrOverCapacity)
	}
	if !w.plumbed(chemical) {
		return fmt.Errorf("%s: %w", chemical, ErrUnknownChemical)
	}
	if _, ok := w.primeVolumesUL[chemical]; !ok {
		w.log.Warn().Str("chemical", chemical).Msg("chemical not yet primed; priming now")
		if err := w.primeReservoirLine(chemical, DefaultPrimeDisplacementUL); err != nil {
			return err
		}
	}
	wasteID := w.CompatibleWasteID([]string{chemical})
	if wasteID < 0 {
		return fmt.Errorf("dispensing %s: %w", chemical, ErrNoCompatibleWaste)
	}
	if err := w.primePumpLine(chemical); err != nil {
		return err
	}
	w.log.Info().Str("chemical", chemical).Float64("microliters", microliters).
		Msg("dispensing to reaction vessel")
	// Vessel in-line, compatible waste bypass open for exhaust.
	if err := w.rvSourceValve.Energize(); err != nil {
		return err
	}
	if err := w.rvExhaustValve.Energize(); err != nil {
		return err
	}
	if err := w.outputBypassValves[wasteID].Open(); err != nil {
		return err
	}
	if err := w.selector.MoveToPort(chemical); err != nil {
		return err
	}
	deadVolumeUL := w.limits.PumpToVesselDeadVolumeUL
	// The withheld dead volume comes back when the pump-to-vessel path is
	// purged below.
	if err := w.pump.Withdraw(microliters-deadVolumeUL, true); err != nil {
		return err
	}
	if err := w.selector.MoveToPort("outlet"); err != nil {
		return err
	}
	w.log.Debug().Float64("microliters", microliters-deadVolumeUL).Msg("plunging initial volume")
	if err := w.pump.MoveAbsoluteInPercent(0, true); err != nil {
		return err
	}
	w.log.Debug().Float64("dead_volume_ul", deadVolumeUL).
		Msg("purging pump-to-vessel dead volume into vessel")
	if err := w.purgePumpLine(chemical, true, 1, 1); err != nil {
		return err
	}
	if err := w.rxnVessel.AddSolution(map[string]float64{chemical: microliters}); err != nil {
		return err
	}
	telemetry.ObserveDispense(chemical, microliters)
	w.pumpPrimedWith = ""
	// Seal the reaction vessel and all other flowpaths.
	if err := w.rvSourceValve.Deenergize(); err != nil {
		return err
	}
	if err := w.rvExhaustValve.Deenergize(); err != nil {
		return err
	}
	if err := w.outputBypassValves[wasteID].Close(); err != nil {
		return err
	}
	w.log.Debug().Float64("microliters", microliters).Msg("dispense complete; prime line cleared")
	return nil
}

// DrainVessel forces the reaction vessel contents to a compatible waste by
// gas displacement. Pass drainVolumeUL <= 0 for the default, which may
// exceed the vessel volume to guarantee a total drain; gas is compressible,
// so displaced volume lags pump movement.
func (w *Washer) DrainVessel(drainVolumeUL float64) error {
	w.flowpath.Lock()
	defer w.flowpath.Unlock()
	return w.drainVessel(drainVolumeUL)
}

func (w *Washer) drainVessel(drainVolumeUL float64) error {
	if err := w.abortedErr(); err != nil {
		return err
	}
	if err := w.ensureSyringeEmpty(); err != nil {
		return err
	}
	if drainVolumeUL <= 0 {
		drainVolumeUL = DefaultDrainVolumeUL
	}
	solution := w.rxnVessel.Solution()
	w.log.Info().Interface("solution", solution).Msg("draining vessel")
	components := w.rxnVessel.Components()
	wasteID := w.CompatibleWasteID(components)
	if wasteID < 0 {
		return fmt.Errorf("draining %v: %w", components, ErrNoCompatibleWaste)
	}
	w.log.Debug().Str("waste", w.wasteVessels[wasteID].Name).Msg("discarding vessel contents")
	// Seal the upper exhaust, open the lower drain path to the waste.
	if err := w.rvSourceValve.Energize(); err != nil {
		return err
	}
	if err := w.rvExhaustValve.Deenergize(); err != nil {
		return err
	}
	if err := w.wasteDrainValves[wasteID].Open(); err != nil {
		return err
	}
	if err := w.pump.SetSpeedPercent(pumpPurgeSpeedPercent); err != nil {
		return err
	}
	syringeVolumeUL := w.pump.SyringeVolumeUL()
	remainingUL := drainVolumeUL
	for remainingUL > 0 {
		strokeUL := minFloat(remainingUL, syringeVolumeUL)
		if err := w.fastGasChargeSyringe(strokeUL / syringeVolumeUL * 100); err != nil {
			return err
		}
		if err := w.selector.MoveToPort("outlet"); err != nil {
			return err
		}
		if err := w.pump.MoveAbsoluteInPercent(0, true); err != nil {
			return err
		}
		remainingUL -= strokeUL
		// Let the liquid clear the line before the next stroke.
		if err := w.sleep(w.drainSettleTime); err != nil {
			return err
		}
	}
	if err := w.pump.SetSpeedPercent(nominalPumpSpeedPercent); err != nil {
		return err
	}
	if err := w.wasteVessels[wasteID].AddSolution(solution); err != nil {
		w.log.Warn().Err(err).Str("waste", w.wasteVessels[wasteID].Name).
			Msg("waste vessel is over its tracked capacity; empty it and ResetWasteVessel")
	}
	w.rxnVessel.Purge()
	telemetry.ObserveDrain()
	if err := w.rvSourceValve.Deenergize(); err != nil {
		return err
	}
	if err := w.rvExhaustValve.Deenergize(); err != nil {
		return err
	}
	return w.wasteDrainValves[wasteID].Close()
}
