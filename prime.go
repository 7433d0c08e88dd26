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

// This file implements the prime/purge engine: filling, flushing, and
// resetting each reagent line. The prime ledger records the volume displaced
// to prime each line so an unprime can push approximately the same volume
// back to the reservoir.
package washer

import (
	"fmt"

	"washer/device"
)

// primeBudgetFloorUL: priming stops once the remaining budget falls to this
// fudge, since a single pump step is ~2 uL and we can be off by one.
const primeBudgetFloorUL = 5.0

// PrimeReservoirLine fills the chemical's flowpath from the reservoir up to
// its selector port, venting displaced gas to a compatible waste. Pass
// maxDisplacementUL <= 0 for the default budget. Priming an already-primed
// line is a logged no-op. Exhausting the budget without a liquid-detection
// trip fails with ErrPrimeFailure.
func (w *Washer) PrimeReservoirLine(chemical string, maxDisplacementUL float64) error {
	w.flowpath.Lock()
	defer w.flowpath.Unlock()
	return w.primeReservoirLine(chemical, maxDisplacementUL)
}

func (w *Washer) primeReservoirLine(chemical string, maxDisplacementUL float64) error {
	if err := w.abortedErr(); err != nil {
		return err
	}
	if err := w.ensureSyringeEmpty(); err != nil {
		return err
	}
	if !w.plumbed(chemical) {
		return fmt.Errorf("%s: %w", chemical, ErrUnknownChemical)
	}
	if maxDisplacementUL <= 0 {
		maxDisplacementUL = DefaultPrimeDisplacementUL
	}
	if _, primed := w.primeVolumesUL[chemical]; primed {
		w.log.Warn().Str("chemical", chemical).Msg("reservoir line already primed; skipping")
		return nil
	}
	lds := w.selectorLDS[chemical]
	if tripped, err := lds.Tripped(); err != nil {
		return fmt.Errorf("reading %s line sensor: %w", chemical, err)
	} else if tripped {
		w.log.Warn().Str("chemical", chemical).
			Msg("reservoir line detected prematurely as primed; recording zero displacement")
		w.primeVolumesUL[chemical] = 0
		return nil
	}
	wasteID := w.CompatibleWasteID([]string{chemical})
	if wasteID < 0 {
		return fmt.Errorf("priming %s: %w", chemical, ErrNoCompatibleWaste)
	}
	w.log.Info().Str("chemical", chemical).Msg("priming reservoir line")

	// Route the syringe path so displaced gas vents to waste.
	if err := w.rvSourceValve.Deenergize(); err != nil {
		return err
	}
	if err := w.rvExhaustValve.Deenergize(); err != nil {
		return err
	}
	if err := w.outputBypassValves[wasteID].Open(); err != nil {
		return err
	}
	defer w.outputBypassValves[wasteID].Close()

	syringeVolumeUL := w.pump.SyringeVolumeUL()
	remainingUL := maxDisplacementUL
	detected := false
	for !detected && remainingUL > primeBudgetFloorUL {
		if tripped, err := lds.Tripped(); err != nil {
			return err
		} else if tripped {
			detected = true
			break
		}
		strokeUL := minFloat(remainingUL, syringeVolumeUL)
		w.log.Debug().Str("chemical", chemical).Float64("stroke_ul", strokeUL).
			Msg("withdrawing while polling line sensor")
		if err := w.selector.MoveToPort(chemical); err != nil {
			return err
		}
		if err := w.pump.Withdraw(strokeUL, false); err != nil {
			return err
		}
		if halted, err := w.pollBusyUntilTrip(lds); err != nil {
			return err
		} else if halted {
			detected = true
		}
		pos, err := w.pump.PositionUL()
		if err != nil {
			return err
		}
		remainingUL -= pos
		// Reset the stroke by purging displaced gas to waste.
		if err := w.selector.MoveToPort("outlet"); err != nil {
			return err
		}
		if err := w.pump.MoveAbsoluteInPercent(0, true); err != nil {
			return err
		}
	}
	// Leave with the pump at a true 0; some pumps ignore tiny end-range moves.
	if pos, err := w.pump.PositionUL(); err != nil {
		return err
	} else if pos != 0 {
		if err := w.selector.MoveToPort("outlet"); err != nil {
			return err
		}
		if err := w.pump.ResetSyringePosition(); err != nil {
			return err
		}
	}
	if !detected {
		return fmt.Errorf("priming %s: withdrew budget of %.0f uL: %w",
			chemical, maxDisplacementUL, ErrPrimeFailure)
	}
	displacedUL := maxDisplacementUL - remainingUL
	w.primeVolumesUL[chemical] = displacedUL
	w.log.Info().Str("chemical", chemical).Float64("displaced_ul", displacedUL).
		Msg("priming complete")
	return nil
}

// pollBusyUntilTrip polls the pump's busy state at the standard interval,
// halting the pump the moment the sensor trips. It reports whether the pump
// was halted on a trip.
func (w *Washer) pollBusyUntilTrip(lds device.LiquidDetectionSensor) (bool, error) {
	for {
		busy, err := w.pump.IsBusy()
		if err != nil {
			return false, err
		}
		if !busy {
			return false, nil
		}
		tripped, err := lds.Tripped()
		if err != nil {
			return false, err
		}
		if tripped {
			w.log.Debug().Msg("halting pump mid-stroke")
			if err := w.pump.Halt(); err != nil {
				return false, err
			}
			return true, nil
		}
		if err := w.sleep(pollInterval); err != nil {
			return false, err
		}
	}
}

// UnprimeReservoirLine pushes the reagent line's contents back to its
// reservoir with gas: 105% of the ledgered prime volume, capped at
// maxDisplacementUL (<= 0 for the default). A line that was never primed
// displaces the full cap.
func (w *Washer) UnprimeReservoirLine(chemical string, maxDisplacementUL float64) error {
	w.flowpath.Lock()
	defer w.flowpath.Unlock()
	return w.unprimeReservoirLine(chemical, maxDisplacementUL)
}

func (w *Washer) unprimeReservoirLine(chemical string, maxDisplacementUL float64) error {
	if err := w.ensureSyringeEmpty(); err != nil {
		return err
	}
	if !w.plumbed(chemical) {
		return fmt.Errorf("%s: %w", chemical, ErrUnknownChemical)
	}
	if maxDisplacementUL <= 0 {
		maxDisplacementUL = DefaultUnprimeDisplacementUL
	}
	w.log.Info().Str("chemical", chemical).Msg("unpriming reservoir line")
	unprimeUL := maxDisplacementUL
	if primedUL, ok := w.primeVolumesUL[chemical]; ok {
		unprimeUL = minFloat(primedUL*1.05, maxDisplacementUL)
	} else {
		w.log.Warn().Str("chemical", chemical).Float64("displacement_ul", maxDisplacementUL).
			Msg("line was never primed; unpriming will displace the full budget")
	}
	syringeVolumeUL := w.pump.SyringeVolumeUL()
	remainingUL := unprimeUL
	if err := w.pump.SetSpeedPercent(pumpUnprimeSpeedPercent); err != nil {
		return err
	}
	for remainingUL > 0 {
		if err := w.abortedErr(); err != nil {
			return err
		}
		strokeUL := minFloat(remainingUL, syringeVolumeUL)
		w.log.Debug().Float64("remaining_ul", remainingUL).Msg("displacing line contents")
		if err := w.fastGasChargeSyringe(strokeUL / syringeVolumeUL * 100); err != nil {
			return err
		}
		if err := w.selector.MoveToPort(chemical); err != nil {
			return err
		}
		if err := w.pump.MoveAbsoluteInPercent(0, true); err != nil {
			return err
		}
		remainingUL -= strokeUL
	}
	w.pumpPrimedWith = ""
	if err := w.pump.SetSpeedPercent(nominalPumpSpeedPercent); err != nil {
		return err
	}
	delete(w.primeVolumesUL, chemical)
	w.log.Info().Str("chemical", chemical).Msg("unpriming complete")
	return nil
}

// PrimePumpLine fills the selector-to-pump segment with the chemical,
// withdrawing slowly until the pump-end sensor trips. Idempotent when the
// segment already holds the same chemical. A segment holding a different
// chemical is a known hazard: by default it is logged and left alone;
// strict mode fails with ErrPrimeMismatch.
func (w *Washer) PrimePumpLine(chemical string) error {
	w.flowpath.Lock()
	defer w.flowpath.Unlock()
	return w.primePumpLine(chemical)
}

func (w *Washer) primePumpLine(chemical string) error {
	if !w.plumbed(chemical) {
		return fmt.Errorf("%s: %w", chemical, ErrUnknownChemical)
	}
	// The primed segment legitimately holds liquid, so the idempotency
	// checks come before the empty-syringe precondition.
	if w.pumpPrimedWith == chemical {
		return nil
	}
	if w.pumpPrimedWith != "" {
		if w.strictPrime {
			return fmt.Errorf("pump line holds %s, wanted %s: %w",
				w.pumpPrimedWith, chemical, ErrPrimeMismatch)
		}
		w.log.Warn().Str("primed_with", w.pumpPrimedWith).Str("wanted", chemical).
			Msg("pump line already primed with a different chemical; leaving it")
		return nil
	}
	if err := w.ensureSyringeEmpty(); err != nil {
		return err
	}
	if _, ok := w.primeVolumesUL[chemical]; !ok {
		if err := w.primeReservoirLine(chemical, DefaultPrimeDisplacementUL); err != nil {
			return err
		}
	}
	w.log.Debug().Str("chemical", chemical).Msg("priming pump line")
	if err := w.selector.MoveToPort(chemical); err != nil {
		return err
	}
	if err := w.pump.SetSpeedPercent(slowPumpSpeedPercent); err != nil {
		return err
	}
	// A primed reservoir line reaches the pump inlet in well under a
	// third of a stroke.
	if err := w.pump.Withdraw(w.pump.SyringeVolumeUL()/3, false); err != nil {
		return err
	}
	halted, err := w.pollBusyUntilTrip(w.pumpPrimeLDS)
	if err != nil {
		return err
	}
	if !halted {
		// The stroke may have finished in the same interval the sensor
		// tripped; take one last reading before declaring failure.
		tripped, terr := w.pumpPrimeLDS.Tripped()
		if terr != nil {
			return terr
		}
		halted = tripped
	}
	if serr := w.pump.SetSpeedPercent(nominalPumpSpeedPercent); serr != nil {
		return serr
	}
	if !halted {
		return fmt.Errorf("priming pump line with %s: %w", chemical, ErrPrimeFailure)
	}
	if pos, perr := w.pump.PositionUL(); perr == nil {
		w.log.Debug().Float64("displaced_ul", pos).Msg("pump line primed")
	}
	w.pumpPrimedWith = chemical
	return nil
}

// PurgePumpLine empties the selector-to-pump line to a destination: the
// reaction vessel when toReactionVessel is set, otherwise the waste bypass
// compatible with the named chemical. fullCycles are plain gas-charge-and-
// plunge flushes; gasCycles build a pressure pocket against the closed
// selector and release it to blow away droplets, watching the purge
// pressure ceiling the whole time. The pump need not start empty.
func (w *Washer) PurgePumpLine(chemical string, toReactionVessel bool, fullCycles, gasCycles int) error {
	w.flowpath.Lock()
	defer w.flowpath.Unlock()
	return w.purgePumpLine(chemical, toReactionVessel, fullCycles, gasCycles)
}

func (w *Washer) purgePumpLine(chemical string, toReactionVessel bool, fullCycles, gasCycles int) error {
	w.log.Debug().Str("chemical", chemical).Bool("to_reaction_vessel", toReactionVessel).
		Msg("purging pump line")
	wasteID := w.CompatibleWasteID([]string{chemical})
	if wasteID < 0 {
		return fmt.Errorf("purging %s: %w", chemical, ErrNoCompatibleWaste)
	}
	if toReactionVessel {
		if err := w.rvSourceValve.Energize(); err != nil {
			return err
		}
		if err := w.rvExhaustValve.Energize(); err != nil {
			return err
		}
	} else {
		if err := w.rvSourceValve.Deenergize(); err != nil {
			return err
		}
		if err := w.rvExhaustValve.Deenergize(); err != nil {
			return err
		}
	}
	if err := w.outputBypassValves[wasteID].Open(); err != nil {
		return err
	}
	defer w.outputBypassValves[wasteID].Close()
	if err := w.pump.SetSpeedPercent(pumpPurgeSpeedPercent); err != nil {
		return err
	}
	// Dispense whatever the syringe already holds.
	if pos, err := w.pump.PositionUL(); err != nil {
		return err
	} else if pos != 0 {
		w.log.Warn().Float64("position_ul", pos).Msg("directing existing syringe contents to destination")
		if err := w.selector.MoveToPort("outlet"); err != nil {
			return err
		}
		if err := w.pump.MoveAbsoluteInPercent(0, true); err != nil {
			return err
		}
	}
	for cycle := 0; cycle < fullCycles; cycle++ {
		if err := w.abortedErr(); err != nil {
			return err
		}
		if err := w.fastGasChargeSyringe(100); err != nil {
			return err
		}
		if err := w.selector.MoveToPort("outlet"); err != nil {
			return err
		}
		if err := w.pump.MoveAbsoluteInPercent(0, true); err != nil {
			return err
		}
	}
	// Gas cycles: squeeze against the closed selector, then open to release.
	// PV = nRT: the same displacement builds more pressure as the trapped
	// volume shrinks, so the plunge is pressure-limited.
	for cycle := 0; cycle < gasCycles; cycle++ {
		if err := w.fastGasChargeSyringe(100); err != nil {
			return err
		}
		if err := w.selector.MoveToPort("outlet"); err != nil {
			return err
		}
		remainingUL, err := w.pump.PositionUL()
		if err != nil {
			return err
		}
		for remainingUL > w.limits.PumpApproxZeroUL {
			w.log.Debug().Float64("remaining_ul", remainingUL).Msg("pressurizing syringe volume")
			if err := w.selector.Close(); err != nil {
				return err
			}
			if err := w.pump.MoveAbsoluteInPercent(0, false); err != nil {
				return err
			}
			for {
				busy, err := w.pump.IsBusy()
				if err != nil {
					return err
				}
				if !busy {
					break
				}
				if w.PressurePSIG() > w.limits.MaxPurgePressurePSIG {
					if err := w.pump.Halt(); err != nil {
						return err
					}
					break
				}
				if err := w.sleep(pollInterval); err != nil {
					return err
				}
			}
			if remainingUL, err = w.pump.PositionUL(); err != nil {
				return err
			}
			w.log.Debug().Msg("releasing pressure to outlet")
			if err := w.selector.Open(); err != nil {
				return err
			}
			if err := w.sleep(w.drainSettleTime); err != nil {
				return err
			}
		}
	}
	// Hard reset: near-zero positions are not a true 0 on every pump.
	if err := w.pump.ResetSyringePosition(); err != nil {
		return err
	}
	if err := w.pump.SetSpeedPercent(nominalPumpSpeedPercent); err != nil {
		return err
	}
	w.pumpPrimedWith = ""
	w.log.Debug().Msg("purging pump line complete")
	return nil
}

// FastGasChargeSyringe routes the selector to ambient and draws gas to the
// given percentage of travel at full pump speed, restoring the previous
// speed afterwards.
func (w *Washer) FastGasChargeSyringe(percent float64) error {
	w.flowpath.Lock()
	defer w.flowpath.Unlock()
	return w.fastGasChargeSyringe(percent)
}

func (w *Washer) fastGasChargeSyringe(percent float64) error {
	w.log.Debug().Float64("percent", percent).Msg("fast-charging syringe with gas")
	if err := w.selector.MoveToPort("ambient"); err != nil {
		return err
	}
	oldSpeed, err := w.pump.SpeedPercent()
	if err != nil {
		return err
	}
	if err := w.pump.SetSpeedPercent(100); err != nil {
		return err
	}
	if err := w.pump.MoveAbsoluteInPercent(percent, true); err != nil {
		return err
	}
	return w.pump.SetSpeedPercent(oldSpeed)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
