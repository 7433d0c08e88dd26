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

// This file implements the leak-check suite: ordered isolation/compression
// tests over distinct flowpath segments. Running them in order of increasing
// trapped volume isolates a leak down to a small number of fittings. Each
// check seals a segment, squeezes the gas-filled syringe, and watches the
// pressure hold.
package washer

import (
	"fmt"
	"time"

	"washer/internal/telemetry"
)

// Leak-check segment names, as reported in LeakCheckError.
const (
	SegmentSelectorCommon  = "syringe-to-selector-common"
	SegmentRVExhaustNO     = "syringe-to-rv-exhaust-normally-open"
	SegmentWasteBypass     = "syringe-to-waste-bypass"
	SegmentReactionVessel  = "syringe-to-reaction-vessel"
	leakCheckChargePercent = 30
)

// RunLeakChecks tests the entire system for leaks, finest-grain isolation
// first. It stops at the first failing segment.
func (w *Washer) RunLeakChecks() error {
	w.flowpath.Lock()
	defer w.flowpath.Unlock()
	w.log.Info().Msg("running leak checks in order of increasing volume")
	if err := w.leakCheckSelectorCommon(); err != nil {
		return err
	}
	if err := w.leakCheckRVExhaustNO(); err != nil {
		return err
	}
	if err := w.leakCheckWasteBypass(); err != nil {
		return err
	}
	return w.leakCheckReactionVessel()
}

// LeakCheckSelectorCommon tests the segment between the syringe pump and the
// selector's common position.
func (w *Washer) LeakCheckSelectorCommon() error {
	w.flowpath.Lock()
	defer w.flowpath.Unlock()
	return w.leakCheckSelectorCommon()
}

func (w *Washer) leakCheckSelectorCommon() (err error) {
	if err := w.ensureSyringeEmpty(); err != nil {
		return err
	}
	if err := w.fastGasChargeSyringe(leakCheckChargePercent); err != nil {
		return err
	}
	defer func() {
		if oerr := w.selector.Open(); oerr != nil && err == nil {
			err = oerr
		}
		if perr := w.purgeGasFilledSyringe(); perr != nil && err == nil {
			err = perr
		}
	}()
	w.log.Debug().Msg("creating closed volume")
	if err := w.deenergizeAllValves(); err != nil {
		return err
	}
	if err := w.selector.Close(); err != nil {
		return err
	}
	if err := w.squeezeAndMeasure(SegmentSelectorCommon); err != nil {
		return err
	}
	w.log.Info().Str("segment", SegmentSelectorCommon).Msg("leak check passed")
	return nil
}

// LeakCheckRVExhaustNO tests the segment between the syringe pump and the
// normally-open leg of the reaction-vessel exhaust valve.
func (w *Washer) LeakCheckRVExhaustNO() error {
	w.flowpath.Lock()
	defer w.flowpath.Unlock()
	return w.leakCheckRVExhaustNO()
}

func (w *Washer) leakCheckRVExhaustNO() (err error) {
	defer func() {
		if perr := w.purgeGasFilledSyringe(); perr != nil && err == nil {
			err = perr
		}
	}()
	w.log.Debug().Msg("creating closed volume")
	if err := w.deenergizeAllValves(); err != nil {
		return err
	}
	if err := w.rvExhaustValve.Energize(); err != nil {
		return err
	}
	if err := w.fastGasChargeSyringe(leakCheckChargePercent); err != nil {
		return err
	}
	if err := w.selector.MoveToPort("outlet"); err != nil {
		return err
	}
	if err := w.squeezeAndMeasure(SegmentRVExhaustNO); err != nil {
		return err
	}
	w.log.Info().Str("segment", SegmentRVExhaustNO).Msg("leak check passed")
	return nil
}

// LeakCheckWasteBypass tests the segment between the syringe pump and the
// closed output bypass valves.
func (w *Washer) LeakCheckWasteBypass() error {
	w.flowpath.Lock()
	defer w.flowpath.Unlock()
	return w.leakCheckWasteBypass()
}

func (w *Washer) leakCheckWasteBypass() (err error) {
	defer func() {
		if perr := w.purgeGasFilledSyringe(); perr != nil && err == nil {
			err = perr
		}
	}()
	w.log.Debug().Msg("creating closed volume")
	if err := w.deenergizeAllValves(); err != nil {
		return err
	}
	if err := w.fastGasChargeSyringe(leakCheckChargePercent); err != nil {
		return err
	}
	if err := w.selector.MoveToPort("outlet"); err != nil {
		return err
	}
	if err := w.squeezeAndMeasure(SegmentWasteBypass); err != nil {
		return err
	}
	w.log.Info().Str("segment", SegmentWasteBypass).Msg("leak check passed")
	return nil
}

// LeakCheckReactionVessel tests the segment between the syringe pump and the
// sealed reaction vessel, then depressurizes the vessel to a compatible
// waste.
func (w *Washer) LeakCheckReactionVessel() error {
	w.flowpath.Lock()
	defer w.flowpath.Unlock()
	return w.leakCheckReactionVessel()
}

func (w *Washer) leakCheckReactionVessel() (err error) {
	defer func() {
		if perr := w.purgeGasFilledSyringe(); perr != nil && err == nil {
			err = perr
		}
		if derr := w.depressurizeReactionVessel(); derr != nil && err == nil {
			err = derr
		}
	}()
	w.log.Debug().Msg("creating closed volume")
	if err := w.deenergizeAllValves(); err != nil {
		return err
	}
	if err := w.rvSourceValve.Energize(); err != nil {
		return err
	}
	if err := w.fastGasChargeSyringe(leakCheckChargePercent); err != nil {
		return err
	}
	if err := w.selector.MoveToPort("outlet"); err != nil {
		return err
	}
	if err := w.squeezeAndMeasure(SegmentReactionVessel); err != nil {
		return err
	}
	w.log.Info().Str("segment", SegmentReactionVessel).Msg("leak check passed")
	return nil
}

// squeezeAndMeasure compresses the syringe by the configured squeeze and
// flags a leak if the sealed segment cannot hold pressure. The segment name
// is carried on any failure.
func (w *Washer) squeezeAndMeasure(segment string) error {
	posPercent, err := w.pump.PositionPercent()
	if err != nil {
		return err
	}
	compressedPercent := posPercent - w.limits.LeakCheckSqueezePercent
	if compressedPercent < 0 {
		return fmt.Errorf("segment %s: cannot compress pump beyond full travel range", segment)
	}
	uncompressed, err := w.AveragePSIG(w.leakAvgWindow)
	if err != nil {
		return err
	}
	w.log.Debug().Float64("psig", uncompressed).Msg("uncompressed pressure")
	w.log.Debug().Msg("squeezing closed volume")
	if err := w.pump.MoveAbsoluteInPercent(compressedPercent, true); err != nil {
		return err
	}
	if err := w.sleep(w.leakSettleTime); err != nil {
		return err
	}
	compressed, err := w.AveragePSIG(w.leakAvgWindow)
	if err != nil {
		return err
	}
	w.log.Debug().Float64("psig", compressed).Msg("compressed pressure")
	if compressed-uncompressed < w.limits.MinLeakCheckStartingPressurePSIG {
		return w.failLeakCheck(segment,
			"syringe cannot create a positive relative pressure within the starting volume")
	}
	start := time.Now()
	for time.Since(start) < w.leakMeasurementTime {
		current, err := w.AveragePSIG(w.leakTrackWindow)
		if err != nil {
			return err
		}
		delta := compressed - current
		if delta < 0 {
			delta = -delta
		}
		w.log.Debug().Float64("delta_psig", delta).Msg("pressure delta")
		if delta > w.limits.MaxLeakCheckPressureDeltaPSIG {
			return w.failLeakCheck(segment, "pressure change is significant enough to indicate a leak")
		}
	}
	return nil
}

func (w *Washer) failLeakCheck(segment, reason string) error {
	telemetry.ObserveLeakCheckFailure(segment)
	err := &LeakCheckError{Segment: segment, Reason: reason}
	w.log.Error().Str("segment", segment).Msg(err.Error())
	return err
}

// purgeGasFilledSyringe plunges the gas-filled syringe to a waste vessel
// compatible with the current vessel vapors.
func (w *Washer) purgeGasFilledSyringe() error {
	w.log.Debug().Msg("purging gas-filled syringe to waste")
	if err := w.deenergizeAllValves(); err != nil {
		return err
	}
	wasteID := w.CompatibleWasteID(w.rxnVessel.Components())
	if wasteID < 0 {
		return fmt.Errorf("purging gas syringe: %w", ErrNoCompatibleWaste)
	}
	if err := w.outputBypassValves[wasteID].Open(); err != nil {
		return err
	}
	if err := w.pump.MoveAbsoluteInPercent(0, true); err != nil {
		return err
	}
	return w.outputBypassValves[wasteID].Close()
}

// depressurizeReactionVessel vents the sealed vessel to a compatible waste
// after the vessel leak check.
func (w *Washer) depressurizeReactionVessel() error {
	w.log.Debug().Msg("depressurizing reaction vessel")
	wasteID := w.CompatibleWasteID(w.rxnVessel.Components())
	if wasteID < 0 {
		return fmt.Errorf("depressurizing vessel: %w", ErrNoCompatibleWaste)
	}
	if err := w.outputBypassValves[wasteID].Open(); err != nil {
		return err
	}
	if err := w.rvExhaustValve.Energize(); err != nil {
		return err
	}
	if err := w.sleep(w.drainSettleTime); err != nil {
		return err
	}
	if err := w.outputBypassValves[wasteID].Close(); err != nil {
		return err
	}
	return w.rvExhaustValve.Deenergize()
}
