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

// This file implements the wash-step executor: the drain -> fill -> mix ->
// drain composition that is the unit of work in a protocol. The mix interval
// polls for pause requests; a pause mid-interval publishes the remaining
// duration as a step override so a resume replays only what is left.
package washer

import (
	"errors"
	"fmt"
	"time"

	"washer/device"
	"washer/internal/job"
)

// WashStepSpec parameterizes one wash step. Degenerate forms are all legal:
// no solution with StartEmpty false is a pure mix or idle, zero mix speed is
// a passive exposure, zero duration is a pure fill.
type WashStepSpec struct {
	DurationS                  float64
	MixSpeedRPM                float64
	IntermittentMixingOnTimeS  *float64
	IntermittentMixingOffTimeS *float64
	StartEmpty                 bool
	EndEmpty                   bool
	Solution                   map[string]float64
}

// intermittent reports whether both intermittent times are present and
// positive; only then does the mixer cycle on and off.
func (s *WashStepSpec) intermittent() bool {
	return s.IntermittentMixingOnTimeS != nil && *s.IntermittentMixingOnTimeS > 0 &&
		s.IntermittentMixingOffTimeS != nil && *s.IntermittentMixingOffTimeS > 0
}

// RunWashStep drains (optional), fills, mixes, and drains (optional) the
// reaction vessel to complete one wash cycle.
func (w *Washer) RunWashStep(spec WashStepSpec) error {
	w.flowpath.Lock()
	defer w.flowpath.Unlock()
	return w.runWashStep(spec)
}

func (w *Washer) runWashStep(spec WashStepSpec) error {
	for chemical := range spec.Solution {
		if !w.plumbed(chemical) {
			return fmt.Errorf("%s: %w", chemical, ErrUnknownChemical)
		}
	}
	if spec.StartEmpty {
		if err := w.drainVessel(0); err != nil {
			return err
		}
	}
	if len(spec.Solution) > 0 {
		w.log.Info().Interface("solution", spec.Solution).Msg("filling vessel")
	}
	for chemical, ul := range spec.Solution {
		if err := w.dispenseToVessel(ul, chemical); err != nil {
			return err
		}
	}
	mixing := spec.MixSpeedRPM > 0
	if mixing {
		if err := w.mixer.SetMixingSpeed(spec.MixSpeedRPM); err != nil {
			if errors.Is(err, device.ErrSpeedControlUnsupported) {
				w.log.Warn().Msg("mixer does not support speed control; using its fixed speed")
			} else {
				return fmt.Errorf("setting mix speed: %w", err)
			}
		}
	}
	switch {
	case mixing && spec.DurationS > 0:
		ev := w.log.Info().Float64("duration_s", spec.DurationS).Float64("rpm", spec.MixSpeedRPM)
		if spec.intermittent() {
			ev = ev.Float64("on_s", *spec.IntermittentMixingOnTimeS).
				Float64("off_s", *spec.IntermittentMixingOffTimeS)
		}
		ev.Msg("mixing")
	case spec.DurationS > 0:
		w.log.Info().Float64("duration_s", spec.DurationS).Msg("idling")
	}
	if mixing {
		if err := w.mixer.StartMixing(); err != nil {
			return err
		}
	}
	start := time.Now()
	duration := time.Duration(spec.DurationS * float64(time.Second))
	for time.Since(start) < duration {
		if w.jobRunning.Load() && w.pauseRequested.Load() {
			elapsed := time.Since(start).Seconds()
			remaining := spec.DurationS - elapsed
			if remaining < 0 {
				remaining = 0
			}
			action := "idling"
			if mixing {
				action = "mixing"
			}
			w.log.Warn().Float64("elapsed_s", elapsed).Str("action", action).
				Msg("pausing mid-interval")
			w.setDurationOverride(remaining)
			if mixing {
				if err := w.mixer.StopMixing(); err != nil {
					return err
				}
			}
			return nil
		}
		if !spec.intermittent() {
			if err := w.sleep(pollInterval); err != nil {
				return err
			}
			continue
		}
		if err := w.sleep(secondsToDuration(*spec.IntermittentMixingOnTimeS)); err != nil {
			return err
		}
		if err := w.mixer.StopMixing(); err != nil {
			return err
		}
		if err := w.sleep(secondsToDuration(*spec.IntermittentMixingOffTimeS)); err != nil {
			return err
		}
		if err := w.mixer.StartMixing(); err != nil {
			return err
		}
	}
	if mixing {
		if err := w.mixer.StopMixing(); err != nil {
			return err
		}
	}
	if spec.EndEmpty {
		return w.drainVessel(0)
	}
	return nil
}

// Mix runs a pure mixing step: no drain, no fill.
func (w *Washer) Mix(durationS, mixSpeedRPM float64, onTimeS, offTimeS *float64) error {
	return w.RunWashStep(WashStepSpec{
		DurationS:                  durationS,
		MixSpeedRPM:                mixSpeedRPM,
		IntermittentMixingOnTimeS:  onTimeS,
		IntermittentMixingOffTimeS: offTimeS,
	})
}

// Fill runs a pure fill step, optionally draining first.
func (w *Washer) Fill(emptyFirst bool, solution map[string]float64) error {
	return w.RunWashStep(WashStepSpec{StartEmpty: emptyFirst, Solution: solution})
}

// setDurationOverride publishes the remaining duration of an interrupted
// interval; the job runner persists it with the resume snapshot.
func (w *Washer) setDurationOverride(remainingS float64) {
	w.overrideMu.Lock()
	defer w.overrideMu.Unlock()
	if w.stepOverrides == nil {
		w.stepOverrides = &job.StepOverrides{}
	}
	w.stepOverrides.DurationS = &remainingS
}

// takeStepOverrides returns and clears the collected overrides buffer.
func (w *Washer) takeStepOverrides() *job.StepOverrides {
	w.overrideMu.Lock()
	defer w.overrideMu.Unlock()
	ov := w.stepOverrides
	w.stepOverrides = nil
	return ov
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
