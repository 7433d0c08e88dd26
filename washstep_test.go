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
	"time"

	"washer/device"
)

func TestRunWashStep(t *testing.T) {
	t.Run("IdleStepDoesNotMutateVessel", func(t *testing.T) {
		r := newTestRig(t)
		if err := r.rxn.AddSolution(map[string]float64{"pbs": 1000}); err != nil {
			t.Fatal(err)
		}
		before := r.rxn.Solution()
		if err := r.w.RunWashStep(WashStepSpec{}); err != nil {
			t.Fatalf("RunWashStep() = %v", err)
		}
		after := r.rxn.Solution()
		if len(after) != len(before) || after["pbs"] != before["pbs"] {
			t.Errorf("idle step mutated vessel: %v -> %v", before, after)
		}
		if r.mixer.Running() {
			t.Error("mixer running after idle step")
		}
	})
	t.Run("UnknownChemicalRejectedBeforeAnyMotion", func(t *testing.T) {
		r := newTestRig(t)
		err := r.w.RunWashStep(WashStepSpec{
			StartEmpty: true,
			Solution:   map[string]float64{"acetone": 100},
		})
		if !errors.Is(err, ErrUnknownChemical) {
			t.Fatalf("RunWashStep() = %v, want ErrUnknownChemical", err)
		}
		if !r.rxn.Empty() {
			t.Error("rejected step mutated vessel")
		}
	})
	t.Run("MixStepStartsAndStopsMixer", func(t *testing.T) {
		r := newTestRig(t)
		if err := r.w.RunWashStep(WashStepSpec{DurationS: 0.1, MixSpeedRPM: 500}); err != nil {
			t.Fatalf("RunWashStep() = %v", err)
		}
		if r.mixer.Running() {
			t.Error("mixer still running after step")
		}
		if got := r.mixer.RPM(); got != 500 {
			t.Errorf("mixer rpm = %.0f, want 500", got)
		}
	})
	t.Run("FixedSpeedMixerIsTolerated", func(t *testing.T) {
		r := newTestRig(t)
		onOff := &fixedSpeedMixer{}
		r.w.mixer = onOff
		if err := r.w.RunWashStep(WashStepSpec{DurationS: 0.05, MixSpeedRPM: 500}); err != nil {
			t.Fatalf("RunWashStep() with fixed-speed mixer = %v", err)
		}
		if !onOff.started || !onOff.stopped {
			t.Error("fixed-speed mixer was not cycled")
		}
	})
	t.Run("IntermittentMixingCompletes", func(t *testing.T) {
		r := newTestRig(t)
		on, off := 0.02, 0.02
		start := time.Now()
		err := r.w.RunWashStep(WashStepSpec{
			DurationS:                  0.1,
			MixSpeedRPM:                800,
			IntermittentMixingOnTimeS:  &on,
			IntermittentMixingOffTimeS: &off,
		})
		if err != nil {
			t.Fatalf("RunWashStep() = %v", err)
		}
		if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
			t.Errorf("intermittent step returned after %v, want >= 100ms", elapsed)
		}
		if r.mixer.Running() {
			t.Error("mixer still running after intermittent step")
		}
	})
	t.Run("FillMixDrainComposition", func(t *testing.T) {
		r := newTestRig(t)
		err := r.w.RunWashStep(WashStepSpec{
			DurationS:   0.05,
			MixSpeedRPM: 300,
			StartEmpty:  true,
			EndEmpty:    true,
			Solution:    map[string]float64{"pbs": 2000},
		})
		if err != nil {
			t.Fatalf("RunWashStep() = %v", err)
		}
		if !r.rxn.Empty() {
			t.Errorf("vessel not empty after end_empty step: %v", r.rxn.Solution())
		}
	})
}

func TestFillAndMixHelpers(t *testing.T) {
	r := newTestRig(t)
	if err := r.w.Fill(false, map[string]float64{"di_water": 1500}); err != nil {
		t.Fatalf("Fill() = %v", err)
	}
	if got := r.rxn.Solution()["di_water"]; got != 1500 {
		t.Errorf("vessel di_water = %.1f uL, want 1500", got)
	}
	if err := r.w.Mix(0.05, 400, nil, nil); err != nil {
		t.Fatalf("Mix() = %v", err)
	}
	if got := r.rxn.Solution()["di_water"]; got != 1500 {
		t.Errorf("Mix() changed vessel contents to %v", r.rxn.Solution())
	}
}

// fixedSpeedMixer rejects speed control like an on/off hardware unit.
type fixedSpeedMixer struct {
	started bool
	stopped bool
}

func (m *fixedSpeedMixer) SetMixingSpeed(rpm float64) error {
	return device.ErrSpeedControlUnsupported
}
func (m *fixedSpeedMixer) StartMixing() error { m.started = true; return nil }
func (m *fixedSpeedMixer) StopMixing() error  { m.stopped = true; return nil }
