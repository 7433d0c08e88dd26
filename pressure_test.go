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
	"math"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPressureMonitorLiveValue(t *testing.T) {
	r := newTestRig(t)
	r.pressure.Set(3.3)
	waitFor(t, time.Second, func() bool {
		return math.Abs(r.w.PressurePSIG()-3.3) < 1e-9
	}, "monitor never observed the 3.3 psig sample")
}

func TestAveragePSIG(t *testing.T) {
	t.Run("MeanOfWindow", func(t *testing.T) {
		r := newTestRig(t)
		r.pressure.Set(2.0)
		mean, err := r.w.AveragePSIG(60 * time.Millisecond)
		if err != nil {
			t.Fatalf("AveragePSIG() = %v", err)
		}
		if math.Abs(mean-2.0) > 1e-9 {
			t.Errorf("AveragePSIG() = %.3f, want 2.0", mean)
		}
	})
	t.Run("RejectsNonPositiveWindow", func(t *testing.T) {
		r := newTestRig(t)
		if _, err := r.w.AveragePSIG(0); err == nil {
			t.Fatal("AveragePSIG(0) accepted")
		}
	})
}

func TestOverPressureAbort(t *testing.T) {
	r := newTestRig(t)
	if err := r.rvSource.Energize(); err != nil {
		t.Fatal(err)
	}
	if err := r.mixer.StartMixing(); err != nil {
		t.Fatal(err)
	}
	r.pressure.Set(14.0)
	waitFor(t, time.Second, r.w.Aborted, "monitor never aborted on 14.0 psig")
	// The halt path runs without the flowpath lock: valves de-energize and
	// the mixer stops even though nothing released the lock for it.
	waitFor(t, time.Second, func() bool { return !r.rvSource.IsEnergized() },
		"rv source valve still energized after over-pressure halt")
	waitFor(t, time.Second, func() bool { return !r.mixer.Running() },
		"mixer still running after over-pressure halt")

	if err := r.w.AbortCause(); !errors.Is(err, ErrOverPressure) {
		t.Errorf("AbortCause() = %v, want ErrOverPressure", err)
	}

	// Every subsequent foreground operation observes the abort.
	if err := r.w.DrainVessel(0); !errors.Is(err, ErrAborted) {
		t.Fatalf("DrainVessel() after abort = %v, want ErrAborted", err)
	}
	if err := r.w.PrimeReservoirLine("pbs", 0); !errors.Is(err, ErrAborted) {
		t.Fatalf("PrimeReservoirLine() after abort = %v, want ErrAborted", err)
	}
}

func TestMonitorKeepsSamplingAfterAbort(t *testing.T) {
	r := newTestRig(t)
	r.pressure.Set(14.0)
	waitFor(t, time.Second, r.w.Aborted, "monitor never aborted")
	r.pressure.Set(1.5)
	waitFor(t, time.Second, func() bool {
		return math.Abs(r.w.PressurePSIG()-1.5) < 1e-9
	}, "monitor stopped sampling after abort")
}
