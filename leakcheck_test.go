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
	"sync"
	"testing"
	"time"
)

// sealedSegmentPressure models an airtight segment: ambient pressure while
// the syringe sits at its charged position, a solid jump once compressed.
func sealedSegmentPressure(r *testRig) func() float64 {
	return func() float64 {
		pos, _ := r.pump.PositionPercent()
		if pos > 20 {
			return 0.2
		}
		return 2.4
	}
}

// leakingSegmentPressure pressurizes on compression but bleeds down over
// time, the signature of a bad fitting.
func leakingSegmentPressure(r *testRig) func() float64 {
	var mu sync.Mutex
	var seenCharged bool
	var compressedAt time.Time
	return func() float64 {
		pos, _ := r.pump.PositionPercent()
		mu.Lock()
		defer mu.Unlock()
		if pos > 20 {
			// Charged but uncompressed; the squeeze has not happened yet.
			seenCharged = true
			compressedAt = time.Time{}
			return 0.2
		}
		if !seenCharged {
			return 0.2
		}
		if compressedAt.IsZero() {
			compressedAt = time.Now()
		}
		psig := 3.5 - 8.0*time.Since(compressedAt).Seconds()
		if psig < 0 {
			psig = 0
		}
		return psig
	}
}

func TestLeakCheckSelectorCommon(t *testing.T) {
	t.Run("Passes", func(t *testing.T) {
		r := newTestRig(t)
		r.pressure.SetFunc(sealedSegmentPressure(r))
		if err := r.w.LeakCheckSelectorCommon(); err != nil {
			t.Fatalf("LeakCheckSelectorCommon() = %v", err)
		}
		if r.selector.IsClosed() {
			t.Error("selector left closed after leak check")
		}
		if pos, _ := r.pump.PositionUL(); pos != 0 {
			t.Errorf("pump position = %.1f uL after leak check, want 0", pos)
		}
	})
	t.Run("FailsOnPressureBleed", func(t *testing.T) {
		r := newTestRig(t)
		r.pressure.SetFunc(leakingSegmentPressure(r))
		err := r.w.LeakCheckSelectorCommon()
		var leak *LeakCheckError
		if !errors.As(err, &leak) {
			t.Fatalf("LeakCheckSelectorCommon() = %v, want LeakCheckError", err)
		}
		if leak.Segment != SegmentSelectorCommon {
			t.Errorf("failed segment = %q, want %q", leak.Segment, SegmentSelectorCommon)
		}
		// Cleanup must restore the selector and purge the gas syringe.
		if r.selector.IsClosed() {
			t.Error("selector left closed after failed leak check")
		}
		if pos, _ := r.pump.PositionUL(); pos != 0 {
			t.Errorf("pump position = %.1f uL after failed leak check, want 0", pos)
		}
	})
	t.Run("FailsWhenSegmentCannotPressurize", func(t *testing.T) {
		r := newTestRig(t)
		// A wide-open segment never builds pressure.
		r.pressure.Set(0.2)
		err := r.w.LeakCheckSelectorCommon()
		var leak *LeakCheckError
		if !errors.As(err, &leak) {
			t.Fatalf("LeakCheckSelectorCommon() = %v, want LeakCheckError", err)
		}
	})
}

func TestRunLeakChecksCoversAllSegments(t *testing.T) {
	r := newTestRig(t)
	r.pressure.SetFunc(sealedSegmentPressure(r))
	if err := r.w.RunLeakChecks(); err != nil {
		t.Fatalf("RunLeakChecks() = %v", err)
	}
	// The final check depressurizes the vessel and leaves everything sealed.
	if r.rvSource.IsEnergized() || r.rvExh.IsEnergized() {
		t.Error("reaction vessel valves left energized after suite")
	}
	for i, b := range r.bypass {
		if b.IsOpen() {
			t.Errorf("bypass valve %d left open after suite", i)
		}
	}
	if pos, _ := r.pump.PositionUL(); pos != 0 {
		t.Errorf("pump position = %.1f uL after suite, want 0", pos)
	}
}

func TestRunLeakChecksStopsAtFirstFailure(t *testing.T) {
	r := newTestRig(t)
	r.pressure.Set(0.2) // nothing can pressurize
	err := r.w.RunLeakChecks()
	var leak *LeakCheckError
	if !errors.As(err, &leak) {
		t.Fatalf("RunLeakChecks() = %v, want LeakCheckError", err)
	}
	if leak.Segment != SegmentSelectorCommon {
		t.Errorf("first failing segment = %q, want %q", leak.Segment, SegmentSelectorCommon)
	}
}
