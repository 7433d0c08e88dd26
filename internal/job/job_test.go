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

package job

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func sampleJob() *Job {
	on, off := 5.0, 3.0
	return &Job{
		Name:             "clear-2024-02",
		StartingSolution: map[string]float64{"pbs": 10000},
		Protocol: []WashStep{
			{
				MixSpeedRPM: 1000,
				DurationS:   1800,
				Solution:    map[string]float64{"thf": 1000, "di_water": 4000},
			},
			{
				IntermittentMixingOnTimeS:  &on,
				IntermittentMixingOffTimeS: &off,
				MixSpeedRPM:                800,
				DurationS:                  1800,
				Solution:                   map[string]float64{"dcm": 5000},
			},
		},
	}
}

func TestJobRoundTrip(t *testing.T) {
	j := sampleJob()
	j.RecordStart(time.Date(2025, 10, 2, 9, 0, 0, 0, time.UTC))
	j.RecordPause(time.Date(2025, 10, 2, 10, 0, 0, 0, time.UTC))
	remaining := 1740.0
	j.SetResumeState(1, map[string]float64{"dcm": 5000}, &StepOverrides{DurationS: &remaining})
	j.SetSourceProtocol("/protocols/clear.yaml", time.Date(2025, 10, 1, 8, 0, 0, 0, time.UTC))

	path := filepath.Join(t.TempDir(), "job.yaml")
	if err := j.SaveAtomic(path); err != nil {
		t.Fatalf("SaveAtomic() = %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if got.Name != j.Name {
		t.Errorf("Name = %q, want %q", got.Name, j.Name)
	}
	if got.StartingSolution["pbs"] != 10000 {
		t.Errorf("StartingSolution = %v", got.StartingSolution)
	}
	if len(got.Protocol) != 2 {
		t.Fatalf("Protocol has %d steps, want 2", len(got.Protocol))
	}
	step := got.Protocol[1]
	if step.IntermittentMixingOnTimeS == nil || *step.IntermittentMixingOnTimeS != 5.0 {
		t.Errorf("step 1 intermittent on = %v, want 5", step.IntermittentMixingOnTimeS)
	}
	if step.Solution["dcm"] != 5000 {
		t.Errorf("step 1 solution = %v", step.Solution)
	}
	if got.ResumeState == nil || got.ResumeState.Step != 1 {
		t.Fatalf("ResumeState = %+v, want step 1", got.ResumeState)
	}
	if got.ResumeState.Overrides == nil || got.ResumeState.Overrides.DurationS == nil ||
		*got.ResumeState.Overrides.DurationS != 1740 {
		t.Errorf("ResumeState.Overrides = %+v, want duration 1740", got.ResumeState.Overrides)
	}
	if len(got.History.Events) != 2 {
		t.Fatalf("History has %d events, want 2", len(got.History.Events))
	}
	if got.History.Events[0].Type != EventStart || got.History.Events[1].Type != EventPause {
		t.Errorf("History types = %v, %v", got.History.Events[0].Type, got.History.Events[1].Type)
	}
	if !got.History.Events[0].Timestamp.Equal(j.History.Events[0].Timestamp) {
		t.Errorf("start timestamp = %v, want %v", got.History.Events[0].Timestamp, j.History.Events[0].Timestamp)
	}
	if got.SourceProtocol == nil || got.SourceProtocol.Path != "/protocols/clear.yaml" {
		t.Errorf("SourceProtocol = %+v", got.SourceProtocol)
	}
}

func TestResumeStateOmittedWhenAbsent(t *testing.T) {
	j := sampleJob()
	doc, err := j.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(doc), "resume_state") {
		t.Error("serialized job carries resume_state despite none being set")
	}
	if strings.Contains(string(doc), "source_protocol") {
		t.Error("serialized job carries source_protocol despite none being set")
	}
}

func TestSaveAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.yaml")
	j := sampleJob()
	for i := 0; i < 3; i++ {
		if err := j.SaveAtomic(path); err != nil {
			t.Fatalf("SaveAtomic() #%d = %v", i, err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "job.yaml" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory holds %v, want only job.yaml", names)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Load() = %v, want fs.ErrNotExist", err)
	}
}

func TestStepOverrides(t *testing.T) {
	t.Run("ApplyNeverTouchesSolution", func(t *testing.T) {
		d := 60.0
		rpm := 500.0
		ov := &StepOverrides{DurationS: &d, MixSpeedRPM: &rpm}
		step := WashStep{MixSpeedRPM: 1000, DurationS: 1800, Solution: map[string]float64{"pbs": 100}}
		got := ov.Apply(step)
		if got.DurationS != 60 || got.MixSpeedRPM != 500 {
			t.Errorf("Apply() = %+v", got)
		}
		if got.Solution["pbs"] != 100 || len(got.Solution) != 1 {
			t.Errorf("Apply() changed solution: %v", got.Solution)
		}
	})
	t.Run("NilAndEmpty", func(t *testing.T) {
		var ov *StepOverrides
		if !ov.Empty() {
			t.Error("nil overrides not Empty()")
		}
		step := WashStep{DurationS: 10}
		if got := ov.Apply(step); got.DurationS != 10 {
			t.Errorf("nil Apply() = %+v", got)
		}
		if !(&StepOverrides{}).Empty() {
			t.Error("zero overrides not Empty()")
		}
	})
	t.Run("EmptyOverridesNormalizedToNil", func(t *testing.T) {
		j := sampleJob()
		j.SetResumeState(0, nil, &StepOverrides{})
		if j.ResumeState.Overrides != nil {
			t.Error("empty overrides not normalized to nil in resume state")
		}
	})
}

func TestJobDerivedValues(t *testing.T) {
	j := sampleJob()
	t.Run("Chemicals", func(t *testing.T) {
		got := j.Chemicals()
		for _, chemical := range []string{"pbs", "thf", "di_water", "dcm"} {
			if _, ok := got[chemical]; !ok {
				t.Errorf("Chemicals() missing %s", chemical)
			}
		}
		if len(got) != 4 {
			t.Errorf("Chemicals() = %v, want 4 entries", got)
		}
	})
	t.Run("StockVolumesExcludeStartingSolution", func(t *testing.T) {
		got := j.StockChemicalVolumesUL()
		if _, ok := got["pbs"]; ok {
			t.Error("StockChemicalVolumesUL() includes the starting solution")
		}
		if got["thf"] != 1000 || got["di_water"] != 4000 || got["dcm"] != 5000 {
			t.Errorf("StockChemicalVolumesUL() = %v", got)
		}
	})
	t.Run("RemainingDuration", func(t *testing.T) {
		if got := j.RemainingDurationS(0); got != 3600 {
			t.Errorf("RemainingDurationS(0) = %.0f, want 3600", got)
		}
		if got := j.RemainingDurationS(1); got != 1800 {
			t.Errorf("RemainingDurationS(1) = %.0f, want 1800", got)
		}
	})
}

func TestValidate(t *testing.T) {
	t.Run("ResumeStepOutOfRange", func(t *testing.T) {
		j := sampleJob()
		j.SetResumeState(7, nil, nil)
		if err := j.Validate(); err == nil {
			t.Error("Validate() accepted resume step beyond protocol")
		}
	})
	t.Run("NegativeVolume", func(t *testing.T) {
		j := sampleJob()
		j.Protocol[0].Solution["thf"] = -5
		if err := j.Validate(); err == nil {
			t.Error("Validate() accepted a negative solution volume")
		}
	})
}

func TestNewFromJobFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "finished.yaml")
	j := sampleJob()
	j.RecordStart(time.Now())
	j.RecordFinish(time.Now())
	if err := j.SaveAtomic(src); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(dir, "rerun.yaml")
	clone, err := NewFromJobFile(src, dest)
	if err != nil {
		t.Fatalf("NewFromJobFile() = %v", err)
	}
	if clone.Name != "rerun" {
		t.Errorf("clone name = %q, want rerun", clone.Name)
	}
	if len(clone.History.Events) != 0 {
		t.Errorf("clone history not purged: %v", clone.History.Events)
	}
	if clone.SourceProtocol == nil || clone.SourceProtocol.Path == "" {
		t.Error("clone missing source_protocol descriptor")
	}
	if _, err := Load(dest); err != nil {
		t.Fatalf("clone file does not load: %v", err)
	}
}
