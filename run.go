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

// This file implements the job runner: pre-flight validation, the worker
// goroutine that holds the flowpath for a run's whole duration, cooperative
// pause, and the durable resume snapshot written at every step boundary.
// After any boundary a reader of the job file can tell exactly one of two
// stories: the job finished, or it resumes from resume_state.step with the
// recorded overrides applied.
package washer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"

	"washer/internal/job"
	"washer/internal/telemetry"
)

// LoadJob reads and validates the job document at path.
func (w *Washer) LoadJob(path string) (*job.Job, error) {
	j, err := job.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

// ValidateJob checks the job against this instrument's capabilities,
// collecting every problem before failing so the operator can fix the whole
// protocol in one pass.
func (w *Washer) ValidateJob(j *job.Job) error {
	var problems []string
	maxUL := w.rxnVessel.MaxVolumeUL
	for i := range j.Protocol {
		step := &j.Protocol[i]
		if total := step.SolutionVolumeUL(); total > maxUL {
			problems = append(problems, fmt.Sprintf(
				"step %d: solution total volume (%.1f uL) exceeds reaction vessel volume (%.1f uL)",
				i, total, maxUL))
		}
	}
	var unplumbed []string
	for chemical := range j.Chemicals() {
		if !w.plumbed(chemical) {
			unplumbed = append(unplumbed, chemical)
		}
	}
	if len(unplumbed) > 0 {
		sort.Strings(unplumbed)
		problems = append(problems, fmt.Sprintf("chemicals not plumbed on this instrument: %v", unplumbed))
	}
	for i := range j.Protocol {
		step := &j.Protocol[i]
		if len(step.Solution) == 0 {
			continue
		}
		if w.CompatibleWasteID(step.Components()) < 0 {
			problems = append(problems, fmt.Sprintf(
				"step %d: solution %v has no compatible waste vessel", i, step.Components()))
		}
	}
	if len(problems) > 0 {
		for _, p := range problems {
			w.log.Error().Msg(p)
		}
		return &JobInvalidError{Problems: problems}
	}
	w.log.Info().Str("job", j.Name).Msg("job passed validation against instrument capabilities")
	return nil
}

// RunJob validates the job at path and executes it on a worker goroutine.
// The worker holds the flowpath lock for the run's whole duration, so no
// other operation can touch the flowpath while a job runs. Exactly one job
// runs at a time; a second submission fails with ErrAlreadyRunning.
func (w *Washer) RunJob(path string) error {
	if !w.jobRunning.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	j, err := w.LoadJob(path)
	if err != nil {
		w.jobRunning.Store(false)
		return err
	}
	if err := w.ValidateJob(j); err != nil {
		w.jobRunning.Store(false)
		return err
	}
	w.jobErrMu.Lock()
	w.jobErr = nil
	w.jobErrMu.Unlock()
	// Each execution gets its own id so interleaved runs of the same job
	// file can be told apart in the logs.
	runID := uuid.NewString()
	w.log.Debug().Str("job", j.Name).Str("run_id", runID).Msg("launching job worker")
	w.jobWG.Add(1)
	go w.runJobWorker(j, path, runID)
	return nil
}

// Pause requests that the running job stop at its next observation point:
// the wash-step time loop (one poll interval) or a step boundary. The worker
// persists the resume snapshot before returning.
func (w *Washer) Pause() error {
	if !w.jobRunning.Load() {
		w.log.Error().Msg("ignoring pause request; no job is running")
		return fmt.Errorf("no job is running")
	}
	w.log.Info().Msg("requesting system pause")
	w.pauseRequested.Store(true)
	return nil
}

// JobRunning reports whether a job worker is active.
func (w *Washer) JobRunning() bool { return w.jobRunning.Load() }

// WaitForJob blocks until the current job worker (if any) returns, and
// reports its outcome.
func (w *Washer) WaitForJob() error {
	w.jobWG.Wait()
	w.jobErrMu.Lock()
	defer w.jobErrMu.Unlock()
	return w.jobErr
}

func (w *Washer) runJobWorker(j *job.Job, path, runID string) {
	defer w.jobWG.Done()
	defer w.jobRunning.Store(false)
	w.flowpath.Lock()
	defer w.flowpath.Unlock()
	if err := w.executeJob(j, path); err != nil {
		w.log.Error().Err(err).Str("job", j.Name).Str("run_id", runID).Msg("job failed")
		w.jobErrMu.Lock()
		w.jobErr = err
		w.jobErrMu.Unlock()
		return
	}
	w.log.Debug().Str("job", j.Name).Str("run_id", runID).Msg("job worker done")
}

func (w *Washer) executeJob(j *job.Job, path string) error {
	startStep := 0
	var startOverrides *job.StepOverrides
	if rs := j.ResumeState; rs != nil {
		startStep = rs.Step
		startOverrides = rs.Overrides
		// The operator either left the vessel untouched (contents match
		// the snapshot) or emptied and refilled it; an empty vessel is
		// the promise that the snapshot's solution was loaded.
		if w.rxnVessel.Empty() {
			if err := w.rxnVessel.AddSolution(rs.StartingSolution); err != nil {
				return err
			}
		}
		if !solutionsEqual(w.rxnVessel.Solution(), rs.StartingSolution) {
			return fmt.Errorf("resuming %q: %w", j.Name, ErrStartingSolutionMismatch)
		}
		j.ClearResumeState()
		j.RecordResume(time.Now())
		telemetry.ObserveJobEvent(string(job.EventResume))
		w.log.Info().Str("job", j.Name).Int("step", startStep+1).
			Dur("remaining", secondsToDuration(j.RemainingDurationS(startStep))).
			Msg("resuming job")
	} else {
		if w.rxnVessel.Empty() {
			if err := w.rxnVessel.AddSolution(j.StartingSolution); err != nil {
				return err
			}
		}
		if !solutionsEqual(w.rxnVessel.Solution(), j.StartingSolution) {
			return fmt.Errorf("starting %q: %w", j.Name, ErrStartingSolutionMismatch)
		}
		j.RecordStart(time.Now())
		telemetry.ObserveJobEvent(string(job.EventStart))
		w.log.Info().Str("job", j.Name).
			Dur("duration", secondsToDuration(j.RemainingDurationS(0))).
			Msg("starting job")
	}
	for idx := startStep; idx < len(j.Protocol); idx++ {
		step := j.Protocol[idx]
		if idx == startStep && !startOverrides.Empty() {
			step = startOverrides.Apply(step)
			w.log.Info().Interface("overrides", startOverrides).Msg("applying overrides to starting step")
		}
		w.log.Info().Int("step", idx+1).Int("steps", len(j.Protocol)).
			Interface("solution", step.Solution).Msg("conducting step")
		stepErr := w.runWashStep(WashStepSpec{
			DurationS:                  step.DurationS,
			MixSpeedRPM:                step.MixSpeedRPM,
			IntermittentMixingOnTimeS:  step.IntermittentMixingOnTimeS,
			IntermittentMixingOffTimeS: step.IntermittentMixingOffTimeS,
			StartEmpty:                 true,
			Solution:                   step.Solution,
		})
		collected := w.takeStepOverrides()
		// The snapshot points at this step unless it ran to completion
		// with nothing left over.
		resumeStep := idx
		if stepErr == nil && collected.Empty() {
			resumeStep = idx + 1
		}
		paused := false
		if stepErr == nil && w.pauseRequested.Load() {
			w.log.Warn().Int("step", resumeStep+1).Msg("pausing system")
			j.RecordPause(time.Now())
			telemetry.ObserveJobEvent(string(job.EventPause))
			w.pauseRequested.Store(false)
			paused = true
		}
		// The snapshot lands regardless of outcome: normal completion,
		// pause, or failure all leave a resumable file behind.
		j.SetResumeState(resumeStep, step.Solution, collected)
		if perr := w.persistJob(j, path); perr != nil {
			if stepErr == nil {
				stepErr = perr
			} else {
				w.log.Error().Err(perr).Msg("failed to persist resume snapshot")
			}
		}
		if stepErr != nil {
			return stepErr
		}
		if paused {
			w.log.Info().Msg("system paused")
			return nil
		}
	}
	j.ClearResumeState()
	j.RecordFinish(time.Now())
	telemetry.ObserveJobEvent(string(job.EventEnd))
	if err := w.persistJob(j, path); err != nil {
		return err
	}
	w.log.Info().Str("job", j.Name).Str("path", path).Msg("finished job")
	return nil
}

// persistJob durably replaces the job file, then mirrors the snapshot if a
// mirror is configured. Mirror failures are reported, never fatal: the file
// is the sole source of truth.
func (w *Washer) persistJob(j *job.Job, path string) error {
	if err := j.SaveAtomic(path); err != nil {
		return err
	}
	w.log.Debug().Str("path", path).Msg("job progress saved")
	if w.mirror != nil {
		doc, err := j.Marshal()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.mirror.Publish(ctx, j.Name, doc); err != nil {
			w.log.Warn().Err(err).Msg("failed to mirror job snapshot")
		}
	}
	return nil
}

func solutionsEqual(a, b map[string]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for chemical, ul := range a {
		if b[chemical] != ul {
			return false
		}
	}
	return true
}
