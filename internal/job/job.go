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

// Package job models a persisted wash job: the ordered protocol of wash
// steps, the append-only event history, and the resume state that makes a
// job durable across pause, operator intervention, and power loss. The
// on-disk form is a single YAML document; the file is the sole source of
// truth for resumability.
package job

import (
	"fmt"
	"time"
)

// EventType tags an entry in a job's history.
type EventType string

const (
	EventStart  EventType = "start"
	EventEnd    EventType = "end"
	EventPause  EventType = "pause"
	EventResume EventType = "resume"
)

// Event is one history entry. The schema is exactly {timestamp, type}.
type Event struct {
	Timestamp time.Time `yaml:"timestamp"`
	Type      EventType `yaml:"type"`
}

// History is the append-only event record of a job.
type History struct {
	Events []Event `yaml:"events"`
}

// SourceProtocol describes the document a job was generated from.
type SourceProtocol struct {
	Path     string    `yaml:"path"`
	Accessed time.Time `yaml:"accessed"`
}

// WashStep is the unit of work in a protocol: optional drain, fill with a
// named solution, mix for a duration (possibly intermittently), optional
// final drain. Zero values degrade gracefully: an empty solution is a pure
// mix or idle, zero mix speed is an idle, zero duration is a pure fill.
type WashStep struct {
	IntermittentMixingOnTimeS  *float64           `yaml:"intermittent_mixing_on_time_s,omitempty"`
	IntermittentMixingOffTimeS *float64           `yaml:"intermittent_mixing_off_time_s,omitempty"`
	MixSpeedRPM                float64            `yaml:"mix_speed_rpm"`
	DurationS                  float64            `yaml:"duration_s"`
	Solution                   map[string]float64 `yaml:"solution"`
}

// Components reports the chemical names used in this step.
func (s *WashStep) Components() []string {
	out := make([]string, 0, len(s.Solution))
	for chemical := range s.Solution {
		out = append(out, chemical)
	}
	return out
}

// SolutionVolumeUL is the total step volume computed from chemical sums.
func (s *WashStep) SolutionVolumeUL() float64 {
	var total float64
	for _, ul := range s.Solution {
		total += ul
	}
	return total
}

// StepOverrides carries partial-progress remnants of an interrupted step,
// such as the remaining duration of a paused mix. It is a strict subset of
// WashStep fields: the solution can never be overridden, so resuming always
// replays the step's own fill.
type StepOverrides struct {
	IntermittentMixingOnTimeS  *float64 `yaml:"intermittent_mixing_on_time_s,omitempty"`
	IntermittentMixingOffTimeS *float64 `yaml:"intermittent_mixing_off_time_s,omitempty"`
	MixSpeedRPM                *float64 `yaml:"mix_speed_rpm,omitempty"`
	DurationS                  *float64 `yaml:"duration_s,omitempty"`
}

// Empty reports whether no field is overridden.
func (o *StepOverrides) Empty() bool {
	return o == nil ||
		(o.IntermittentMixingOnTimeS == nil &&
			o.IntermittentMixingOffTimeS == nil &&
			o.MixSpeedRPM == nil &&
			o.DurationS == nil)
}

// Apply merges the overrides onto a copy of step. The solution is untouched.
func (o *StepOverrides) Apply(step WashStep) WashStep {
	if o == nil {
		return step
	}
	if o.IntermittentMixingOnTimeS != nil {
		step.IntermittentMixingOnTimeS = o.IntermittentMixingOnTimeS
	}
	if o.IntermittentMixingOffTimeS != nil {
		step.IntermittentMixingOffTimeS = o.IntermittentMixingOffTimeS
	}
	if o.MixSpeedRPM != nil {
		step.MixSpeedRPM = *o.MixSpeedRPM
	}
	if o.DurationS != nil {
		step.DurationS = *o.DurationS
	}
	return step
}

// ResumeState points at the next (or in-progress) step of an interrupted
// job, the vessel contents expected at that step, and any step overrides.
type ResumeState struct {
	Step             int                `yaml:"step"`
	StartingSolution map[string]float64 `yaml:"starting_solution"`
	Overrides        *StepOverrides     `yaml:"overrides,omitempty"`
}

// Job is a local, runnable instance of a protocol.
type Job struct {
	Name             string             `yaml:"name"`
	StartingSolution map[string]float64 `yaml:"starting_solution"`
	SourceProtocol   *SourceProtocol    `yaml:"source_protocol,omitempty"`
	Protocol         []WashStep         `yaml:"protocol"`
	ResumeState      *ResumeState       `yaml:"resume_state,omitempty"`
	History          History            `yaml:"history"`
}

// Chemicals is the set of chemicals across the starting solution and every
// step of the protocol.
func (j *Job) Chemicals() map[string]struct{} {
	out := make(map[string]struct{})
	for chemical := range j.StartingSolution {
		out[chemical] = struct{}{}
	}
	for i := range j.Protocol {
		for chemical := range j.Protocol[i].Solution {
			out[chemical] = struct{}{}
		}
	}
	return out
}

// StockChemicalVolumesUL sums per-chemical volumes over all steps. The
// starting solution is excluded: the operator loads it by hand.
func (j *Job) StockChemicalVolumesUL() map[string]float64 {
	out := make(map[string]float64)
	for i := range j.Protocol {
		for chemical, ul := range j.Protocol[i].Solution {
			out[chemical] += ul
		}
	}
	return out
}

// RemainingDurationS is the summed step duration from the given step on.
func (j *Job) RemainingDurationS(fromStep int) float64 {
	var total float64
	for i := fromStep; i < len(j.Protocol); i++ {
		total += j.Protocol[i].DurationS
	}
	return total
}

func (j *Job) RecordStart(ts time.Time)  { j.appendEvent(EventStart, ts) }
func (j *Job) RecordFinish(ts time.Time) { j.appendEvent(EventEnd, ts) }
func (j *Job) RecordPause(ts time.Time)  { j.appendEvent(EventPause, ts) }
func (j *Job) RecordResume(ts time.Time) { j.appendEvent(EventResume, ts) }

func (j *Job) appendEvent(t EventType, ts time.Time) {
	j.History.Events = append(j.History.Events, Event{Timestamp: ts, Type: t})
}

// SetResumeState records where a re-run must pick up and what the vessel is
// expected to hold at that point.
func (j *Job) SetResumeState(step int, startingSolution map[string]float64, overrides *StepOverrides) {
	solution := make(map[string]float64, len(startingSolution))
	for chemical, ul := range startingSolution {
		solution[chemical] = ul
	}
	if overrides != nil && overrides.Empty() {
		overrides = nil
	}
	j.ResumeState = &ResumeState{Step: step, StartingSolution: solution, Overrides: overrides}
}

// ClearResumeState drops the resume pointer; done on fresh start and on
// completion.
func (j *Job) ClearResumeState() { j.ResumeState = nil }

// PurgeHistory resets the event record, for jobs cloned from a finished one.
func (j *Job) PurgeHistory() { j.History = History{} }

// SetSourceProtocol records the document this job was generated from.
func (j *Job) SetSourceProtocol(path string, accessed time.Time) {
	j.SourceProtocol = &SourceProtocol{Path: path, Accessed: accessed}
}

// Validate checks internal consistency of the document itself: the job must
// be named, resume state must point at a protocol step or just past the last
// one, and step durations, mix speeds and volumes must not be negative.
// Instrument-capability validation lives with
// the supervisor, which knows the plumbing.
func (j *Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("job has no name")
	}
	if j.ResumeState != nil {
		if j.ResumeState.Step < 0 || j.ResumeState.Step > len(j.Protocol) {
			return fmt.Errorf("resume state step %d outside protocol of %d steps",
				j.ResumeState.Step, len(j.Protocol))
		}
	}
	for i := range j.Protocol {
		step := &j.Protocol[i]
		if step.DurationS < 0 {
			return fmt.Errorf("step %d: negative duration", i)
		}
		if step.MixSpeedRPM < 0 {
			return fmt.Errorf("step %d: negative mix speed", i)
		}
		for chemical, ul := range step.Solution {
			if ul < 0 {
				return fmt.Errorf("step %d: negative volume for %s", i, chemical)
			}
		}
	}
	return nil
}
