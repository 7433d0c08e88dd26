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

// This file defines the tagged error kinds every supervisor operation can
// return. Callers branch with errors.Is / errors.As. The CLI layer gives
// JobInvalidError, LeakCheckError, ErrOverPressure, ErrAborted, ErrNotFound
// and ErrAlreadyRunning their own exit codes; every other kind exits with the
// general failure code.
package washer

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownChemical: a chemical outside the plumbed set was named.
	ErrUnknownChemical = errors.New("chemical is not plumbed on this instrument")
	// ErrOverCapacity: an add would exceed a vessel's maximum volume.
	ErrOverCapacity = errors.New("volume would exceed vessel capacity")
	// ErrNoCompatibleWaste: no waste vessel accepts the solution components.
	ErrNoCompatibleWaste = errors.New("no chemically-compatible waste vessel")
	// ErrPrimeFailure: the displacement budget ran out without a sensor trip.
	ErrPrimeFailure = errors.New("no liquid detected within displacement budget")
	// ErrPrimeMismatch: strict mode rejected a pump line primed with a
	// different chemical.
	ErrPrimeMismatch = errors.New("pump line is primed with a different chemical")
	// ErrStartingSolutionMismatch: vessel contents disagree with the job's
	// expected starting solution.
	ErrStartingSolutionMismatch = errors.New("reaction vessel contents do not match job starting solution")
	// ErrAlreadyRunning: a second job was submitted while one is running.
	ErrAlreadyRunning = errors.New("a job is already running")
	// ErrPumpNotEmpty: an operation requiring an empty syringe found the
	// pump away from its reset position.
	ErrPumpNotEmpty = errors.New("pump is not at its reset position and contains liquid or gas")
	// ErrOverPressure: the monitor observed a sample above the safety
	// ceiling and halted the instrument.
	ErrOverPressure = errors.New("pressure exceeded safety ceiling")
	// ErrAborted: the current operation was preempted by an instrument halt.
	ErrAborted = errors.New("operation aborted by instrument halt")
	// ErrNotFound: no job document at the given path.
	ErrNotFound = errors.New("job file not found")
)

// LeakCheckError reports a failed seal-integrity test, naming the isolated
// flowpath segment so the operator knows which fittings to inspect.
type LeakCheckError struct {
	Segment string
	Reason  string
}

func (e *LeakCheckError) Error() string {
	return fmt.Sprintf("leak check failed on segment %q: %s", e.Segment, e.Reason)
}

// JobInvalidError carries every per-step diagnosis found during pre-flight
// validation, so the operator can fix the whole protocol in one pass.
type JobInvalidError struct {
	Problems []string
}

func (e *JobInvalidError) Error() string {
	return fmt.Sprintf("job failed validation: %s", strings.Join(e.Problems, "; "))
}
