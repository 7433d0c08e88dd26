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

// Package device defines the hardware capability interfaces the supervisor is
// polymorphic over. The supervisor never depends on a concrete driver; real
// drivers and the simulated variants in device/sim both satisfy these
// interfaces and are selected at construction time.
package device

import "errors"

// ErrSpeedControlUnsupported is returned by Mixer.SetMixingSpeed when the
// underlying mixer is a fixed-speed (on/off) unit. Callers that can tolerate
// a fixed speed should treat this as a soft failure.
var ErrSpeedControlUnsupported = errors.New("mixer does not support speed control")

// Selector is a rotary shear valve routing a common line to one of many named
// ports. A closeable selector can additionally seal entirely by moving to an
// interstitial position between two ports.
type Selector interface {
	// MoveToPort routes the common line to the named port.
	MoveToPort(name string) error
	// Open restores flow through the currently selected port after a Close.
	Open() error
	// Close seals the selector at an interstitial position.
	Close() error
	// PortMap reports the name-to-physical-port bindings.
	PortMap() map[string]int
}

// SyringePump is a positive-displacement pump with an addressable plunger.
// Position 0 is the fully plunged (empty) end of travel.
type SyringePump interface {
	// ResetSyringePosition homes the plunger to a true 0, dispensing any
	// contents through the current flowpath. Some pumps ignore tiny
	// end-range moves; this is the only way to guarantee an exact 0.
	ResetSyringePosition() error
	// MoveAbsoluteInPercent moves the plunger to a percentage of full
	// travel. With wait=false the call returns immediately and the move is
	// tracked via IsBusy.
	MoveAbsoluteInPercent(percent float64, wait bool) error
	// Withdraw aspirates the given volume through the current flowpath.
	Withdraw(microliters float64, wait bool) error
	// Halt stops any in-flight move where it is.
	Halt() error
	IsBusy() (bool, error)
	PositionUL() (float64, error)
	PositionPercent() (float64, error)
	SetSpeedPercent(percent float64) error
	SpeedPercent() (float64, error)
	// SyringeVolumeUL is the full-stroke displacement.
	SyringeVolumeUL() float64
}

// Mixer agitates the reaction vessel contents.
type Mixer interface {
	// SetMixingSpeed sets the target speed in rpm. Implementations backed
	// by fixed-speed hardware return ErrSpeedControlUnsupported; any
	// percent-based hardware mapping is internal to the implementation.
	SetMixingSpeed(rpm float64) error
	StartMixing() error
	StopMixing() error
}

// PressureSensor reports gauge pressure on the common flowpath.
type PressureSensor interface {
	PressurePSIG() (float64, error)
}

// LiquidDetectionSensor is a binary optical/bubble sensor reporting whether
// liquid is present at its node.
type LiquidDetectionSensor interface {
	Tripped() (bool, error)
}

// NCValve is a normally-closed solenoid valve. Open energizes the coil and
// permits flow; Close de-energizes it.
type NCValve interface {
	Open() error
	Close() error
}

// ThreeTwoValve is a 3/2-way solenoid valve. The de-energized state routes
// the normally-open leg.
type ThreeTwoValve interface {
	Energize() error
	Deenergize() error
}
