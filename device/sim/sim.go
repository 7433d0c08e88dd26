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

// Package sim provides in-memory implementations of every device capability.
// They are value implementations of the interfaces in package device: the
// supervisor cannot tell them apart from real drivers, which is how simulated
// runs are selected at construction time instead of via a global flag.
package sim

import (
	"fmt"
	"sync"

	"washer/device"
)

// Selector is a simulated closeable rotary selector.
type Selector struct {
	mu      sync.Mutex
	portMap map[string]int
	current string
	closed  bool
}

// NewSelector builds a selector with the given name-to-port bindings.
func NewSelector(portMap map[string]int) *Selector {
	m := make(map[string]int, len(portMap))
	for k, v := range portMap {
		m[k] = v
	}
	return &Selector{portMap: m}
}

func (s *Selector) MoveToPort(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.portMap[name]; !ok {
		return fmt.Errorf("selector has no port named %q", name)
	}
	s.current = name
	s.closed = false
	return nil
}

func (s *Selector) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = false
	return nil
}

func (s *Selector) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Selector) PortMap() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := make(map[string]int, len(s.portMap))
	for k, v := range s.portMap {
		m[k] = v
	}
	return m
}

// CurrentPort reports the selected port name; empty before the first move.
func (s *Selector) CurrentPort() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// IsClosed reports whether the selector sits at an interstitial position.
func (s *Selector) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SyringePump is a simulated syringe pump. Moves complete instantaneously in
// position terms; asynchronous moves report busy for BusyPolls subsequent
// IsBusy calls so pollers exercise their halt paths.
type SyringePump struct {
	mu           sync.Mutex
	syringeVolUL float64
	positionUL   float64
	speedPercent float64
	busyLeft     int

	// BusyPolls is how many IsBusy calls report true after an
	// asynchronous move. Zero means moves are never observed busy.
	BusyPolls int
}

// NewSyringePump builds a pump with the given full-stroke volume.
func NewSyringePump(syringeVolumeUL float64) *SyringePump {
	return &SyringePump{syringeVolUL: syringeVolumeUL, speedPercent: 100}
}

func (p *SyringePump) ResetSyringePosition() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positionUL = 0
	p.busyLeft = 0
	return nil
}

func (p *SyringePump) MoveAbsoluteInPercent(percent float64, wait bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if percent < 0 || percent > 100 {
		return fmt.Errorf("pump position %.2f%% outside travel range", percent)
	}
	p.positionUL = percent / 100 * p.syringeVolUL
	if !wait {
		p.busyLeft = p.BusyPolls
	}
	return nil
}

func (p *SyringePump) Withdraw(microliters float64, wait bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.positionUL+microliters > p.syringeVolUL {
		return fmt.Errorf("withdrawing %.1f uL exceeds syringe volume", microliters)
	}
	p.positionUL += microliters
	if !wait {
		p.busyLeft = p.BusyPolls
	}
	return nil
}

func (p *SyringePump) Halt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.busyLeft = 0
	return nil
}

func (p *SyringePump) IsBusy() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busyLeft > 0 {
		p.busyLeft--
		return true, nil
	}
	return false, nil
}

func (p *SyringePump) PositionUL() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionUL, nil
}

func (p *SyringePump) PositionPercent() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionUL / p.syringeVolUL * 100, nil
}

func (p *SyringePump) SetSpeedPercent(percent float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.speedPercent = percent
	return nil
}

func (p *SyringePump) SpeedPercent() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speedPercent, nil
}

func (p *SyringePump) SyringeVolumeUL() float64 { return p.syringeVolUL }

// Mixer is a simulated speed-controllable mixer.
type Mixer struct {
	mu      sync.Mutex
	rpm     float64
	running bool
}

func NewMixer() *Mixer { return &Mixer{} }

func (m *Mixer) SetMixingSpeed(rpm float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rpm = rpm
	return nil
}

func (m *Mixer) StartMixing() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	return nil
}

func (m *Mixer) StopMixing() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	return nil
}

// Running reports whether the mixer is agitating.
func (m *Mixer) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// RPM reports the last requested speed.
func (m *Mixer) RPM() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rpm
}

// OnOffMixer is a fixed-speed mixer: speed requests are unsupported.
type OnOffMixer struct {
	Mixer
}

func NewOnOffMixer() *OnOffMixer { return &OnOffMixer{} }

func (m *OnOffMixer) SetMixingSpeed(rpm float64) error {
	return device.ErrSpeedControlUnsupported
}

// PressureSensor is a simulated gauge pressure sensor. Either set a static
// reading with Set or install a reading function for scripted behavior.
type PressureSensor struct {
	mu   sync.Mutex
	psig float64
	fn   func() float64
}

func NewPressureSensor() *PressureSensor { return &PressureSensor{} }

func (s *PressureSensor) Set(psig float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.psig = psig
}

// SetFunc installs a function supplying the reading instead of the Set
// value; pass nil to remove it. The function must be safe to call from the
// sampler goroutine.
func (s *PressureSensor) SetFunc(fn func() float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn = fn
}

func (s *PressureSensor) PressurePSIG() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fn != nil {
		return s.fn(), nil
	}
	return s.psig, nil
}

// LDS is a simulated liquid-detection sensor. It can be pinned tripped or
// untripped, or armed to trip after a number of polls to model liquid
// arriving mid-stroke.
type LDS struct {
	mu            sync.Mutex
	tripped       bool
	tripAfterLeft int
	armed         bool
}

func NewLDS() *LDS { return &LDS{} }

// SetTripped pins the sensor state.
func (l *LDS) SetTripped(tripped bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tripped = tripped
	l.armed = false
}

// TripAfterPolls arms the sensor to report untripped for the next n polls
// and tripped from poll n+1 on.
func (l *LDS) TripAfterPolls(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.armed = true
	l.tripAfterLeft = n
	l.tripped = false
}

func (l *LDS) Tripped() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.armed {
		if l.tripAfterLeft > 0 {
			l.tripAfterLeft--
			return false, nil
		}
		l.tripped = true
		l.armed = false
	}
	return l.tripped, nil
}

// NCValve is a simulated normally-closed solenoid valve.
type NCValve struct {
	mu   sync.Mutex
	open bool
}

func NewNCValve() *NCValve { return &NCValve{} }

func (v *NCValve) Open() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.open = true
	return nil
}

func (v *NCValve) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.open = false
	return nil
}

// IsOpen reports whether the valve is energized open.
func (v *NCValve) IsOpen() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.open
}

// ThreeTwoValve is a simulated 3/2-way solenoid valve.
type ThreeTwoValve struct {
	mu        sync.Mutex
	energized bool
}

func NewThreeTwoValve() *ThreeTwoValve { return &ThreeTwoValve{} }

func (v *ThreeTwoValve) Energize() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.energized = true
	return nil
}

func (v *ThreeTwoValve) Deenergize() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.energized = false
	return nil
}

// IsEnergized reports the coil state.
func (v *ThreeTwoValve) IsEnergized() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.energized
}
