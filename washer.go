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

// Package washer is the instrument supervisor for an automated fluidics
// instrument running programmable wash protocols on a sealed reaction
// vessel. It owns the mutually exclusive flowpath, the pressure-safety
// monitor, the prime/dispense/drain engines, the wash-step executor, and a
// job runner with durable pause/resume semantics.
//
// The supervisor is polymorphic over the capability interfaces in package
// device; simulated and real hardware are selected at construction time.
package washer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"washer/device"
	"washer/internal/job"
)

// Pump speed presets, in percent of the pump's maximum.
const (
	nominalPumpSpeedPercent = 20
	slowPumpSpeedPercent    = 10
	pumpUnprimeSpeedPercent = 60
	pumpPurgeSpeedPercent   = 100
)

// Default displacement budgets, in microliters.
const (
	DefaultPrimeDisplacementUL   = 12500
	DefaultUnprimeDisplacementUL = 25000
	DefaultDrainVolumeUL         = 40000
)

// pollInterval is the granularity of busy-wait loops: pump polling, pause
// observation, and the monitor's sample period (~100 Hz).
const pollInterval = 10 * time.Millisecond

// Limits carries the configurable safety thresholds the supervisor enforces.
// Zero-valued fields are replaced with the documented defaults.
type Limits struct {
	MaxSafePressurePSIG              float64
	MaxPurgePressurePSIG             float64
	LeakCheckSqueezePercent          float64
	MinLeakCheckStartingPressurePSIG float64
	MaxLeakCheckPressureDeltaPSIG    float64
	PumpApproxZeroUL                 float64
	PumpToVesselDeadVolumeUL         float64
}

// DefaultLimits returns the site-standard thresholds.
func DefaultLimits() Limits {
	return Limits{
		MaxSafePressurePSIG:              13.0,
		MaxPurgePressurePSIG:             8.0,
		LeakCheckSqueezePercent:          15.0,
		MinLeakCheckStartingPressurePSIG: 1.0,
		MaxLeakCheckPressureDeltaPSIG:    0.10,
		PumpApproxZeroUL:                 30.0,
		PumpToVesselDeadVolumeUL:         10.0,
	}
}

func (l *Limits) applyDefaults() {
	d := DefaultLimits()
	if l.MaxSafePressurePSIG == 0 {
		l.MaxSafePressurePSIG = d.MaxSafePressurePSIG
	}
	if l.MaxPurgePressurePSIG == 0 {
		l.MaxPurgePressurePSIG = d.MaxPurgePressurePSIG
	}
	if l.LeakCheckSqueezePercent == 0 {
		l.LeakCheckSqueezePercent = d.LeakCheckSqueezePercent
	}
	if l.MinLeakCheckStartingPressurePSIG == 0 {
		l.MinLeakCheckStartingPressurePSIG = d.MinLeakCheckStartingPressurePSIG
	}
	if l.MaxLeakCheckPressureDeltaPSIG == 0 {
		l.MaxLeakCheckPressureDeltaPSIG = d.MaxLeakCheckPressureDeltaPSIG
	}
	if l.PumpApproxZeroUL == 0 {
		l.PumpApproxZeroUL = d.PumpApproxZeroUL
	}
	if l.PumpToVesselDeadVolumeUL == 0 {
		l.PumpToVesselDeadVolumeUL = d.PumpToVesselDeadVolumeUL
	}
}

// Config wires the supervisor's collaborators at construction time.
//
// The valve slices are parallel to WasteVessels: OutputBypassValves route
// liquids and vapors around the reaction vessel to each waste,
// WasteDrainValves gate each waste's lower drain path.
type Config struct {
	Selector       device.Selector
	SelectorLDS    map[string]device.LiquidDetectionSensor
	Pump           device.SyringePump
	PumpPrimeLDS   device.LiquidDetectionSensor
	Mixer          device.Mixer
	PressureSensor device.PressureSensor
	RVSourceValve  device.ThreeTwoValve
	RVExhaustValve device.ThreeTwoValve

	ReactionVessel     *Vessel
	WasteVessels       []*WasteVessel
	OutputBypassValves []device.NCValve
	WasteDrainValves   []device.NCValve

	Limits Limits

	// StrictPrime turns a pump line already primed with another chemical
	// from a logged warning into ErrPrimeMismatch.
	StrictPrime bool

	// Mirror, when non-nil, receives a copy of every durable job snapshot.
	Mirror job.Mirror

	Logger zerolog.Logger
}

// Washer supervises the instrument. All wetted operations are serialized by
// the flowpath lock; the pressure monitor runs for the supervisor's whole
// lifetime and can preempt any of them.
type Washer struct {
	log zerolog.Logger

	selector       device.Selector
	selectorLDS    map[string]device.LiquidDetectionSensor
	pump           device.SyringePump
	pumpPrimeLDS   device.LiquidDetectionSensor
	mixer          device.Mixer
	pressureSensor device.PressureSensor
	rvSourceValve  device.ThreeTwoValve
	rvExhaustValve device.ThreeTwoValve

	rxnVessel          *Vessel
	wasteVessels       []*WasteVessel
	outputBypassValves []device.NCValve
	wasteDrainValves   []device.NCValve

	limits      Limits
	strictPrime bool
	mirror      job.Mirror

	// flowpath serializes every operation that mutates valve or pump
	// state. Exported operations acquire it exactly once; composition
	// happens between unexported impls under that single acquisition.
	flowpath sync.Mutex

	// Prime ledger: displaced volume per primed reservoir line, plus the
	// chemical currently filling the selector-to-pump segment. Written
	// only under the flowpath lock.
	primeVolumesUL map[string]float64
	pumpPrimedWith string

	// Pressure monitor state (see pressure.go).
	monitorStop  chan struct{}
	monitorWG    sync.WaitGroup
	monitorOn    atomic.Bool
	pressureBits atomic.Uint64
	avgReq       chan avgRequest
	abortCh      chan struct{}
	abortOnce    sync.Once
	abortCause   atomic.Pointer[error]

	// Job runner state (see run.go).
	jobRunning     atomic.Bool
	jobWG          sync.WaitGroup
	jobErrMu       sync.Mutex
	jobErr         error
	pauseRequested atomic.Bool
	overrideMu     sync.Mutex
	stepOverrides  *job.StepOverrides

	// Leak-check measurement windows; fixed in production, shortened by
	// package tests to keep the suite fast.
	leakMeasurementTime time.Duration
	leakSettleTime      time.Duration
	leakAvgWindow       time.Duration
	leakTrackWindow     time.Duration
	drainSettleTime     time.Duration
}

// New validates the wiring, builds the supervisor, and starts the pressure
// monitor. The monitor outlives every foreground operation; it stops only
// when Close is called.
func New(cfg Config) (*Washer, error) {
	if cfg.Selector == nil || cfg.Pump == nil || cfg.Mixer == nil ||
		cfg.PressureSensor == nil || cfg.PumpPrimeLDS == nil ||
		cfg.RVSourceValve == nil || cfg.RVExhaustValve == nil {
		return nil, fmt.Errorf("all device capabilities must be provided")
	}
	if cfg.ReactionVessel == nil {
		return nil, fmt.Errorf("a reaction vessel must be provided")
	}
	if len(cfg.WasteVessels) == 0 {
		return nil, fmt.Errorf("at least one waste vessel must be provided")
	}
	if len(cfg.OutputBypassValves) != len(cfg.WasteVessels) ||
		len(cfg.WasteDrainValves) != len(cfg.WasteVessels) {
		return nil, fmt.Errorf("bypass and drain valve counts must match waste vessel count (%d)",
			len(cfg.WasteVessels))
	}
	portMap := cfg.Selector.PortMap()
	for _, required := range []string{"ambient", "outlet"} {
		if _, ok := portMap[required]; !ok {
			return nil, fmt.Errorf("selector port map must include a %q port", required)
		}
	}
	for chemical := range cfg.SelectorLDS {
		if _, ok := portMap[chemical]; !ok {
			return nil, fmt.Errorf("LDS map names %q which has no selector port", chemical)
		}
	}
	cfg.Limits.applyDefaults()

	w := &Washer{
		log:                 cfg.Logger,
		selector:            cfg.Selector,
		selectorLDS:         cfg.SelectorLDS,
		pump:                cfg.Pump,
		pumpPrimeLDS:        cfg.PumpPrimeLDS,
		mixer:               cfg.Mixer,
		pressureSensor:      cfg.PressureSensor,
		rvSourceValve:       cfg.RVSourceValve,
		rvExhaustValve:      cfg.RVExhaustValve,
		rxnVessel:           cfg.ReactionVessel,
		wasteVessels:        cfg.WasteVessels,
		outputBypassValves:  cfg.OutputBypassValves,
		wasteDrainValves:    cfg.WasteDrainValves,
		limits:              cfg.Limits,
		strictPrime:         cfg.StrictPrime,
		mirror:              cfg.Mirror,
		primeVolumesUL:      map[string]float64{},
		avgReq:              make(chan avgRequest),
		abortCh:             make(chan struct{}),
		leakMeasurementTime: 4 * time.Second,
		leakSettleTime:      time.Second,
		leakAvgWindow:       time.Second,
		leakTrackWindow:     500 * time.Millisecond,
		drainSettleTime:     500 * time.Millisecond,
	}
	w.startPressureMonitor()
	return w, nil
}

// PlumbedChemicals reports the chemicals the instrument is currently
// plumbed with: the LDS-instrumented selector ports.
func (w *Washer) PlumbedChemicals() map[string]struct{} {
	out := make(map[string]struct{}, len(w.selectorLDS))
	for chemical := range w.selectorLDS {
		out[chemical] = struct{}{}
	}
	return out
}

func (w *Washer) plumbed(chemical string) bool {
	_, ok := w.selectorLDS[chemical]
	return ok
}

// ReactionVessel exposes the reaction vessel model, for inspection.
func (w *Washer) ReactionVessel() *Vessel { return w.rxnVessel }

// WasteVessel exposes the waste vessel at index i, for inspection.
func (w *Washer) WasteVessel(i int) *WasteVessel { return w.wasteVessels[i] }

// Reset initializes all hardware while ensuring the system can bleed any
// pressure pockets created to waste. The pump's unknown contents are dumped
// through the first waste bypass.
func (w *Washer) Reset() error {
	w.flowpath.Lock()
	defer w.flowpath.Unlock()
	return w.reset()
}

func (w *Washer) reset() error {
	w.log.Info().Msg("resetting instrument")
	if err := w.mixer.StopMixing(); err != nil {
		return fmt.Errorf("stopping mixer: %w", err)
	}
	if err := w.deenergizeAllValves(); err != nil {
		return err
	}
	defer w.deenergizeAllValves()
	w.log.Error().Msg("dumping unknown pump contents to unknown waste")
	if err := w.outputBypassValves[0].Open(); err != nil {
		return fmt.Errorf("opening waste bypass: %w", err)
	}
	if err := w.selector.MoveToPort("outlet"); err != nil {
		return err
	}
	if err := w.pump.ResetSyringePosition(); err != nil {
		return fmt.Errorf("homing pump: %w", err)
	}
	return w.pump.SetSpeedPercent(nominalPumpSpeedPercent)
}

// Halt stops and disables every active component. It intentionally bypasses
// the flowpath lock so the pressure monitor (or an operator) can always stop
// the instrument within bounded time, even mid-operation.
func (w *Washer) Halt() {
	w.log.Warn().Msg("halting and disabling all active components")
	if busy, err := w.pump.IsBusy(); err == nil && busy {
		if err := w.pump.Halt(); err != nil {
			w.log.Error().Err(err).Msg("error halting pump")
		}
	}
	if err := w.deenergizeAllValves(); err != nil {
		w.log.Error().Err(err).Msg("error de-energizing valves during halt")
	}
	if err := w.mixer.StopMixing(); err != nil {
		w.log.Error().Err(err).Msg("error stopping mixer during halt")
	}
}

// DeenergizeAllValves returns every solenoid valve to its de-energized
// state, sealing the reaction vessel and closing all waste paths.
func (w *Washer) DeenergizeAllValves() error {
	w.flowpath.Lock()
	defer w.flowpath.Unlock()
	return w.deenergizeAllValves()
}

func (w *Washer) deenergizeAllValves() error {
	w.log.Debug().Msg("de-energizing all solenoid valves")
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(w.rvSourceValve.Deenergize())
	keep(w.rvExhaustValve.Deenergize())
	for _, v := range w.outputBypassValves {
		keep(v.Close())
	}
	for _, v := range w.wasteDrainValves {
		keep(v.Close())
	}
	return firstErr
}

// ResetWasteVessel records that the operator emptied the waste at index i.
func (w *Washer) ResetWasteVessel(i int) error {
	if i < 0 || i >= len(w.wasteVessels) {
		return fmt.Errorf("no waste vessel at index %d", i)
	}
	w.flowpath.Lock()
	defer w.flowpath.Unlock()
	w.wasteVessels[i].Purge()
	return nil
}

// PrimedChemicals returns a copy of the prime ledger.
func (w *Washer) PrimedChemicals() map[string]float64 {
	w.flowpath.Lock()
	defer w.flowpath.Unlock()
	out := make(map[string]float64, len(w.primeVolumesUL))
	for chemical, ul := range w.primeVolumesUL {
		out[chemical] = ul
	}
	return out
}

// PumpPrimedWith reports the chemical filling the selector-to-pump segment,
// or empty if none.
func (w *Washer) PumpPrimedWith() string {
	w.flowpath.Lock()
	defer w.flowpath.Unlock()
	return w.pumpPrimedWith
}

// Close stops the pressure monitor after all foreground work completes.
// Acquiring the flowpath lock first guarantees the monitor cannot be
// disabled during a foreground operation.
func (w *Washer) Close() {
	w.jobWG.Wait()
	w.flowpath.Lock()
	defer w.flowpath.Unlock()
	w.stopPressureMonitor()
}

// ensureSyringeEmpty is the precondition for operations that must start from
// a fully plunged pump. Some pumps do not return exactly 0 after a reset, so
// anything within PumpApproxZeroUL of 0 counts as empty.
func (w *Washer) ensureSyringeEmpty() error {
	pos, err := w.pump.PositionUL()
	if err != nil {
		return fmt.Errorf("reading pump position: %w", err)
	}
	if pos > w.limits.PumpApproxZeroUL || pos < -w.limits.PumpApproxZeroUL {
		return fmt.Errorf("abs(position) = %.1f uL: %w", pos, ErrPumpNotEmpty)
	}
	return nil
}
