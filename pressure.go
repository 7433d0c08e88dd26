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

// This file implements the pressure-safety monitor: a background sampler
// that keeps a live pressure value, serves windowed averages on request, and
// halts the instrument the moment any sample exceeds the safety ceiling.
// The monitor never takes the flowpath lock; its halt path must work even
// while a foreground operation holds it.
package washer

import (
	"fmt"
	"math"
	"time"

	"washer/internal/telemetry"
)

type avgRequest struct {
	window time.Duration
	reply  chan float64
}

func (w *Washer) startPressureMonitor() {
	if !w.monitorOn.CompareAndSwap(false, true) {
		return
	}
	w.monitorStop = make(chan struct{})
	w.monitorWG.Add(1)
	go w.monitorPressure()
}

func (w *Washer) stopPressureMonitor() {
	if !w.monitorOn.CompareAndSwap(true, false) {
		return
	}
	close(w.monitorStop)
	w.monitorWG.Wait()
}

// monitorPressure samples the sensor at ~100 Hz for the supervisor's whole
// lifetime. It keeps sampling after an abort so the operator can still read
// pressure while deciding what to do.
func (w *Washer) monitorPressure() {
	defer w.monitorWG.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var (
		collecting bool
		deadline   time.Time
		samples    []float64
		reply      chan float64
	)
	for {
		select {
		case <-w.monitorStop:
			return
		case req := <-w.avgReq:
			collecting = true
			deadline = time.Now().Add(req.window)
			samples = samples[:0]
			reply = req.reply
		case <-ticker.C:
			psig, err := w.pressureSensor.PressurePSIG()
			if err != nil {
				w.log.Error().Err(err).Msg("pressure sensor read failed")
				continue
			}
			w.pressureBits.Store(math.Float64bits(psig))
			telemetry.ObservePressure(psig)
			if collecting {
				samples = append(samples, psig)
				if time.Now().After(deadline) {
					var sum float64
					for _, s := range samples {
						sum += s
					}
					reply <- sum / float64(len(samples))
					collecting = false
				}
			}
			if psig > w.limits.MaxSafePressurePSIG {
				w.log.Error().
					Float64("psig", psig).
					Float64("ceiling", w.limits.MaxSafePressurePSIG).
					Bool("abort", true).
					Msg("jam detected, aborting instrument")
				telemetry.ObserveOverPressureAbort()
				w.Halt()
				w.triggerAbort(fmt.Errorf("%.1f psig: %w", psig, ErrOverPressure))
			}
		}
	}
}

// triggerAbort raises the non-maskable abort observed by every suspension
// point in foreground operations, recording what tripped it.
func (w *Washer) triggerAbort(cause error) {
	w.abortOnce.Do(func() {
		w.abortCause.Store(&cause)
		close(w.abortCh)
	})
}

// AbortCause reports what halted the instrument, or nil if it is running.
func (w *Washer) AbortCause() error {
	if p := w.abortCause.Load(); p != nil {
		return *p
	}
	return nil
}

// PressurePSIG reports the monitor's latest sample.
func (w *Washer) PressurePSIG() float64 {
	return math.Float64frombits(w.pressureBits.Load())
}

// Aborted reports whether the monitor has halted the instrument.
func (w *Washer) Aborted() bool {
	select {
	case <-w.abortCh:
		return true
	default:
		return false
	}
}

// AveragePSIG collects pressure samples over the given window and reports
// their mean. This is the only pressure API the leak-check routines use.
func (w *Washer) AveragePSIG(window time.Duration) (float64, error) {
	if window <= 0 {
		return 0, fmt.Errorf("average window must be positive")
	}
	req := avgRequest{window: window, reply: make(chan float64, 1)}
	select {
	case w.avgReq <- req:
	case <-w.abortCh:
		return 0, ErrAborted
	case <-w.monitorStop:
		return 0, fmt.Errorf("pressure monitor is not running")
	}
	select {
	case mean := <-req.reply:
		return mean, nil
	case <-w.abortCh:
		return 0, ErrAborted
	}
}

// sleep blocks for d or until the monitor aborts the instrument.
func (w *Washer) sleep(d time.Duration) error {
	if d <= 0 {
		return w.abortedErr()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-w.abortCh:
		return ErrAborted
	}
}

// abortedErr is the cheap non-blocking abort check used inside poll loops.
func (w *Washer) abortedErr() error {
	select {
	case <-w.abortCh:
		return ErrAborted
	default:
		return nil
	}
}
