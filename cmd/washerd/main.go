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

// Package main runs the washer instrument supervisor against the simulated
// device set: it loads the instrument configuration, wires the supervisor,
// and executes a job file.
//
// Lifecycle:
//  1. Load config and build the device tree (simulated here; a hardware
//     build substitutes real drivers behind the same capability interfaces).
//  2. Construct the supervisor, which starts the pressure monitor.
//  3. Reset the instrument and run the job.
//  4. First SIGINT requests a pause; the process exits once the resume
//     snapshot has landed. A second SIGINT halts the instrument hard.
package main

import (
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"washer"
	"washer/device"
	"washer/device/sim"
	"washer/internal/config"
	"washer/internal/job"
	"washer/internal/telemetry"
)

// Exit codes per error kind, for scripting around the CLI.
const (
	exitOK             = 0
	exitUsage          = 2
	exitJobInvalid     = 3
	exitLeakCheck      = 4
	exitOverPressure   = 5
	exitAborted        = 6
	exitNotFound       = 7
	exitAlreadyRunning = 8
	exitFailure        = 1
)

func main() {
	configPath := flag.String("config", "washer.yaml", "Instrument configuration document")
	jobPath := flag.String("job", "", "Job file to run (required)")
	metricsAddr := flag.String("metrics_addr", "", "If non-empty, expose Prometheus /metrics on this address (e.g., :9090)")
	mirrorKind := flag.String("mirror", "none", "Job snapshot mirror: none or redis")
	redisAddr := flag.String("redis_addr", "", "Redis address for the snapshot mirror (e.g., 127.0.0.1:6379)")
	leakChecks := flag.Bool("leak_checks", false, "Run the leak-check suite before the job")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	if *debug {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	if *jobPath == "" {
		logger.Error().Msg("a -job file is required")
		os.Exit(exitUsage)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error().Err(err).Msg("could not load instrument configuration")
		os.Exit(exitUsage)
	}

	if *metricsAddr != "" {
		telemetry.StartMetricsEndpoint(*metricsAddr)
		logger.Info().Str("addr", *metricsAddr).Msg("serving Prometheus metrics")
	}
	mirror, err := job.BuildMirror(*mirrorKind, *redisAddr, 24*time.Hour)
	if err != nil {
		logger.Error().Err(err).Msg("could not build snapshot mirror")
		os.Exit(exitUsage)
	}

	w, err := buildSimInstrument(cfg, mirror, logger)
	if err != nil {
		logger.Error().Err(err).Msg("could not build instrument")
		os.Exit(exitFailure)
	}
	defer w.Close()

	if err := w.Reset(); err != nil {
		logger.Error().Err(err).Msg("instrument reset failed")
		os.Exit(exitCode(err))
	}
	if *leakChecks {
		if err := w.RunLeakChecks(); err != nil {
			logger.Error().Err(err).Msg("leak checks failed")
			os.Exit(exitCode(err))
		}
	}
	if err := w.RunJob(*jobPath); err != nil {
		logger.Error().Err(err).Msg("could not start job")
		os.Exit(exitCode(err))
	}

	done := make(chan error, 1)
	go func() { done <- w.WaitForJob() }()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	pausedOnce := false
	for {
		select {
		case err := <-done:
			if err != nil {
				logger.Error().Err(err).Msg("job ended with error")
				os.Exit(exitCode(err))
			}
			logger.Info().Msg("job complete")
			os.Exit(exitOK)
		case <-stop:
			if !pausedOnce {
				pausedOnce = true
				logger.Info().Msg("pause requested; interrupt again to halt")
				if err := w.Pause(); err != nil {
					os.Exit(exitOK)
				}
				continue
			}
			logger.Warn().Msg("halting instrument")
			w.Halt()
			os.Exit(exitAborted)
		}
	}
}

// buildSimInstrument wires the simulated device set from the configuration.
// The simulated sensors are arranged so priming succeeds promptly.
func buildSimInstrument(cfg config.Config, mirror job.Mirror, logger zerolog.Logger) (*washer.Washer, error) {
	selector := sim.NewSelector(cfg.SelectorPortMap)
	pump := sim.NewSyringePump(12500)
	pump.BusyPolls = 3

	selectorLDS := make(map[string]device.LiquidDetectionSensor, len(cfg.SelectorLDSMap))
	for chemical := range cfg.SelectorLDSMap {
		lds := sim.NewLDS()
		lds.TripAfterPolls(1)
		selectorLDS[chemical] = lds
	}
	pumpPrimeLDS := sim.NewLDS()
	pumpPrimeLDS.TripAfterPolls(1)

	wasteVessels := make([]*washer.WasteVessel, 0, len(cfg.WasteVessels))
	bypassValves := make([]device.NCValve, 0, len(cfg.WasteVessels))
	drainValves := make([]device.NCValve, 0, len(cfg.WasteVessels))
	for _, wv := range cfg.WasteVessels {
		wasteVessels = append(wasteVessels,
			washer.NewWasteVessel(wv.Name, wv.MaxVolumeUL, wv.CompatibleChemicals))
		bypassValves = append(bypassValves, sim.NewNCValve())
		drainValves = append(drainValves, sim.NewNCValve())
	}

	return washer.New(washer.Config{
		Selector:       selector,
		SelectorLDS:    selectorLDS,
		Pump:           pump,
		PumpPrimeLDS:   pumpPrimeLDS,
		Mixer:          sim.NewMixer(),
		PressureSensor: sim.NewPressureSensor(),
		RVSourceValve:  sim.NewThreeTwoValve(),
		RVExhaustValve: sim.NewThreeTwoValve(),
		ReactionVessel: washer.NewVessel(cfg.ReactionVessel.Name,
			cfg.ReactionVessel.MaxVolumeUL, cfg.ReactionVessel.Contents),
		WasteVessels:       wasteVessels,
		OutputBypassValves: bypassValves,
		WasteDrainValves:   drainValves,
		Limits: washer.Limits{
			MaxSafePressurePSIG:              cfg.MaxSafePressurePSIG,
			MaxPurgePressurePSIG:             cfg.MaxPurgePressurePSIG,
			LeakCheckSqueezePercent:          cfg.LeakCheckSqueezePercent,
			MinLeakCheckStartingPressurePSIG: cfg.MinLeakCheckStartingPressurePSIG,
			MaxLeakCheckPressureDeltaPSIG:    cfg.MaxLeakCheckPressureDeltaPSIG,
			PumpApproxZeroUL:                 cfg.PumpApproxZeroUL,
			PumpToVesselDeadVolumeUL:         cfg.PumpToVesselDeadVolumeUL,
		},
		StrictPrime: cfg.StrictPrime,
		Mirror:      mirror,
		Logger:      logger,
	})
}

func exitCode(err error) int {
	var jobInvalid *washer.JobInvalidError
	var leak *washer.LeakCheckError
	switch {
	case errors.As(err, &jobInvalid):
		return exitJobInvalid
	case errors.As(err, &leak):
		return exitLeakCheck
	case errors.Is(err, washer.ErrOverPressure):
		return exitOverPressure
	case errors.Is(err, washer.ErrAborted):
		return exitAborted
	case errors.Is(err, washer.ErrNotFound):
		return exitNotFound
	case errors.Is(err, washer.ErrAlreadyRunning):
		return exitAlreadyRunning
	default:
		return exitFailure
	}
}
