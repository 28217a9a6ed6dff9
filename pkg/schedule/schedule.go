// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package schedule implements the learning rate schedule used to train pose networks: a linear warmup
// from 0 to the base learning rate, followed by a decay phase ("step", "poly" or "cosine") from the base
// learning rate down to 0.
//
// The schedule is defined over update numbers, where the first training step is update 1. Warmup covers
// the first WarmupEpochs*ItersPerEpoch updates, and the decay the remaining
// (NumEpochs-WarmupEpochs)*ItersPerEpoch updates.
//
// Schedule.LearningRate evaluates it in Go (used for logging), and Config (see New) sets the optimizer's
// learning rate in the training graph, following the same formula.
package schedule

import (
	"math"

	"github.com/pkg/errors"
)

// Decay modes.
const (
	ModeStep   = "step"
	ModePoly   = "poly"
	ModeCosine = "cosine"
)

// DefaultPower is the power of the "poly" mode.
const DefaultPower = 2.0

// Schedule defines the learning rate for each update.
type Schedule struct {
	// BaseLR is the learning rate reached at the end of the warmup.
	BaseLR float64

	// Mode of the decay after the warmup.
	Mode string

	NumEpochs, WarmupEpochs, ItersPerEpoch int

	// DecayEpochs are the "step" mode boundaries, counted in epochs from the end of the warmup.
	// See ShiftBoundaries. They need not be sorted: the rate decays once per boundary passed.
	DecayEpochs []int

	// DecayFactor multiplies the learning rate at each "step" boundary.
	DecayFactor float64

	// Power of the "poly" mode.
	Power float64
}

// ShiftBoundaries converts decay epochs counted from the start of training into epochs counted from the end of
// the warmup: it subtracts warmupEpochs from each.
func ShiftBoundaries(decayEpochs []int, warmupEpochs int) []int {
	shifted := make([]int, len(decayEpochs))
	for ii, e := range decayEpochs {
		shifted[ii] = e - warmupEpochs
	}
	return shifted
}

// Validate returns an error if the schedule can't be evaluated.
//
// A warmup longer than the training is accepted: the learning rate then never reaches BaseLR.
func (s *Schedule) Validate() error {
	switch s.Mode {
	case ModeStep, ModePoly, ModeCosine:
	default:
		return errors.Errorf("unknown learning rate mode %q", s.Mode)
	}
	if s.ItersPerEpoch <= 0 {
		return errors.Errorf("learning rate schedule requires at least one iteration per epoch, got %d", s.ItersPerEpoch)
	}
	if s.WarmupEpochs < 0 {
		return errors.Errorf("negative warmup epochs (%d)", s.WarmupEpochs)
	}
	return nil
}

// WarmupUpdates is the number of updates in the warmup phase.
func (s *Schedule) WarmupUpdates() int { return s.WarmupEpochs * s.ItersPerEpoch }

// DecayUpdates is the number of updates in the decay phase. It is 0 if the warmup is longer than the training.
func (s *Schedule) DecayUpdates() int { return max(s.NumEpochs-s.WarmupEpochs, 0) * s.ItersPerEpoch }

// TotalUpdates is the number of updates of the whole schedule.
func (s *Schedule) TotalUpdates() int { return s.NumEpochs * s.ItersPerEpoch }

// power of the "poly" mode, defaulting to DefaultPower.
func (s *Schedule) power() float64 {
	if s.Power == 0 {
		return DefaultPower
	}
	return s.Power
}

// LearningRate returns the learning rate used for the given update number (the first update is 1).
//
// Updates past the end of the schedule use the last learning rate.
func (s *Schedule) LearningRate(update int) float64 {
	warmup, decay := s.WarmupUpdates(), s.DecayUpdates()
	update = min(update, warmup+decay-1)
	if update < warmup {
		// Linear from 0 to BaseLR.
		return s.BaseLR * progress(update, warmup)
	}
	t := update - warmup
	if s.Mode == ModeStep {
		count := 0
		for _, e := range s.DecayEpochs {
			if e*s.ItersPerEpoch <= t {
				count++
			}
		}
		return s.BaseLR * math.Pow(s.DecayFactor, float64(count))
	}
	p := progress(t, decay)
	var factor float64
	switch s.Mode {
	case ModePoly:
		factor = math.Pow(1-p, s.power())
	case ModeCosine:
		factor = (1 + math.Cos(math.Pi*p)) / 2
	}
	return s.BaseLR * factor
}

// EpochLearningRate returns the learning rate at the boundary of the given epoch, that is, at update
// epoch*ItersPerEpoch. It is 0 at epoch 0 (if there is a warmup), BaseLR at epoch WarmupEpochs and,
// for the "poly" and "cosine" modes, 0 at epoch NumEpochs.
func (s *Schedule) EpochLearningRate(epoch int) float64 {
	return s.LearningRate(epoch * s.ItersPerEpoch)
}

// progress of t in a phase of n updates, from 0 to 1, clipped: the last update of the phase (n-1) is 1.
// Phases of a single update are complete from the start.
func progress(t, n int) float64 {
	last := n - 1
	if last <= 0 {
		return 1
	}
	return float64(min(max(t, 0), last)) / float64(last)
}
