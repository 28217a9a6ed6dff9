// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"math"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
)

// Scope under the optimizers scope where the schedule keeps its update counter.
const Scope = "pose_schedule"

// Hyperparameters read by Config.FromContext.
const (
	// ParamMode is the decay mode: "step", "poly" or "cosine".
	ParamMode = "lr_mode"

	// ParamNumEpochs is the total number of training epochs.
	ParamNumEpochs = "num_epochs"

	// ParamWarmupEpochs is the number of epochs of the linear warmup.
	ParamWarmupEpochs = "warmup_epochs"

	// ParamItersPerEpoch is the number of training steps per epoch.
	ParamItersPerEpoch = "iters_per_epoch"

	// ParamDecayEpochs ([]int) are the "step" boundaries, counted from the start of the training.
	// They are shifted by the warmup when read.
	ParamDecayEpochs = "lr_decay_epoch"

	// ParamDecayFactor multiplies the learning rate at each "step" boundary.
	ParamDecayFactor = "lr_decay"

	// ParamPower is the power of the "poly" mode.
	ParamPower = "lr_power"
)

// Config builds the schedule in the training graph. Create it with New, configure it, and call Done.
type Config struct {
	ctx      *context.Context
	graph    *Graph
	dtype    dtypes.DType
	schedule Schedule
}

// New creates a configuration for the learning rate schedule in graph g, using dtype for the learning rate.
//
// Call FromContext to read the settings from the hyperparameters, and Done to create the schedule.
func New(ctx *context.Context, g *Graph, dtype dtypes.DType) *Config {
	return &Config{
		ctx:   ctx,
		graph: g,
		dtype: dtype,
		schedule: Schedule{
			Mode:        ModeStep,
			DecayFactor: 0.1,
			Power:       DefaultPower,
		},
	}
}

// FromContext reads the hyperparameters (see Param* constants, and optimizers.ParamLearningRate) from the context.
func (c *Config) FromContext() *Config {
	s := &c.schedule
	s.BaseLR = context.GetParamOr(c.ctx, optimizers.ParamLearningRate, s.BaseLR)
	s.Mode = context.GetParamOr(c.ctx, ParamMode, s.Mode)
	s.NumEpochs = context.GetParamOr(c.ctx, ParamNumEpochs, s.NumEpochs)
	s.WarmupEpochs = context.GetParamOr(c.ctx, ParamWarmupEpochs, s.WarmupEpochs)
	s.ItersPerEpoch = context.GetParamOr(c.ctx, ParamItersPerEpoch, s.ItersPerEpoch)
	s.DecayFactor = context.GetParamOr(c.ctx, ParamDecayFactor, s.DecayFactor)
	s.Power = context.GetParamOr(c.ctx, ParamPower, s.Power)
	decayEpochs := context.GetParamOr(c.ctx, ParamDecayEpochs, []int(nil))
	s.DecayEpochs = ShiftBoundaries(decayEpochs, s.WarmupEpochs)
	return c
}

// FromContext returns the schedule configured by the hyperparameters in ctx, to be evaluated in Go.
func FromContext(ctx *context.Context) Schedule {
	return New(ctx, nil, dtypes.Float32).FromContext().schedule
}

// Schedule sets all values of the schedule at once.
func (c *Config) Schedule(s Schedule) *Config {
	c.schedule = s
	return c
}

// Done creates the update counter and sets the optimizer learning rate variable to the scheduled value.
// It is a no-op if the graph is not a training graph.
//
// It panics (with exceptions.Panicf) if the schedule is invalid.
func (c *Config) Done() {
	ctx := c.ctx.Checked(false)
	g := c.graph
	if !ctx.IsTraining(g) {
		return
	}
	if err := c.schedule.Validate(); err != nil {
		exceptions.Panicf("invalid learning rate schedule: %+v", err)
	}
	update := optimizers.IncrementGlobalStepGraph(ctx.In(optimizers.Scope).In(Scope), g, dtypes.Int64)
	lr := c.schedule.Graph(update, c.dtype)
	lrVar := optimizers.LearningRateVarWithValue(ctx, c.dtype, c.schedule.BaseLR)
	lrVar.SetValueGraph(lr)
}

// Graph returns the learning rate for the given update number (an integer scalar node), in dtype.
// It follows the same formula as LearningRate.
func (s *Schedule) Graph(update *Node, dtype dtypes.DType) *Node {
	g := update.Graph()
	warmup, decay := s.WarmupUpdates(), s.DecayUpdates()
	update = MinScalar(update, float64(warmup+decay-1))
	u := ConvertDType(update, dtype)

	// Warmup: linear from 0 to BaseLR.
	warmupLR := MulScalar(progressGraph(u, warmup), s.BaseLR)

	t := AddScalar(u, float64(-warmup))
	var decayLR *Node
	if s.Mode == ModeStep {
		count := ScalarZero(g, dtype)
		for _, e := range s.DecayEpochs {
			passed := GreaterOrEqual(t, Scalar(g, dtype, float64(e*s.ItersPerEpoch)))
			count = Add(count, ConvertDType(passed, dtype))
		}
		decayLR = MulScalar(Pow(Scalar(g, dtype, s.DecayFactor), count), s.BaseLR)
	} else {
		p := progressGraph(t, decay)
		var factor *Node
		switch s.Mode {
		case ModePoly:
			factor = Pow(OneMinus(p), Scalar(g, dtype, s.power()))
		case ModeCosine:
			factor = DivScalar(OnePlus(Cos(MulScalar(p, math.Pi))), 2)
		default:
			exceptions.Panicf("unknown learning rate mode %q", s.Mode)
		}
		decayLR = MulScalar(factor, s.BaseLR)
	}
	if warmup == 0 {
		return decayLR
	}
	inWarmup := LessThan(u, Scalar(g, dtype, float64(warmup)))
	return Where(inWarmup, warmupLR, decayLR)
}

// progressGraph is the graph version of progress.
func progressGraph(t *Node, n int) *Node {
	last := n - 1
	if last <= 0 {
		return OnesLike(t)
	}
	return DivScalar(ClipScalar(t, 0, float64(last)), float64(last))
}
