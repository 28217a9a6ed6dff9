// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package schedule_test

import (
	"fmt"
	"math"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/simplepose/pkg/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestShiftBoundaries(t *testing.T) {
	assert.Equal(t, []int{35, 55}, schedule.ShiftBoundaries([]int{40, 60}, 5))
	assert.Equal(t, []int{40, 60}, schedule.ShiftBoundaries([]int{40, 60}, 0))
	assert.Empty(t, schedule.ShiftBoundaries(nil, 5))
}

func TestWarmupAndDecay(t *testing.T) {
	const (
		baseLR        = 1e-3
		numEpochs     = 20
		warmupEpochs  = 5
		itersPerEpoch = 10
	)
	for _, mode := range []string{schedule.ModePoly, schedule.ModeCosine} {
		t.Run(mode, func(t *testing.T) {
			s := &schedule.Schedule{
				BaseLR:        baseLR,
				Mode:          mode,
				NumEpochs:     numEpochs,
				WarmupEpochs:  warmupEpochs,
				ItersPerEpoch: itersPerEpoch,
			}
			require.NoError(t, s.Validate())
			assert.Equal(t, 0.0, s.EpochLearningRate(0))
			assert.Equal(t, baseLR, s.EpochLearningRate(warmupEpochs))
			assert.Equal(t, 0.0, s.EpochLearningRate(numEpochs))
			assert.Equal(t, 0.0, s.LearningRate(s.TotalUpdates()+100))

			// Increasing during warmup, non-increasing afterward.
			previous := s.LearningRate(0)
			for update := 1; update <= s.TotalUpdates(); update++ {
				lr := s.LearningRate(update)
				if update <= s.WarmupUpdates() {
					assert.GreaterOrEqualf(t, lr, previous, "update %d", update)
				} else {
					assert.LessOrEqualf(t, lr, previous, "update %d", update)
				}
				previous = lr
			}
		})
	}
}

func TestStepMode(t *testing.T) {
	s := &schedule.Schedule{
		BaseLR:        0.1,
		Mode:          schedule.ModeStep,
		NumEpochs:     70,
		WarmupEpochs:  5,
		ItersPerEpoch: 4,
		DecayEpochs:   schedule.ShiftBoundaries([]int{40, 60}, 5),
		DecayFactor:   0.1,
	}
	require.NoError(t, s.Validate())
	assert.Equal(t, 0.1, s.EpochLearningRate(5))
	assert.Equal(t, 0.1, s.EpochLearningRate(39))
	assert.InDelta(t, 0.01, s.EpochLearningRate(40), 1e-12)
	assert.InDelta(t, 0.01, s.EpochLearningRate(59), 1e-12)
	assert.InDelta(t, 0.001, s.EpochLearningRate(60), 1e-12)

	// "step" mode never reaches 0.
	assert.InDelta(t, 0.001, s.EpochLearningRate(70), 1e-12)
}

func TestNoWarmup(t *testing.T) {
	s := &schedule.Schedule{
		BaseLR:        0.5,
		Mode:          schedule.ModeCosine,
		NumEpochs:     2,
		ItersPerEpoch: 3,
	}
	assert.Equal(t, 0.5, s.LearningRate(0))
	assert.Equal(t, 0.5, s.EpochLearningRate(0))
	// Updates 0 to 5 span the cosine.
	assert.InDelta(t, 0.5*(1+math.Cos(math.Pi*3/5))/2, s.EpochLearningRate(1), 1e-9)
	assert.Equal(t, 0.0, s.LearningRate(5))
	assert.Equal(t, 0.0, s.EpochLearningRate(2))
}

func TestValidate(t *testing.T) {
	s := schedule.Schedule{Mode: "exponential", ItersPerEpoch: 1, NumEpochs: 1}
	require.Error(t, s.Validate())
	s = schedule.Schedule{Mode: schedule.ModeStep, ItersPerEpoch: 0, NumEpochs: 1}
	require.Error(t, s.Validate())
	s = schedule.Schedule{Mode: schedule.ModeStep, ItersPerEpoch: 1, NumEpochs: 1, WarmupEpochs: -1}
	require.Error(t, s.Validate())
}

func TestUnsortedDecayEpochs(t *testing.T) {
	sorted := schedule.Schedule{BaseLR: 1, Mode: schedule.ModeStep, NumEpochs: 10, ItersPerEpoch: 2,
		DecayEpochs: []int{2, 5}, DecayFactor: 0.1}
	unsorted := sorted
	unsorted.DecayEpochs = []int{5, 2}
	require.NoError(t, unsorted.Validate())
	for update := 1; update <= sorted.TotalUpdates(); update++ {
		assert.Equal(t, sorted.LearningRate(update), unsorted.LearningRate(update), "update %d", update)
	}
}

func TestWarmupLongerThanTraining(t *testing.T) {
	s := schedule.Schedule{BaseLR: 1, Mode: schedule.ModeCosine, NumEpochs: 2, WarmupEpochs: 4, ItersPerEpoch: 3}
	require.NoError(t, s.Validate())
	assert.Equal(t, 0, s.DecayUpdates())
	prev := -1.0
	for update := 1; update <= s.TotalUpdates(); update++ {
		lr := s.LearningRate(update)
		assert.Greater(t, lr, prev, "update %d", update)
		assert.Less(t, lr, 1.0, "update %d", update)
		prev = lr
	}
}

// TestGraphSchedule checks that the learning rate set in the training graph follows Schedule.LearningRate.
func TestGraphSchedule(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, mode := range []string{schedule.ModeStep, schedule.ModePoly, schedule.ModeCosine} {
		t.Run(mode, func(t *testing.T) {
			ctx := context.New().Checked(false)
			ctx.SetParams(map[string]any{
				optimizers.ParamLearningRate: 0.01,
				schedule.ParamMode:           mode,
				schedule.ParamNumEpochs:      6,
				schedule.ParamWarmupEpochs:   2,
				schedule.ParamItersPerEpoch:  5,
				schedule.ParamDecayEpochs:    []int{3, 5},
				schedule.ParamDecayFactor:    0.5,
			})
			want := &schedule.Schedule{
				BaseLR:        0.01,
				Mode:          mode,
				NumEpochs:     6,
				WarmupEpochs:  2,
				ItersPerEpoch: 5,
				DecayEpochs:   []int{1, 3},
				DecayFactor:   0.5,
				Power:         schedule.DefaultPower,
			}
			lrExec, err := context.NewExec(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
				ctx.SetTraining(g, true)
				schedule.New(ctx, g, dtypes.Float32).FromContext().Done()
				return optimizers.LearningRateVar(ctx, dtypes.Float32, 1e3).ValueGraph(g)
			})
			require.NoError(t, err)

			for update := 1; update <= want.TotalUpdates()+2; update++ {
				lrT, err := lrExec.Exec1()
				require.NoErrorf(t, err, "failed for update %d", update)
				stepVar := ctx.GetVariableByScopeAndName(
					fmt.Sprintf("/%s/%s", optimizers.Scope, schedule.Scope),
					optimizers.GlobalStepVariableName)
				require.NotNil(t, stepVar)
				assert.Equal(t, int64(update), stepVar.MustValue().Value().(int64))
				assert.InDeltaf(t, want.LearningRate(update), float64(tensors.ToScalar[float32](lrT)), 1e-6,
					"update %d", update)
			}
		})
	}
}

// TestGraphScheduleInference checks that inference graphs don't change the learning rate.
func TestGraphScheduleInference(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New().Checked(false)
	ctx.SetParams(map[string]any{
		optimizers.ParamLearningRate: 0.01,
		schedule.ParamNumEpochs:      2,
		schedule.ParamItersPerEpoch:  5,
	})
	lrExec, err := context.NewExec(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		schedule.New(ctx, g, dtypes.Float32).FromContext().Done()
		return optimizers.LearningRateVar(ctx, dtypes.Float32, 0.01).ValueGraph(g)
	})
	require.NoError(t, err)
	lrT, err := lrExec.Exec1()
	require.NoError(t, err)
	assert.InDelta(t, 0.01, float64(tensors.ToScalar[float32](lrT)), 1e-9)
	assert.Nil(t, ctx.GetVariableByScopeAndName(
		fmt.Sprintf("/%s/%s", optimizers.Scope, schedule.Scope), optimizers.GlobalStepVariableName))
}
