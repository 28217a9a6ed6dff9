// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package posetrain

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/simplepose/pkg/schedule"
)

// trainingModelFn wraps the network with the parts of the training graph that live in the model function:
// the learning rate schedule and the weight decay.
func trainingModelFn(network train.ModelFn) train.ModelFn {
	return func(ctx *context.Context, spec any, inputs []*Node) []*Node {
		g := inputs[0].Graph()
		schedule.New(ctx, g, dtypes.Float32).FromContext().Done()
		outputs := network(ctx, spec, inputs)
		addWeightDecay(ctx, g,
			context.GetParamOr(ctx, ParamWeightDecay, 0.0),
			context.GetParamOr(ctx, ParamNoBiasDecay, false))
		return outputs
	}
}
