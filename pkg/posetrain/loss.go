// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package posetrain

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
)

// MaskedL2 is the heatmap loss: 0.5 * mean(w * (prediction - target)^2).
//
// labels are the target heatmaps shaped [batch, height, width, joints] and the joint weights shaped
// [batch, joints], broadcast over the heatmap pixels. A joint with weight 0 contributes nothing.
// It is computed in float32, whatever the dtype of the model.
func MaskedL2(labels, predictions []*Node) *Node {
	if len(labels) != 2 || len(predictions) != 1 {
		exceptions.Panicf("MaskedL2 requires labels (heatmaps, weights) and one prediction, got %d and %d",
			len(labels), len(predictions))
	}
	targets := ConvertDType(labels[0], dtypes.Float32)
	heatmaps := ConvertDType(predictions[0], dtypes.Float32)
	weights := ConvertDType(labels[1], dtypes.Float32)
	if weights.Rank() != 2 || targets.Rank() != 4 {
		exceptions.Panicf("MaskedL2 requires heatmaps [batch, height, width, joints] and weights [batch, joints], "+
			"got %s and %s", targets.Shape(), weights.Shape())
	}
	// [batch, joints] -> [batch, height, width, joints].
	weights = BroadcastToDims(InsertAxes(weights, 1, 1), targets.Shape().Dimensions...)
	return MulScalar(ReduceAllMean(Mul(weights, Square(Sub(heatmaps, targets)))), 0.5)
}

// addWeightDecay adds 0.5 * wd * sum(w^2) over the trainable variables of the network to the training loss.
// If noBiasDecay is set, biases and batch normalization scale and offset are not decayed.
func addWeightDecay(ctx *context.Context, g *Graph, wd float64, noBiasDecay bool) {
	if wd <= 0 || !ctx.IsTraining(g) {
		return
	}
	var sum *Node
	for v := range ctx.IterVariables() {
		if !v.Trainable || !isNetworkVariable(ctx, v) {
			continue
		}
		if noBiasDecay && skipDecay[v.Name()] {
			continue
		}
		w := ConvertDType(v.ValueGraph(g), dtypes.Float32)
		term := ReduceAllSum(Square(w))
		if sum == nil {
			sum = term
		} else {
			sum = Add(sum, term)
		}
	}
	if sum != nil {
		train.AddLoss(ctx, MulScalar(sum, 0.5*wd))
	}
}

// skipDecay lists the variable names excluded from weight decay with -no_wd.
var skipDecay = map[string]bool{
	"biases": true,
	"scale":  true,
	"offset": true,
}
