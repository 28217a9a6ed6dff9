// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package posetrain

import (
	"fmt"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
)

// Accuracy settings: a joint is a hit if its normalized distance to the target is below accuracyThreshold,
// where coordinates are normalized by a tenth of the heatmap size.
const (
	accuracyThreshold = 0.5
	accuracyNorm      = 10.0
)

// HeatmapAccuracyGraph returns the fraction of correctly located joints, as a float32 scalar.
//
// Locations are the argmax of each heatmap (only where the maximum is positive). Targets located at x<=1 or
// y<=1 are not counted. The accuracy is the mean, over the joints with at least one counted target in the
// batch, of the joint hit rate. It is 0 if no joint is counted.
func HeatmapAccuracyGraph(_ *context.Context, labels, predictions []*Node) *Node {
	g := predictions[0].Graph()
	dims := predictions[0].Shape().Dimensions
	height, width := dims[1], dims[2]
	predX, predY := heatmapPeaks(predictions[0])
	targetX, targetY := heatmapPeaks(labels[0])

	// Same normalization as pairs (x, y) / ([height, width] / 10).
	normX, normY := float64(height)/accuracyNorm, float64(width)/accuracyNorm
	dx := DivScalar(Sub(predX, targetX), normX)
	dy := DivScalar(Sub(predY, targetY), normY)
	dist := Sqrt(Add(Square(dx), Square(dy)))

	counted := And(GreaterThan(targetX, Scalar(g, dtypes.Float32, 1)), GreaterThan(targetY, Scalar(g, dtypes.Float32, 1)))
	hit := And(counted, LessThan(dist, Scalar(g, dtypes.Float32, accuracyThreshold)))

	// Per joint rates: shaped [joints].
	numCounted := ReduceSum(ConvertDType(counted, dtypes.Float32), 0)
	numHits := ReduceSum(ConvertDType(hit, dtypes.Float32), 0)
	hasCounted := GreaterThan(numCounted, ZerosLike(numCounted))
	rates := Div(numHits, Max(numCounted, OnesLike(numCounted)))

	numJoints := ReduceAllSum(ConvertDType(hasCounted, dtypes.Float32))
	acc := Div(ReduceAllSum(Where(hasCounted, rates, ZerosLike(rates))), Max(numJoints, OnesLike(numJoints)))
	return StopGradient(acc)
}

// heatmapPeaks returns the (x, y) location, as float32 [batch, joints], of the maximum of each heatmap of
// x shaped [batch, height, width, joints]. Locations of heatmaps whose maximum is not positive are (0, 0).
func heatmapPeaks(x *Node) (px, py *Node) {
	dims := x.Shape().Dimensions
	batch, height, width, joints := dims[0], dims[1], dims[2], dims[3]
	flat := Reshape(TransposeAllAxes(ConvertDType(x, dtypes.Float32), 0, 3, 1, 2), batch, joints, height*width)
	idx := ArgMax(flat, -1)
	peak := ReduceMax(flat, -1)
	rowSize := Scalar(idx.Graph(), idx.DType(), width)
	px = ConvertDType(Mod(idx, rowSize), dtypes.Float32)
	py = ConvertDType(Div(idx, rowSize), dtypes.Float32)
	positive := GreaterThan(peak, ZerosLike(peak))
	px = Where(positive, px, ZerosLike(px))
	py = Where(positive, py, ZerosLike(py))
	return
}

// Metric names, as displayed in logs and progress bars.
const (
	LossMetricName     = "l2"
	AccuracyMetricName = "acc"
)

// newTrainMetrics returns the per-batch loss and accuracy metrics.
// They hold no state: averages over an epoch are taken in Go.
func newTrainMetrics() []metrics.Interface {
	return []metrics.Interface{
		metrics.NewBaseMetric("Heatmap L2 loss", LossMetricName, metrics.LossMetricType,
			func(_ *context.Context, labels, predictions []*Node) *Node {
				return StopGradient(MaskedL2(labels, predictions))
			}, nil),
		metrics.NewBaseMetric("Heatmap accuracy", AccuracyMetricName, metrics.AccuracyMetricType,
			HeatmapAccuracyGraph, accuracyPPrint),
	}
}

func accuracyPPrint(value *tensors.Tensor) string {
	return fmt.Sprintf("%.2f%%", 100*shapes.ConvertTo[float64](value.Value()))
}
