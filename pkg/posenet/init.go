// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package posenet

import (
	"math"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
)

// msraSlope is the negative slope assumed by the MSRA initialization.
const msraSlope = 0.25

// msraInitializer draws kernels from a normal distribution with standard deviation
// sqrt(2 / (1 + slope^2) / ((fanIn + fanOut) / 2)), the MSRA ("He") initialization for PReLU networks,
// averaging the fan-in and fan-out. Rank 0 and 1 variables (biases) are initialized to zero.
//
// Kernels are expected in the layout [spatial dims..., inputChannels, outputChannels].
func msraInitializer(ctx *context.Context) context.VariableInitializer {
	return kernelInitializer(ctx, func(shape shapes.Shape) float64 {
		fanIn, fanOut := fans(shape)
		return math.Sqrt(2 / (1 + msraSlope*msraSlope) / (float64(fanIn+fanOut) / 2))
	})
}

// normalInitializer draws kernels from a normal distribution with the given standard deviation, and
// initializes rank 0 and 1 variables (biases) to zero.
func normalInitializer(ctx *context.Context, stddev float64) context.VariableInitializer {
	return kernelInitializer(ctx, func(shapes.Shape) float64 { return stddev })
}

func kernelInitializer(ctx *context.Context, stddevFn func(shape shapes.Shape) float64) context.VariableInitializer {
	return func(g *Graph, shape shapes.Shape) *Node {
		if shape.Rank() < 2 {
			return Zeros(g, shape)
		}
		return initializers.RandomNormalFn(ctx, stddevFn(shape))(g, shape)
	}
}

// fans returns the fan-in and fan-out of a kernel shaped [spatial dims..., inputChannels, outputChannels].
func fans(shape shapes.Shape) (fanIn, fanOut int) {
	dims := shape.Dimensions
	receptive := 1
	for _, d := range dims[:len(dims)-2] {
		receptive *= d
	}
	return dims[len(dims)-2] * receptive, dims[len(dims)-1] * receptive
}
