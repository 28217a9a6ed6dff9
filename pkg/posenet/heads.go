// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package posenet

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

// Head settings.
const (
	// simpleHeadChannels of each of the upsampling stages of SimpleHead.
	simpleHeadChannels = 256

	// mobileReduction is the number of channels of the 1x1 reduction of MobileHead.
	mobileReduction = 256
)

// mobileDUCPlanes are the channels of the convolution of each DUC stage of MobileHead, before the pixel shuffle.
var mobileDUCPlanes = [3]int{512, 256, 128}

// SimpleHead upsamples the features with three 2x upsampling stages of 256 channels, each followed by batch
// normalization and relu, and a final 1x1 convolution with bias to the joints heatmaps.
//
// Each upsampling stage is a learned sub-pixel convolution: a 3x3 convolution to 4 times the channels,
// rearranged by PixelShuffle.
func SimpleHead(ctx *context.Context, features *Node, numJoints int) *Node {
	x := features
	for stage := range 3 {
		stageCtx := ctx.Inf("upsample%d", stage)
		x = layers.Convolution(stageCtx, x).
			Channels(4 * simpleHeadChannels).KernelSize(3).PadSame().UseBias(false).Done()
		x = PixelShuffle(x, 2)
		x = activations.Relu(batchNorm(stageCtx, x, false))
	}
	return layers.Convolution(ctx.In("final"), x).Channels(numJoints).KernelSize(1).UseBias(true).Done()
}

// MobileHead reduces the features with a 1x1 convolution, upsamples them with three dense upsampling
// convolution (DUC) stages, and projects them to the joints heatmaps with a 1x1 convolution without bias.
//
// A DUC stage is a 3x3 convolution, batch normalization, relu and a PixelShuffle by 2 (which divides the
// number of channels by 4).
func MobileHead(ctx *context.Context, features *Node, numJoints int) *Node {
	x := layers.Convolution(ctx.In("reduction"), features).
		Channels(mobileReduction).KernelSize(1).UseBias(false).Done()
	for stage, planes := range mobileDUCPlanes {
		stageCtx := ctx.Inf("duc%d", stage)
		x = layers.Convolution(stageCtx, x).Channels(planes).KernelSize(3).PadSame().UseBias(false).Done()
		x = activations.Relu(batchNorm(stageCtx, x, false))
		x = PixelShuffle(x, 2)
	}
	return layers.Convolution(ctx.In("final"), x).Channels(numJoints).KernelSize(1).UseBias(false).Done()
}

// PixelShuffle rearranges x shaped [batch, h, w, c*r*r] to [batch, h*r, w*r, c]: the channel
// c*r*r + i*r + j of an input pixel goes to the sub-pixel (i, j) of channel c.
func PixelShuffle(x *Node, r int) *Node {
	if x.Rank() != 4 {
		exceptions.Panicf("PixelShuffle requires a rank-4 input, got %s", x.Shape())
	}
	dims := x.Shape().Dimensions
	batch, h, w, channels := dims[0], dims[1], dims[2], dims[3]
	if channels%(r*r) != 0 {
		exceptions.Panicf("PixelShuffle by %d requires channels divisible by %d, got %s", r, r*r, x.Shape())
	}
	c := channels / (r * r)
	x = Reshape(x, batch, h, w, c, r, r)
	x = TransposeAllAxes(x, 0, 1, 4, 2, 5, 3)
	return Reshape(x, batch, h*r, w*r, c)
}
