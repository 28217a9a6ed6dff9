// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package posenet

import (
	"fmt"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
)

// Batch normalization settings of the networks.
const (
	bnMomentum = 0.9
	bnEpsilon  = 1e-5
)

// resnetBlocks is the number of residual blocks per stage, for each supported depth.
var resnetBlocks = map[int][4]int{
	18:  {2, 2, 2, 2},
	34:  {3, 4, 6, 3},
	50:  {3, 4, 6, 3},
	101: {3, 4, 23, 3},
	152: {3, 8, 36, 3},
}

// ResNetV1b builds a ResNet v1b for the images shaped [batch, height, width, channels], without the
// classification layers. It returns the features of the last stage, with stride 32 and 512 channels for
// depths 18 and 34, or 2048 channels for deeper networks.
//
// In v1b the stride of a bottleneck block is applied in its 3x3 convolution. If lastGamma is set, the
// scale of the last batch normalization of each block is initialized to zero.
func ResNetV1b(ctx *context.Context, images *Node, depth int, lastGamma bool) *Node {
	blocks, found := resnetBlocks[depth]
	if !found {
		exceptions.Panicf("ResNet v1b of depth %d not supported", depth)
	}
	bottleneck := depth >= 50

	x := convBN(ctx.In("stem"), images, 64, 7, 2, false)
	x = activations.Relu(x)
	x = MaxPool(x).Window(3).Strides(2).PadSame().Done()

	for stage, numBlocks := range blocks {
		planes := 64 << stage
		stageCtx := ctx.Inf("layer%d", stage+1)
		for blockIdx := range numBlocks {
			stride := 1
			if stage > 0 && blockIdx == 0 {
				stride = 2
			}
			blockCtx := stageCtx.Inf("block%d", blockIdx)
			if bottleneck {
				x = bottleneckBlock(blockCtx, x, planes, stride, lastGamma)
			} else {
				x = basicBlock(blockCtx, x, planes, stride, lastGamma)
			}
		}
	}
	return x
}

// basicBlock: two 3x3 convolutions.
func basicBlock(ctx *context.Context, x *Node, planes, stride int, lastGamma bool) *Node {
	residual := shortcut(ctx, x, planes, stride)
	y := activations.Relu(convBN(ctx.In("conv1"), x, planes, 3, stride, false))
	y = convBN(ctx.In("conv2"), y, planes, 3, 1, lastGamma)
	return activations.Relu(Add(y, residual))
}

// bottleneckBlock: 1x1 reduction, 3x3 (strided) and 1x1 expansion by 4.
func bottleneckBlock(ctx *context.Context, x *Node, planes, stride int, lastGamma bool) *Node {
	residual := shortcut(ctx, x, planes*4, stride)
	y := activations.Relu(convBN(ctx.In("conv1"), x, planes, 1, 1, false))
	y = activations.Relu(convBN(ctx.In("conv2"), y, planes, 3, stride, false))
	y = convBN(ctx.In("conv3"), y, planes*4, 1, 1, lastGamma)
	return activations.Relu(Add(y, residual))
}

// shortcut returns x, or its 1x1 projection if the number of channels or the resolution changes.
func shortcut(ctx *context.Context, x *Node, channels, stride int) *Node {
	if stride == 1 && x.Shape().Dimensions[x.Rank()-1] == channels {
		return x
	}
	return convBN(ctx.In("downsample"), x, channels, 1, stride, false)
}

// convBN is a convolution without bias followed by a batch normalization.
func convBN(ctx *context.Context, x *Node, channels, kernelSize, stride int, zeroGamma bool) *Node {
	x = layers.Convolution(ctx, x).
		Channels(channels).KernelSize(kernelSize).Strides(stride).
		PadSame().UseBias(false).Done()
	return batchNorm(ctx, x, zeroGamma)
}

// batchNorm normalizes the last axis of x. If zeroGamma is set, its scale is initialized to zero.
func batchNorm(ctx *context.Context, x *Node, zeroGamma bool) *Node {
	if zeroGamma {
		// Creates the scale before the layer does, with a different initializer.
		ctx = ctx.Checked(false)
		scaleShape := shapes.Make(x.DType(), x.Shape().Dimensions[x.Rank()-1])
		_ = ctx.In("batch_normalization").WithInitializer(initializers.Zero).
			VariableWithShape("scale", scaleShape).SetTrainable(true)
	}
	return batchnorm.New(ctx, x, -1).Momentum(bnMomentum).Epsilon(bnEpsilon).Done()
}

func simplePoseName(depth int) string { return fmt.Sprintf("simple_pose_resnet%d_v1b", depth) }

func mobilePoseName(depth int) string { return fmt.Sprintf("mobile_pose_resnet%d_v1b", depth) }
