// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package posenet

import (
	"path/filepath"
	"slices"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/simplepose/pkg/paramsfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestRegistry(t *testing.T) {
	names := Names()
	for _, name := range []string{
		"simple_pose_resnet18_v1b", "simple_pose_resnet34_v1b", "simple_pose_resnet50_v1b",
		"simple_pose_resnet101_v1b", "simple_pose_resnet152_v1b",
		"mobile_pose_resnet18_v1b", "mobile_pose_resnet50_v1b",
	} {
		assert.Contains(t, names, name)
	}
	assert.True(t, slices.IsSorted(names))

	arch, err := Lookup("simple_pose_resnet50_v1b")
	require.NoError(t, err)
	assert.Equal(t, 50, arch.Depth)

	_, err = Lookup("simple_pose_resnet42_v1b")
	require.Error(t, err)
	_, err = Build("simple_pose_resnet18_v1b", Options{NumJoints: 0})
	require.Error(t, err)

	// Duplicates and invalid depths.
	require.Error(t, Register(&Architecture{Name: "simple_pose_resnet18_v1b", Depth: 18, Head: SimpleHead}))
	require.Error(t, Register(&Architecture{Name: "test_pose_resnet19", Depth: 19, Head: SimpleHead}))
}

func TestPixelShuffle(t *testing.T) {
	graphtest.RunTestGraphFn(t, "PixelShuffle", func(g *Graph) (inputs, outputs []*Node) {
		x := IotaFull(g, shapes.Make(dtypes.Float32, 1, 1, 2, 8))
		inputs = []*Node{x}
		outputs = []*Node{PixelShuffle(x, 2)}
		return
	}, []any{
		// Channel c*4 + i*2 + j goes to sub-pixel (i, j) of channel c: output[i][2*w+j][c] = 8*w + 4*c + 2*i + j.
		[][][][]float32{{
			{{0, 4}, {1, 5}, {8, 12}, {9, 13}},
			{{2, 6}, {3, 7}, {10, 14}, {11, 15}},
		}},
	}, -1)
}

// buildHeatmaps runs the named network on zero images of the given size, and returns the heatmaps.
func buildHeatmaps(t *testing.T, ctx *context.Context, name string, opts Options, height, width int) *tensors.Tensor {
	backend := graphtest.BuildTestBackend()
	modelFn, err := Build(name, opts)
	require.NoError(t, err)
	exec, err := context.NewExec(backend, ctx, func(ctx *context.Context, images *Node) *Node {
		return modelFn(ctx, nil, []*Node{images})[0]
	})
	require.NoError(t, err)
	images := tensors.FromShape(shapes.Make(dtypes.Float32, 2, height, width, 3))
	heatmaps, err := exec.Exec1(images)
	require.NoError(t, err)
	return heatmaps
}

func TestOutputShapes(t *testing.T) {
	for _, name := range []string{"simple_pose_resnet18_v1b", "mobile_pose_resnet18_v1b"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.New().In("model")
			heatmaps := buildHeatmaps(t, ctx, name, Options{NumJoints: 17}, 64, 48)
			assert.Equal(t, []int{2, 16, 12, 17}, heatmaps.Shape().Dimensions)
			assert.Equal(t, dtypes.Float32, heatmaps.DType())
		})
	}
}

func TestLastGamma(t *testing.T) {
	ctx := context.New().In("model")
	_ = buildHeatmaps(t, ctx, "simple_pose_resnet18_v1b", Options{NumJoints: 3, LastGamma: true}, 32, 32)

	lastScale := ctx.GetVariableByScopeAndName("/model/backbone/layer1/block0/conv2/batch_normalization", "scale")
	require.NotNil(t, lastScale)
	assert.Equal(t, make([]float32, 64), lastScale.MustValue().Value())

	firstScale := ctx.GetVariableByScopeAndName("/model/backbone/layer1/block0/conv1/batch_normalization", "scale")
	require.NotNil(t, firstScale)
	assert.Equal(t, slices.Repeat([]float32{1}, 64), firstScale.MustValue().Value())

	// Biases start at zero.
	bias := ctx.GetVariableByScopeAndName("/model/head/final/conv", "biases")
	require.NotNil(t, bias)
	assert.Equal(t, make([]float32, 3), bias.MustValue().Value())
}

func TestLoadPretrained(t *testing.T) {
	stemWeights := make([]float32, 7*7*3*64)
	for ii := range stemWeights {
		stemWeights[ii] = 0.5
	}
	values := map[string]*tensors.Tensor{
		"/model/backbone/stem/conv/weights":  tensors.FromFlatDataAndDimensions(stemWeights, 7, 7, 3, 64),
		"/model/head/final/conv/biases":      tensors.FromValue([]float32{7, 7, 7}),
		"/model/optimizers/adam/some_moment": tensors.FromValue(float32(1)),
		"/other/backbone/stem/conv/weights":  tensors.FromValue(float32(1)),
	}
	filePath := filepath.Join(t.TempDir(), "pretrained"+paramsfile.ParamsExt)
	require.NoError(t, paramsfile.Write(filePath, paramsfile.Header{Kind: paramsfile.KindParams}, values))

	for _, backboneOnly := range []bool{true, false} {
		ctx := context.New().In("model")
		numVars, err := LoadPretrained(ctx, filePath, backboneOnly)
		require.NoError(t, err)
		if backboneOnly {
			assert.Equal(t, 1, numVars)
		} else {
			assert.Equal(t, 2, numVars)
		}
		_ = buildHeatmaps(t, ctx, "simple_pose_resnet18_v1b",
			Options{NumJoints: 3, PretrainedBackbone: backboneOnly}, 32, 32)
		stem := ctx.GetVariableByScopeAndName("/model/backbone/stem/conv", "weights")
		require.NotNil(t, stem)
		assert.Equal(t, stemWeights, tensors.MustCopyFlatData[float32](stem.MustValue()))
		bias := ctx.GetVariableByScopeAndName("/model/head/final/conv", "biases")
		require.NotNil(t, bias)
		if backboneOnly {
			assert.Equal(t, []float32{0, 0, 0}, bias.MustValue().Value())
		} else {
			assert.Equal(t, []float32{7, 7, 7}, bias.MustValue().Value())
		}
	}

	// Nothing to load.
	_, err := LoadPretrained(context.New().In("net"), filePath, true)
	require.Error(t, err)
	_, err = LoadPretrained(context.New().In("model"), filepath.Join(t.TempDir(), "missing"), true)
	require.Error(t, err)
}
