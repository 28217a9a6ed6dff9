// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package posenet builds the pose estimation networks: a ResNet (v1b) backbone followed by an upsampling
// head that outputs one heatmap per joint, at a quarter of the input resolution.
//
// Networks are selected by name from a registry (see Names). Variables are created under the
// BackboneScope and HeadScope sub-scopes of the context given to the model function.
package posenet

import (
	"maps"
	"slices"
	"sync"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/pkg/errors"
)

// Scopes of the variables of the network, relative to the model scope.
const (
	BackboneScope = "backbone"
	HeadScope     = "head"
)

// HeadFn builds the head of a network, given the backbone features shaped [batch, h, w, channels].
// It returns the heatmaps shaped [batch, 8*h, 8*w, numJoints].
type HeadFn func(ctx *context.Context, features *Node, numJoints int) *Node

// Architecture of a registered network.
type Architecture struct {
	Name string

	// Depth of the ResNet v1b backbone: 18, 34, 50, 101 or 152.
	Depth int

	Head HeadFn
}

// Options of the network built by Build.
type Options struct {
	NumJoints int

	// LastGamma initializes to zero the scale of the last batch normalization of each residual block.
	LastGamma bool

	// PretrainedBackbone indicates that only the backbone variables are loaded from pretrained weights:
	// the head is then initialized with a normal distribution of standard deviation HeadStdDev. Otherwise,
	// all weights are initialized with the MSRA (He) initializer.
	PretrainedBackbone bool
}

// HeadStdDev is the standard deviation of the head weights when the backbone is pretrained.
const HeadStdDev = 0.001

var (
	muRegistry sync.Mutex
	registry   = make(map[string]*Architecture)
)

// Register an architecture under its name. It returns an error if the name is already registered.
func Register(arch *Architecture) error {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	if arch.Name == "" || arch.Head == nil {
		return errors.Errorf("architecture must have a name and a head")
	}
	if _, found := resnetBlocks[arch.Depth]; !found {
		return errors.Errorf("architecture %q: invalid ResNet depth %d", arch.Name, arch.Depth)
	}
	if _, found := registry[arch.Name]; found {
		return errors.Errorf("architecture %q already registered", arch.Name)
	}
	registry[arch.Name] = arch
	return nil
}

// Names returns the sorted names of the registered architectures.
func Names() []string {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	return slices.Sorted(maps.Keys(registry))
}

// Lookup returns the architecture registered under name.
func Lookup(name string) (*Architecture, error) {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	arch, found := registry[name]
	if !found {
		return nil, errors.Errorf("unknown model %q, valid models are %q", name, slices.Sorted(maps.Keys(registry)))
	}
	return arch, nil
}

// Build returns the model function (train.ModelFn) of the named network.
//
// The model function takes the images shaped [batch, height, width, 3] as its first input, and returns the
// heatmaps shaped [batch, height/4, width/4, numJoints]. The network is always float32: images of other
// dtypes are converted.
func Build(name string, opts Options) (train.ModelFn, error) {
	arch, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	if opts.NumJoints <= 0 {
		return nil, errors.Errorf("invalid number of joints %d", opts.NumJoints)
	}
	return func(ctx *context.Context, spec any, inputs []*Node) []*Node {
		_ = spec
		images := inputs[0]
		if images.DType() != dtypes.Float32 {
			images = ConvertDType(images, dtypes.Float32)
		}
		return []*Node{arch.Graph(ctx, images, opts)}
	}, nil
}

// Graph builds the network for the given images, and returns the heatmaps.
//
// If ctx has a loader (see LoadPretrained), the network is built with ctx.Checked(false): variables supplied by
// the loader already exist when the network asks for them, and the others are created.
func (arch *Architecture) Graph(ctx *context.Context, images *Node, opts Options) *Node {
	if ctx.Loader() != nil {
		ctx = ctx.Checked(false)
	}
	ctx = ctx.WithInitializer(msraInitializer(ctx))
	features := ResNetV1b(ctx.In(BackboneScope), images, arch.Depth, opts.LastGamma)
	headCtx := ctx.In(HeadScope)
	if opts.PretrainedBackbone {
		headCtx = headCtx.WithInitializer(normalInitializer(ctx, HeadStdDev))
	}
	return arch.Head(headCtx, features, opts.NumJoints)
}

func init() {
	for _, depth := range []int{18, 34, 50, 101, 152} {
		mustRegister(&Architecture{Name: simplePoseName(depth), Depth: depth, Head: SimpleHead})
	}
	for _, depth := range []int{18, 50} {
		mustRegister(&Architecture{Name: mobilePoseName(depth), Depth: depth, Head: MobileHead})
	}
}

func mustRegister(arch *Architecture) {
	if err := Register(arch); err != nil {
		panic(err)
	}
}
