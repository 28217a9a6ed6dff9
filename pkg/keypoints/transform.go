// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package keypoints

import (
	"image"
	"math/rand/v2"

	"github.com/disintegration/imaging"
	"github.com/gomlx/simplepose/pkg/config"
	"github.com/pkg/errors"
)

// Default augmentation parameters for training.
const (
	DefaultScaleFactor    = 0.30
	DefaultRotationFactor = 40.0

	// rotationProbability is the probability of applying a random rotation.
	rotationProbability = 0.6
)

// TrainTransform crops the person of a Sample out of its image with random scale, rotation and horizontal
// flip, normalizes the pixels and renders the target heatmaps.
type TrainTransform struct {
	// InputSize and HeatmapSize as (height, width).
	InputSize, HeatmapSize [2]int

	// Sigma of the Gaussians rendered in the heatmaps.
	Sigma float64

	// ScaleFactor: the crop is scaled by a factor in [1-ScaleFactor, 1+ScaleFactor].
	ScaleFactor float64

	// RotationFactor is the standard deviation, in degrees, of random rotations, clipped to twice its value.
	RotationFactor float64

	// RandomFlip enables random horizontal flips, swapping the joints in JointPairs.
	RandomFlip bool
	JointPairs []JointPair

	// Mean and Std per RGB channel, applied to pixels scaled to [0, 1].
	Mean, Std [3]float64
}

// NewTrainTransform returns the default training transform for the given input size.
func NewTrainTransform(inputSize [2]int, sigma float64, mean, std [3]float64, pairs []JointPair) *TrainTransform {
	return &TrainTransform{
		InputSize:      inputSize,
		HeatmapSize:    config.HeatmapSize(inputSize),
		Sigma:          sigma,
		ScaleFactor:    DefaultScaleFactor,
		RotationFactor: DefaultRotationFactor,
		RandomFlip:     true,
		JointPairs:     pairs,
		Mean:           mean,
		Std:            std,
	}
}

// ImageSize is the number of values of one transformed image.
func (t *TrainTransform) ImageSize() int { return t.InputSize[0] * t.InputSize[1] * 3 }

// HeatmapsSize is the number of values of the heatmaps of one sample with numJoints joints.
func (t *TrainTransform) HeatmapsSize(numJoints int) int {
	return t.HeatmapSize[0] * t.HeatmapSize[1] * numJoints
}

// Apply transforms the sample s of image img.
//
// It writes the normalized image to pixels ([H, W, 3]), the heatmaps to heatmaps ([H/4, W/4, numJoints], which must
// be zeroed) and the joint weights to weights ([numJoints]).
func (t *TrainTransform) Apply(img image.Image, s *Sample, rng *rand.Rand, pixels, heatmaps, weights []float32) error {
	numJoints := len(s.Joints)
	if len(pixels) != t.ImageSize() || len(heatmaps) != t.HeatmapsSize(numJoints) || len(weights) != numJoints {
		return errors.Errorf("invalid buffer sizes for transform of image %d", s.ImageID)
	}
	inH, inW := t.InputSize[0], t.InputSize[1]
	cx, cy, scaleW, _ := boxCenterScale(s.Box, float64(inW)/float64(inH))

	// Random scale and rotation.
	sf := t.ScaleFactor
	scaleW *= clip(rng.NormFloat64()*sf+1, 1-sf, 1+sf)
	var rot float64
	if rng.Float64() <= rotationProbability {
		rf := t.RotationFactor
		rot = clip(rng.NormFloat64()*rf, -2*rf, 2*rf)
	}

	src := imaging.Clone(img)
	joints := s.Joints
	if t.RandomFlip && rng.Float64() > 0.5 {
		src = imaging.FlipH(src)
		width := src.Bounds().Dx()
		joints = flipJoints(joints, width, t.JointPairs)
		cx = float64(width) - cx - 1
	}

	m := cropTransform(cx, cy, scaleW, rot, inW, inH)
	warpNormalized(src, m, inW, inH, t.Mean, t.Std, pixels)

	transformed := make([]Joint, numJoints)
	for ii, j := range joints {
		if j.Visible {
			j.X, j.Y = m.apply(j.X, j.Y)
		}
		transformed[ii] = j
	}
	renderTargets(transformed, t.InputSize, t.HeatmapSize, t.Sigma, heatmaps, weights)
	return nil
}

func clip(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}
