// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package keypoints

import "math"

// renderTargets writes the heatmaps ([heatH, heatW, numJoints] channels-last, expected zeroed) and the
// joint weights ([numJoints]) for joints given in input image coordinates.
//
// Each visible joint gets an unnormalized Gaussian (value 1 at its center) of the given sigma, truncated at
// 3*sigma, centered at the joint position divided by the stride (input size / heatmap size). Joints not
// visible, or whose Gaussian falls completely outside the heatmap, get weight 0 and no Gaussian.
func renderTargets(joints []Joint, inputSize, heatmapSize [2]int, sigma float64, heatmaps, weights []float32) {
	heatH, heatW := heatmapSize[0], heatmapSize[1]
	numJoints := len(joints)
	strideY := float64(inputSize[0]) / float64(heatH)
	strideX := float64(inputSize[1]) / float64(heatW)
	radius := sigma * 3
	size := int(2*radius + 1)
	center := size / 2

	// Gaussian kernel, shared by all joints.
	kernel := make([]float32, size*size)
	for y := range size {
		for x := range size {
			dx, dy := float64(x-center), float64(y-center)
			kernel[y*size+x] = float32(math.Exp(-(dx*dx + dy*dy) / (2 * sigma * sigma)))
		}
	}

	for j, joint := range joints {
		weights[j] = 0
		if !joint.Visible {
			continue
		}
		muX := int(joint.X/strideX + 0.5)
		muY := int(joint.Y/strideY + 0.5)
		ulX, ulY := int(float64(muX)-radius), int(float64(muY)-radius)
		brX, brY := int(float64(muX)+radius+1), int(float64(muY)+radius+1)
		if ulX >= heatW || ulY >= heatH || brX < 0 || brY < 0 {
			continue
		}
		weights[j] = 1

		// Intersection of the kernel window with the heatmap.
		x0, x1 := max(0, ulX), min(brX, heatW, ulX+size)
		y0, y1 := max(0, ulY), min(brY, heatH, ulY+size)
		for y := y0; y < y1; y++ {
			ky := y - ulY
			for x := x0; x < x1; x++ {
				kx := x - ulX
				heatmaps[(y*heatW+x)*numJoints+j] = kernel[ky*size+kx]
			}
		}
	}
}
