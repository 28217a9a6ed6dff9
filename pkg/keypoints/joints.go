// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package keypoints

import "strings"

// COCOJointNames are the 17 keypoints of the COCO "person" category, in order.
var COCOJointNames = []string{
	"nose", "left_eye", "right_eye", "left_ear", "right_ear",
	"left_shoulder", "right_shoulder", "left_elbow", "right_elbow",
	"left_wrist", "right_wrist", "left_hip", "right_hip",
	"left_knee", "right_knee", "left_ankle", "right_ankle",
}

// JointPair is a pair of joint indices swapped by a horizontal flip.
type JointPair [2]int

// FlipPairs returns the pairs of joints that swap under a horizontal flip, matching "left_<x>" with "right_<x>".
// Pairs are ordered by the index of their "left_" joint, and joints without a counterpart are not paired.
func FlipPairs(names []string) []JointPair {
	index := make(map[string]int, len(names))
	for ii, name := range names {
		index[name] = ii
	}
	var pairs []JointPair
	for ii, name := range names {
		part, found := strings.CutPrefix(name, "left_")
		if !found {
			continue
		}
		if jj, found := index["right_"+part]; found {
			pairs = append(pairs, JointPair{ii, jj})
		}
	}
	return pairs
}

// flipJoints mirrors the joints horizontally on an image of the given width, and swaps the paired joints.
func flipJoints(joints []Joint, width int, pairs []JointPair) []Joint {
	flipped := make([]Joint, len(joints))
	for ii, j := range joints {
		if j.Visible {
			j.X = float64(width) - j.X - 1
		}
		flipped[ii] = j
	}
	for _, pair := range pairs {
		flipped[pair[0]], flipped[pair[1]] = flipped[pair[1]], flipped[pair[0]]
	}
	return flipped
}
