// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package keypointstest writes small COCO keypoints datasets for tests.
package keypointstest

import (
	"encoding/json"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/simplepose/pkg/keypoints"
	"github.com/stretchr/testify/require"
)

// WriteCOCO writes numImages solid images of the given size, each with one person whose joints are all
// visible, in the COCO layout of keypoints.DefaultSplit under a temporary directory. It returns the root.
func WriteCOCO(t testing.TB, numImages, width, height int) string {
	root := t.TempDir()
	imgDir := keypoints.ImageDir(root, keypoints.DefaultSplit)
	require.NoError(t, os.MkdirAll(imgDir, 0o755))

	numJoints := len(keypoints.COCOJointNames)
	var images, annotations []map[string]any
	for ii := range numImages {
		id := ii + 1
		fileName := fmt.Sprintf("%012d.jpg", id)
		img := imaging.New(width, height, color.NRGBA{R: uint8(40 * ii), G: 128, B: 200, A: 255})
		require.NoError(t, imaging.Save(img, filepath.Join(imgDir, fileName)))
		images = append(images, map[string]any{"id": id, "file_name": fileName, "width": width, "height": height})

		kps := make([]float64, 0, 3*numJoints)
		for joint := range numJoints {
			kps = append(kps, float64(width/4+joint%(width/2)), float64(height/4+joint%(height/2)), 2)
		}
		annotations = append(annotations, map[string]any{
			"image_id":    id,
			"category_id": 1,
			"bbox":        []float64{1, 1, float64(width - 2), float64(height - 2)},
			"area":        float64((width - 2) * (height - 2)),
			"keypoints":   kps,
		})
	}
	data, err := json.Marshal(map[string]any{
		"images":      images,
		"annotations": annotations,
		"categories": []map[string]any{
			{"id": 1, "name": keypoints.PersonCategory, "keypoints": keypoints.COCOJointNames},
		},
	})
	require.NoError(t, err)
	annPath := keypoints.AnnotationPath(root, keypoints.DefaultSplit)
	require.NoError(t, os.MkdirAll(filepath.Dir(annPath), 0o755))
	require.NoError(t, os.WriteFile(annPath, data, 0o644))
	return root
}
