// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package keypoints

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testImage returns a gradient image.
func testImage(width, height int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, color.NRGBA{R: uint8(x * 255 / width), G: uint8(y * 255 / height), B: 128, A: 255})
		}
	}
	return img
}

// writeTestCOCO writes numImages images, with one person each, plus a few invalid annotations, in the
// COCO layout under a temporary directory, and returns the directory.
func writeTestCOCO(t *testing.T, numImages int) string {
	root := t.TempDir()
	imgDir := ImageDir(root, DefaultSplit)
	require.NoError(t, os.MkdirAll(imgDir, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "annotations"), 0o755))

	coco := cocoFile{Categories: []cocoCategory{{ID: 1, Name: PersonCategory, Keypoints: COCOJointNames}}}
	keypoints := func(visible bool) []float64 {
		kps := make([]float64, 3*len(COCOJointNames))
		if visible {
			for ii := range COCOJointNames {
				kps[3*ii], kps[3*ii+1], kps[3*ii+2] = float64(20+ii), float64(10+2*ii), 2
			}
		}
		return kps
	}
	for ii := range numImages {
		id := int64(numImages - ii) // Reverse order, to check sorting.
		fileName := fmt.Sprintf("%012d.png", id)
		f, err := os.Create(filepath.Join(imgDir, fileName))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, testImage(64, 80)))
		require.NoError(t, f.Close())
		coco.Images = append(coco.Images, cocoImage{ID: id, FileName: fileName, Width: 64, Height: 80})
		coco.Annotations = append(coco.Annotations, cocoAnnotation{
			ImageID: id, CategoryID: 1, BBox: []float64{10, 5, 30, 60}, Area: 1800, Keypoints: keypoints(true)})
	}
	// Invalid: no keypoints, zero area, other category.
	coco.Annotations = append(coco.Annotations,
		cocoAnnotation{ImageID: 1, CategoryID: 1, BBox: []float64{10, 5, 30, 60}, Area: 1800, Keypoints: keypoints(false)},
		cocoAnnotation{ImageID: 1, CategoryID: 1, BBox: []float64{10, 5, 30, 60}, Area: 0, Keypoints: keypoints(true)},
		cocoAnnotation{ImageID: 1, CategoryID: 2, BBox: []float64{10, 5, 30, 60}, Area: 1800, Keypoints: keypoints(true)},
	)
	data, err := json.Marshal(coco)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(AnnotationPath(root, DefaultSplit), data, 0o644))
	return root
}

func TestLoadAnnotations(t *testing.T) {
	root := writeTestCOCO(t, 4)
	anns, err := LoadAnnotations(root, DefaultSplit, 17, false)
	require.NoError(t, err)
	assert.Equal(t, COCOJointNames, anns.JointNames)
	require.Len(t, anns.Samples, 4)
	for ii, s := range anns.Samples {
		assert.Equal(t, int64(ii+1), s.ImageID)
		assert.Equal(t, Box{XMin: 10, YMin: 5, XMax: 39, YMax: 64}, s.Box)
		assert.Equal(t, 17, s.NumVisible())
		assert.FileExists(t, s.ImagePath)
	}

	// Wrong number of joints.
	_, err = LoadAnnotations(root, DefaultSplit, 16, false)
	require.Error(t, err)

	// Missing split.
	_, err = LoadAnnotations(root, "person_keypoints_val2017", 17, false)
	require.Error(t, err)
}

func TestDataset(t *testing.T) {
	root := writeTestCOCO(t, 5)
	anns, err := LoadAnnotations(root, DefaultSplit, 17, false)
	require.NoError(t, err)
	tr := NewTrainTransform([2]int{32, 24}, 1, [3]float64{0.5, 0.5, 0.5}, [3]float64{0.25, 0.25, 0.25},
		FlipPairs(anns.JointNames))
	for _, dtype := range []dtypes.DType{dtypes.Float32, dtypes.Float16} {
		t.Run(dtype.String(), func(t *testing.T) {
			ds, err := NewDataset(anns.Samples, 17, tr, DatasetConfig{
				Name: "test", BatchSize: 2, DType: dtype, NumWorkers: 3, CacheBytes: 1 << 20, Seed: 42})
			require.NoError(t, err)
			defer ds.Close()
			assert.Equal(t, "test", ds.Name())
			assert.Equal(t, 5, ds.Len())
			assert.Equal(t, 2, ds.NumBatches())

			epochIDs := func() []int64 {
				var ids []int64
				for range ds.NumBatches() {
					_, inputs, labels, err := ds.Yield()
					require.NoError(t, err)
					require.Len(t, inputs, 2)
					require.Len(t, labels, 2)
					assert.Equal(t, []int{2, 32, 24, 3}, inputs[0].Shape().Dimensions)
					assert.Equal(t, dtype, inputs[0].DType())
					assert.Equal(t, []int{2}, inputs[1].Shape().Dimensions)
					assert.Equal(t, dtypes.Int64, inputs[1].DType())
					assert.Equal(t, []int{2, 8, 6, 17}, labels[0].Shape().Dimensions)
					assert.Equal(t, dtype, labels[0].DType())
					assert.Equal(t, []int{2, 17}, labels[1].Shape().Dimensions)
					assert.Equal(t, dtype, labels[1].DType())
					ids = append(ids, inputs[1].Value().([]int64)...)
				}
				// Last incomplete batch is dropped.
				_, _, _, err := ds.Yield()
				require.ErrorIs(t, err, io.EOF)
				return ids
			}

			first := epochIDs()
			assert.Len(t, first, 4)
			sorted := slices.Clone(first)
			slices.Sort(sorted)
			assert.Len(t, slices.Compact(sorted), 4, "no repeated sample in an epoch")

			// Reshuffled epochs: at least one of a few epochs has a different order.
			different := false
			for range 5 {
				ds.Reset()
				if !slices.Equal(first, epochIDs()) {
					different = true
				}
			}
			assert.True(t, different)
		})
	}
}

func TestDatasetErrors(t *testing.T) {
	tr := NewTrainTransform([2]int{32, 24}, 1, [3]float64{}, [3]float64{1, 1, 1}, nil)
	samples := []Sample{{ImageID: 1, ImagePath: "/nonexistent.png", Box: Box{XMax: 10, YMax: 10},
		Joints: []Joint{{X: 1, Y: 1, Visible: true}}}}

	_, err := NewDataset(samples, 1, tr, DatasetConfig{BatchSize: 0})
	require.Error(t, err)
	_, err = NewDataset(samples, 2, tr, DatasetConfig{BatchSize: 1})
	require.Error(t, err)
	_, err = NewDataset(samples, 1, tr, DatasetConfig{BatchSize: 1, DType: dtypes.Int32})
	require.Error(t, err)

	ds, err := NewDataset(samples, 1, tr, DatasetConfig{BatchSize: 1})
	require.NoError(t, err)
	defer ds.Close()
	_, _, _, err = ds.Yield()
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}

func TestDatasetSeed(t *testing.T) {
	tr := NewTrainTransform([2]int{32, 24}, 1, [3]float64{}, [3]float64{1, 1, 1}, nil)
	samples := make([]Sample, 64)
	for ii := range samples {
		samples[ii] = Sample{ImageID: int64(ii), Joints: []Joint{{X: 1, Y: 1, Visible: true}}}
	}
	order := func(seed uint64) []int {
		ds, err := NewDataset(samples, 1, tr, DatasetConfig{BatchSize: 4, Seed: seed})
		require.NoError(t, err)
		defer ds.Close()
		return slices.Clone(ds.order)
	}
	assert.Equal(t, order(42), order(42))
	// 0 seeds from the clock.
	assert.NotEqual(t, order(0), order(0))
}
