// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package keypoints

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// DefaultSplit is the annotation file (without extension) used for training.
const DefaultSplit = "person_keypoints_train2017"

// PersonCategory is the name of the COCO category annotated with keypoints.
const PersonCategory = "person"

// Joint is the position of a joint in image coordinates, and whether it is visible (labeled).
type Joint struct {
	X, Y    float64
	Visible bool
}

// Box is a bounding box in pixels, with inclusive corners.
type Box struct {
	XMin, YMin, XMax, YMax float64
}

// Width of the box.
func (b Box) Width() float64 { return b.XMax - b.XMin }

// Height of the box.
func (b Box) Height() float64 { return b.YMax - b.YMin }

// Sample is one annotated person instance.
type Sample struct {
	ImageID   int64
	ImagePath string
	Box       Box
	Joints    []Joint
}

// NumVisible returns the number of visible joints.
func (s *Sample) NumVisible() int {
	var n int
	for _, j := range s.Joints {
		if j.Visible {
			n++
		}
	}
	return n
}

// Annotations are the samples of one split, and the joint names of its category.
type Annotations struct {
	JointNames []string
	Samples    []Sample
}

// cocoFile mirrors the parts of a COCO annotations file used here.
type cocoFile struct {
	Images      []cocoImage      `json:"images"`
	Annotations []cocoAnnotation `json:"annotations"`
	Categories  []cocoCategory   `json:"categories"`
}

type cocoImage struct {
	ID       int64  `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type cocoAnnotation struct {
	ImageID    int64     `json:"image_id"`
	CategoryID int64     `json:"category_id"`
	BBox       []float64 `json:"bbox"`
	Area       float64   `json:"area"`
	Keypoints  []float64 `json:"keypoints"`
}

type cocoCategory struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	Keypoints []string `json:"keypoints"`
}

// AnnotationPath returns the path of the annotations file of split under root.
func AnnotationPath(root, split string) string {
	return filepath.Join(root, "annotations", split+".json")
}

// ImageDir returns the directory of the images of split under root: "person_keypoints_train2017" images are
// in "<root>/train2017".
func ImageDir(root, split string) string {
	return filepath.Join(root, strings.TrimPrefix(split, "person_keypoints_"))
}

// LoadAnnotations reads the COCO keypoints annotations of split under root, and returns the valid samples.
//
// Instances are skipped if they have no labeled keypoint, if their bounding box (clipped to the image) is
// empty or if no joint is visible. numJoints must match the number of keypoints of the category.
//
// If showProgress is set, a progress bar is displayed while indexing.
func LoadAnnotations(root, split string, numJoints int, showProgress bool) (*Annotations, error) {
	annPath := AnnotationPath(root, split)
	data, err := os.ReadFile(annPath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading keypoints annotations")
	}
	klog.V(1).Infof("Parsing %s of annotations from %q", humanize.Bytes(uint64(len(data))), annPath)
	var coco cocoFile
	if err = json.Unmarshal(data, &coco); err != nil {
		return nil, errors.Wrapf(err, "parsing keypoints annotations in %q", annPath)
	}

	// Find the category with keypoints.
	catIdx := slices.IndexFunc(coco.Categories, func(c cocoCategory) bool { return c.Name == PersonCategory })
	if catIdx == -1 {
		return nil, errors.Errorf("category %q not found in %q", PersonCategory, annPath)
	}
	category := coco.Categories[catIdx]
	if len(category.Keypoints) != numJoints {
		return nil, errors.Errorf("annotations in %q have %d keypoints per %s, but %d joints were configured",
			annPath, len(category.Keypoints), PersonCategory, numJoints)
	}

	type imageInfo struct {
		path          string
		width, height int
	}
	images := make(map[int64]imageInfo, len(coco.Images))
	imageDir := ImageDir(root, split)
	for _, img := range coco.Images {
		images[img.ID] = imageInfo{filepath.Join(imageDir, img.FileName), img.Width, img.Height}
	}

	var bar *progressbar.ProgressBar
	if showProgress {
		bar = progressbar.NewOptions(len(coco.Annotations),
			progressbar.OptionSetDescription("Indexing keypoints"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(100_000_000))
	}
	anns := &Annotations{JointNames: category.Keypoints}
	var numSkipped int
	for _, ann := range coco.Annotations {
		if bar != nil {
			_ = bar.Add(1)
		}
		if ann.CategoryID != category.ID {
			continue
		}
		img, found := images[ann.ImageID]
		if !found {
			return nil, errors.Errorf("annotation for unknown image id %d in %q", ann.ImageID, annPath)
		}
		sample, ok := toSample(ann.ImageID, img.path, img.width, img.height, ann.BBox, ann.Area, ann.Keypoints, numJoints)
		if !ok {
			numSkipped++
			continue
		}
		anns.Samples = append(anns.Samples, sample)
	}
	if bar != nil {
		_ = bar.Finish()
	}

	// Order by image, keeping the annotation order within an image.
	slices.SortStableFunc(anns.Samples, func(a, b Sample) int {
		switch {
		case a.ImageID < b.ImageID:
			return -1
		case a.ImageID > b.ImageID:
			return 1
		}
		return 0
	})
	klog.Infof("Loaded %s person instances from %q (%s skipped)",
		humanize.Comma(int64(len(anns.Samples))), annPath, humanize.Comma(int64(numSkipped)))
	return anns, nil
}

// toSample converts one annotation, returning false if it is not usable for training.
func toSample(imageID int64, imagePath string, width, height int, bbox []float64, area float64,
	keypoints []float64, numJoints int) (Sample, bool) {
	if len(bbox) != 4 || len(keypoints) != 3*numJoints || slices.Max(keypoints) == 0 {
		return Sample{}, false
	}
	box := clipBox(xywhToXYXY(bbox), width, height)
	if area <= 0 || box.XMax <= box.XMin || box.YMax <= box.YMin {
		return Sample{}, false
	}
	s := Sample{
		ImageID:   imageID,
		ImagePath: imagePath,
		Box:       box,
		Joints:    make([]Joint, numJoints),
	}
	for ii := range s.Joints {
		s.Joints[ii] = Joint{
			X:       keypoints[3*ii],
			Y:       keypoints[3*ii+1],
			Visible: keypoints[3*ii+2] > 0,
		}
	}
	if s.NumVisible() == 0 {
		return Sample{}, false
	}
	return s, true
}

// xywhToXYXY converts a COCO box (x, y, width, height) to inclusive corners.
func xywhToXYXY(bbox []float64) Box {
	w, h := max(bbox[2]-1, 0), max(bbox[3]-1, 0)
	return Box{XMin: bbox[0], YMin: bbox[1], XMax: bbox[0] + w, YMax: bbox[1] + h}
}

// clipBox clips the box to the image.
func clipBox(b Box, width, height int) Box {
	clip := func(v float64, limit int) float64 {
		return min(max(v, 0), float64(limit-1))
	}
	return Box{
		XMin: clip(b.XMin, width), YMin: clip(b.YMin, height),
		XMax: clip(b.XMax, width), YMax: clip(b.YMax, height),
	}
}
