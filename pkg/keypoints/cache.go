// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package keypoints

import (
	"bytes"
	"image"
	"os"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// imageCache keeps the encoded bytes of image files in memory, so later epochs don't read them from disk
// again. A nil *imageCache reads from disk always.
type imageCache struct {
	cache *fastcache.Cache
}

// newImageCache returns a cache of at most maxBytes, or nil if maxBytes <= 0.
func newImageCache(maxBytes int) *imageCache {
	if maxBytes <= 0 {
		return nil
	}
	return &imageCache{cache: fastcache.New(maxBytes)}
}

// read returns the contents of the file, from the cache if available.
// Encoded images are usually larger than 64KB, hence the use of the "Big" API.
func (ic *imageCache) read(filePath string) ([]byte, error) {
	if ic != nil {
		if data := ic.cache.GetBig(nil, []byte(filePath)); len(data) > 0 {
			return data, nil
		}
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading image")
	}
	if ic != nil {
		ic.cache.SetBig([]byte(filePath), data)
	}
	return data, nil
}

// decode reads and decodes the image in filePath, applying its EXIF orientation.
func (ic *imageCache) decode(filePath string) (image.Image, error) {
	data, err := ic.read(filePath)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "decoding image %q", filePath)
	}
	return img, nil
}

// String reports the cache usage.
func (ic *imageCache) String() string {
	if ic == nil {
		return "image cache disabled"
	}
	var stats fastcache.Stats
	ic.cache.UpdateStats(&stats)
	return "image cache: " + humanize.Comma(int64(stats.EntriesCount)) + " entries, " +
		humanize.Bytes(stats.BytesSize) + " used of " + humanize.Bytes(stats.MaxBytesSize) +
		", " + humanize.Comma(int64(stats.GetBigCalls)) + " reads"
}

// reset drops all cached images.
func (ic *imageCache) reset() {
	if ic != nil {
		ic.cache.Reset()
	}
}
