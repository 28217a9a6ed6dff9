// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package keypoints

import (
	"image"
	"math"
)

// scaleMultiplier enlarges the person box to include some context around it.
const scaleMultiplier = 1.25

// affine is a 2x3 matrix mapping (x, y) to (m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]).
type affine [6]float64

func (m affine) apply(x, y float64) (float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

// invert returns the inverse transform. It assumes m is not degenerate.
func (m affine) invert() affine {
	det := m[0]*m[4] - m[1]*m[3]
	a, b, d, e := m[4]/det, -m[1]/det, -m[3]/det, m[0]/det
	return affine{
		a, b, -(a*m[2] + b*m[5]),
		d, e, -(d*m[2] + e*m[5]),
	}
}

// boxCenterScale returns the center of the box and its size (width, height) expanded to the given
// aspect ratio (width/height) and multiplied by scaleMultiplier.
func boxCenterScale(box Box, aspectRatio float64) (cx, cy, w, h float64) {
	w, h = box.Width(), box.Height()
	cx, cy = box.XMin+w*0.5, box.YMin+h*0.5
	if w > aspectRatio*h {
		h = w / aspectRatio
	} else if w < aspectRatio*h {
		w = h * aspectRatio
	}
	return cx, cy, w * scaleMultiplier, h * scaleMultiplier
}

// cropTransform maps the region of width scaleW centered at (cx, cy), rotated by rotDeg degrees, to an
// output of outW x outH pixels: the center goes to the output center and the region width to outW.
func cropTransform(cx, cy, scaleW, rotDeg float64, outW, outH int) affine {
	s := float64(outW) / scaleW
	sin, cos := math.Sincos(rotDeg * math.Pi / 180)
	a, b := s*cos, s*sin
	d, e := -s*sin, s*cos
	return affine{
		a, b, float64(outW)/2 - (a*cx + b*cy),
		d, e, float64(outH)/2 - (d*cx + e*cy),
	}
}

// warpNormalized writes into dst ([outH, outW, 3] channels-last) the image warped by m with bilinear
// interpolation, with pixels outside the source set to black. Values are scaled to [0, 1] and then
// normalized with the per-channel mean and std.
func warpNormalized(src *image.NRGBA, m affine, outW, outH int, mean, std [3]float64, dst []float32) {
	inv := m.invert()
	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	var offsets, scales [3]float32
	for c := range 3 {
		scales[c] = float32(1.0 / (255.0 * std[c]))
		offsets[c] = float32(-mean[c] / std[c])
	}

	// pixel returns the RGB of the source pixel, or black if out of bounds.
	pixel := func(x, y int) (r, g, b float32) {
		if x < 0 || y < 0 || x >= srcW || y >= srcH {
			return
		}
		i := y*src.Stride + x*4
		return float32(src.Pix[i]), float32(src.Pix[i+1]), float32(src.Pix[i+2])
	}

	for oy := range outH {
		for ox := range outW {
			sx, sy := inv.apply(float64(ox), float64(oy))
			x0, y0 := int(math.Floor(sx)), int(math.Floor(sy))
			fx, fy := float32(sx-float64(x0)), float32(sy-float64(y0))
			r00, g00, b00 := pixel(x0, y0)
			r10, g10, b10 := pixel(x0+1, y0)
			r01, g01, b01 := pixel(x0, y0+1)
			r11, g11, b11 := pixel(x0+1, y0+1)
			w00, w10, w01, w11 := (1-fx)*(1-fy), fx*(1-fy), (1-fx)*fy, fx*fy
			rgb := [3]float32{
				r00*w00 + r10*w10 + r01*w01 + r11*w11,
				g00*w00 + g10*w10 + g01*w01 + g11*w11,
				b00*w00 + b10*w10 + b01*w01 + b11*w11,
			}
			base := (oy*outW + ox) * 3
			for c := range 3 {
				dst[base+c] = rgb[c]*scales[c] + offsets[c]
			}
		}
	}
}
