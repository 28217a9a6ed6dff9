// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/janpfeifer/must"
)

// ListVariables lists the variables of a snapshot, with their shape and MAV (mean absolute value),
// RMS (root-mean-square) and MaxAV (max absolute value).
func ListVariables(w io.Writer, backend backends.Backend, s *snapshot, glossary bool) {
	printTitle(w, fmt.Sprintf("Variables in %q", s.path))
	statsExec := must.M1(NewExec(backend, func(x *Node) (mav, rms, maxAV *Node) {
		x = ConvertDType(x, dtypes.Float64)
		mav = ReduceAllMean(Abs(x))
		rms = Sqrt(ReduceAllMean(Square(x)))
		maxAV = ReduceAllMax(Abs(x))
		return
	}))
	defer statsExec.Finalize()

	table := newTable()
	table.Headers("Scope", "Name", "Shape", "Size", "Bytes", "Scalar/MAV", "RMS", "MaxAV")
	for _, key := range slices.Sorted(maps.Keys(s.values)) {
		t := s.values[key]
		scope, name := splitKey(key)
		shape := t.Shape()
		var mav, rms, maxAV string
		if shape.Size() == 1 {
			mav = fmt.Sprintf("%8v", tensors.MustCopyFlatData[float64](convertToFloat64(backend, t))[0])
		} else if shape.DType.IsFloat() {
			stats := must.M1(statsExec.Exec(t))
			mav = fmt.Sprintf("%.3g", tensors.ToScalar[float64](stats[0]))
			rms = fmt.Sprintf("%.3g", tensors.ToScalar[float64](stats[1]))
			maxAV = fmt.Sprintf("%.3g", tensors.ToScalar[float64](stats[2]))
		}
		table.AddRow(false, scope, name, shape.String(),
			humanize.Comma(int64(shape.Size())),
			humanize.Bytes(uint64(shape.Memory())),
			mav, rms, maxAV)
	}
	_, _ = fmt.Fprintln(w, table.Render())
	if glossary {
		_, _ = fmt.Fprintf(w, "  %s:\n", sectionStyle.Render("Glossary"))
		_, _ = fmt.Fprintf(w, "   ◦ %s: %s\n", emphasisStyle.Render("Scalar/MAV"),
			italicStyle.Render("If variable is a scalar then the value itself, else the Mean Absolute Value"))
		_, _ = fmt.Fprintf(w, "   ◦ %s: %s\n", emphasisStyle.Render("RMS"), italicStyle.Render("Root Mean Square"))
		_, _ = fmt.Fprintf(w, "   ◦ %s: %s\n", emphasisStyle.Render("MaxAV"), italicStyle.Render("Max Absolute Value"))
	}
}

// convertToFloat64 converts scalars of any dtype, so they can be printed uniformly.
func convertToFloat64(backend backends.Backend, t *tensors.Tensor) *tensors.Tensor {
	return must.M1(ExecOnce(backend, func(x *Node) *Node {
		return ConvertDType(Reshape(x), dtypes.Float64)
	}, t))
}

// CompareVariables prints the shape of every variable in any of the snapshots, one column per snapshot.
// Variables missing from some snapshot, or with different shapes, are highlighted.
func CompareVariables(w io.Writer, snapshots []*snapshot) {
	printTitle(w, "Variables")
	keys := make(map[string]bool)
	for _, s := range snapshots {
		for key := range s.values {
			keys[key] = true
		}
	}
	table := newTable()
	headers := []string{"Scope", "Name"}
	for ii := range snapshots {
		headers = append(headers, fmt.Sprintf("#%d", ii))
	}
	table.Headers(headers...)
	var numDiffs int
	for _, key := range slices.Sorted(maps.Keys(keys)) {
		shapes := make([]string, len(snapshots))
		for ii, s := range snapshots {
			if t, found := s.values[key]; found {
				shapes[ii] = t.Shape().String()
			} else {
				shapes[ii] = "-"
			}
		}
		isDiff := !isAllEqual(shapes)
		if isDiff {
			numDiffs++
		}
		scope, name := splitKey(key)
		table.AddRow(isDiff, append([]string{scope, name}, shapes...)...)
	}
	_, _ = fmt.Fprintln(w, table.Render())
	for ii, s := range snapshots {
		_, _ = fmt.Fprintf(w, "  #%d: %s\n", ii, s.path)
	}
	_, _ = fmt.Fprintf(w, "  %s variables differ.\n", humanize.Comma(int64(numDiffs)))
}
