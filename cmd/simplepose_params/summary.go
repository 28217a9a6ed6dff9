// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// Summary prints one column per snapshot with its header information and the sizes of the variables in scope.
// The model and variable counts are highlighted if they differ across snapshots.
func Summary(w io.Writer, snapshots []*snapshot, scope string) {
	printTitle(w, "Summary")
	table := newTable(lipgloss.Right, lipgloss.Left)

	row := func(name string, compare bool, cell func(s *snapshot) string) {
		cells := make([]string, len(snapshots))
		for ii, s := range snapshots {
			cells[ii] = cell(s)
		}
		table.AddRow(compare && !isAllEqual(cells), append([]string{name}, cells...)...)
	}
	row("file", false, func(s *snapshot) string { return filepath.Base(s.path) })
	row("scope", false, func(*snapshot) string { return scope })
	row("kind", false, func(s *snapshot) string { return string(s.header.Kind) })
	row("run", false, func(s *snapshot) string { return s.header.RunID })
	row("model", true, func(s *snapshot) string { return s.header.Model })
	row("epoch", false, func(s *snapshot) string {
		if s.header.Epoch < 0 {
			return ""
		}
		return strconv.Itoa(s.header.Epoch)
	})
	row("# variables", true, func(s *snapshot) string { return humanize.Comma(int64(len(s.values))) })
	row("# parameters", true, func(s *snapshot) string {
		sizes := make([]int, 0, len(s.values))
		for _, t := range s.values {
			sizes = append(sizes, t.Shape().Size())
		}
		return humanize.Comma(int64(sum(sizes...)))
	})
	row("# bytes", false, func(s *snapshot) string {
		sizes := make([]uintptr, 0, len(s.values))
		for _, t := range s.values {
			sizes = append(sizes, t.Memory())
		}
		return humanize.Bytes(uint64(sum(sizes...)))
	})
	_, _ = fmt.Fprintln(w, table.Render())
}
