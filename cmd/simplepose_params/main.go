// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// simplepose_params reports on the variables saved by simplepose_train: the periodic ".params" and ".states"
// files, the "_best.params" file, or a symbolic export (checkpoint directory).
//
// With more than one argument the reports are side by side, and rows that differ are highlighted.
//
// Example:
//
//	simplepose_params -summary -vars /tmp/pose/simple_pose_resnet50_v1b_best.params
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/simplepose/pkg/paramsfile"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagScope = flag.String("scope", "/model", "Only variables under this scope are reported. "+
		"Use \"/\" to include everything.")
	flagSummary  = flag.Bool("summary", false, "Display a summary of the files: kind, run, epoch and sizes.")
	flagVars     = flag.Bool("vars", false, "Lists the variables under -scope, with their statistics.")
	flagGlossary = flag.Bool("glossary", true, "Print a glossary of the statistics after the variables table.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing .params/.states file or checkpoint directory to read from. See 'simplepose_params -help'.")
		os.Exit(1)
	}
	opts := reportOptions{
		scope:    *flagScope,
		summary:  *flagSummary,
		vars:     *flagVars,
		glossary: *flagGlossary,
	}
	if !opts.summary && !opts.vars {
		opts.summary = true
	}

	snapshots := make([]*snapshot, len(args))
	for ii, path := range args {
		snapshots[ii] = must.M1(loadSnapshot(path, opts.scope))
	}
	var backend backends.Backend
	if opts.vars {
		backend = backends.MustNew()
		defer backend.Finalize()
	}
	report(os.Stdout, backend, snapshots, opts)
}

type reportOptions struct {
	scope                   string
	summary, vars, glossary bool
}

// snapshot is one loaded file or checkpoint, restricted to a scope.
type snapshot struct {
	path   string
	header paramsfile.Header
	values map[string]*tensors.Tensor
}

func loadSnapshot(path, scope string) (*snapshot, error) {
	header, values, err := paramsfile.Load(path)
	if err != nil {
		return nil, err
	}
	for key := range values {
		if !inScope(key, scope) {
			delete(values, key)
		}
	}
	return &snapshot{path: path, header: header, values: values}, nil
}

func inScope(key, scope string) bool {
	scope = strings.TrimSuffix(scope, "/")
	if scope == "" {
		return true
	}
	return strings.HasPrefix(key, scope+"/")
}

// splitKey splits a scope-and-name key into its scope and name.
func splitKey(key string) (scope, name string) {
	idx := strings.LastIndex(key, "/")
	if idx <= 0 {
		return "/", strings.TrimPrefix(key, "/")
	}
	return key[:idx], key[idx+1:]
}

func report(w io.Writer, backend backends.Backend, snapshots []*snapshot, opts reportOptions) {
	if opts.summary {
		Summary(w, snapshots, opts.scope)
	}
	if opts.vars {
		if len(snapshots) == 1 {
			ListVariables(w, backend, snapshots[0], opts.glossary)
		} else {
			CompareVariables(w, snapshots)
		}
	}
}

func printTitle(w io.Writer, title string) {
	_, _ = fmt.Fprintln(w, titleStyle.Render(title))
}
