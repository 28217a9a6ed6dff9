// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package paramsfile reads and writes snapshots of context variables as single files.
//
// A file is a gob stream with a Header followed by (key, tensor) pairs, where the key is the variable scope
// joined with its name (see context.JoinScope). Two kinds of files are written during training: ".params"
// with the network variables, and ".states" with everything else (optimizer moments, counters).
//
// Files can be loaded back lazily into a context with a Loader.
package paramsfile

import (
	"bufio"
	"encoding/gob"
	"iter"
	"maps"
	"os"
	"slices"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/pkg/errors"
)

// File extensions.
const (
	ParamsExt = ".params"
	StatesExt = ".states"
)

// Kind of file.
type Kind string

const (
	KindParams Kind = "params"
	KindStates Kind = "states"

	// KindCheckpoint is reported by Load for checkpoint directories.
	KindCheckpoint Kind = "checkpoint"
)

const (
	magic   = "simplepose-variables"
	version = 1
)

// Header describes the contents of a file.
type Header struct {
	Magic   string
	Version int
	Kind    Kind

	// RunID identifies the training run that wrote the file.
	RunID string

	// Model is the registry name of the network.
	Model string

	// Epoch after which the file was written, -1 if not applicable.
	Epoch int

	// NumVariables stored after the header.
	NumVariables int
}

// Write saves the values, keyed by scope-and-name, to filePath.
// Keys are written in sorted order. The Magic, Version and NumVariables fields of header are filled in.
func Write(filePath string, header Header, values map[string]*tensors.Tensor) (err error) {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating %q", filePath)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "closing %q", filePath)
		}
	}()
	w := bufio.NewWriter(f)
	enc := gob.NewEncoder(w)
	header.Magic, header.Version, header.NumVariables = magic, version, len(values)
	if err = enc.Encode(header); err != nil {
		return errors.Wrapf(err, "writing header to %q", filePath)
	}
	for _, key := range slices.Sorted(maps.Keys(values)) {
		if err = enc.Encode(key); err != nil {
			return errors.Wrapf(err, "writing %q to %q", key, filePath)
		}
		if err = values[key].GobSerialize(enc); err != nil {
			return errors.WithMessagef(err, "writing %q to %q", key, filePath)
		}
	}
	if err = w.Flush(); err != nil {
		return errors.Wrapf(err, "writing %q", filePath)
	}
	return nil
}

// Read loads a file written by Write.
func Read(filePath string) (header Header, values map[string]*tensors.Tensor, err error) {
	f, err := os.Open(filePath)
	if err != nil {
		return header, nil, errors.Wrapf(err, "opening %q", filePath)
	}
	defer func() { _ = f.Close() }()
	dec := gob.NewDecoder(bufio.NewReader(f))
	if err = dec.Decode(&header); err != nil {
		return header, nil, errors.Wrapf(err, "reading header of %q", filePath)
	}
	if header.Magic != magic {
		return header, nil, errors.Errorf("%q is not a variables file", filePath)
	}
	if header.Version != version {
		return header, nil, errors.Errorf("%q has version %d, only version %d is supported",
			filePath, header.Version, version)
	}
	values = make(map[string]*tensors.Tensor, header.NumVariables)
	for range header.NumVariables {
		var key string
		if err = dec.Decode(&key); err != nil {
			return header, nil, errors.Wrapf(err, "reading %q", filePath)
		}
		t, err := tensors.GobDeserialize(dec)
		if err != nil {
			return header, nil, errors.WithMessagef(err, "reading %q from %q", key, filePath)
		}
		values[key] = t
	}
	return header, values, nil
}

// Load reads either a file written by Write or a checkpoint directory (the latest checkpoint in it).
// Checkpoint variables are keyed by scope-and-name as well, and the returned header only has Kind and
// NumVariables set.
func Load(path string) (header Header, values map[string]*tensors.Tensor, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return header, nil, errors.Wrapf(err, "reading variables")
	}
	if !info.IsDir() {
		return Read(path)
	}
	handler, err := checkpoints.Load(context.New()).Dir(path).Done()
	if err != nil {
		return header, nil, errors.WithMessagef(err, "loading checkpoint %q", path)
	}
	loaded := handler.LoadedVariables()
	values = make(map[string]*tensors.Tensor, len(loaded))
	for paramName, value := range loaded {
		scope, name := context.VariableScopeAndNameFromParameterName(paramName)
		values[context.JoinScope(scope, name)] = value
	}
	header = Header{Kind: KindCheckpoint, Epoch: -1, NumVariables: len(values)}
	return header, values, nil
}

// Collect returns the values of the variables, keyed by scope-and-name.
func Collect(vars iter.Seq[*context.Variable]) (map[string]*tensors.Tensor, error) {
	values := make(map[string]*tensors.Tensor)
	for v := range vars {
		value, err := v.Value()
		if err != nil {
			return nil, errors.WithMessagef(err, "reading variable %q", v.ScopeAndName())
		}
		values[v.ScopeAndName()] = value
	}
	return values, nil
}

// Filter returns the variables of seq for which keep returns true.
func Filter(seq iter.Seq[*context.Variable], keep func(v *context.Variable) bool) iter.Seq[*context.Variable] {
	return func(yield func(*context.Variable) bool) {
		for v := range seq {
			if keep(v) && !yield(v) {
				return
			}
		}
	}
}
