// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package paramsfile

import (
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// Loader implements context.Loader, providing the values of variables as they are created in a context.
// Values are consumed when loaded.
type Loader struct {
	mu     sync.Mutex
	values map[string]*tensors.Tensor
	prev   context.Loader
}

// NewLoader returns a Loader of the given values, keyed by scope-and-name.
// If keep is not nil, only the values whose key it accepts are used.
func NewLoader(values map[string]*tensors.Tensor, keep func(key string) bool) *Loader {
	l := &Loader{values: make(map[string]*tensors.Tensor, len(values))}
	for key, value := range values {
		if keep == nil || keep(key) {
			l.values[key] = value
		}
	}
	return l
}

// Len returns the number of values not loaded yet.
func (l *Loader) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.values)
}

// Attach sets l as the loader of ctx. A loader previously set in ctx takes precedence.
func (l *Loader) Attach(ctx *context.Context) {
	l.prev = ctx.Loader()
	ctx.SetLoader(l)
}

// LoadVariable implements context.Loader.
func (l *Loader) LoadVariable(ctx *context.Context, scope, name string) (value *tensors.Tensor, found bool) {
	if l.prev != nil {
		if value, found = l.prev.LoadVariable(ctx, scope, name); found {
			return
		}
	}
	key := context.JoinScope(scope, name)
	l.mu.Lock()
	defer l.mu.Unlock()
	value, found = l.values[key]
	if found {
		delete(l.values, key)
	}
	return
}

// DeleteVariable implements context.Loader.
func (l *Loader) DeleteVariable(ctx *context.Context, scope, name string) error {
	if l.prev != nil {
		if err := l.prev.DeleteVariable(ctx, scope, name); err != nil {
			return err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.values, context.JoinScope(scope, name))
	return nil
}
