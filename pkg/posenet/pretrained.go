// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package posenet

import (
	"strings"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/simplepose/pkg/paramsfile"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// LoadPretrained sets up ctx, the model context, to load the network variables from a ".params" file or from
// a checkpoint directory, as they are created.
//
// If backboneOnly is set, only the variables in the BackboneScope are loaded. Other variables stored
// (optimizer state, counters) are never loaded.
//
// It returns the number of variables to be loaded.
func LoadPretrained(ctx *context.Context, path string, backboneOnly bool) (int, error) {
	header, values, err := paramsfile.Load(path)
	if err != nil {
		return 0, errors.WithMessage(err, "pretrained weights")
	}
	if header.Kind != paramsfile.KindCheckpoint {
		klog.V(1).Infof("Pretrained weights of %q from epoch %d (run %s)", header.Model, header.Epoch, header.RunID)
	}

	prefixes := []string{context.JoinScope(ctx.Scope(), BackboneScope) + context.ScopeSeparator}
	if !backboneOnly {
		prefixes = append(prefixes, context.JoinScope(ctx.Scope(), HeadScope)+context.ScopeSeparator)
	}
	loader := paramsfile.NewLoader(values, func(key string) bool {
		for _, prefix := range prefixes {
			if strings.HasPrefix(key, prefix) {
				return true
			}
		}
		return false
	})
	if loader.Len() == 0 {
		return 0, errors.Errorf("no variables under %q in pretrained weights %q", prefixes, path)
	}
	loader.Attach(ctx)
	return loader.Len(), nil
}
