// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package posetrain

import (
	"strings"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/simplepose/pkg/config"
	"github.com/gomlx/simplepose/pkg/posenet"
	"github.com/gomlx/simplepose/pkg/schedule"
	"github.com/pkg/errors"
)

// Hyperparameters of the training, besides the optimizer and schedule ones.
const (
	// ParamWeightDecay is the L2 regularization factor of the network variables.
	ParamWeightDecay = "weight_decay"

	// ParamNoBiasDecay excludes biases and batch normalization scale and offset from the weight decay.
	ParamNoBiasDecay = "no_wd"
)

// NewContext creates the context holding the hyperparameters of the training described by cfg.
// itersPerEpoch is the number of batches of the training dataset.
//
// The settings in cfg.Settings ("-set" flag) are applied last, and the names of the parameters it set are returned.
func NewContext(cfg *config.Config, itersPerEpoch int) (ctx *context.Context, paramsSet []string, err error) {
	ctx = context.New()
	ctx.SetParams(map[string]any{
		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: cfg.LR,
		ParamWeightDecay:             cfg.WD,
		ParamNoBiasDecay:             cfg.NoWD,

		schedule.ParamMode:          cfg.LRMode,
		schedule.ParamNumEpochs:     cfg.NumEpochs,
		schedule.ParamWarmupEpochs:  cfg.WarmupEpochs,
		schedule.ParamItersPerEpoch: itersPerEpoch,
		schedule.ParamDecayEpochs:   cfg.DecayEpochs(),
		schedule.ParamDecayFactor:   cfg.LRDecay,
		schedule.ParamPower:         schedule.DefaultPower,
	})
	if strings.TrimSpace(cfg.Settings) != "" {
		paramsSet, err = commandline.ParseContextSettings(ctx, cfg.Settings)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "parsing -set=%q", cfg.Settings)
		}
	}
	return ctx, paramsSet, nil
}

// isNetworkVariable returns whether v belongs to the network (backbone or head) built under ctx's scope,
// as opposed to optimizer, schedule or metrics state.
func isNetworkVariable(ctx *context.Context, v *context.Variable) bool {
	return isNetworkScope(ctx.Scope(), v.Scope())
}

func isNetworkScope(modelScope, scope string) bool {
	for _, sub := range []string{posenet.BackboneScope, posenet.HeadScope} {
		prefix := context.JoinScope(modelScope, sub)
		if scope == prefix || strings.HasPrefix(scope, prefix+context.ScopeSeparator) {
			return true
		}
	}
	return false
}
