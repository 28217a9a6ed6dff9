// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package posetrain

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/simplepose/pkg/config"
	"github.com/gomlx/simplepose/pkg/paramsfile"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// SymbolicDir is the directory, under the model directory, of the best model in the symbolic save format.
const SymbolicDir = "simple-pose-gcv"

// InitialBestLoss seeds the best epoch loss: an epoch must do strictly better to be saved as best.
const InitialBestLoss = 1.0

// CheckpointDue returns whether the periodic checkpoint is written after the (0-based) epoch.
func CheckpointDue(epoch, saveFrequency int) bool {
	return saveFrequency > 0 && (epoch+1)%saveFrequency == 0
}

// BestTracker keeps the lowest epoch loss seen so far.
type BestTracker struct {
	Loss  float64
	Epoch int
}

// NewBestTracker returns a tracker seeded with InitialBestLoss.
func NewBestTracker() *BestTracker {
	return &BestTracker{Loss: InitialBestLoss, Epoch: -1}
}

// Update records loss for epoch if it is strictly lower than the best so far, and returns whether it did.
func (b *BestTracker) Update(epoch int, loss float64) bool {
	if !(loss < b.Loss) {
		return false
	}
	b.Loss, b.Epoch = loss, epoch
	return true
}

// saver writes the periodic checkpoints and the best model of a run.
type saver struct {
	cfg   *config.Config
	ctx   *context.Context
	runID string

	// symbolic is created on the first best model, if the save format is symbolic.
	symbolic *checkpoints.Handler
}

// newSaver prepares the output directories. Any previous symbolic export is removed, so it is never
// loaded back into the training context.
func newSaver(cfg *config.Config, ctx *context.Context, runID string) (*saver, error) {
	s := &saver{cfg: cfg, ctx: ctx, runID: runID}
	if cfg.SaveDir != "" && cfg.SaveFrequency > 0 {
		if err := os.MkdirAll(cfg.SaveDir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "creating save directory")
		}
	}
	if cfg.ModelDir != "" {
		if err := os.MkdirAll(cfg.ModelDir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "creating model directory")
		}
		if cfg.SaveFormat == config.SaveFormatSymbolic {
			if err := os.RemoveAll(filepath.Join(cfg.ModelDir, SymbolicDir)); err != nil {
				return nil, errors.Wrapf(err, "removing previous export")
			}
		}
	}
	return s, nil
}

// checkpointEnabled returns whether periodic checkpoints are written at all.
func (s *saver) checkpointEnabled() bool {
	return s.cfg.SaveDir != "" && s.cfg.SaveFrequency > 0
}

// checkpoint writes "<save_dir>/<prefix>-<epoch>.params" with the network variables and
// "<save_dir>/<prefix>-<epoch>.states" with the remaining ones (optimizer and schedule state).
func (s *saver) checkpoint(epoch int) error {
	base := filepath.Join(s.cfg.SaveDir, fmt.Sprintf("%s-%d", s.cfg.SavePrefix(), epoch))
	if err := s.writeVariables(base+paramsfile.ParamsExt, paramsfile.KindParams, epoch, true); err != nil {
		return err
	}
	if err := s.writeVariables(base+paramsfile.StatesExt, paramsfile.KindStates, epoch, false); err != nil {
		return err
	}
	klog.V(1).Infof("Saved checkpoint %s{%s,%s}", base, paramsfile.ParamsExt, paramsfile.StatesExt)
	return nil
}

// best saves the network as the best model so far, in the configured format.
func (s *saver) best(epoch int, loss float64) error {
	if s.cfg.ModelDir == "" {
		return nil
	}
	if s.cfg.SaveFormat == config.SaveFormatSymbolic {
		return s.bestSymbolic()
	}
	prefix := filepath.Join(s.cfg.ModelDir, s.cfg.SavePrefix())
	if err := s.writeVariables(prefix+"_best"+paramsfile.ParamsExt, paramsfile.KindParams, epoch, true); err != nil {
		return err
	}
	f, err := os.OpenFile(prefix+"_best_map.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "opening best model log")
	}
	if _, err = fmt.Fprintf(f, "%04d:\t%.4f\n", epoch, loss); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "writing best model log")
	}
	return errors.Wrapf(f.Close(), "closing best model log")
}

// bestSymbolic exports the network variables and the hyperparameters as a checkpoint directory.
func (s *saver) bestSymbolic() error {
	if s.symbolic == nil {
		handler, err := checkpoints.Build(s.ctx).Dir(filepath.Join(s.cfg.ModelDir, SymbolicDir)).Keep(1).Done()
		if err != nil {
			return errors.WithMessagef(err, "creating symbolic export")
		}
		s.symbolic = handler
	}
	// Variables may have been created since the last save.
	for v := range s.ctx.IterVariables() {
		if !isNetworkVariable(s.ctx, v) {
			s.symbolic.ExcludeVarsFromSaving(v)
		}
	}
	return s.symbolic.Save()
}

func (s *saver) writeVariables(filePath string, kind paramsfile.Kind, epoch int, network bool) error {
	values, err := paramsfile.Collect(paramsfile.Filter(s.ctx.IterVariables(), func(v *context.Variable) bool {
		return isNetworkVariable(s.ctx, v) == network
	}))
	if err != nil {
		return err
	}
	header := paramsfile.Header{Kind: kind, RunID: s.runID, Model: s.cfg.Model, Epoch: epoch}
	return paramsfile.Write(filePath, header, values)
}
