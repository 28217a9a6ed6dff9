// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package posetrain trains simple-pose networks: it builds the trainer (masked L2 loss, Adam with a scheduled
// learning rate and weight decay), runs the epochs, logs progress, writes periodic checkpoints and keeps
// the best model.
//
// A run goes through the states:
//
//	epoch start -> batches (log every log_interval) -> epoch end -> checkpoint (if due) -> best (if lower loss)
//
// until num_epochs are done, after which the batch normalization averages are refreshed.
package posetrain

import (
	"fmt"
	"math"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/simplepose/pkg/config"
	"github.com/gomlx/simplepose/pkg/posenet"
	"github.com/gomlx/simplepose/pkg/schedule"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ModelScope is the scope, under the root context, of the trainer and the network.
const ModelScope = "model"

// Dataset is the training data: one epoch per Reset, ending with io.EOF.
type Dataset interface {
	train.Dataset

	// NumBatches per epoch.
	NumBatches() int
}

// Session is one training run.
type Session struct {
	cfg     *config.Config
	backend backends.Backend
	ds      Dataset
	runID   string

	ctx       *context.Context
	paramsSet []string
	schedule  schedule.Schedule

	trainer *train.Trainer
	loop    *train.Loop
	saver   *saver
	best    *BestTracker

	// Epoch being run, and its statistics.
	epoch int
	stats epochStats
}

// epochStats accumulates the metrics of the batches of one epoch.
type epochStats struct {
	start, lastLog time.Time
	startStep      int
	batches        int
	lossSum        float64
	accSum         float64
}

func (s *epochStats) loss() float64 {
	if s.batches == 0 {
		return math.NaN()
	}
	return s.lossSum / float64(s.batches)
}

func (s *epochStats) accuracy() float64 {
	if s.batches == 0 {
		return 0
	}
	return s.accSum / float64(s.batches)
}

// New creates the training session for cfg: it sets up the hyperparameters, the network (loading pretrained
// weights if configured), the trainer and the output directories.
func New(backend backends.Backend, cfg *config.Config, ds Dataset) (s *Session, err error) {
	s = &Session{
		cfg:     cfg,
		backend: backend,
		ds:      ds,
		runID:   uuid.NewString(),
		best:    NewBestTracker(),
	}
	var rootCtx *context.Context
	rootCtx, s.paramsSet, err = NewContext(cfg, ds.NumBatches())
	if err != nil {
		return nil, err
	}
	s.ctx = rootCtx.In(ModelScope)
	s.schedule = schedule.FromContext(s.ctx)
	if err = s.schedule.Validate(); err != nil {
		return nil, err
	}
	if cfg.ResumeDir != "" {
		klog.Warningf("Resuming is not supported, ignoring %q", cfg.ResumeDir)
	}

	pretrainedBackbone := cfg.UsePretrainedBase && !cfg.UsePretrained
	if cfg.UsePretrained || cfg.UsePretrainedBase {
		if cfg.Pretrained == "" {
			return nil, errors.New("-use_pretrained and -use_pretrained_base require -pretrained")
		}
		numVars, err := posenet.LoadPretrained(s.ctx, cfg.Pretrained, pretrainedBackbone)
		if err != nil {
			return nil, err
		}
		klog.Infof("Loading %d pretrained variables from %q", numVars, cfg.Pretrained)
	}
	network, err := posenet.Build(cfg.Model, posenet.Options{
		NumJoints:          cfg.NumJoints,
		LastGamma:          cfg.LastGamma,
		PretrainedBackbone: pretrainedBackbone,
	})
	if err != nil {
		return nil, err
	}

	err = exceptions.TryCatch[error](func() {
		s.trainer = train.NewTrainer(backend, s.ctx, trainingModelFn(network), MaskedL2,
			optimizers.FromContext(s.ctx),
			newTrainMetrics(), // trainMetrics
			nil)               // evalMetrics
	})
	if err != nil {
		return nil, errors.WithMessage(err, "creating trainer")
	}
	s.loop = train.NewLoop(s.trainer)
	s.loop.OnStep("simplepose", 0, s.onStep)
	if cfg.Progress {
		commandline.AttachProgressBar(s.loop, func() (string, string) {
			return "lr", fmt.Sprintf("%.3g", s.schedule.LearningRate(s.loop.LoopStep+1))
		})
	}
	if s.saver, err = newSaver(cfg, s.ctx, s.runID); err != nil {
		return nil, err
	}
	return s, nil
}

// RunID identifies the run in logs and saved files.
func (s *Session) RunID() string { return s.runID }

// Context of the model: the network variables are under it.
func (s *Session) Context() *context.Context { return s.ctx }

// ParamsSet are the hyperparameters set with the "-set" flag.
func (s *Session) ParamsSet() []string { return s.paramsSet }

// Best returns the best epoch loss and its epoch (-1 if no epoch improved over InitialBestLoss).
func (s *Session) Best() BestTracker { return *s.best }

// Run trains for the configured number of epochs.
// Panics while building or running the graphs are returned as errors.
func (s *Session) Run() error {
	klog.Infof("Run %s: %s", s.runID, s.cfg)
	err := exceptions.TryCatch[error](func() {
		for s.epoch = 0; s.epoch < s.cfg.NumEpochs; s.epoch++ {
			if err := s.runEpoch(); err != nil {
				panic(err)
			}
		}
	})
	if err != nil {
		return errors.WithMessagef(err, "training epoch %d", s.epoch)
	}

	updated, err := batchnorm.UpdateAverages(s.trainer, s.ds)
	if err != nil {
		return errors.WithMessage(err, "updating batch normalization averages")
	}
	if updated {
		klog.V(1).Infof("Updated batch normalization averages")
	}
	klog.Infof("Training done: best loss %.4f at epoch %d, median step %s",
		s.best.Loss, s.best.Epoch, s.loop.MedianTrainStepDuration())
	return nil
}

// runEpoch runs one pass over the dataset, and handles the end of the epoch.
func (s *Session) runEpoch() error {
	now := time.Now()
	s.stats = epochStats{start: now, lastLog: now, startStep: s.loop.LoopStep}
	if _, err := s.loop.RunEpochs(s.ds, 1); err != nil {
		return err
	}
	elapsed := time.Since(s.stats.start)
	loss := s.stats.loss()
	speed := float64(s.cfg.EffectiveBatchSize()*s.stats.batches) / elapsed.Seconds()
	klog.Infof("Epoch[%d]\t\tSpeed: %f samples/sec over %f secs\tloss=%f", s.epoch, speed, elapsed.Seconds(), loss)
	return s.endEpoch(loss)
}

// endEpoch writes the checkpoint of the epoch, if due, and saves the best model if loss improved.
func (s *Session) endEpoch(loss float64) error {
	if s.saver.checkpointEnabled() && CheckpointDue(s.epoch, s.cfg.SaveFrequency) {
		if err := s.saver.checkpoint(s.epoch); err != nil {
			return err
		}
	}
	if s.best.Update(s.epoch, loss) {
		if err := s.saver.best(s.epoch, loss); err != nil {
			return err
		}
		klog.V(1).Infof("Epoch[%d] new best loss %.4f", s.epoch, loss)
	}
	return nil
}

// onStep accumulates the batch metrics, and logs every log_interval batches.
// The last two metrics are the loss and accuracy of newTrainMetrics.
func (s *Session) onStep(loop *train.Loop, metrics []*tensors.Tensor) error {
	if len(metrics) < 2 {
		return errors.Errorf("expected train metrics, got %d values", len(metrics))
	}
	batchIdx := loop.LoopStep - s.stats.startStep
	s.stats.batches++
	s.stats.lossSum += metricValue(metrics[len(metrics)-2])
	s.stats.accSum += metricValue(metrics[len(metrics)-1])

	interval := s.cfg.LogInterval
	if interval <= 0 || (batchIdx+1)%interval != 0 {
		return nil
	}
	now := time.Now()
	speed := float64(s.cfg.EffectiveBatchSize()*interval) / now.Sub(s.stats.lastLog).Seconds()
	s.stats.lastLog = now
	klog.Infof("Epoch[%d] Batch [%d]\tSpeed: %f samples/sec\tloss=%f\tlr=%f\tacc=%f",
		s.epoch, batchIdx, speed, s.stats.loss(), s.schedule.LearningRate(loop.LoopStep+1), s.stats.accuracy())
	return nil
}

func metricValue(t *tensors.Tensor) float64 {
	return shapes.ConvertTo[float64](t.Value())
}
