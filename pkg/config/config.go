// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config holds the configuration of a simple-pose training run.
//
// The configuration is parsed from command-line flags (see RegisterFlags). When not running in "local" mode
// the data and output paths are taken from the environment variables set by the hosting training service,
// and loading fails if a required one is missing.
//
// Numeric values are not range-checked: they are used as given, and invalid values surface later when
// the dataset, model or optimizer are built.
package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
)

// Environment variables read when not running in local mode.
const (
	// EnvModelDir is where the final ("best") model is written. Required.
	EnvModelDir = "SM_MODEL_DIR"

	// EnvTrainChannel is the root of the training data. Required.
	EnvTrainChannel = "SM_CHANNEL_TRAIN"

	// EnvValChannel is the root of the validation data. Optional.
	EnvValChannel = "SM_CHANNEL_VAL"

	// EnvModelChannel holds a model to resume from. Optional, and only recorded: resuming is not supported.
	EnvModelChannel = "SM_CHANNEL_MODEL"
)

// Save formats for the best model.
const (
	SaveFormatImperative = "imperative"
	SaveFormatSymbolic   = "symbolic"
)

// LR decay modes.
const (
	LRModeStep   = "step"
	LRModePoly   = "poly"
	LRModeCosine = "cosine"
)

// Config is the resolved configuration of a training run.
// It is not modified after Load or Flags.Resolve return.
type Config struct {
	NumJoints      int    `yaml:"num_joints"`
	BatchSize      int    `yaml:"batch_size"`
	DType          string `yaml:"dtype"`
	NumDevices     int    `yaml:"num_devices"`
	NumDataWorkers int    `yaml:"num_data_workers"`
	NumEpochs      int    `yaml:"num_epochs"`

	// RawSavePrefix is the prefix given by the user, see SavePrefix.
	RawSavePrefix string `yaml:"save_prefix"`

	LR            float64 `yaml:"lr"`
	WD            float64 `yaml:"wd"`
	LRMode        string  `yaml:"lr_mode"`
	LRDecay       float64 `yaml:"lr_decay"`
	LRDecayPeriod int     `yaml:"lr_decay_period"`
	LRDecayEpoch  []int   `yaml:"lr_decay_epoch"`
	WarmupLR      float64 `yaml:"warmup_lr"`
	WarmupEpochs  int     `yaml:"warmup_epochs"`
	LastGamma     bool    `yaml:"last_gamma"`
	Mode          string  `yaml:"mode"`
	Model         string  `yaml:"model"`

	// InputSize is the network input as (height, width).
	InputSize [2]int     `yaml:"input_size,flow"`
	Sigma     float64    `yaml:"sigma"`
	Mean      [3]float64 `yaml:"mean,flow"`
	Std       [3]float64 `yaml:"std,flow"`

	UsePretrained     bool   `yaml:"use_pretrained"`
	UsePretrainedBase bool   `yaml:"use_pretrained_base"`
	Pretrained        string `yaml:"pretrained,omitempty"`
	NoWD              bool   `yaml:"no_wd"`

	SaveFrequency int    `yaml:"save_frequency"`
	SaveDir       string `yaml:"save_dir"`
	LogInterval   int    `yaml:"log_interval"`
	LoggingFile   string `yaml:"logging_file"`
	Local         bool   `yaml:"local"`
	SaveFormat    string `yaml:"save_format"`

	ModelDir  string `yaml:"model_dir"`
	TrainDir  string `yaml:"train"`
	ValDir    string `yaml:"val,omitempty"`
	ResumeDir string `yaml:"resume,omitempty"`

	Seed     int64  `yaml:"seed"`
	CacheMB  int    `yaml:"cache_mb"`
	Progress bool   `yaml:"progress"`
	Settings string `yaml:"set,omitempty"`
}

// EffectiveBatchSize is the number of examples per training step: the per-device batch size multiplied
// by the number of devices (at least 1).
func (c *Config) EffectiveBatchSize() int {
	return c.BatchSize * max(1, c.NumDevices)
}

// HeatmapSize returns the (height, width) of the target heatmaps: a quarter of the input size, rounded down.
func (c *Config) HeatmapSize() [2]int {
	return HeatmapSize(c.InputSize)
}

// HeatmapSize returns a quarter of the given (height, width), rounded down.
func HeatmapSize(inputSize [2]int) [2]int {
	return [2]int{inputSize[0] / 4, inputSize[1] / 4}
}

// DecayEpochs returns the epochs (not yet shifted by the warmup) where the "step" LR mode decays.
//
// If LRDecayPeriod > 0, they are every LRDecayPeriod epochs, strictly before NumEpochs. Otherwise, LRDecayEpoch.
func (c *Config) DecayEpochs() []int {
	if c.LRDecayPeriod > 0 {
		var epochs []int
		for e := c.LRDecayPeriod; e < c.NumEpochs; e += c.LRDecayPeriod {
			epochs = append(epochs, e)
		}
		return epochs
	}
	return append([]int(nil), c.LRDecayEpoch...)
}

// SavePrefix is the prefix used for the best model files: the user given prefix with the model name appended.
func (c *Config) SavePrefix() string {
	return c.RawSavePrefix + c.Model
}

// String implements fmt.Stringer, with the most relevant settings.
func (c *Config) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "model=%s joints=%d input=%dx%d batch=%d epochs=%d lr=%g (%s)",
		c.Model, c.NumJoints, c.InputSize[0], c.InputSize[1], c.EffectiveBatchSize(), c.NumEpochs, c.LR, c.LRMode)
	if c.Local {
		sb.WriteString(" local")
	}
	return sb.String()
}

// defaultNumWorkers is the number of physical cores, or the number of logical CPUs if unknown.
func defaultNumWorkers() int {
	if n := cpuid.CPU.PhysicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// validate checks the presence of required values and the choice-like flags.
// Numeric ranges are not checked.
func (c *Config) validate() error {
	if c.NumJoints == 0 {
		return errors.New("flag -num_joints is required")
	}
	if c.Model == "" {
		return errors.New("flag -model is required")
	}
	switch c.LRMode {
	case LRModeStep, LRModePoly, LRModeCosine:
	default:
		return errors.Errorf("invalid -lr_mode %q, valid values are %q, %q or %q",
			c.LRMode, LRModeStep, LRModePoly, LRModeCosine)
	}
	switch c.SaveFormat {
	case SaveFormatImperative, SaveFormatSymbolic:
	default:
		return errors.Errorf("invalid -save_format %q, valid values are %q or %q",
			c.SaveFormat, SaveFormatImperative, SaveFormatSymbolic)
	}
	switch c.DType {
	case "float16", "float32", "float64":
	default:
		return errors.Errorf("invalid -dtype %q, valid values are float16, float32 or float64", c.DType)
	}
	return nil
}
