// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// simplepose_train trains a simple-pose human pose estimation network on COCO keypoints.
//
// Paths are taken from the flags, or from the training service environment (SM_MODEL_DIR, SM_CHANNEL_TRAIN, ...)
// when not running with -local. Periodic checkpoints go to -save_dir, and the best model to the model directory.
//
// Example:
//
//	simplepose_train -local -train ~/work/coco -model_dir /tmp/pose -num_joints 17 -model simple_pose_resnet50_v1b
package main

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/simplepose/pkg/config"
	"github.com/gomlx/simplepose/pkg/keypoints"
	"github.com/gomlx/simplepose/pkg/posetrain"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

func main() {
	flags := config.RegisterFlags(flag.CommandLine)
	klog.InitFlags(nil)
	flag.Parse()
	err := run(flags, os.LookupEnv)
	klog.Flush()
	if err != nil {
		klog.Errorf("simplepose_train failed: %+v", err)
		klog.Flush()
		os.Exit(1)
	}
}

// run resolves the configuration and trains.
func run(flags *config.Flags, lookupEnv config.LookupEnvFn) error {
	cfg, err := flags.Resolve(lookupEnv)
	if err != nil {
		return err
	}
	if err = setupLogFile(cfg.LoggingFile); err != nil {
		return err
	}
	klog.Infof("Configuration: %s", cfg)
	if cfg.SaveDir != "" && cfg.SaveFrequency > 0 {
		if err = cfg.WriteYAML(filepath.Join(cfg.SaveDir, config.ConfigFileName)); err != nil {
			return err
		}
	}

	var backend backends.Backend
	if err = exceptions.TryCatch[error](func() { backend = backends.MustNew() }); err != nil {
		return errors.WithMessage(err, "creating backend")
	}
	defer backend.Finalize()
	klog.Infof("Backend %q: %s", backend.Name(), backend.Description())

	ds, err := keypoints.NewTrainDataset(cfg)
	if err != nil {
		return err
	}
	defer ds.Close()
	klog.Infof("Dataset %s", ds)

	session, err := posetrain.New(backend, cfg, ds)
	if err != nil {
		return err
	}
	return session.Run()
}

// setupLogFile makes klog also write to logFile, keeping the output to stderr.
func setupLogFile(logFile string) error {
	if logFile == "" {
		return nil
	}
	if dir := filepath.Dir(logFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "creating log directory")
		}
	}
	for name, value := range map[string]string{
		"log_file":        logFile,
		"logtostderr":     "false",
		"alsologtostderr": "true",
	} {
		if err := flag.Set(name, value); err != nil {
			return errors.Wrapf(err, "setting klog flag -%s", name)
		}
	}
	return nil
}
