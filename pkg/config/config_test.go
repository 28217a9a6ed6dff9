// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// envFrom returns a LookupEnvFn backed by a map.
func envFrom(env map[string]string) LookupEnvFn {
	return func(key string) (string, bool) {
		v, found := env[key]
		return v, found
	}
}

var requiredArgs = []string{"-num_joints=17", "-model=simple_pose_resnet18_v1b"}

func TestLoadDefaults(t *testing.T) {
	c, err := Load(append([]string{"-local"}, requiredArgs...), envFrom(nil))
	require.NoError(t, err)
	assert.Equal(t, 17, c.NumJoints)
	assert.Equal(t, 32, c.BatchSize)
	assert.Equal(t, 3, c.NumEpochs)
	assert.Equal(t, 0.1, c.LR)
	assert.Equal(t, LRModeStep, c.LRMode)
	assert.Equal(t, []int{40, 60}, c.LRDecayEpoch)
	assert.Equal(t, [2]int{256, 192}, c.InputSize)
	assert.Equal(t, [3]float64{0.485, 0.456, 0.406}, c.Mean)
	assert.Equal(t, [3]float64{0.229, 0.224, 0.225}, c.Std)
	assert.Equal(t, SaveFormatSymbolic, c.SaveFormat)
	assert.Equal(t, 1, c.SaveFrequency)
	assert.Equal(t, 20, c.LogInterval)
	assert.Equal(t, "keypoints.log", c.LoggingFile)
	assert.Greater(t, c.NumDataWorkers, 0)
	assert.Equal(t, "simple_pose_resnet18_v1b", c.SavePrefix())
	assert.NotZero(t, c.Seed, "-seed=0 is replaced by a clock seed")
}

func TestSeed(t *testing.T) {
	c, err := Load(append([]string{"-local", "-seed=7"}, requiredArgs...), envFrom(nil))
	require.NoError(t, err)
	assert.Equal(t, int64(7), c.Seed)
}

func TestHeatmapSize(t *testing.T) {
	assert.Equal(t, [2]int{64, 48}, HeatmapSize([2]int{256, 192}))
	assert.Equal(t, [2]int{96, 72}, HeatmapSize([2]int{384, 288}))
	assert.Equal(t, [2]int{64, 48}, HeatmapSize([2]int{259, 195}))

	c, err := Load(append([]string{"-local", "-input_size=384, 288"}, requiredArgs...), envFrom(nil))
	require.NoError(t, err)
	assert.Equal(t, [2]int{96, 72}, c.HeatmapSize())
}

func TestEffectiveBatchSize(t *testing.T) {
	c := &Config{BatchSize: 32}
	assert.Equal(t, 32, c.EffectiveBatchSize())
	c.NumDevices = 1
	assert.Equal(t, 32, c.EffectiveBatchSize())
	c.NumDevices = 4
	assert.Equal(t, 128, c.EffectiveBatchSize())
}

func TestDecayEpochs(t *testing.T) {
	c := &Config{NumEpochs: 140, LRDecayEpoch: []int{90, 120}}
	assert.Equal(t, []int{90, 120}, c.DecayEpochs())

	c.LRDecayPeriod = 30
	assert.Equal(t, []int{30, 60, 90, 120}, c.DecayEpochs())

	c.NumEpochs = 120
	assert.Equal(t, []int{30, 60, 90}, c.DecayEpochs())
}

func TestEnvironment(t *testing.T) {
	env := map[string]string{
		EnvModelDir:     "/opt/ml/model",
		EnvTrainChannel: "/opt/ml/input/data/train",
	}
	c, err := Load(requiredArgs, envFrom(env))
	require.NoError(t, err)
	assert.Equal(t, "/opt/ml/model", c.ModelDir)
	assert.Equal(t, "/opt/ml/input/data/train", c.TrainDir)
	assert.Empty(t, c.ValDir)
	assert.Empty(t, c.ResumeDir)

	// Optional variables.
	env[EnvValChannel] = "/opt/ml/input/data/val"
	env[EnvModelChannel] = "/opt/ml/input/data/model"
	c, err = Load(append([]string{"-resume", " epoch-10.params "}, requiredArgs...), envFrom(env))
	require.NoError(t, err)
	assert.Equal(t, "/opt/ml/input/data/val", c.ValDir)
	assert.Equal(t, "/opt/ml/input/data/model/epoch-10.params", c.ResumeDir)

	// Flags take precedence over the environment.
	c, err = Load(append([]string{"-train", "/data/coco"}, requiredArgs...), envFrom(env))
	require.NoError(t, err)
	assert.Equal(t, "/data/coco", c.TrainDir)

	// Missing required variables.
	for _, missing := range []string{EnvModelDir, EnvTrainChannel} {
		partial := map[string]string{EnvModelDir: "/m", EnvTrainChannel: "/t"}
		delete(partial, missing)
		_, err = Load(requiredArgs, envFrom(partial))
		require.Error(t, err, "missing %s", missing)
		assert.Contains(t, err.Error(), missing)
	}

	// Local mode doesn't need the environment.
	_, err = Load(append([]string{"-local"}, requiredArgs...), envFrom(nil))
	require.NoError(t, err)
}

func TestMalformedFlags(t *testing.T) {
	for _, args := range [][]string{
		{"-batch_size=abc"},
		{"-lr=0.1x"},
		{"-input_size=256"},
		{"-input_size=256,x"},
		{"-mean=0.1,0.2"},
		{"-lr_decay_epoch=40,,60"},
		{"-lr_mode=exponential"},
		{"-save_format=onnx"},
		{"-dtype=int8"},
	} {
		_, err := Load(append(append([]string{"-local"}, requiredArgs...), args...), envFrom(nil))
		require.Error(t, err, "args %v", args)
	}

	// Required flags.
	_, err := Load([]string{"-local", "-model=simple_pose_resnet18_v1b"}, envFrom(nil))
	require.Error(t, err)
	_, err = Load([]string{"-local", "-num_joints=17"}, envFrom(nil))
	require.Error(t, err)
}

func TestWorkersAlias(t *testing.T) {
	c, err := Load(append([]string{"-local", "-j", "3"}, requiredArgs...), envFrom(nil))
	require.NoError(t, err)
	assert.Equal(t, 3, c.NumDataWorkers)
}

func TestParseLists(t *testing.T) {
	ints, err := ParseInts(" 40, 60 ")
	require.NoError(t, err)
	assert.Equal(t, []int{40, 60}, ints)

	ints, err = ParseInts("")
	require.NoError(t, err)
	assert.Empty(t, ints)

	floats, err := ParseFloats("0.5,1e-3")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.001}, floats)

	_, err = ParseFloats("0.5;1")
	require.Error(t, err)
}

func TestYAMLRoundTrip(t *testing.T) {
	c, err := Load(append([]string{"-local", "-lr_decay_epoch=90,120", "-save_format=imperative"}, requiredArgs...),
		envFrom(nil))
	require.NoError(t, err)
	filePath := filepath.Join(t.TempDir(), "run", ConfigFileName)
	require.NoError(t, c.WriteYAML(filePath))
	c2, err := ReadYAML(filePath)
	require.NoError(t, err)
	assert.Equal(t, c, c2)
}
