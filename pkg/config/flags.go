// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"flag"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// LookupEnvFn has the signature of os.LookupEnv.
type LookupEnvFn func(key string) (string, bool)

// Flags holds the command-line flags of a training run, registered with RegisterFlags.
// Call Resolve after parsing to obtain the Config.
type Flags struct {
	numJoints      *int
	batchSize      *int
	dtype          *string
	numDevices     *int
	numDataWorkers *int
	numEpochs      *int
	savePrefix     *string
	lr             *float64
	wd             *float64
	lrMode         *string
	lrDecay        *float64
	lrDecayPeriod  *int
	lrDecayEpoch   *string
	warmupLR       *float64
	warmupEpochs   *int
	lastGamma      *bool
	mode           *string
	model          *string
	inputSize      *string
	sigma          *float64
	mean           *string
	std            *string

	usePretrained     *bool
	usePretrainedBase *bool
	pretrained        *string
	noWD              *bool

	saveFrequency *int
	saveDir       *string
	logInterval   *int
	loggingFile   *string
	local         *bool
	saveFormat    *string
	modelDir      *string
	train         *string
	val           *string
	resume        *string

	seed     *int64
	cacheMB  *int
	progress *bool
	settings *string
}

// RegisterFlags registers the training flags in fs.
//
// The number of data workers is registered both as -num_data_workers and its short form -j.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	f.numJoints = fs.Int("num_joints", 0, "Number of joints per instance. Required.")
	f.batchSize = fs.Int("batch_size", 32, "Training mini-batch size per device.")
	f.dtype = fs.String("dtype", "float32", "Data type for training: float16, float32 or float64.")
	f.numDevices = fs.Int("num_devices", 0, "Number of accelerators used. The batch size is multiplied by max(1, num_devices).")
	f.numDataWorkers = fs.Int("num_data_workers", defaultNumWorkers(), "Number of workers decoding and augmenting images.")
	fs.Var(intAlias{f.numDataWorkers}, "j", "Short for -num_data_workers.")
	f.numEpochs = fs.Int("num_epochs", 3, "Number of training epochs.")
	f.savePrefix = fs.String("save_prefix", "", "Saving parameter prefix, the model name is appended to it.")
	f.lr = fs.Float64("lr", 0.1, "Learning rate.")
	f.wd = fs.Float64("wd", 0.0001, "Weight decay.")
	f.lrMode = fs.String("lr_mode", LRModeStep, "Learning rate decay mode after the warmup: step, poly or cosine.")
	f.lrDecay = fs.Float64("lr_decay", 0.1, "Decay rate of the learning rate in \"step\" mode.")
	f.lrDecayPeriod = fs.Int("lr_decay_period", 0, "Interval in epochs for learning rate decays. If > 0 it takes precedence over -lr_decay_epoch.")
	f.lrDecayEpoch = fs.String("lr_decay_epoch", "40,60", "Comma separated epochs at which the learning rate decays.")
	f.warmupLR = fs.Float64("warmup_lr", 0.0, "Starting warmup learning rate. Not used: warmup always starts at 0.")
	f.warmupEpochs = fs.Int("warmup_epochs", 0, "Number of warmup epochs.")
	f.lastGamma = fs.Bool("last_gamma", false, "Initialize the scale (gamma) of the last batch normalization of each residual block to 0.")
	f.mode = fs.String("mode", "hybrid", "Execution mode. Accepted for compatibility: computation graphs are always compiled.")
	f.model = fs.String("model", "", "Name of the model, see -help for the list. Required.")
	f.inputSize = fs.String("input_size", "256,192", "Input image size as \"height,width\".")
	f.sigma = fs.Float64("sigma", 2, "Sigma (spread) of the Gaussian rendered in the target heatmaps.")
	f.mean = fs.String("mean", "0.485,0.456,0.406", "Per-channel mean used to normalize images.")
	f.std = fs.String("std", "0.229,0.224,0.225", "Per-channel standard deviation used to normalize images.")
	f.usePretrained = fs.Bool("use_pretrained", false, "Load pretrained weights for the whole network from -pretrained.")
	f.usePretrainedBase = fs.Bool("use_pretrained_base", false, "Load pretrained weights for the backbone only from -pretrained.")
	f.pretrained = fs.String("pretrained", "", "Path of a .params file or checkpoint directory with pretrained weights.")
	f.noWD = fs.Bool("no_wd", false, "Disable weight decay on bias and batch normalization parameters.")
	f.saveFrequency = fs.Int("save_frequency", 1, "Save a checkpoint every this many epochs. 0 disables checkpoints.")
	f.saveDir = fs.String("save_dir", "params", "Directory of the periodic checkpoints. Empty disables checkpoints.")
	f.logInterval = fs.Int("log_interval", 20, "Number of batches between progress log lines.")
	f.loggingFile = fs.String("logging_file", "keypoints.log", "Name of the training log file.")
	f.local = fs.Bool("local", false, "Run locally: paths come from -model_dir, -train and -val instead of the environment.")
	f.saveFormat = fs.String("save_format", SaveFormatSymbolic, "Format of the best model: \"imperative\" or \"symbolic\".")
	f.modelDir = fs.String("model_dir", "", "Output directory of the best model, in local mode.")
	f.train = fs.String("train", "", "Training data root, in local mode.")
	f.val = fs.String("val", "", "Validation data root, in local mode. Not used for training.")
	f.resume = fs.String("resume", "", "Checkpoint to resume from, relative to the model channel. Recorded only.")
	f.seed = fs.Int64("seed", 0, "Seed for shuffling and augmentation. 0 seeds from the clock.")
	f.cacheMB = fs.Int("cache_mb", 512, "Size in MB of the in-memory cache of encoded images. 0 disables it.")
	f.progress = fs.Bool("progress", false, "Display a progress bar while training.")
	f.settings = fs.String("set", "", "Extra model hyperparameters as \"param1=value1;param2=value2;...\".")
	return f
}

// Resolve builds the Config from the parsed flags.
// A -seed of 0 is replaced by a seed taken from the clock, so the resolved Config records the seed used.
//
// If not in local mode, missing paths are read with lookupEnv from EnvModelDir and EnvTrainChannel (required) and
// EnvValChannel (optional). EnvModelChannel, if set, is joined with -resume and recorded in Config.ResumeDir.
func (f *Flags) Resolve(lookupEnv LookupEnvFn) (*Config, error) {
	c := &Config{
		NumJoints:         *f.numJoints,
		BatchSize:         *f.batchSize,
		DType:             *f.dtype,
		NumDevices:        *f.numDevices,
		NumDataWorkers:    *f.numDataWorkers,
		NumEpochs:         *f.numEpochs,
		RawSavePrefix:     *f.savePrefix,
		LR:                *f.lr,
		WD:                *f.wd,
		LRMode:            *f.lrMode,
		LRDecay:           *f.lrDecay,
		LRDecayPeriod:     *f.lrDecayPeriod,
		WarmupLR:          *f.warmupLR,
		WarmupEpochs:      *f.warmupEpochs,
		LastGamma:         *f.lastGamma,
		Mode:              *f.mode,
		Model:             *f.model,
		Sigma:             *f.sigma,
		UsePretrained:     *f.usePretrained,
		UsePretrainedBase: *f.usePretrainedBase,
		Pretrained:        *f.pretrained,
		NoWD:              *f.noWD,
		SaveFrequency:     *f.saveFrequency,
		SaveDir:           *f.saveDir,
		LogInterval:       *f.logInterval,
		LoggingFile:       *f.loggingFile,
		Local:             *f.local,
		SaveFormat:        *f.saveFormat,
		ModelDir:          *f.modelDir,
		TrainDir:          *f.train,
		ValDir:            *f.val,
		Seed:              *f.seed,
		CacheMB:           *f.cacheMB,
		Progress:          *f.progress,
		Settings:          *f.settings,
	}

	var err error
	if c.LRDecayEpoch, err = ParseInts(*f.lrDecayEpoch); err != nil {
		return nil, errors.WithMessage(err, "flag -lr_decay_epoch")
	}
	if err = parseFixed(*f.inputSize, c.InputSize[:], strconv.Atoi); err != nil {
		return nil, errors.WithMessage(err, "flag -input_size")
	}
	if err = parseFixed(*f.mean, c.Mean[:], parseFloat); err != nil {
		return nil, errors.WithMessage(err, "flag -mean")
	}
	if err = parseFixed(*f.std, c.Std[:], parseFloat); err != nil {
		return nil, errors.WithMessage(err, "flag -std")
	}
	if err = c.validate(); err != nil {
		return nil, err
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
		klog.Infof("Seeding with %d (use -seed=%d to reproduce)", c.Seed, c.Seed)
	}

	if !c.Local {
		if err = c.fromEnv(lookupEnv, *f.resume); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// fromEnv fills the paths not given by flags from the environment.
func (c *Config) fromEnv(lookupEnv LookupEnvFn, resume string) error {
	if c.ModelDir == "" {
		v, found := lookupEnv(EnvModelDir)
		if !found {
			return errors.Errorf("environment variable %s is required when not running with -local", EnvModelDir)
		}
		c.ModelDir = v
	}
	if c.TrainDir == "" {
		v, found := lookupEnv(EnvTrainChannel)
		if !found {
			return errors.Errorf("environment variable %s is required when not running with -local", EnvTrainChannel)
		}
		c.TrainDir = v
	}
	if c.ValDir == "" {
		if v, found := lookupEnv(EnvValChannel); found {
			c.ValDir = v
		}
	}
	if v, found := lookupEnv(EnvModelChannel); found && v != "" {
		c.ResumeDir = path.Join(v, strings.TrimSpace(resume))
	}
	return nil
}

// Load parses args with a new flag set and resolves the configuration, see Flags.Resolve.
func Load(args []string, lookupEnv LookupEnvFn) (*Config, error) {
	fs := flag.NewFlagSet("simplepose_train", flag.ContinueOnError)
	f := RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, errors.Wrap(err, "parsing flags")
	}
	return f.Resolve(lookupEnv)
}

// intAlias is a flag.Value writing to an int owned by another flag.
type intAlias struct{ p *int }

func (a intAlias) String() string {
	if a.p == nil {
		return "0"
	}
	return strconv.Itoa(*a.p)
}

func (a intAlias) Set(s string) error {
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*a.p = v
	return nil
}
