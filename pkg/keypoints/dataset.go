// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package keypoints

import (
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/simplepose/pkg/config"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// Dataset yields shuffled batches of transformed samples. It implements train.Dataset.
//
// Each epoch is a new permutation of the samples, and ends (with io.EOF) when fewer than batchSize samples
// remain: the last incomplete batch is dropped. Call Reset to start the next epoch.
//
// Yield returns:
//
//   - inputs: the images shaped [batchSize, height, width, 3] and their image ids ([batchSize], Int64).
//   - labels: the heatmaps shaped [batchSize, height/4, width/4, numJoints] and the joint weights
//     [batchSize, numJoints].
//
// Images, heatmaps and weights are of the configured dtype.
type Dataset struct {
	name      string
	samples   []Sample
	numJoints int
	transform *TrainTransform
	batchSize int
	dtype     dtypes.DType

	pool  *ants.Pool
	cache *imageCache

	mu      sync.Mutex
	seed    uint64
	shuffle *rand.Rand
	epoch   uint64
	order   []int
	next    int
}

// DatasetConfig holds the parameters to NewDataset.
type DatasetConfig struct {
	// Name of the dataset, returned by Dataset.Name.
	Name string

	// BatchSize is the number of samples per batch. Required.
	BatchSize int

	// DType of the images and heatmaps, one of Float16, Float32 or Float64. Defaults to Float32.
	DType dtypes.DType

	// NumWorkers transforming samples in parallel. Defaults to 1.
	NumWorkers int

	// CacheBytes is the amount of memory used to cache the encoded images. 0 disables the cache.
	CacheBytes int

	// Seed for shuffling and augmentation. 0 seeds from the clock.
	Seed uint64
}

// NewDataset creates a Dataset of the given samples. Every sample must have numJoints joints.
//
// The returned dataset holds a pool of goroutines: call Close when done.
func NewDataset(samples []Sample, numJoints int, transform *TrainTransform, dsConfig DatasetConfig) (*Dataset, error) {
	if dsConfig.BatchSize <= 0 {
		return nil, errors.Errorf("invalid batch size %d", dsConfig.BatchSize)
	}
	for ii := range samples {
		if len(samples[ii].Joints) != numJoints {
			return nil, errors.Errorf("sample #%d (image %d) has %d joints, expected %d",
				ii, samples[ii].ImageID, len(samples[ii].Joints), numJoints)
		}
	}
	dtype := dsConfig.DType
	switch dtype {
	case dtypes.InvalidDType:
		dtype = dtypes.Float32
	case dtypes.Float16, dtypes.Float32, dtypes.Float64:
	default:
		return nil, errors.Errorf("dataset dtype %s not supported", dtype)
	}
	seed := dsConfig.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
		klog.V(1).Infof("%s: seeding with %d", dsConfig.Name, seed)
	}
	pool, err := ants.NewPool(max(dsConfig.NumWorkers, 1))
	if err != nil {
		return nil, errors.Wrapf(err, "creating pool of data workers")
	}
	ds := &Dataset{
		name:      dsConfig.Name,
		samples:   samples,
		numJoints: numJoints,
		transform: transform,
		batchSize: dsConfig.BatchSize,
		dtype:     dtype,
		pool:      pool,
		cache:     newImageCache(dsConfig.CacheBytes),
		seed:      seed,
		shuffle:   rand.New(rand.NewPCG(seed, 0)),
		order:     make([]int, len(samples)),
	}
	for ii := range ds.order {
		ds.order[ii] = ii
	}
	ds.reshuffle()
	return ds, nil
}

// NewTrainDataset loads the training split from cfg.TrainDir and creates the training Dataset with the
// configured input size, sigma, normalization, effective batch size, workers and cache.
func NewTrainDataset(cfg *config.Config) (*Dataset, error) {
	anns, err := LoadAnnotations(cfg.TrainDir, DefaultSplit, cfg.NumJoints, cfg.Progress)
	if err != nil {
		return nil, err
	}
	if len(anns.Samples) < cfg.EffectiveBatchSize() {
		return nil, errors.Errorf("only %d training samples, fewer than one batch of %d",
			len(anns.Samples), cfg.EffectiveBatchSize())
	}
	dtype, err := dtypes.DTypeString(cfg.DType)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid dtype %q", cfg.DType)
	}
	transform := NewTrainTransform(cfg.InputSize, cfg.Sigma, cfg.Mean, cfg.Std, FlipPairs(anns.JointNames))
	return NewDataset(anns.Samples, cfg.NumJoints, transform, DatasetConfig{
		Name:       "coco-" + DefaultSplit,
		BatchSize:  cfg.EffectiveBatchSize(),
		DType:      dtype,
		NumWorkers: cfg.NumDataWorkers,
		CacheBytes: cfg.CacheMB << 20,
		Seed:       uint64(cfg.Seed),
	})
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// Len is the number of samples.
func (ds *Dataset) Len() int { return len(ds.samples) }

// NumBatches is the number of batches yielded per epoch.
func (ds *Dataset) NumBatches() int { return len(ds.samples) / ds.batchSize }

// Close releases the data workers.
func (ds *Dataset) Close() {
	ds.pool.Release()
	ds.cache.reset()
}

// Reset implements train.Dataset. It starts a new epoch with a new permutation of the samples.
func (ds *Dataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.epoch++
	ds.reshuffle()
	klog.V(1).Infof("%s: epoch %d started, %s", ds.name, ds.epoch, ds.cache)
}

func (ds *Dataset) reshuffle() {
	ds.shuffle.Shuffle(len(ds.order), func(i, j int) {
		ds.order[i], ds.order[j] = ds.order[j], ds.order[i]
	})
	ds.next = 0
}

// Yield implements train.Dataset.
func (ds *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.next+ds.batchSize > len(ds.order) {
		return nil, nil, nil, io.EOF
	}
	start := ds.next
	batch := ds.order[start : start+ds.batchSize]
	ds.next += ds.batchSize

	t := ds.transform
	imgSize, heatSize := t.ImageSize(), t.HeatmapsSize(ds.numJoints)
	pixels := make([]float32, ds.batchSize*imgSize)
	heatmaps := make([]float32, ds.batchSize*heatSize)
	weights := make([]float32, ds.batchSize*ds.numJoints)
	ids := make([]int64, ds.batchSize)

	var wg sync.WaitGroup
	var muErr sync.Mutex
	var firstErr error
	setErr := func(err error) {
		muErr.Lock()
		defer muErr.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}
	for ii, sampleIdx := range batch {
		wg.Add(1)
		// Each sample has its own random stream, so results don't depend on the scheduling of the workers.
		rng := rand.New(rand.NewPCG(ds.seed, ds.epoch*uint64(len(ds.order))+uint64(start+ii)+1))
		task := func() {
			defer wg.Done()
			sample := &ds.samples[sampleIdx]
			ids[ii] = sample.ImageID
			img, err := ds.cache.decode(sample.ImagePath)
			if err == nil {
				err = t.Apply(img, sample, rng,
					pixels[ii*imgSize:(ii+1)*imgSize],
					heatmaps[ii*heatSize:(ii+1)*heatSize],
					weights[ii*ds.numJoints:(ii+1)*ds.numJoints])
			}
			if err != nil {
				setErr(errors.WithMessagef(err, "sample of image %d", sample.ImageID))
			}
		}
		if err := ds.pool.Submit(task); err != nil {
			wg.Done()
			setErr(errors.Wrapf(err, "submitting data task"))
		}
	}
	wg.Wait()
	if firstErr != nil {
		return nil, nil, nil, errors.WithMessagef(firstErr, "%s: building batch", ds.name)
	}

	inH, inW := t.InputSize[0], t.InputSize[1]
	heatH, heatW := t.HeatmapSize[0], t.HeatmapSize[1]
	inputs = []*tensors.Tensor{
		toTensor(pixels, ds.dtype, ds.batchSize, inH, inW, 3),
		tensors.FromFlatDataAndDimensions(ids, ds.batchSize),
	}
	labels = []*tensors.Tensor{
		toTensor(heatmaps, ds.dtype, ds.batchSize, heatH, heatW, ds.numJoints),
		toTensor(weights, ds.dtype, ds.batchSize, ds.numJoints),
	}
	return ds, inputs, labels, nil
}

// String implements fmt.Stringer.
func (ds *Dataset) String() string {
	return fmt.Sprintf("%s: %d samples, %d batches of %d (%s)", ds.name, ds.Len(), ds.NumBatches(), ds.batchSize, ds.dtype)
}

// toTensor converts the float32 values to a tensor of the given dtype and dimensions.
func toTensor(values []float32, dtype dtypes.DType, dims ...int) *tensors.Tensor {
	switch dtype {
	case dtypes.Float16:
		converted := make([]float16.Float16, len(values))
		for ii, v := range values {
			converted[ii] = float16.Fromfloat32(v)
		}
		return tensors.FromFlatDataAndDimensions(converted, dims...)
	case dtypes.Float64:
		converted := make([]float64, len(values))
		for ii, v := range values {
			converted[ii] = float64(v)
		}
		return tensors.FromFlatDataAndDimensions(converted, dims...)
	default:
		return tensors.FromFlatDataAndDimensions(values, dims...)
	}
}
