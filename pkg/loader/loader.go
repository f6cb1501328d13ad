// Package loader turns a dataset into a stream of batches, decoding samples on a pool
// of worker goroutines ahead of the consumer.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/cyclopcam/moodcam/pkg/dataset"
	"golang.org/x/sync/errgroup"
)

// Source is anything that can produce samples by index, such as a dataset.Dataset.
// Get must be safe for concurrent use.
type Source interface {
	Len() int
	Get(i int) (dataset.Sample, error)
}

type Options struct {
	BatchSize int
	Workers   int    // Number of samples decoded concurrently
	Prefetch  int    // Number of finished batches that may wait for the consumer
	Shuffle   bool   // Reshuffle the order at the start of every epoch
	Seed      uint64 // Seed for the shuffle
}

func DefaultOptions() Options {
	return Options{
		BatchSize: 16,
		Workers:   4,
		Prefetch:  2,
	}
}

// Batch holds N samples, with their pixels concatenated
type Batch struct {
	Pixels  []float32 // N * sampleSize values, CHW per sample
	Labels  []int
	Indices []int // Source index of each sample
	N       int
}

// SampleSize is the number of float32 values per sample
func (b *Batch) SampleSize() int {
	if b.N == 0 {
		return 0
	}
	return len(b.Pixels) / b.N
}

// Loader produces epochs of batches from a Source
type Loader struct {
	src   Source
	opt   Options
	epoch uint64
}

func New(src Source, opt Options) (*Loader, error) {
	if opt.BatchSize <= 0 {
		return nil, fmt.Errorf("Invalid batch size %v", opt.BatchSize)
	}
	if opt.Workers <= 0 {
		opt.Workers = 1
	}
	if opt.Prefetch <= 0 {
		opt.Prefetch = 1
	}
	return &Loader{
		src: src,
		opt: opt,
	}, nil
}

// NumBatches is the number of batches in one epoch. The final batch may be short.
func (l *Loader) NumBatches() int {
	return (l.src.Len() + l.opt.BatchSize - 1) / l.opt.BatchSize
}

func (l *Loader) BatchSize() int {
	return l.opt.BatchSize
}

// Sample order for the given epoch
func (l *Loader) order(epoch uint64) []int {
	n := l.src.Len()
	if !l.opt.Shuffle {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	rng := rand.New(rand.NewPCG(l.opt.Seed, epoch))
	return rng.Perm(n)
}

type result struct {
	batch *Batch
	err   error
}

// Iterator delivers the batches of one epoch, in order.
// You must call Close when finished, even if Next returned an error.
type Iterator struct {
	results <-chan result
	cancel  context.CancelFunc
	done    chan struct{}
}

// Epoch starts loading the next epoch in the background
func (l *Loader) Epoch(ctx context.Context) *Iterator {
	order := l.order(l.epoch)
	l.epoch++

	ctx, cancel := context.WithCancel(ctx)
	results := make(chan result, l.opt.Prefetch)
	it := &Iterator{
		results: results,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(it.done)
		defer close(results)
		for start := 0; start < len(order); start += l.opt.BatchSize {
			end := min(start+l.opt.BatchSize, len(order))
			batch, err := l.load(ctx, order[start:end])
			select {
			case results <- result{batch, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return it
}

// SetEpoch sets the epoch counter used to seed the shuffle, so that a resumed run
// sees the same order it would have seen without interruption.
func (l *Loader) SetEpoch(epoch int) {
	l.epoch = uint64(epoch)
}

func (l *Loader) load(ctx context.Context, indices []int) (*Batch, error) {
	samples := make([]dataset.Sample, len(indices))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opt.Workers)
	for i, idx := range indices {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, err := l.src.Get(idx)
			if err != nil {
				return err
			}
			samples[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sampleSize := len(samples[0].Pixels)
	b := &Batch{
		Pixels:  make([]float32, 0, sampleSize*len(samples)),
		Labels:  make([]int, len(samples)),
		Indices: append([]int(nil), indices...),
		N:       len(samples),
	}
	for i, s := range samples {
		if len(s.Pixels) != sampleSize {
			return nil, fmt.Errorf("Sample %v has %v values, but sample %v has %v", indices[i], len(s.Pixels), indices[0], sampleSize)
		}
		b.Pixels = append(b.Pixels, s.Pixels...)
		b.Labels[i] = s.Label
	}
	return b, nil
}

// Next returns the next batch, or io.EOF when the epoch is finished
func (it *Iterator) Next() (*Batch, error) {
	r, ok := <-it.results
	if !ok {
		return nil, io.EOF
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.batch, nil
}

// Close stops any background loading, and waits for the workers to exit
func (it *Iterator) Close() {
	it.cancel()
	<-it.done
}

// IsEOF is true if err marks the end of an epoch
func IsEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
