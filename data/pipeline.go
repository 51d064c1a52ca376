package data

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/pkg/errors"

	"github.com/manningwu07/nmt/IO"
	"github.com/manningwu07/nmt/params"
)

// PipelineConfig holds the batching knobs.
type PipelineConfig struct {
	BatchSize   int
	MaxLen      int // fetch-time skip filter
	QueueSize   int
	KBatches    int
	Shuffle     bool
	LoopForever bool
}

// PipelineConfigFrom picks the training or validation settings of cfg.
// Validation streams are never shuffled or looped.
func PipelineConfigFrom(cfg params.Config, valid bool) PipelineConfig {
	pc := PipelineConfig{
		BatchSize:   cfg.BatchSize,
		MaxLen:      cfg.FetchMaxLen,
		QueueSize:   cfg.QueueSize,
		KBatches:    cfg.KBatches,
		Shuffle:     cfg.Shuffle,
		LoopForever: cfg.LoopForever,
	}
	if valid {
		pc.BatchSize = cfg.ValidBatchSize
		pc.Shuffle = false
		pc.LoopForever = false
	}
	return pc
}

// Pipeline runs one BucketFetcher goroutine feeding a HomogeneousBatcher
// through a bounded queue. Start, Next and Stop must be called from a
// single goroutine.
type Pipeline struct {
	cfg  PipelineConfig
	open Opener
	rng  *rand.Rand

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	batcher *HomogeneousBatcher
	offset  int
}

// NewPipeline builds a stopped pipeline. rng is only used by the fetcher
// to choose a shuffled start offset.
func NewPipeline(cfg PipelineConfig, open Opener, rng *rand.Rand) (*Pipeline, error) {
	if cfg.BatchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.QueueSize < 0 {
		return nil, errors.Errorf("queue size must not be negative, got %d", cfg.QueueSize)
	}
	return &Pipeline{cfg: cfg, open: open, rng: rng, offset: Restart}, nil
}

// CorpusOpener opens spec on every call.
func CorpusOpener(spec IO.CorpusSpec) Opener {
	return func() (*IO.IndexedCorpus, error) { return IO.OpenCorpus(spec) }
}

// Start launches the fetcher from offset (Restart for a fresh pass). A
// running pipeline is stopped first. Corpus open errors, including
// integrity errors, are returned here.
func (p *Pipeline) Start(offset int) error {
	p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	queue := make(chan Item, p.cfg.QueueSize)
	ready := make(chan error, 1)
	f := NewBucketFetcher(p.open, FetchOptions{
		StartOffset: offset,
		Shuffle:     p.cfg.Shuffle,
		LoopForever: p.cfg.LoopForever,
		MaxLen:      p.cfg.MaxLen,
		BatchSize:   p.cfg.BatchSize,
	}, p.rng, queue)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		f.Run(ctx, ready)
	}()
	if err := <-ready; err != nil {
		cancel()
		p.wg.Wait()
		return err
	}
	p.cancel = cancel
	p.batcher = NewHomogeneousBatcher(queue, p.cfg.BatchSize, p.cfg.KBatches)
	return nil
}

// Next returns the next batch or ErrEndOfStream.
func (p *Pipeline) Next() (Batch, error) {
	if p.batcher == nil {
		return Batch{}, ErrNotStarted
	}
	return p.batcher.Next()
}

// NextOffset is where a resumed run should start.
func (p *Pipeline) NextOffset() int {
	if p.batcher == nil {
		return p.offset
	}
	return p.batcher.NextOffset()
}

// Stop cancels the fetcher and waits for it to exit. Safe to call twice.
func (p *Pipeline) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.cancel = nil
	p.offset = p.batcher.NextOffset()
	p.batcher = nil
}
