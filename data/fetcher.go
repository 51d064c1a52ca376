package data

import (
	"context"
	"math/rand/v2"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/manningwu07/nmt/IO"
)

// Opener opens a private handle on the corpus.
type Opener func() (*IO.IndexedCorpus, error)

// FetchOptions control one scan of the corpus.
type FetchOptions struct {
	StartOffset int // Restart or an explicit entry
	Shuffle     bool
	LoopForever bool
	MaxLen      int // pairs with a longer side are skipped
	BatchSize   int
}

// BucketFetcher scans the corpus on its own goroutine and pushes raw
// groups onto a bounded queue. The scan cursor is local to Run.
type BucketFetcher struct {
	open Opener
	opts FetchOptions
	rng  *rand.Rand
	out  chan<- Item
}

func NewBucketFetcher(open Opener, opts FetchOptions, rng *rand.Rand, out chan<- Item) *BucketFetcher {
	return &BucketFetcher{open: open, opts: opts, rng: rng, out: out}
}

// Run opens the corpus, reports the outcome on ready (if non-nil) and
// streams groups until the corpus is exhausted, a read fails or ctx is
// cancelled. out is closed on return; in non-looping mode the
// end-of-stream sentinel is the last item sent.
func (f *BucketFetcher) Run(ctx context.Context, ready chan<- error) {
	defer close(f.out)

	if f.opts.BatchSize <= 0 {
		err := errors.Errorf("batch size must be positive, got %d", f.opts.BatchSize)
		if ready != nil {
			ready <- err
		} else {
			f.send(ctx, Item{Err: &FetchError{Offset: -1, Err: err}})
		}
		return
	}
	corpus, err := f.open()
	if ready != nil {
		ready <- err
	}
	if err != nil {
		if ready == nil {
			f.send(ctx, Item{Err: &FetchError{Offset: -1, Err: err}})
		}
		return
	}
	defer corpus.Close()

	n := corpus.Count()
	offset := f.opts.StartOffset
	if offset == Restart {
		offset = 0
		if f.opts.Shuffle && n > 0 {
			offset = f.rng.IntN(n)
		}
	}
	if offset < 0 || offset > n {
		f.send(ctx, Item{Err: &FetchError{Offset: offset, Err: errors.Errorf("start offset outside [0,%d]", n)}})
		return
	}
	klog.V(2).Infof("fetcher: %d entries, starting from entry %d", n, offset)

	sinceAccept := 0
	for ctx.Err() == nil {
		group := &RawGroup{}
		last := false
		for len(group.Source) < f.opts.BatchSize {
			if ctx.Err() != nil {
				return
			}
			if offset == n {
				// A full pass without a usable pair ends the stream even
				// when looping.
				if f.opts.LoopForever && sinceAccept < n {
					offset = 0
				} else {
					last = true
					break
				}
			}
			sl, tl, err := corpus.Lengths(offset)
			if err != nil {
				f.send(ctx, Item{Err: &FetchError{Offset: offset, Err: err}})
				return
			}
			offset++
			sinceAccept++
			if sl > f.opts.MaxLen || tl > f.opts.MaxLen {
				continue
			}
			src, trg, err := corpus.Pair(offset - 1)
			if err != nil {
				f.send(ctx, Item{Err: &FetchError{Offset: offset - 1, Err: err}})
				return
			}
			sinceAccept = 0
			group.Source = append(group.Source, src)
			group.Target = append(group.Target, trg)
		}

		if len(group.Source) > 0 {
			group.NextOffset = offset
			if !f.send(ctx, Item{Group: group}) {
				return
			}
		}
		if last {
			f.send(ctx, Item{EOS: true})
			klog.V(2).Infof("fetcher: reached end of corpus")
			return
		}
	}
}

// send blocks until the consumer makes room or ctx is cancelled.
func (f *BucketFetcher) send(ctx context.Context, it Item) bool {
	select {
	case f.out <- it:
		return true
	case <-ctx.Done():
		return false
	}
}
