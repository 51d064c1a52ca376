// Package data streams sentence pairs from an indexed corpus into
// length-homogeneous, padded minibatches.
package data

import (
	"fmt"

	"github.com/pkg/errors"
)

// Restart asks the fetcher to pick its own start offset (random when
// shuffling, else 0).
const Restart = -1

var (
	// ErrEndOfStream signals that every batch of the current pass was returned.
	ErrEndOfStream = errors.New("end of stream")
	// ErrEmptyBatch is returned when length filtering leaves nothing to
	// train on. Callers skip the batch.
	ErrEmptyBatch = errors.New("empty batch")
	// ErrNotStarted is returned by Pipeline.Next before Start.
	ErrNotStarted = errors.New("pipeline not started")
)

// FetchError carries a corpus read failure from the fetcher to the consumer.
type FetchError struct {
	Offset int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("fetch: %v", e.Err)
	}
	return fmt.Sprintf("fetch at entry %d: %v", e.Offset, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RawGroup is up to batchSize pairs in corpus scan order.
type RawGroup struct {
	NextOffset int
	Source     [][]int
	Target     [][]int
}

// Item is one queue element: a group, a fetch error, or the end-of-stream
// sentinel.
type Item struct {
	Group *RawGroup
	Err   error
	EOS   bool
}

// Batch is a set of sentence pairs of similar length.
type Batch struct {
	Source [][]int
	Target [][]int
}

func (b Batch) Len() int { return len(b.Source) }

// MaxLen is max(len(src), len(trg)) over the batch.
func (b Batch) MaxLen() int {
	m := 0
	for i := range b.Source {
		m = max(m, len(b.Source[i]), len(b.Target[i]))
	}
	return m
}

// MinLen is the smallest per-pair max(len(src), len(trg)).
func (b Batch) MinLen() int {
	m := -1
	for i := range b.Source {
		l := max(len(b.Source[i]), len(b.Target[i]))
		if m < 0 || l < m {
			m = l
		}
	}
	return m
}
