package data

import (
	"sort"

	"github.com/pkg/errors"
)

// HomogeneousBatcher pools k raw groups, sorts the pool by pair length
// and cuts it into batches. Lengths are ascending within a pool only.
type HomogeneousBatcher struct {
	in        <-chan Item
	batchSize int
	k         int

	pending     []Batch
	endOfStream bool
	err         error
	nextOffset  int
}

func NewHomogeneousBatcher(in <-chan Item, batchSize, k int) *HomogeneousBatcher {
	if k <= 0 {
		k = 10
	}
	return &HomogeneousBatcher{in: in, batchSize: batchSize, k: k, nextOffset: Restart}
}

// NextOffset is the corpus offset following the last group dequeued.
func (h *HomogeneousBatcher) NextOffset() int { return h.nextOffset }

// Next returns the next batch, ErrEndOfStream once the stream is drained,
// or the fetch error that stopped the stream.
func (h *HomogeneousBatcher) Next() (Batch, error) {
	if h.batchSize <= 0 {
		return Batch{}, errors.Errorf("batch size must be positive, got %d", h.batchSize)
	}
	for len(h.pending) == 0 {
		if h.err != nil {
			return Batch{}, h.err
		}
		if h.endOfStream {
			return Batch{}, ErrEndOfStream
		}
		h.fill()
	}
	b := h.pending[0]
	h.pending = h.pending[1:]
	return b, nil
}

func (h *HomogeneousBatcher) fill() {
	var src, trg [][]int
	for i := 0; i < h.k; i++ {
		it, ok := <-h.in
		if !ok || it.EOS {
			h.endOfStream = true
			break
		}
		if it.Err != nil {
			h.err = it.Err
			return
		}
		h.nextOffset = it.Group.NextOffset
		src = append(src, it.Group.Source...)
		trg = append(trg, it.Group.Target...)
	}
	if len(src) == 0 {
		h.endOfStream = true
		return
	}

	order := make([]int, len(src))
	for i := range order {
		order[i] = i
	}
	if h.k > 1 {
		sort.SliceStable(order, func(a, b int) bool {
			return max(len(src[order[a]]), len(trg[order[a]])) < max(len(src[order[b]]), len(trg[order[b]]))
		})
	}
	for lo := 0; lo < len(order); lo += h.batchSize {
		hi := min(lo+h.batchSize, len(order))
		b := Batch{Source: make([][]int, 0, hi-lo), Target: make([][]int, 0, hi-lo)}
		for _, ii := range order[lo:hi] {
			b.Source = append(b.Source, src[ii])
			b.Target = append(b.Target, trg[ii])
		}
		h.pending = append(h.pending, b)
	}
}
