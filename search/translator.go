package search

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Best picks the lowest-scoring hypothesis. With normalize set, scores
// are divided by sequence length first. ok is false for an empty slice.
func Best(hyps []Hypothesis, normalize bool) (best Hypothesis, ok bool) {
	bestScore := 0.0
	for _, h := range hyps {
		s := h.Score
		if normalize && len(h.Tokens) > 0 {
			s /= float64(len(h.Tokens))
		}
		if !ok || s < bestScore {
			best, bestScore, ok = h, s, true
		}
	}
	return best, ok
}

// Translator decodes single sentences and remembers results for
// deterministic option sets.
type Translator struct {
	mu        sync.Mutex
	dec       *Decoder
	opts      Options
	normalize bool
	cache     *lru.Cache
}

// NewTranslator wraps dec. A cacheSize of zero disables caching.
func NewTranslator(dec *Decoder, opts Options, normalize bool, cacheSize int) (*Translator, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	t := &Translator{dec: dec, opts: opts, normalize: normalize}
	if cacheSize > 0 && (opts.Mode == Beam || opts.Argmax) {
		c, err := lru.New(cacheSize)
		if err != nil {
			return nil, errors.Wrap(err, "translation cache")
		}
		t.cache = c
	}
	return t, nil
}

func cacheKey(src []int) string {
	return fmt.Sprint(src)
}

// Translate returns the best hypothesis for src.
func (t *Translator) Translate(ctx context.Context, src []int) (Hypothesis, error) {
	key := cacheKey(src)
	if t.cache != nil {
		if v, ok := t.cache.Get(key); ok {
			klog.V(4).Infof("translation cache hit for %d tokens", len(src))
			return v.(Hypothesis), nil
		}
	}

	t.mu.Lock()
	hyps, err := t.dec.Decode(ctx, src, t.opts)
	t.mu.Unlock()
	if err != nil {
		return Hypothesis{}, err
	}
	best, ok := Best(hyps, t.normalize)
	if !ok {
		return Hypothesis{}, errors.New("decoder produced no hypotheses")
	}
	if t.cache != nil {
		t.cache.Add(key, best)
	}
	return best, nil
}
