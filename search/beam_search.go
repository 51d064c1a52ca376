package search

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
	"k8s.io/klog/v2"
)

// Mode selects single-path sampling or beam search.
type Mode int

const (
	Stochastic Mode = iota
	Beam
)

func (m Mode) String() string {
	if m == Beam {
		return "beam"
	}
	return "stochastic"
}

// Options control one Decode call.
type Options struct {
	Mode      Mode
	K         int  // beam width; must be 1 in stochastic mode
	MaxSteps  int  // hard bound on Scorer steps
	MinLength int  // completed beam hypotheses shorter than this are dropped
	Argmax    bool // stochastic mode: take the most likely token instead of sampling
}

// Hypothesis is a finished output sequence. Score is the cumulative
// negative log-probability; it is not length normalized.
type Hypothesis struct {
	Tokens []int
	Score  float64
}

type liveHyp struct {
	tokens []int
	score  float64
	state  State
}

// Decoder drives a Scorer. It keeps no state between calls, but its
// random source is not safe for concurrent use: give each goroutine its
// own Decoder.
type Decoder struct {
	scorer Scorer
	rng    *rand.Rand
}

// NewDecoder builds a decoder. rng is only needed for sampling.
func NewDecoder(s Scorer, rng *rand.Rand) *Decoder {
	return &Decoder{scorer: s, rng: rng}
}

func (o Options) validate() error {
	switch {
	case o.K < 1:
		return errors.Errorf("beam width must be positive, got %d", o.K)
	case o.MaxSteps < 1:
		return errors.Errorf("max steps must be positive, got %d", o.MaxSteps)
	case o.Mode == Stochastic && o.K != 1:
		return errors.New("beam search does not support stochastic sampling")
	case o.Mode != Stochastic && o.Mode != Beam:
		return errors.Errorf("unknown mode %d", o.Mode)
	}
	return nil
}

// Decode translates src. In beam mode the completed hypotheses come
// first in completion order, followed by any hypotheses still live at
// MaxSteps.
func (d *Decoder) Decode(ctx context.Context, src []int, opts Options) ([]Hypothesis, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	state, sctx, err := d.scorer.Init(src)
	if err != nil {
		return nil, &ScorerError{Op: "init", Err: err}
	}
	if opts.Mode == Stochastic {
		h, err := d.sample(ctx, state, sctx, opts)
		if err != nil {
			return nil, err
		}
		return []Hypothesis{h}, nil
	}
	return d.beam(ctx, state, sctx, opts)
}

func (d *Decoder) step(prev []int, states []State, sctx Context) (*dist, []State, error) {
	probs, next, err := d.scorer.Step(prev, states, sctx)
	if err != nil {
		return nil, nil, &ScorerError{Op: "step", Err: err}
	}
	r, c := probs.Dims()
	if r != len(prev) || len(next) != len(prev) || c == 0 {
		return nil, nil, &ScorerError{Op: "step", Err: errors.Errorf(
			"got %dx%d distribution and %d states for %d hypotheses", r, c, len(next), len(prev))}
	}
	return &dist{rows: r, cols: c, raw: probs.RawRowView}, next, nil
}

// dist is the row access Decode needs from a Step result.
type dist struct {
	rows, cols int
	raw        func(i int) []float64
}

func (d *Decoder) sample(ctx context.Context, state State, sctx Context, opts Options) (Hypothesis, error) {
	var h Hypothesis
	prev := StartToken
	for ii := 0; ii < opts.MaxSteps; ii++ {
		if err := ctx.Err(); err != nil {
			return Hypothesis{}, err
		}
		probs, next, err := d.step([]int{prev}, []State{state}, sctx)
		if err != nil {
			return Hypothesis{}, err
		}
		row := probs.raw(0)
		var w int
		if opts.Argmax {
			w = floats.MaxIdx(row)
		} else {
			if w, err = d.draw(row); err != nil {
				return Hypothesis{}, err
			}
		}
		h.Tokens = append(h.Tokens, w)
		h.Score += -math.Log(row[w])
		state, prev = next[0], w
		if w == EOS {
			break
		}
	}
	return h, nil
}

func (d *Decoder) draw(row []float64) (int, error) {
	for _, p := range row {
		if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return 0, &ScorerError{Op: "step", Err: errors.Errorf("invalid probability %v", p)}
		}
	}
	if d.rng == nil {
		return 0, errors.New("sampling requires a random source")
	}
	return int(distuv.NewCategorical(row, d.rng).Rand()), nil
}

func (d *Decoder) beam(ctx context.Context, state State, sctx Context, opts Options) ([]Hypothesis, error) {
	live := []liveHyp{{state: state}}
	var done []Hypothesis
	dead := 0

	for ii := 0; ii < opts.MaxSteps; ii++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prev := make([]int, len(live))
		states := make([]State, len(live))
		for i, h := range live {
			prev[i] = StartToken
			if n := len(h.tokens); n > 0 {
				prev[i] = h.tokens[n-1]
			}
			states[i] = h.state
		}
		probs, next, err := d.step(prev, states, sctx)
		if err != nil {
			return nil, err
		}

		scores := make([]float64, len(live))
		for i, h := range live {
			scores[i] = h.score
		}
		ranked := lowestCosts(scores, probs, opts.K-dead)

		var newLive []liveHyp
		for _, c := range ranked {
			ti, wi := c.index/probs.cols, c.index%probs.cols
			tokens := make([]int, len(live[ti].tokens), len(live[ti].tokens)+1)
			copy(tokens, live[ti].tokens)
			tokens = append(tokens, wi)
			if wi == EOS {
				if len(tokens) >= opts.MinLength {
					done = append(done, Hypothesis{Tokens: tokens, Score: c.cost})
				}
				dead++
				continue
			}
			newLive = append(newLive, liveHyp{tokens: tokens, score: c.cost, state: next[ti]})
		}
		live = newLive
		klog.V(3).Infof("beam step %d: %d live, %d dead", ii, len(live), dead)

		if len(live) == 0 || dead >= opts.K {
			break
		}
	}

	// dump every remaining one
	for _, h := range live {
		done = append(done, Hypothesis{Tokens: h.tokens, Score: h.score})
	}
	return done, nil
}

type candidate struct {
	index int // hypothesis*vocab + token
	cost  float64
}

// lowestCosts returns the n cheapest score[i] - log(p[i][w]) candidates in
// ascending cost, ties broken by flattened index.
func lowestCosts(scores []float64, probs *dist, n int) []candidate {
	if n <= 0 {
		return nil
	}
	best := make([]candidate, 0, n)
	for i := 0; i < probs.rows; i++ {
		row := probs.raw(i)
		for w, p := range row {
			cost := scores[i] - math.Log(p)
			if math.IsNaN(cost) {
				cost = math.Inf(1)
			}
			if len(best) == n && cost >= best[n-1].cost {
				continue
			}
			// insert after every candidate that is not more expensive
			pos := len(best)
			for pos > 0 && best[pos-1].cost > cost {
				pos--
			}
			if len(best) < n {
				best = append(best, candidate{})
			}
			copy(best[pos+1:], best[pos:len(best)-1])
			best[pos] = candidate{index: i*probs.cols + w, cost: cost}
		}
	}
	return best
}
