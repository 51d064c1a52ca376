// Package model provides a small conditional bigram translation model.
// The next target word is predicted from the previous target word and
// the averaged source words:
//
//	p(y_t | y_t-1, x) = softmax(Wprev[y_t-1] + mean_s Wsrc[x_s] + b)
//
// It is enough to exercise the pipeline, the trainer and the decoder
// end to end; it is not meant to translate well.
package model

import (
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/nmt/data"
	"github.com/manningwu07/nmt/search"
	"github.com/manningwu07/nmt/utils"
)

const (
	ParamPrev = "Wprev"
	ParamSrc  = "Wsrc"
	ParamBias = "b"
)

type Bigram struct {
	NWordsSrc, NWords int

	// Wprev row 0 is the start-of-sentence context; row w+1 follows word w.
	Wprev *mat.Dense // (NWords+1) x NWords
	Wsrc  *mat.Dense // NWordsSrc x NWords
	B     *mat.Dense // 1 x NWords
}

// NewBigram initialises weights uniformly in ±1/sqrt(NWords).
func NewBigram(nWordsSrc, nWords int, rng *rand.Rand) (*Bigram, error) {
	if nWordsSrc < 2 || nWords < 2 {
		return nil, errors.Errorf("bigram: vocabularies need at least 2 words, got %d/%d", nWordsSrc, nWords)
	}
	v := float64(nWords)
	return &Bigram{
		NWordsSrc: nWordsSrc,
		NWords:    nWords,
		Wprev:     mat.NewDense(nWords+1, nWords, utils.RandomArray((nWords+1)*nWords, v, rng.Float64)),
		Wsrc:      mat.NewDense(nWordsSrc, nWords, utils.RandomArray(nWordsSrc*nWords, v, rng.Float64)),
		B:         mat.NewDense(1, nWords, nil),
	}, nil
}

// Params exposes the live parameter matrices by name.
func (m *Bigram) Params() map[string]*mat.Dense {
	return map[string]*mat.Dense{ParamPrev: m.Wprev, ParamSrc: m.Wsrc, ParamBias: m.B}
}

func (m *Bigram) prevRow(w int) int {
	if w < 0 {
		return 0
	}
	if w >= m.NWords {
		w = data.OOVID
	}
	return w + 1
}

func (m *Bigram) srcID(w int) int {
	if w < 0 || w >= m.NWordsSrc {
		return data.OOVID
	}
	return w
}

// context is the mean Wsrc row over src.
func (m *Bigram) context(src []int) []float64 {
	c := make([]float64, m.NWords)
	if len(src) == 0 {
		return c
	}
	for _, w := range src {
		row := m.Wsrc.RawRowView(m.srcID(w))
		for j, v := range row {
			c[j] += v
		}
	}
	inv := 1 / float64(len(src))
	for j := range c {
		c[j] *= inv
	}
	return c
}

func (m *Bigram) logits(dst []float64, prev int, ctx []float64) {
	wp := m.Wprev.RawRowView(m.prevRow(prev))
	b := m.B.RawRowView(0)
	for j := range dst {
		dst[j] = wp[j] + ctx[j] + b[j]
	}
}

// Cost returns the mean over samples of the summed target negative
// log-likelihood, and its gradient for every parameter.
func (m *Bigram) Cost(pb *data.PaddedBatch) (float64, map[string]*mat.Dense, error) {
	n := pb.Samples()
	if n == 0 {
		return 0, nil, data.ErrEmptyBatch
	}
	grads := map[string]*mat.Dense{
		ParamPrev: utils.ZerosLike(m.Wprev),
		ParamSrc:  utils.ZerosLike(m.Wsrc),
		ParamBias: utils.ZerosLike(m.B),
	}
	gb := grads[ParamBias].RawRowView(0)
	inv := 1 / float64(n)
	probs := mat.NewDense(1, m.NWords, nil)
	row := probs.RawRowView(0)
	cost := 0.0

	for i := 0; i < n; i++ {
		var src []int
		for t := 0; t < pb.Source.Steps(); t++ {
			if pb.Source.Mask.At(t, i) > 0 {
				src = append(src, pb.Source.Token(t, i))
			}
		}
		ctx := m.context(src)
		dctx := make([]float64, m.NWords)

		prev := search.StartToken
		for t := 0; t < pb.Target.Steps(); t++ {
			mask := pb.Target.Mask.At(t, i)
			if mask == 0 {
				break
			}
			y := pb.Target.Token(t, i)
			if y >= m.NWords {
				return 0, nil, errors.Errorf("bigram: target id %d outside vocabulary of %d", y, m.NWords)
			}
			m.logits(row, prev, ctx)
			utils.RowSoftmaxInPlace(probs)
			cost += mask * inv * utils.NegLog(row[y])

			gp := grads[ParamPrev].RawRowView(m.prevRow(prev))
			for j, p := range row {
				d := p
				if j == y {
					d -= 1
				}
				d *= mask * inv
				gp[j] += d
				gb[j] += d
				dctx[j] += d
			}
			prev = y
		}

		if len(src) > 0 {
			share := 1 / float64(len(src))
			for _, w := range src {
				gs := grads[ParamSrc].RawRowView(m.srcID(w))
				for j, d := range dctx {
					gs[j] += d * share
				}
			}
		}
	}
	return cost, grads, nil
}

// Init implements search.Scorer. The source gets the end token
// appended, matching the training layout.
func (m *Bigram) Init(src []int) (search.State, search.Context, error) {
	full := append(append([]int(nil), src...), search.EOS)
	return nil, m.context(full), nil
}

// Step implements search.Scorer. The model keeps no decoder state.
func (m *Bigram) Step(prev []int, states []search.State, sctx search.Context) (*mat.Dense, []search.State, error) {
	ctx, ok := sctx.([]float64)
	if !ok || len(ctx) != m.NWords {
		return nil, nil, errors.Errorf("bigram: unexpected decoding context %T", sctx)
	}
	out := mat.NewDense(len(prev), m.NWords, nil)
	for i, w := range prev {
		m.logits(out.RawRowView(i), w, ctx)
	}
	utils.RowSoftmaxInPlace(out)
	return out, states, nil
}
