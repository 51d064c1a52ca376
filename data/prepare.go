package data

import "gonum.org/v1/gonum/mat"

// OOVID replaces token ids that fall outside the vocabulary.
const OOVID = 1

// PaddedMatrix is a time-major (steps x samples) token matrix padded with
// 0, plus its mask. A sequence of length L has L+1 leading ones in the
// mask: its tokens and the end-of-sentence slot.
type PaddedMatrix struct {
	Tokens *mat.Dense
	Mask   *mat.Dense
}

// Steps is the padded length.
func (p PaddedMatrix) Steps() int {
	r, _ := p.Tokens.Dims()
	return r
}

// Samples is the number of sequences.
func (p PaddedMatrix) Samples() int {
	_, c := p.Tokens.Dims()
	return c
}

// Token returns the id at step t of sample i.
func (p PaddedMatrix) Token(t, i int) int {
	return int(p.Tokens.At(t, i))
}

// Unpad recovers the token sequence of sample i using the mask.
func (p PaddedMatrix) Unpad(i int) []int {
	n := 0
	for t := 0; t < p.Steps() && p.Mask.At(t, i) > 0; t++ {
		n++
	}
	out := make([]int, 0, max(n-1, 0))
	for t := 0; t < n-1; t++ {
		out = append(out, p.Token(t, i))
	}
	return out
}

// PaddedBatch is the training-time view of a Batch.
type PaddedBatch struct {
	Source PaddedMatrix
	Target PaddedMatrix
}

// Samples is the number of pairs that survived filtering.
func (b *PaddedBatch) Samples() int { return b.Source.Samples() }

// Assemble pads b into fixed-shape matrices. Pairs with a side of length
// >= maxLen are dropped (maxLen <= 0 keeps everything); ids >= the
// vocabulary size become OOVID. Returns ErrEmptyBatch when nothing is left.
func Assemble(b Batch, maxLen, nWordsSrc, nWordsTrg int) (*PaddedBatch, error) {
	var src, trg [][]int
	for i := range b.Source {
		if maxLen > 0 && (len(b.Source[i]) >= maxLen || len(b.Target[i]) >= maxLen) {
			continue
		}
		src = append(src, b.Source[i])
		trg = append(trg, b.Target[i])
	}
	if len(src) == 0 {
		return nil, ErrEmptyBatch
	}
	return &PaddedBatch{
		Source: pad(src, nWordsSrc),
		Target: pad(trg, nWordsTrg),
	}, nil
}

func pad(seqs [][]int, nWords int) PaddedMatrix {
	steps := 0
	for _, s := range seqs {
		steps = max(steps, len(s))
	}
	steps++

	x := mat.NewDense(steps, len(seqs), nil)
	mask := mat.NewDense(steps, len(seqs), nil)
	for i, s := range seqs {
		for t, id := range s {
			if id >= nWords {
				id = OOVID
			}
			x.Set(t, i, float64(id))
		}
		for t := 0; t <= len(s); t++ {
			mask.Set(t, i, 1)
		}
	}
	return PaddedMatrix{Tokens: x, Mask: mask}
}
