// Package search turns per-step token distributions from a Scorer into
// output sequences, either by sampling a single path or by beam search.
package search

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

const (
	// EOS is the end-of-sentence token id.
	EOS = 0
	// StartToken is fed as the previous token at step 0.
	StartToken = -1
)

// State is an opaque per-hypothesis decoder state owned by the Scorer.
type State any

// Context is the opaque source representation produced by Init.
type Context any

// Scorer is the model side of decoding. Step is batched over hypotheses:
// row i of the returned (len(prev) x vocab) matrix is the next-token
// distribution of hypothesis i, and the i-th returned state is its new
// decoder state.
type Scorer interface {
	Init(src []int) (State, Context, error)
	Step(prev []int, states []State, ctx Context) (*mat.Dense, []State, error)
}

// ScorerError wraps a failure reported by the Scorer.
type ScorerError struct {
	Op  string
	Err error
}

func (e *ScorerError) Error() string {
	return fmt.Sprintf("scorer %s: %v", e.Op, e.Err)
}

func (e *ScorerError) Unwrap() error { return e.Err }
