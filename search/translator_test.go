package search

import (
	"context"
	"reflect"
	"testing"
)

func TestBest(t *testing.T) {
	hyps := []Hypothesis{
		{Tokens: []int{1, 0}, Score: 2},
		{Tokens: []int{1, 2, 3, 4, 0}, Score: 3},
	}
	if b, _ := Best(hyps, false); b.Score != 2 {
		t.Errorf("raw best = %+v", b)
	}
	if b, _ := Best(hyps, true); b.Score != 3 {
		t.Errorf("normalized best = %+v", b)
	}
	if _, ok := Best(nil, true); ok {
		t.Errorf("empty slice reported a best hypothesis")
	}
}

func TestTranslatorCachesDeterministicResults(t *testing.T) {
	s := &fnScorer{vocab: 4, next: chain}
	tr, err := NewTranslator(NewDecoder(s, nil), Options{Mode: Beam, K: 2, MaxSteps: 10}, true, 4)
	if err != nil {
		t.Fatal(err)
	}
	a, err := tr.Translate(context.Background(), []int{3, 4})
	if err != nil {
		t.Fatal(err)
	}
	b, err := tr.Translate(context.Background(), []int{3, 4})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("cached result differs: %+v vs %+v", a, b)
	}
	if s.inits != 1 {
		t.Errorf("decoded %d times, want 1", s.inits)
	}
	if _, err := tr.Translate(context.Background(), []int{3}); err != nil {
		t.Fatal(err)
	}
	if s.inits != 2 {
		t.Errorf("decoded %d times, want 2", s.inits)
	}
}

func TestTranslatorNoCacheWhenSampling(t *testing.T) {
	s := &fnScorer{vocab: 4, next: chain}
	tr, err := NewTranslator(NewDecoder(s, nil), Options{Mode: Stochastic, K: 1, MaxSteps: 10}, false, 4)
	if err != nil {
		t.Fatal(err)
	}
	if tr.cache != nil {
		t.Fatal("sampling translator must not cache")
	}
}
