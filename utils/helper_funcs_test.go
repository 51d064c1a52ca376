package utils

import (
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func TestRowSoftmaxInPlace(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{1, 2, 3, 1000, 1000, 1000})
	RowSoftmaxInPlace(m)
	for i := 0; i < 2; i++ {
		if s := floats.Sum(m.RawRowView(i)); math.Abs(s-1) > 1e-12 {
			t.Errorf("row %d sums to %v", i, s)
		}
	}
	if math.Abs(m.At(1, 0)-1.0/3) > 1e-12 {
		t.Errorf("large logits overflowed: %v", m.RawRowView(1))
	}
	if !(m.At(0, 2) > m.At(0, 1) && m.At(0, 1) > m.At(0, 0)) {
		t.Errorf("order not preserved: %v", m.RawRowView(0))
	}
}

func TestClipGrads(t *testing.T) {
	a := mat.NewDense(1, 2, []float64{3, 0})
	b := mat.NewDense(1, 1, []float64{4})
	if s := ClipGrads(1, a, nil, b); math.Abs(s-0.2) > 1e-12 {
		t.Fatalf("scale = %v, want 0.2", s)
	}
	n := math.Hypot(MatrixNorm(a), MatrixNorm(b))
	if math.Abs(n-1) > 1e-12 {
		t.Errorf("clipped norm = %v", n)
	}
	if s := ClipGrads(10, a, b); s != 1 {
		t.Errorf("small grads clipped by %v", s)
	}
	if s := ClipGrads(0, a); s != 1 {
		t.Errorf("disabled clipping scaled by %v", s)
	}
}

func TestRandomArrayRange(t *testing.T) {
	i := 0
	seq := []float64{0, 0.5, 0.999}
	out := RandomArray(3, 4, func() float64 { v := seq[i]; i++; return v })
	for _, v := range out {
		if v < -0.5 || v > 0.5 {
			t.Errorf("value %v outside ±1/sqrt(4)", v)
		}
	}
	if math.Abs(out[1]) > 1e-6 {
		t.Errorf("midpoint = %v", out[1])
	}
}

func TestNegLogAndIsFinite(t *testing.T) {
	if v := NegLog(0); !IsFinite(v) {
		t.Errorf("NegLog(0) = %v", v)
	}
	if IsFinite(math.NaN()) || IsFinite(math.Inf(-1)) || !IsFinite(0) {
		t.Errorf("IsFinite misclassifies")
	}
}

func TestASCIIPlot(t *testing.T) {
	out := ASCIIPlot([]float64{1, 0.5, 0}, 2)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	want := []string{"█  ", "██ ", "───", "0  "}
	if len(lines) != len(want) {
		t.Fatalf("plot:\n%s", out)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
	if ASCIIPlot(nil, 5) != "no data to plot\n" {
		t.Errorf("empty plot")
	}
}
