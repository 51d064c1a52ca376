package data

import (
	"reflect"
	"testing"
)

func TestAssembleShapesAndMasks(t *testing.T) {
	b := Batch{
		Source: [][]int{{5, 6, 7}, {8}},
		Target: [][]int{{9}, {10, 11}},
	}
	pb, err := Assemble(b, 10, 100, 100)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if pb.Samples() != 2 {
		t.Fatalf("Samples = %d, want 2", pb.Samples())
	}
	if pb.Source.Steps() != 4 || pb.Target.Steps() != 3 {
		t.Fatalf("steps = %d/%d, want 4/3", pb.Source.Steps(), pb.Target.Steps())
	}
	wantMask := [][]float64{
		{1, 1},
		{1, 1},
		{1, 0},
		{1, 0},
	}
	for tt, row := range wantMask {
		for i, v := range row {
			if got := pb.Source.Mask.At(tt, i); got != v {
				t.Errorf("source mask[%d,%d] = %v, want %v", tt, i, got, v)
			}
		}
	}
	if pb.Source.Token(3, 0) != 0 || pb.Source.Token(1, 1) != 0 {
		t.Errorf("padding must be 0")
	}
}

func TestAssembleStrictMaxLen(t *testing.T) {
	b := Batch{
		Source: [][]int{{1, 2, 3}, {4, 5}, {6}},
		Target: [][]int{{1}, {2}, {3, 4, 5}},
	}
	pb, err := Assemble(b, 3, 100, 100)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	// length 3 is not < 3: pairs 0 and 2 are dropped
	if pb.Samples() != 1 {
		t.Fatalf("Samples = %d, want 1", pb.Samples())
	}
	if got := pb.Source.Unpad(0); !reflect.DeepEqual(got, []int{4, 5}) {
		t.Errorf("kept pair = %v, want [4 5]", got)
	}
}

func TestAssembleEmpty(t *testing.T) {
	b := Batch{Source: [][]int{{1, 2}}, Target: [][]int{{1}}}
	if _, err := Assemble(b, 2, 100, 100); err != ErrEmptyBatch {
		t.Fatalf("err = %v, want ErrEmptyBatch", err)
	}
	if _, err := Assemble(Batch{}, 0, 100, 100); err != ErrEmptyBatch {
		t.Fatalf("err = %v, want ErrEmptyBatch", err)
	}
}

func TestAssembleClipsVocabulary(t *testing.T) {
	src := []int{2, 50, 49}
	b := Batch{Source: [][]int{src}, Target: [][]int{{7, 8}}}
	pb, err := Assemble(b, 0, 50, 8)
	if err != nil {
		t.Fatal(err)
	}
	if got := pb.Source.Unpad(0); !reflect.DeepEqual(got, []int{2, OOVID, 49}) {
		t.Errorf("source = %v", got)
	}
	if got := pb.Target.Unpad(0); !reflect.DeepEqual(got, []int{7, OOVID}) {
		t.Errorf("target = %v", got)
	}
	if src[1] != 50 {
		t.Errorf("input batch was mutated")
	}
}

func TestAssembleUnpadRoundTrip(t *testing.T) {
	b := Batch{
		Source: [][]int{{3, 4, 5, 6}, {7}, {8, 9}, {10, 11, 12}},
		Target: [][]int{{13}, {14, 15, 16}, {17, 18}, {19}},
	}
	pb, err := Assemble(b, 0, 1000, 1000)
	if err != nil {
		t.Fatal(err)
	}
	for i := range b.Source {
		if got := pb.Source.Unpad(i); !reflect.DeepEqual(got, b.Source[i]) {
			t.Errorf("source %d = %v, want %v", i, got, b.Source[i])
		}
		if got := pb.Target.Unpad(i); !reflect.DeepEqual(got, b.Target[i]) {
			t.Errorf("target %d = %v, want %v", i, got, b.Target[i])
		}
	}
}
