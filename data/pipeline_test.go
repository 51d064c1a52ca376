package data

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/manningwu07/nmt/IO"
	"github.com/manningwu07/nmt/params"
)

func writeShardCorpus(t *testing.T, lengths [][2]int) IO.CorpusSpec {
	t.Helper()
	dir := t.TempDir()
	spec := IO.CorpusSpec{
		Source: IO.StoreSpec{Kind: params.StoreShard, Path: filepath.Join(dir, "train.en")},
		Target: IO.StoreSpec{Kind: params.StoreShard, Path: filepath.Join(dir, "train.fr")},
	}
	w, err := IO.CreateBitext(spec, 64)
	if err != nil {
		t.Fatal(err)
	}
	src, trg := makePairs(lengths)
	for i := range src {
		if err := w.Write(src[i], trg[i]); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return spec
}

func TestPipelineOnePass(t *testing.T) {
	lengths := make([][2]int, 37)
	for i := range lengths {
		lengths[i] = [2]int{1 + i%7, 1 + (i*3)%11}
	}
	spec := writeShardCorpus(t, lengths)
	p, err := NewPipeline(PipelineConfig{
		BatchSize: 4, MaxLen: 8, QueueSize: 2, KBatches: 3,
	}, CorpusOpener(spec), rand.New(rand.NewPCG(1, 1)))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	if _, err := p.Next(); err != ErrNotStarted {
		t.Fatalf("err = %v, want ErrNotStarted", err)
	}

	want := 0
	for _, l := range lengths {
		if l[0] <= 8 && l[1] <= 8 {
			want++
		}
	}
	for pass := 0; pass < 2; pass++ {
		if err := p.Start(Restart); err != nil {
			t.Fatalf("Start: %v", err)
		}
		got := 0
		for {
			b, err := p.Next()
			if err == ErrEndOfStream {
				break
			}
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if b.Len() > 4 {
				t.Fatalf("batch of %d", b.Len())
			}
			if b.MaxLen() > 8 {
				t.Fatalf("pair longer than fetch limit: %d", b.MaxLen())
			}
			got += b.Len()
		}
		if got != want {
			t.Errorf("pass %d: %d pairs, want %d", pass, got, want)
		}
	}
	if off := p.NextOffset(); off <= 0 || off > len(lengths) {
		t.Errorf("NextOffset = %d, want within (0,%d]", off, len(lengths))
	}
}

func TestPipelineIntegrityAtStart(t *testing.T) {
	dir := t.TempDir()
	src, _ := IO.NewShardWriter(filepath.Join(dir, "s"), 0)
	trg, _ := IO.NewShardWriter(filepath.Join(dir, "t"), 0)
	src.Write([]int{1})
	src.Close()
	trg.Close()

	p, err := NewPipeline(PipelineConfig{BatchSize: 1, MaxLen: 5, QueueSize: 1, KBatches: 1},
		CorpusOpener(IO.CorpusSpec{
			Source: IO.StoreSpec{Path: filepath.Join(dir, "s")},
			Target: IO.StoreSpec{Path: filepath.Join(dir, "t")},
		}), nil)
	if err != nil {
		t.Fatal(err)
	}
	err = p.Start(Restart)
	if !errors.Is(err, IO.ErrCorpusIntegrity) {
		t.Fatalf("err = %v, want ErrCorpusIntegrity", err)
	}
	if _, err := p.Next(); err != ErrNotStarted {
		t.Fatalf("failed Start must leave the pipeline stopped, got %v", err)
	}
}

func TestPipelineStopJoinsBlockedFetcher(t *testing.T) {
	lengths := make([][2]int, 10)
	for i := range lengths {
		lengths[i] = [2]int{2, 2}
	}
	spec := writeShardCorpus(t, lengths)
	p, err := NewPipeline(PipelineConfig{
		BatchSize: 2, MaxLen: 5, QueueSize: 1, KBatches: 1, LoopForever: true, Shuffle: true,
	}, CorpusOpener(spec), rand.New(rand.NewPCG(9, 9)))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(Restart); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := p.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		p.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not join the fetcher")
	}
}

func TestPipelineRejectsBadBatchSize(t *testing.T) {
	for _, pc := range []PipelineConfig{
		{BatchSize: 0, QueueSize: 1},
		{BatchSize: -3, QueueSize: 1},
		{BatchSize: 2, QueueSize: -1},
	} {
		if _, err := NewPipeline(pc, nil, nil); err == nil {
			t.Errorf("%+v: expected error", pc)
		}
	}
}

func TestZeroBatchSizeDoesNotSpin(t *testing.T) {
	src, trg := makePairs([][2]int{{1, 1}, {2, 2}})
	ch := make(chan Item, 4)
	f := NewBucketFetcher(memOpener(src, trg, -1, nil), FetchOptions{MaxLen: 5}, nil, ch)
	go f.Run(context.Background(), nil)
	items := drain(t, ch)
	if len(items) != 1 || items[0].Err == nil {
		t.Fatalf("items = %+v, want a single fetch error", items)
	}
	var fe *FetchError
	if !errors.As(items[0].Err, &fe) {
		t.Errorf("err = %T, want *FetchError", items[0].Err)
	}

	b := NewHomogeneousBatcher(make(chan Item), 0, 1)
	if _, err := b.Next(); err == nil || err == ErrEndOfStream {
		t.Errorf("err = %v, want batch size error", err)
	}
}

func TestPipelineConfigFrom(t *testing.T) {
	cfg := params.Default()
	cfg.Shuffle, cfg.LoopForever = true, true
	cfg.ValidBatchSize = 3
	pc := PipelineConfigFrom(cfg, true)
	if pc.Shuffle || pc.LoopForever || pc.BatchSize != 3 {
		t.Errorf("validation stream config = %+v", pc)
	}
	pc = PipelineConfigFrom(cfg, false)
	if !pc.Shuffle || !pc.LoopForever || pc.BatchSize != cfg.BatchSize || pc.MaxLen != cfg.FetchMaxLen {
		t.Errorf("training stream config = %+v", pc)
	}
}
