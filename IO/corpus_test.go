package IO

import (
	"os"
	"path/filepath"
	"encoding/binary"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/manningwu07/nmt/params"
)

var testPairs = [][2][]int{
	{{4, 5}, {6, 7, 8, 9, 10}},
	{{11, 12, 13, 14}, {15, 16, 17, 18}},
	{{19}, {20}},
	{{21, 22, 23}, {24, 25}},
}

func writeCorpus(t *testing.T, kind params.StoreKind, maxShardBytes int64) CorpusSpec {
	t.Helper()
	dir := t.TempDir()
	spec := CorpusSpec{
		Source: StoreSpec{Kind: kind, Path: filepath.Join(dir, "src")},
		Target: StoreSpec{Kind: kind, Path: filepath.Join(dir, "trg")},
	}
	w, err := CreateBitext(spec, maxShardBytes)
	if err != nil {
		t.Fatalf("CreateBitext: %v", err)
	}
	for _, p := range testPairs {
		if err := w.Write(p[0], p[1]); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return spec
}

func checkCorpus(t *testing.T, spec CorpusSpec) {
	t.Helper()
	c, err := OpenCorpus(spec)
	if err != nil {
		t.Fatalf("OpenCorpus: %v", err)
	}
	defer c.Close()
	if c.Count() != len(testPairs) {
		t.Fatalf("Count = %d, want %d", c.Count(), len(testPairs))
	}
	for i, p := range testPairs {
		sl, tl, err := c.Lengths(i)
		if err != nil {
			t.Fatalf("Lengths(%d): %v", i, err)
		}
		if sl != len(p[0]) || tl != len(p[1]) {
			t.Errorf("Lengths(%d) = (%d,%d), want (%d,%d)", i, sl, tl, len(p[0]), len(p[1]))
		}
		src, trg, err := c.Pair(i)
		if err != nil {
			t.Fatalf("Pair(%d): %v", i, err)
		}
		if !reflect.DeepEqual(src, p[0]) || !reflect.DeepEqual(trg, p[1]) {
			t.Errorf("Pair(%d) = %v/%v, want %v/%v", i, src, trg, p[0], p[1])
		}
	}
	if _, err := c.Source.Slice(len(testPairs)); err == nil {
		t.Errorf("expected out of range error")
	}
}

func TestShardStoreRoundTrip(t *testing.T) {
	checkCorpus(t, writeCorpus(t, params.StoreShard, 0))
}

func TestShardStoreRollover(t *testing.T) {
	// 8 bytes forces a new shard after nearly every sequence.
	spec := writeCorpus(t, params.StoreShard, 8)
	files, err := ShardFiles(spec.Source.Path)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) < 3 {
		t.Fatalf("expected several shards, got %v", files)
	}
	checkCorpus(t, spec)
}

func TestSQLStoreRoundTrip(t *testing.T) {
	checkCorpus(t, writeCorpus(t, params.StoreSQLite, 0))
}

func TestCorpusIntegrity(t *testing.T) {
	dir := t.TempDir()
	src, err := NewShardWriter(filepath.Join(dir, "src"), 0)
	if err != nil {
		t.Fatal(err)
	}
	trg, err := NewShardWriter(filepath.Join(dir, "trg"), 0)
	if err != nil {
		t.Fatal(err)
	}
	src.Write([]int{1, 2})
	src.Write([]int{3})
	trg.Write([]int{4})
	src.Close()
	trg.Close()

	_, err = OpenCorpus(CorpusSpec{
		Source: StoreSpec{Kind: params.StoreShard, Path: filepath.Join(dir, "src")},
		Target: StoreSpec{Kind: params.StoreShard, Path: filepath.Join(dir, "trg")},
	})
	if !errors.Is(err, ErrCorpusIntegrity) {
		t.Fatalf("err = %v, want ErrCorpusIntegrity", err)
	}
}

func TestOpenShardStoreMissing(t *testing.T) {
	if _, err := OpenShardStore(filepath.Join(t.TempDir(), "nothing")); err == nil {
		t.Fatal("expected error for missing shards")
	}
}

func writeStore(t *testing.T, prefix string, seqs ...[]int) {
	t.Helper()
	w, err := NewShardWriter(prefix, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, ids := range seqs {
		if err := w.Write(ids); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestShardStoreIgnoresSiblingPrefix(t *testing.T) {
	dir := t.TempDir()
	writeStore(t, filepath.Join(dir, "en"), []int{1}, []int{2, 3})
	writeStore(t, filepath.Join(dir, "en-dev"), []int{4}, []int{5}, []int{6})

	s, err := OpenShardStore(filepath.Join(dir, "en"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.Count() != 2 {
		t.Fatalf("Count = %d, want 2", s.Count())
	}
	dev, err := OpenShardStore(filepath.Join(dir, "en-dev"))
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()
	if dev.Count() != 3 {
		t.Fatalf("en-dev Count = %d, want 3", dev.Count())
	}
}

func TestShardFilesNumericOrder(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "src")
	for _, name := range []string{"src-1000.idx", "src-101.idx", "src-000.idx", "src-x01.idx", "src-dev-000.idx"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	files, err := ShardFiles(prefix)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{prefix + "-000.idx", prefix + "-101.idx", prefix + "-1000.idx"}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("ShardFiles = %v, want %v", files, want)
	}
}

func TestShardStoreRejectsCorruptIndex(t *testing.T) {
	records := map[string][2]uint64{
		"negative length": {0, ^uint64(0)},
		"past the end":    {0, 3},
		"negative start":  {^uint64(0), 1},
		"huge length":     {4, 1 << 62},
	}
	for name, rec := range records {
		dir := t.TempDir()
		prefix := filepath.Join(dir, "src")
		writeStore(t, prefix, []int{7, 8})

		var raw [16]byte
		binary.LittleEndian.PutUint64(raw[0:8], rec[0])
		binary.LittleEndian.PutUint64(raw[8:16], rec[1])
		if err := os.WriteFile(prefix+"-000.idx", raw[:], 0o644); err != nil {
			t.Fatal(err)
		}
		if s, err := OpenShardStore(prefix); err == nil {
			s.Close()
			t.Errorf("%s: expected error", name)
		}
	}
}

// intEncoder parses whitespace separated integers.
type intEncoder struct{}

func (intEncoder) Encode(text string) ([]int, error) {
	var out []int
	for _, f := range strings.Fields(text) {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func TestExportBitext(t *testing.T) {
	dir := t.TempDir()
	srcTxt := filepath.Join(dir, "train.en")
	trgTxt := filepath.Join(dir, "train.fr")
	os.WriteFile(srcTxt, []byte("4 5\n\n19\n"), 0o644)
	os.WriteFile(trgTxt, []byte("6 7 8\n9\n20"), 0o644)

	spec := CorpusSpec{
		Source: StoreSpec{Kind: params.StoreShard, Path: filepath.Join(dir, "src")},
		Target: StoreSpec{Kind: params.StoreShard, Path: filepath.Join(dir, "trg")},
	}
	w, err := CreateBitext(spec, 0)
	if err != nil {
		t.Fatal(err)
	}
	n, err := ExportBitext(srcTxt, trgTxt, intEncoder{}, intEncoder{}, w)
	if err != nil {
		t.Fatalf("ExportBitext: %v", err)
	}
	w.Close()
	if n != 2 {
		t.Fatalf("written = %d, want 2 (empty source line skipped)", n)
	}
	c, err := OpenCorpus(spec)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	src, trg, _ := c.Pair(1)
	if !reflect.DeepEqual(src, []int{19}) || !reflect.DeepEqual(trg, []int{20}) {
		t.Errorf("Pair(1) = %v/%v", src, trg)
	}
}

func TestExportBitextMismatch(t *testing.T) {
	dir := t.TempDir()
	srcTxt := filepath.Join(dir, "a")
	trgTxt := filepath.Join(dir, "b")
	os.WriteFile(srcTxt, []byte("1\n2\n3\n"), 0o644)
	os.WriteFile(trgTxt, []byte("1\n2\n"), 0o644)
	spec := CorpusSpec{
		Source: StoreSpec{Path: filepath.Join(dir, "src")},
		Target: StoreSpec{Path: filepath.Join(dir, "trg")},
	}
	w, err := CreateBitext(spec, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if _, err := ExportBitext(srcTxt, trgTxt, intEncoder{}, intEncoder{}, w); !errors.Is(err, ErrCorpusIntegrity) {
		t.Fatalf("err = %v, want ErrCorpusIntegrity", err)
	}
}

func TestVocabJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.json")
	v := params.Vocabulary{
		TokenToID: map[string]int{"</s>": 0, "<unk>": 1, "chat": 2},
		IDToToken: []string{"</s>", "<unk>", "chat"},
	}
	if err := ExportVocabJSON(path, v); err != nil {
		t.Fatal(err)
	}
	got, err := ImportVocabJSON(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, v) {
		t.Errorf("got %+v, want %+v", got, v)
	}
	if got.Token(7) != "UNK" || got.Token(2) != "chat" {
		t.Errorf("Token lookup wrong")
	}
}
