package IO

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/yargevad/filepathx"
)

// indexEntry mirrors one 16-byte record of a .idx file.
type indexEntry struct {
	start  int64 // byte offset into .bin
	length int64 // number of tokens
}

type shard struct {
	data  *os.File
	index []indexEntry
	base  int // global position of index[0]
}

// ShardStore reads the .bin/.idx shards written by ShardWriter.
// Positions are global across shards, in shard order.
type ShardStore struct {
	shards []shard
	count  int
}

// ShardFiles lists the .idx files written for prefix, ordered by shard
// number. Files of sibling prefixes such as prefix-dev are ignored.
func ShardFiles(prefix string) ([]string, error) {
	matches, err := filepathx.Glob(prefix + "-*.idx")
	if err != nil {
		return nil, errors.Wrapf(err, "glob shards %s", prefix)
	}
	type numbered struct {
		path string
		n    int
	}
	var found []numbered
	base := filepath.Base(prefix) + "-"
	for _, m := range matches {
		name := filepath.Base(m)
		if !strings.HasPrefix(name, base) {
			continue
		}
		n, ok := shardNumber(strings.TrimSuffix(strings.TrimPrefix(name, base), ".idx"))
		if !ok {
			continue
		}
		found = append(found, numbered{path: m, n: n})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })
	idx := make([]string, len(found))
	for i, f := range found {
		idx[i] = f.path
	}
	return idx, nil
}

// shardNumber parses the digits ShardWriter puts after the prefix.
func shardNumber(s string) (int, bool) {
	if len(s) < 3 {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

// OpenShardStore opens every shard of prefix and loads their indices.
// Index records that point outside their .bin file are rejected.
func OpenShardStore(prefix string) (*ShardStore, error) {
	idxFiles, err := ShardFiles(prefix)
	if err != nil {
		return nil, err
	}
	if len(idxFiles) == 0 {
		return nil, errors.Errorf("no shards found for %s", prefix)
	}
	s := &ShardStore{}
	for _, p := range idxFiles {
		index, err := readIndex(p)
		if err != nil {
			s.Close()
			return nil, err
		}
		data, err := os.Open(strings.TrimSuffix(p, ".idx") + ".bin")
		if err != nil {
			s.Close()
			return nil, errors.Wrap(err, "open shard data")
		}
		s.shards = append(s.shards, shard{data: data, index: index, base: s.count})
		st, err := data.Stat()
		if err != nil {
			s.Close()
			return nil, errors.Wrap(err, "stat shard data")
		}
		if err := checkIndex(index, st.Size()); err != nil {
			s.Close()
			return nil, errors.Wrapf(err, "%s", p)
		}
		s.count += len(index)
	}
	return s, nil
}

func readIndex(path string) ([]indexEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read shard index")
	}
	if len(raw)%16 != 0 {
		return nil, errors.Errorf("%s: truncated index (%d bytes)", path, len(raw))
	}
	out := make([]indexEntry, len(raw)/16)
	for i := range out {
		rec := raw[i*16:]
		out[i] = indexEntry{
			start:  int64(binary.LittleEndian.Uint64(rec[0:8])),
			length: int64(binary.LittleEndian.Uint64(rec[8:16])),
		}
	}
	return out, nil
}

// checkIndex verifies every entry lies inside a data file of size bytes.
func checkIndex(index []indexEntry, size int64) error {
	for i, e := range index {
		if e.start < 0 || e.length < 0 || e.start > size || e.length > (size-e.start)/4 {
			return errors.Errorf("index entry %d (start %d, length %d) outside data of %d bytes",
				i, e.start, e.length, size)
		}
	}
	return nil
}

func (s *ShardStore) Count() int { return s.count }

func (s *ShardStore) locate(pos int) (*shard, indexEntry, error) {
	if pos < 0 || pos >= s.count {
		return nil, indexEntry{}, errors.Errorf("position %d out of range [0,%d)", pos, s.count)
	}
	i := sort.Search(len(s.shards), func(i int) bool { return s.shards[i].base > pos }) - 1
	sh := &s.shards[i]
	return sh, sh.index[pos-sh.base], nil
}

func (s *ShardStore) Length(pos int) (int, error) {
	_, e, err := s.locate(pos)
	if err != nil {
		return 0, err
	}
	return int(e.length), nil
}

func (s *ShardStore) Slice(pos int) ([]int, error) {
	sh, e, err := s.locate(pos)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 4*e.length)
	if _, err := sh.data.ReadAt(buf, e.start); err != nil && !(err == io.EOF && len(buf) == 0) {
		return nil, errors.Wrapf(err, "read entry %d", pos)
	}
	return decodeTokens(buf), nil
}

func (s *ShardStore) Close() error {
	var first error
	for _, sh := range s.shards {
		if err := sh.data.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.shards = nil
	return first
}

// encodeTokens packs ids as little-endian int32.
func encodeTokens(ids []int) []byte {
	out := make([]byte, 4*len(ids))
	for i, id := range ids {
		binary.LittleEndian.PutUint32(out[4*i:], uint32(int32(id)))
	}
	return out
}

func decodeTokens(b []byte) []int {
	out := make([]int, len(b)/4)
	for i := range out {
		out[i] = int(int32(binary.LittleEndian.Uint32(b[4*i:])))
	}
	return out
}
