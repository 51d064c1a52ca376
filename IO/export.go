package IO

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/manningwu07/nmt/params"
)

// TokenWriter appends sequences to a token store.
type TokenWriter interface {
	Write(ids []int) error
	Close() error
}

// ShardWriter writes token ID sequences to a binary data file plus an index:
//
//   - .bin = concatenated int32 token sequences
//   - .idx = int64 (offset, length) per example
//
// It will split into shards <= maxShardBytes (e.g. 10 GB).
type ShardWriter struct {
	prefix        string
	maxShardBytes int64

	shard int
	dataF *os.File
	idxF  *os.File
	wData *bufio.Writer
	wIdx  *bufio.Writer
	cur   int64
	buf8  [8]byte
}

// NewShardWriter creates <prefix>-000.bin/.idx and rolls over as needed.
// maxShardBytes <= 0 means a single shard.
func NewShardWriter(prefix string, maxShardBytes int64) (*ShardWriter, error) {
	w := &ShardWriter{prefix: prefix, maxShardBytes: maxShardBytes}
	if err := w.openShard(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *ShardWriter) openShard() error {
	if err := w.closeShard(); err != nil {
		return err
	}
	var err error
	w.dataF, err = os.Create(fmt.Sprintf("%s-%03d.bin", w.prefix, w.shard))
	if err != nil {
		return errors.Wrap(err, "create shard data")
	}
	w.idxF, err = os.Create(fmt.Sprintf("%s-%03d.idx", w.prefix, w.shard))
	if err != nil {
		return errors.Wrap(err, "create shard index")
	}
	w.wData = bufio.NewWriter(w.dataF)
	w.wIdx = bufio.NewWriter(w.idxF)
	w.cur = 0
	return nil
}

func (w *ShardWriter) closeShard() error {
	if w.dataF == nil {
		return nil
	}
	if err := w.wData.Flush(); err != nil {
		return err
	}
	if err := w.wIdx.Flush(); err != nil {
		return err
	}
	if err := w.dataF.Close(); err != nil {
		return err
	}
	w.dataF = nil
	return w.idxF.Close()
}

// Write appends one sequence.
func (w *ShardWriter) Write(ids []int) error {
	binary.LittleEndian.PutUint64(w.buf8[:], uint64(w.cur))
	if _, err := w.wIdx.Write(w.buf8[:]); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(w.buf8[:], uint64(len(ids)))
	if _, err := w.wIdx.Write(w.buf8[:]); err != nil {
		return err
	}
	if _, err := w.wData.Write(encodeTokens(ids)); err != nil {
		return err
	}
	w.cur += int64(4 * len(ids))

	// rollover if shard too big
	if w.maxShardBytes > 0 && w.cur >= w.maxShardBytes {
		w.shard++
		return w.openShard()
	}
	return nil
}

func (w *ShardWriter) Close() error {
	return w.closeShard()
}

// BitextWriter keeps a source and a target store in lockstep.
type BitextWriter struct {
	Source TokenWriter
	Target TokenWriter
	n      int
}

// Write appends one sentence pair.
func (b *BitextWriter) Write(src, trg []int) error {
	if err := b.Source.Write(src); err != nil {
		return errors.Wrap(err, "write source")
	}
	if err := b.Target.Write(trg); err != nil {
		return errors.Wrap(err, "write target")
	}
	b.n++
	return nil
}

// Count is the number of pairs written so far.
func (b *BitextWriter) Count() int { return b.n }

func (b *BitextWriter) Close() error {
	err := b.Source.Close()
	if terr := b.Target.Close(); err == nil {
		err = terr
	}
	return err
}

// CreateBitext opens writers for both sides of spec.
func CreateBitext(spec CorpusSpec, maxShardBytes int64) (*BitextWriter, error) {
	src, err := createStore(spec.Source, maxShardBytes)
	if err != nil {
		return nil, err
	}
	trg, err := createStore(spec.Target, maxShardBytes)
	if err != nil {
		src.Close()
		return nil, err
	}
	return &BitextWriter{Source: src, Target: trg}, nil
}

func createStore(spec StoreSpec, maxShardBytes int64) (TokenWriter, error) {
	if spec.Kind == params.StoreSQLite {
		return NewSQLWriter(spec.Path)
	}
	return NewShardWriter(spec.Path, maxShardBytes)
}

// ExportBitext tokenizes two line-aligned text files into w. Empty pairs
// are skipped; a line count mismatch is an integrity error.
func ExportBitext(srcPath, trgPath string, srcTok, trgTok Encoder, w *BitextWriter) (int, error) {
	sf, err := os.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer sf.Close()
	tf, err := os.Open(trgPath)
	if err != nil {
		return 0, err
	}
	defer tf.Close()

	ss := bufio.NewScanner(sf)
	ss.Buffer(make([]byte, 0, 1<<16), 1<<24)
	ts := bufio.NewScanner(tf)
	ts.Buffer(make([]byte, 0, 1<<16), 1<<24)

	written, lineNum := 0, 0
	for {
		sok, tok := ss.Scan(), ts.Scan()
		if !sok && !tok {
			break
		}
		lineNum++
		if sok != tok {
			return written, errors.Wrapf(ErrCorpusIntegrity, "%s and %s differ in length at line %d", srcPath, trgPath, lineNum)
		}
		src, err := srcTok.Encode(ss.Text())
		if err != nil {
			return written, errors.Wrapf(err, "encode source line %d", lineNum)
		}
		trg, err := trgTok.Encode(ts.Text())
		if err != nil {
			return written, errors.Wrapf(err, "encode target line %d", lineNum)
		}
		if len(src) == 0 || len(trg) == 0 {
			continue
		}
		if err := w.Write(src, trg); err != nil {
			return written, err
		}
		written++
	}
	if err := ss.Err(); err != nil {
		return written, err
	}
	if err := ts.Err(); err != nil {
		return written, err
	}
	klog.V(1).Infof("export: %d lines read, %d pairs written", lineNum, written)
	return written, nil
}
