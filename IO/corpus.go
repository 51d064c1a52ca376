package IO

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/manningwu07/nmt/params"
)

// ErrCorpusIntegrity is returned when the source and target stores of a
// bitext disagree on their entry count.
var ErrCorpusIntegrity = errors.New("corpus integrity error")

// TokenStore is a random-access view over one side of a bitext.
type TokenStore interface {
	Count() int
	Length(pos int) (int, error)
	Slice(pos int) ([]int, error)
	Close() error
}

// StoreSpec locates one token store. Path is a shard prefix for
// StoreShard and a database file for StoreSQLite.
type StoreSpec struct {
	Kind params.StoreKind
	Path string
}

// CorpusSpec locates both sides of a bitext.
type CorpusSpec struct {
	Source StoreSpec
	Target StoreSpec
}

// SpecFromConfig builds the training or validation corpus spec.
func SpecFromConfig(cfg params.Config, valid bool) CorpusSpec {
	if valid {
		return CorpusSpec{
			Source: StoreSpec{Kind: cfg.Store, Path: cfg.ValidSource},
			Target: StoreSpec{Kind: cfg.Store, Path: cfg.ValidTarget},
		}
	}
	return CorpusSpec{
		Source: StoreSpec{Kind: cfg.Store, Path: cfg.TrainSource},
		Target: StoreSpec{Kind: cfg.Store, Path: cfg.TrainTarget},
	}
}

// OpenStore opens a single token store.
func OpenStore(spec StoreSpec) (TokenStore, error) {
	switch spec.Kind {
	case params.StoreShard, "":
		return OpenShardStore(spec.Path)
	case params.StoreSQLite:
		return OpenSQLStore(spec.Path)
	default:
		return nil, errors.Errorf("unknown store kind %q", spec.Kind)
	}
}

// IndexedCorpus pairs a source and a target store of identical length.
// It is read-only and owned by a single reader.
type IndexedCorpus struct {
	Source TokenStore
	Target TokenStore
}

// OpenCorpus opens both stores and checks that their counts match.
func OpenCorpus(spec CorpusSpec) (*IndexedCorpus, error) {
	src, err := OpenStore(spec.Source)
	if err != nil {
		return nil, errors.Wrap(err, "open source store")
	}
	trg, err := OpenStore(spec.Target)
	if err != nil {
		src.Close()
		return nil, errors.Wrap(err, "open target store")
	}
	return NewIndexedCorpus(src, trg)
}

// NewIndexedCorpus wraps two open stores. Both are closed on failure.
func NewIndexedCorpus(src, trg TokenStore) (*IndexedCorpus, error) {
	if src.Count() != trg.Count() {
		n, m := src.Count(), trg.Count()
		src.Close()
		trg.Close()
		return nil, errors.Wrapf(ErrCorpusIntegrity, "source has %d entries, target has %d", n, m)
	}
	klog.V(2).Infof("corpus: %d entries", src.Count())
	return &IndexedCorpus{Source: src, Target: trg}, nil
}

// Count is the number of sentence pairs.
func (c *IndexedCorpus) Count() int {
	return c.Source.Count()
}

// Lengths returns the source and target lengths at pos without reading tokens.
func (c *IndexedCorpus) Lengths(pos int) (int, int, error) {
	sl, err := c.Source.Length(pos)
	if err != nil {
		return 0, 0, err
	}
	tl, err := c.Target.Length(pos)
	if err != nil {
		return 0, 0, err
	}
	return sl, tl, nil
}

// Pair reads the tokens of the pair at pos.
func (c *IndexedCorpus) Pair(pos int) ([]int, []int, error) {
	src, err := c.Source.Slice(pos)
	if err != nil {
		return nil, nil, err
	}
	trg, err := c.Target.Slice(pos)
	if err != nil {
		return nil, nil, err
	}
	return src, trg, nil
}

// Close releases both stores.
func (c *IndexedCorpus) Close() error {
	err := c.Source.Close()
	if terr := c.Target.Close(); err == nil {
		err = terr
	}
	return err
}
