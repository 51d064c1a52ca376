package params

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Vocabulary maps tokens to ids and back. Loaded from dictionary json,
// used only to print samples.
type Vocabulary struct {
	TokenToID map[string]int
	IDToToken []string
}

// Token returns the surface form of id, or "UNK" when unknown.
func (v Vocabulary) Token(id int) string {
	if id >= 0 && id < len(v.IDToToken) {
		return v.IDToToken[id]
	}
	return "UNK"
}

// LayerKind selects the recurrent layer used by the external model.
type LayerKind string

const (
	LayerRNN      LayerKind = "rnn"
	LayerGRU      LayerKind = "gru"
	LayerLSTM     LayerKind = "lstm"
	LayerGRUCond  LayerKind = "gru_cond"
	LayerLSTMCond LayerKind = "lstm_cond"
)

// OptimizerKind selects the update rule applied to model parameters.
type OptimizerKind string

const (
	OptSGD      OptimizerKind = "sgd"
	OptAdam     OptimizerKind = "adam"
	OptAdadelta OptimizerKind = "adadelta"
	OptRMSProp  OptimizerKind = "rmsprop"
)

// StoreKind selects the on-disk token store backend.
type StoreKind string

const (
	StoreShard  StoreKind = "shard"
	StoreSQLite StoreKind = "sqlite"
)

// Config enumerates every recognized option. Obtain it from Default or
// Load; it is passed by value and never mutated after Validate.
type Config struct {
	// Model dimensions
	DimWord   int       `json:"dim_word"`
	Dim       int       `json:"dim"`
	Encoder   LayerKind `json:"encoder"`
	Decoder   LayerKind `json:"decoder"`
	NWordsSrc int       `json:"n_words_src"` // source vocabulary size
	NWords    int       `json:"n_words"`     // target vocabulary size

	// Optimization
	Optimizer  OptimizerKind `json:"optimizer"`
	LRate      float64       `json:"lrate"`
	DecayC     float64       `json:"decay_c"` // L2 weight decay, 0 disables
	ClipC      float64       `json:"clip_c"`  // global grad norm clip, 0 disables
	UseDropout bool          `json:"use_dropout"`
	MaxEpochs  int           `json:"max_epochs"`
	Patience   int           `json:"patience"`

	// Frequencies, counted in updates
	DispFreq   int `json:"disp_freq"`
	SaveFreq   int `json:"save_freq"`
	SampleFreq int `json:"sample_freq"`
	ValidFreq  int `json:"valid_freq"`

	// Batching
	BatchSize      int  `json:"batch_size"`
	ValidBatchSize int  `json:"valid_batch_size"`
	MaxLen         int  `json:"maxlen"`       // training-time cap (strict)
	FetchMaxLen    int  `json:"fetch_maxlen"` // fetch-time skip filter
	QueueSize      int  `json:"queue_size"`
	KBatches       int  `json:"k_batches"`
	Shuffle        bool `json:"shuffle"`
	LoopForever    bool `json:"use_infinite_loop"`

	// Decoding
	BeamWidth    int `json:"beam_width"`
	DecodeMaxLen int `json:"decode_maxlen"`
	DecodeMinLen int `json:"decode_minlen"`
	CacheSize    int `json:"cache_size"` // translation cache entries

	// Data
	Store         StoreKind `json:"store"`
	TrainSource   string    `json:"train_source"`
	TrainTarget   string    `json:"train_target"`
	ValidSource   string    `json:"valid_source"`
	ValidTarget   string    `json:"valid_target"`
	Dictionary    string    `json:"dictionary"`
	DictionarySrc string    `json:"dictionary_src"`
	SaveTo        string    `json:"saveto"`
	Reload        bool      `json:"reload"`

	Seed uint64 `json:"seed"`
}

// Default mirrors the settings the translation experiments were run with.
func Default() Config {
	return Config{
		DimWord:   100,
		Dim:       1000,
		Encoder:   LayerGRU,
		Decoder:   LayerGRUCond,
		NWordsSrc: 100000,
		NWords:    100000,

		Optimizer: OptRMSProp,
		LRate:     0.01,
		MaxEpochs: 5000,
		Patience:  10,

		DispFreq:   100,
		SaveFreq:   1000,
		SampleFreq: 100,
		ValidFreq:  1000,

		BatchSize:      16,
		ValidBatchSize: 16,
		MaxLen:         100,
		FetchMaxLen:    1000,
		QueueSize:      1000,
		KBatches:       10,
		Shuffle:        true,
		LoopForever:    false,

		BeamWidth:    5,
		DecodeMaxLen: 30,
		DecodeMinLen: -1,
		CacheSize:    1000,

		Store:  StoreShard,
		SaveTo: "model.gob",
		Seed:   1234,
	}
}

// Load reads a json config on top of Default and validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "open config")
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return Config{}, errors.Wrapf(err, "decode config %s", path)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Normalize fills derived defaults.
func (c *Config) Normalize() {
	if c.ValidBatchSize == 0 {
		c.ValidBatchSize = c.BatchSize
	}
	if c.FetchMaxLen == 0 {
		c.FetchMaxLen = c.MaxLen
	}
	if c.KBatches == 0 {
		c.KBatches = 10
	}
	if c.QueueSize == 0 {
		c.QueueSize = 1000
	}
	if c.Store == "" {
		c.Store = StoreShard
	}
}

// Validate checks every option once; callers never re-check.
func (c Config) Validate() error {
	switch {
	case c.DimWord <= 0 || c.Dim <= 0:
		return errors.Errorf("config: dimensions must be positive (dim_word=%d dim=%d)", c.DimWord, c.Dim)
	case c.NWordsSrc < 2 || c.NWords < 2:
		return errors.Errorf("config: vocabulary sizes must be >= 2 (src=%d trg=%d)", c.NWordsSrc, c.NWords)
	case c.BatchSize <= 0 || c.ValidBatchSize <= 0:
		return errors.Errorf("config: batch sizes must be positive")
	case c.QueueSize <= 0:
		return errors.Errorf("config: queue_size must be positive, got %d", c.QueueSize)
	case c.KBatches <= 0:
		return errors.Errorf("config: k_batches must be positive, got %d", c.KBatches)
	case c.FetchMaxLen <= 0:
		return errors.Errorf("config: fetch_maxlen must be positive, got %d", c.FetchMaxLen)
	case c.BeamWidth <= 0:
		return errors.Errorf("config: beam_width must be positive, got %d", c.BeamWidth)
	case c.DecodeMaxLen <= 0:
		return errors.Errorf("config: decode_maxlen must be positive, got %d", c.DecodeMaxLen)
	case c.LRate < 0 || c.DecayC < 0 || c.ClipC < 0:
		return errors.Errorf("config: lrate, decay_c and clip_c must be non-negative")
	case c.MaxEpochs <= 0:
		return errors.Errorf("config: max_epochs must be positive, got %d", c.MaxEpochs)
	case c.Patience < 0:
		return errors.Errorf("config: patience must be non-negative, got %d", c.Patience)
	}
	for _, k := range []LayerKind{c.Encoder, c.Decoder} {
		switch k {
		case LayerRNN, LayerGRU, LayerLSTM, LayerGRUCond, LayerLSTMCond:
		default:
			return errors.Errorf("config: unknown layer %q", k)
		}
	}
	switch c.Optimizer {
	case OptSGD, OptAdam, OptAdadelta, OptRMSProp:
	default:
		return errors.Errorf("config: unknown optimizer %q", c.Optimizer)
	}
	switch c.Store {
	case StoreShard, StoreSQLite:
	default:
		return errors.Errorf("config: unknown store %q", c.Store)
	}
	return nil
}
