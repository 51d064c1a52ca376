package IO

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"

	"github.com/manningwu07/nmt/params"
)

// Encoder turns a line of text into token IDs.
type Encoder interface {
	Encode(text string) ([]int, error)
}

// Tokenizer wraps a pretrained tokenizer.json. Vocabularies are built
// elsewhere; ids 0 and 1 are expected to be the end-of-sentence and
// unknown tokens, as in Marian vocabularies.
type Tokenizer struct {
	t *tk.Tokenizer
}

// LoadTokenizer loads tokPath.
func LoadTokenizer(tokPath string) (*Tokenizer, error) {
	t, err := pretrained.FromFile(tokPath)
	if err != nil {
		return nil, errors.Wrapf(err, "load tokenizer %s", tokPath)
	}
	return &Tokenizer{t: t}, nil
}

// Encode encodes raw text into token IDs (without BOS/EOS).
func (t *Tokenizer) Encode(text string) ([]int, error) {
	enc, err := t.t.EncodeSingle(text, false)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(enc.Ids))
	copy(out, enc.Ids)
	return out, nil
}

// Decode turns ids back into text, stopping at the end token.
func (t *Tokenizer) Decode(ids []int) string {
	for i, id := range ids {
		if id == 0 {
			ids = ids[:i]
			break
		}
	}
	return t.t.Decode(ids, true)
}

// VocabSize includes added tokens.
func (t *Tokenizer) VocabSize() int {
	return t.t.GetVocabSize(true)
}

// Vocabulary exports the tokenizer vocabulary in dictionary form.
func (t *Tokenizer) Vocabulary() params.Vocabulary {
	vocab := t.t.GetVocab(true)
	id2tok := make([]string, len(vocab))
	tok2id := make(map[string]int, len(vocab))
	for tok, id := range vocab {
		tok2id[tok] = id
		if id >= 0 && id < len(id2tok) {
			id2tok[id] = tok
		}
	}
	return params.Vocabulary{TokenToID: tok2id, IDToToken: id2tok}
}

// ImportVocabJSON loads a dictionary written by ExportVocabJSON. When only
// TokenToID is present the reverse table is rebuilt.
func ImportVocabJSON(path string) (params.Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return params.Vocabulary{}, err
	}
	defer f.Close()
	var data struct {
		TokenToID map[string]int `json:"TokenToID"`
		IDToToken []string       `json:"IDToToken"`
	}
	if err := json.NewDecoder(f).Decode(&data); err != nil {
		return params.Vocabulary{}, errors.Wrapf(err, "decode %s", path)
	}
	if len(data.IDToToken) == 0 {
		n := 0
		for _, id := range data.TokenToID {
			if id+1 > n {
				n = id + 1
			}
		}
		data.IDToToken = make([]string, n)
		for tok, id := range data.TokenToID {
			if id >= 0 {
				data.IDToToken[id] = tok
			}
		}
	}
	return params.Vocabulary{TokenToID: data.TokenToID, IDToToken: data.IDToToken}, nil
}

// ExportVocabJSON writes v as indented json.
func ExportVocabJSON(path string, v params.Vocabulary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	data := map[string]any{
		"TokenToID": v.TokenToID,
		"IDToToken": v.IDToToken,
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
