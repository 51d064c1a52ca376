package model

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

type matrixData struct {
	R, C int
	Data []float64
}

// checkpoint is the gob payload: weights plus the validation history
// needed to resume early stopping.
type checkpoint struct {
	NWordsSrc, NWords int
	Params            map[string]matrixData
	History           []float64
	Updates           int
}

// Save writes m and the run history to filename, creating parent dirs.
func Save(m *Bigram, history []float64, updates int, filename string) error {
	data := checkpoint{
		NWordsSrc: m.NWordsSrc,
		NWords:    m.NWords,
		Params:    map[string]matrixData{},
		History:   append([]float64(nil), history...),
		Updates:   updates,
	}
	for name, p := range m.Params() {
		r, c := p.Dims()
		data.Params[name] = matrixData{R: r, C: c, Data: append([]float64(nil), mat.DenseCopyOf(p).RawMatrix().Data...)}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(data); err != nil {
		return errors.Wrap(err, "encode checkpoint")
	}
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}
	// atomic replace
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	return errors.Wrap(os.Rename(tmp, filename), "install checkpoint")
}

// Load reads a checkpoint written by Save.
func Load(filename string) (m *Bigram, history []float64, updates int, err error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, nil, 0, errors.Wrapf(err, "read %s", filename)
	}
	var data checkpoint
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&data); err != nil {
		return nil, nil, 0, errors.Wrapf(err, "decode %s", filename)
	}

	m = &Bigram{NWordsSrc: data.NWordsSrc, NWords: data.NWords}
	shapes := map[string][2]int{
		ParamPrev: {data.NWords + 1, data.NWords},
		ParamSrc:  {data.NWordsSrc, data.NWords},
		ParamBias: {1, data.NWords},
	}
	dense := map[string]*mat.Dense{}
	for name, shape := range shapes {
		md, ok := data.Params[name]
		if !ok {
			return nil, nil, 0, errors.Errorf("checkpoint %s: missing %s", filename, name)
		}
		if md.R != shape[0] || md.C != shape[1] || len(md.Data) != md.R*md.C {
			return nil, nil, 0, errors.Errorf("checkpoint %s: %s is %dx%d, want %dx%d",
				filename, name, md.R, md.C, shape[0], shape[1])
		}
		dense[name] = mat.NewDense(md.R, md.C, md.Data)
	}
	m.Wprev, m.Wsrc, m.B = dense[ParamPrev], dense[ParamSrc], dense[ParamBias]
	return m, data.History, data.Updates, nil
}
