// Package train runs minibatch training over a bitext pipeline with
// periodic checkpoints, sample decodes and validation-driven early
// stopping.
package train

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"

	"github.com/manningwu07/nmt/data"
	"github.com/manningwu07/nmt/optimizations"
	"github.com/manningwu07/nmt/params"
	"github.com/manningwu07/nmt/search"
	"github.com/manningwu07/nmt/utils"
)

// ErrNumericDivergence is returned when a minibatch cost is NaN or Inf.
var ErrNumericDivergence = errors.New("numeric divergence: non-finite cost")

// Model is what the trainer needs from a translation model.
type Model interface {
	search.Scorer
	// Cost is the mean per-sample cost of pb and its parameter gradients.
	Cost(pb *data.PaddedBatch) (float64, map[string]*mat.Dense, error)
	// Params returns the live parameters, updated in place.
	Params() map[string]*mat.Dense
}

// Stream is a restartable batch source; *data.Pipeline implements it.
type Stream interface {
	Start(offset int) error
	Next() (data.Batch, error)
	Stop()
}

// Checkpointer persists the current parameters along with the run history.
type Checkpointer func(path string, history []float64, updates int) error

// Setup collects the collaborators of a run. Valid, Save and the
// dictionaries are optional.
type Setup struct {
	Model        Model
	Train, Valid Stream
	Save         Checkpointer
	SourceDict   params.Vocabulary
	TargetDict   params.Vocabulary

	// History and Updates resume a reloaded run.
	History []float64
	Updates int
}

// Result summarises a finished run.
type Result struct {
	TrainCost    float64 // last minibatch cost
	ValidCost    float64 // validation cost of the restored best parameters
	Updates      int
	Epochs       int
	History      []float64
	EarlyStopped bool
}

type Trainer struct {
	cfg params.Config
	Setup
	opt optimizations.Optimizer
}

func New(cfg params.Config, s Setup) (*Trainer, error) {
	if s.Model == nil || s.Train == nil {
		return nil, errors.New("train: model and training stream are required")
	}
	opt, err := optimizations.NewOptimizer(cfg.Optimizer, cfg.LRate)
	if err != nil {
		return nil, errors.Wrap(err, "train")
	}
	s.History = append([]float64(nil), s.History...)
	return &Trainer{cfg: cfg, Setup: s, opt: opt}, nil
}

func every(n, freq int) bool {
	return freq > 0 && n%freq == 0
}

// Run trains until MaxEpochs, early stopping, divergence, an error or
// ctx cancellation. The best validated parameters are restored before
// returning.
func (t *Trainer) Run(ctx context.Context) (Result, error) {
	defer t.Train.Stop()

	res := Result{}
	bestCost := math.Inf(1)
	for _, h := range t.History {
		bestCost = math.Min(bestCost, h)
	}
	var best map[string]*mat.Dense
	badCount := 0
	estop := false

	for eidx := 0; eidx < t.cfg.MaxEpochs && !estop; eidx++ {
		res.Epochs = eidx + 1
		if err := t.Train.Start(data.Restart); err != nil {
			return res, errors.Wrapf(err, "epoch %d", eidx)
		}
		nSamples := 0
		for {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			b, err := t.Train.Next()
			if err == data.ErrEndOfStream {
				break
			}
			if err != nil {
				return res, errors.Wrapf(err, "epoch %d", eidx)
			}
			nSamples += b.Len()

			pb, err := data.Assemble(b, t.cfg.MaxLen, t.cfg.NWordsSrc, t.cfg.NWords)
			if err == data.ErrEmptyBatch {
				klog.V(2).Infof("minibatch with zero samples under length %d", t.cfg.MaxLen)
				continue
			}
			if err != nil {
				return res, err
			}

			t.Updates++
			udStart := time.Now()
			cost, err := t.update(pb)
			if err != nil {
				return res, errors.Wrapf(err, "update %d", t.Updates)
			}
			ud := time.Since(udStart)
			res.TrainCost, res.Updates = cost, t.Updates
			if !utils.IsFinite(cost) {
				klog.Errorf("NaN detected at update %d", t.Updates)
				return res, ErrNumericDivergence
			}

			if every(t.Updates, t.cfg.DispFreq) {
				klog.Infof("Epoch %d Update %d Cost %.6f UD %v", eidx, t.Updates, cost, ud)
			}
			if every(t.Updates, t.cfg.SaveFreq) && t.Save != nil {
				path := CheckpointName(t.cfg.SaveTo, eidx, t.Updates)
				if err := t.Save(path, t.History, t.Updates); err != nil {
					return res, errors.Wrap(err, "save checkpoint")
				}
				klog.Infof("Saved %s", path)
			}
			if every(t.Updates, t.cfg.SampleFreq) {
				if err := t.sample(ctx, pb); err != nil {
					return res, err
				}
			}
			if every(t.Updates, t.cfg.ValidFreq) && t.Valid != nil {
				validCost, err := t.validate()
				if err != nil {
					return res, err
				}
				t.History = append(t.History, validCost)
				if validCost <= bestCost {
					bestCost = validCost
					best = snapshot(t.Model.Params())
					badCount = 0
				} else {
					badCount++
				}
				klog.Infof("Valid %.6f Best %.6f Bad %d/%d", validCost, bestCost, badCount, t.cfg.Patience)
				klog.Infof("Seen %d samples", nSamples)
				if badCount > t.cfg.Patience {
					klog.Info("Early Stop!")
					estop = true
					break
				}
			}
		}
		t.Train.Stop()
	}

	res.EarlyStopped = estop
	if best != nil {
		restore(t.Model.Params(), best)
	}
	if t.Valid != nil {
		validCost, err := t.validate()
		if err != nil {
			return res, err
		}
		res.ValidCost = validCost
		klog.Infof("Valid %.6f", validCost)
	}
	res.History = append([]float64(nil), t.History...)
	if t.Save != nil && t.cfg.SaveTo != "" {
		if err := t.Save(t.cfg.SaveTo, t.History, t.Updates); err != nil {
			return res, errors.Wrap(err, "save final model")
		}
	}
	return res, nil
}

// update runs one optimizer step and returns the minibatch cost,
// including the weight decay term.
func (t *Trainer) update(pb *data.PaddedBatch) (float64, error) {
	cost, grads, err := t.Model.Cost(pb)
	if err != nil {
		return 0, err
	}
	ps := t.Model.Params()
	names := make([]string, 0, len(ps))
	for name := range ps {
		if grads[name] == nil {
			return 0, errors.Errorf("no gradient for %s", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if t.cfg.DecayC > 0 {
		for _, name := range names {
			p := ps[name]
			n := utils.MatrixNorm(p)
			cost += t.cfg.DecayC * n * n
			grads[name].Add(grads[name], scaled(2*t.cfg.DecayC, p))
		}
	}
	if !utils.IsFinite(cost) {
		return cost, nil
	}

	gs := make([]*mat.Dense, len(names))
	for i, name := range names {
		gs[i] = grads[name]
	}
	if s := utils.ClipGrads(t.cfg.ClipC, gs...); s < 1 {
		klog.V(3).Infof("gradients clipped by %.4f", s)
	}

	t.opt.Step()
	for _, name := range names {
		t.opt.Update(name, ps[name], grads[name])
	}
	return cost, nil
}

// validate returns the per-sample mean cost over one pass of Valid.
func (t *Trainer) validate() (float64, error) {
	if err := t.Valid.Start(data.Restart); err != nil {
		return 0, errors.Wrap(err, "validation")
	}
	defer t.Valid.Stop()
	total, n := 0.0, 0
	for {
		b, err := t.Valid.Next()
		if err == data.ErrEndOfStream {
			break
		}
		if err != nil {
			return 0, errors.Wrap(err, "validation")
		}
		pb, err := data.Assemble(b, t.cfg.MaxLen, t.cfg.NWordsSrc, t.cfg.NWords)
		if err == data.ErrEmptyBatch {
			continue
		}
		if err != nil {
			return 0, err
		}
		cost, _, err := t.Model.Cost(pb)
		if err != nil {
			return 0, errors.Wrap(err, "validation")
		}
		total += cost * float64(pb.Samples())
		n += pb.Samples()
	}
	if n == 0 {
		return 0, errors.Wrap(data.ErrEmptyBatch, "validation set has no usable pairs")
	}
	klog.V(1).Infof("%d validation samples computed", n)
	return total / float64(n), nil
}

// sample decodes up to five sources of pb greedily and logs them next
// to their references.
func (t *Trainer) sample(ctx context.Context, pb *data.PaddedBatch) error {
	dec := search.NewDecoder(t.Model, nil)
	opts := search.Options{Mode: search.Stochastic, K: 1, MaxSteps: t.cfg.DecodeMaxLen, Argmax: true}
	for jj := 0; jj < min(5, pb.Samples()); jj++ {
		src := pb.Source.Unpad(jj)
		hyps, err := dec.Decode(ctx, src, opts)
		if err != nil {
			return errors.Wrap(err, "sample")
		}
		best, _ := search.Best(hyps, true)
		klog.Infof("Source %d: %s", jj, words(t.SourceDict, src))
		klog.Infof("Truth %d: %s", jj, words(t.TargetDict, pb.Target.Unpad(jj)))
		klog.Infof("Sample %d: %s", jj, words(t.TargetDict, best.Tokens))
	}
	return nil
}

// words renders ids up to the first end token.
func words(v params.Vocabulary, ids []int) string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == search.EOS {
			break
		}
		if len(v.IDToToken) == 0 {
			out = append(out, fmt.Sprint(id))
			continue
		}
		out = append(out, v.Token(id))
	}
	return strings.Join(out, " ")
}

// CheckpointName is saveTo with an epoch/update prefix on the file name.
func CheckpointName(saveTo string, eidx, uidx int) string {
	dir, base := filepath.Split(saveTo)
	return filepath.Join(dir, fmt.Sprintf("epoch%d_nbUpd%d_%s", eidx, uidx, base))
}

func snapshot(ps map[string]*mat.Dense) map[string]*mat.Dense {
	out := make(map[string]*mat.Dense, len(ps))
	for name, p := range ps {
		out[name] = mat.DenseCopyOf(p)
	}
	return out
}

func restore(ps, saved map[string]*mat.Dense) {
	for name, p := range ps {
		if s, ok := saved[name]; ok {
			p.Copy(s)
		}
	}
}

func scaled(s float64, a *mat.Dense) *mat.Dense {
	out := utils.ZerosLike(a)
	out.Scale(s, a)
	return out
}
