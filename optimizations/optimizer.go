// Package optimizations holds the parameter update rules a training run
// can choose from. The rule is picked once from the configuration.
package optimizations

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/nmt/params"
)

// Optimizer updates p in place from its gradient g. Per-parameter state
// is keyed by name. Step is called once per minibatch before the
// Update calls of that batch.
type Optimizer interface {
	Step()
	Update(name string, p, g *mat.Dense)
}

// NewOptimizer resolves kind to an update rule.
func NewOptimizer(kind params.OptimizerKind, lr float64) (Optimizer, error) {
	switch kind {
	case params.OptSGD:
		return &SGD{LR: lr}, nil
	case params.OptAdam:
		return NewAdam(lr), nil
	case params.OptAdadelta:
		return NewAdadelta(), nil
	case params.OptRMSProp:
		return NewRMSProp(lr), nil
	}
	return nil, errors.Errorf("unknown optimizer %q", kind)
}

// SGD is p -= lr * g.
type SGD struct {
	LR float64
}

func (s *SGD) Step() {}

func (s *SGD) Update(_ string, p, g *mat.Dense) {
	mustMatch("sgd", p, g)
	p.Add(p, scaled(-s.LR, g))
}

// Adadelta uses running averages of squared gradients and squared
// updates; it has no learning rate.
type Adadelta struct {
	Rho, Eps float64

	grad2, up2 map[string]*mat.Dense
}

func NewAdadelta() *Adadelta {
	return &Adadelta{
		Rho: 0.95, Eps: 1e-6,
		grad2: map[string]*mat.Dense{},
		up2:   map[string]*mat.Dense{},
	}
}

func (a *Adadelta) Step() {}

func (a *Adadelta) Update(name string, p, g *mat.Dense) {
	mustMatch("adadelta", p, g)
	rg2, ok := a.grad2[name]
	if !ok {
		rg2, a.up2[name] = zerosLike(p), zerosLike(p)
		a.grad2[name] = rg2
	}
	ru2 := a.up2[name]
	r, c := p.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			gij := g.At(i, j)
			rg := a.Rho*rg2.At(i, j) + (1-a.Rho)*gij*gij
			ud := -math.Sqrt(ru2.At(i, j)+a.Eps) / math.Sqrt(rg+a.Eps) * gij
			rg2.Set(i, j, rg)
			ru2.Set(i, j, a.Rho*ru2.At(i, j)+(1-a.Rho)*ud*ud)
			p.Set(i, j, p.At(i, j)+ud)
		}
	}
}

// RMSProp is the centred variant with momentum 0.9: the step is
// normalised by the running gradient variance.
type RMSProp struct {
	LR, Decay, Momentum, Eps float64

	grad, grad2, dir map[string]*mat.Dense
}

func NewRMSProp(lr float64) *RMSProp {
	return &RMSProp{
		LR: lr, Decay: 0.95, Momentum: 0.9, Eps: 1e-4,
		grad:  map[string]*mat.Dense{},
		grad2: map[string]*mat.Dense{},
		dir:   map[string]*mat.Dense{},
	}
}

func (o *RMSProp) Step() {}

func (o *RMSProp) Update(name string, p, g *mat.Dense) {
	mustMatch("rmsprop", p, g)
	rg, ok := o.grad[name]
	if !ok {
		rg = zerosLike(p)
		o.grad[name], o.grad2[name], o.dir[name] = rg, zerosLike(p), zerosLike(p)
	}
	rg2, ud := o.grad2[name], o.dir[name]
	r, c := p.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			gij := g.At(i, j)
			m1 := o.Decay*rg.At(i, j) + (1-o.Decay)*gij
			m2 := o.Decay*rg2.At(i, j) + (1-o.Decay)*gij*gij
			d := o.Momentum*ud.At(i, j) - o.LR*gij/math.Sqrt(m2-m1*m1+o.Eps)
			rg.Set(i, j, m1)
			rg2.Set(i, j, m2)
			ud.Set(i, j, d)
			p.Set(i, j, p.At(i, j)+d)
		}
	}
}

func mustMatch(op string, p, g *mat.Dense) {
	pr, pc := p.Dims()
	if gr, gc := g.Dims(); gr != pr || gc != pc {
		panic(fmt.Sprintf("%s: shape mismatch %dx%d vs %dx%d", op, pr, pc, gr, gc))
	}
}

func zerosLike(a *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	return mat.NewDense(r, c, nil)
}

func scaled(s float64, a *mat.Dense) *mat.Dense {
	out := zerosLike(a)
	out.Scale(s, a)
	return out
}
