package optimizations

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// AdamUpdateInPlace applies one bias-corrected AdamW step:
// p -= lr * (mhat/(sqrt(vhat)+eps) + wd * p).
func AdamUpdateInPlace(
	p, g, m, v *mat.Dense,
	t int,
	lr, beta1, beta2, eps, weightDecay float64,
) {
	mustMatch("adam", p, g)
	mustMatch("adam m", p, m)
	mustMatch("adam v", p, v)
	pr, pc := p.Dims()
	c1 := 1.0 / (1.0 - math.Pow(beta1, float64(t)))
	c2 := 1.0 / (1.0 - math.Pow(beta2, float64(t)))
	for i := 0; i < pr; i++ {
		for j := 0; j < pc; j++ {
			gij := g.At(i, j)
			mij := beta1*m.At(i, j) + (1.0-beta1)*gij
			vij := beta2*v.At(i, j) + (1.0-beta2)*gij*gij
			update := (mij*c1)/(math.Sqrt(vij*c2)+eps) + weightDecay*p.At(i, j)
			m.Set(i, j, mij)
			v.Set(i, j, vij)
			p.Set(i, j, p.At(i, j)-lr*update)
		}
	}
}

// Adam keeps first and second moments per parameter name. All
// parameters share one step counter, advanced by Step.
type Adam struct {
	LR, Beta1, Beta2, Eps float64

	t    int
	m, v map[string]*mat.Dense
}

func NewAdam(lr float64) *Adam {
	return &Adam{
		LR: lr, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8,
		m: map[string]*mat.Dense{},
		v: map[string]*mat.Dense{},
	}
}

func (a *Adam) Step() { a.t++ }

func (a *Adam) Update(name string, p, g *mat.Dense) {
	if a.t == 0 {
		a.t = 1
	}
	m, ok := a.m[name]
	if !ok {
		m, a.v[name] = zerosLike(p), zerosLike(p)
		a.m[name] = m
	}
	AdamUpdateInPlace(p, g, m, a.v[name], a.t, a.LR, a.Beta1, a.Beta2, a.Eps, 0)
}
