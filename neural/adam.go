package neural

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Adam のハイパーパラメータ
const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-7
)

// Adam はネットワークの全パラメータに対する Adam オプティマイザ
type Adam struct {
	lr float64
	t  int
	mW []*mat.Dense
	vW []*mat.Dense
	mB [][]float64
	vB [][]float64
}

// NewAdam はネットワークの形状に合わせたモーメントを 0 で初期化する
func NewAdam(net *Network, lr float64) *Adam {
	a := &Adam{lr: lr}
	for _, l := range net.Layers {
		r, c := l.W.Dims()
		a.mW = append(a.mW, mat.NewDense(r, c, nil))
		a.vW = append(a.vW, mat.NewDense(r, c, nil))
		a.mB = append(a.mB, make([]float64, len(l.B)))
		a.vB = append(a.vB, make([]float64, len(l.B)))
	}
	return a
}

// Step は勾配を 1 回適用する
func (a *Adam) Step(net *Network, g *gradients) {
	a.t++
	c1 := 1 - math.Pow(adamBeta1, float64(a.t))
	c2 := 1 - math.Pow(adamBeta2, float64(a.t))

	update := func(param, m, v *float64, grad float64) {
		*m = adamBeta1**m + (1-adamBeta1)*grad
		*v = adamBeta2**v + (1-adamBeta2)*grad*grad
		mHat := *m / c1
		vHat := *v / c2
		*param -= a.lr * mHat / (math.Sqrt(vHat) + adamEpsilon)
	}

	for li, l := range net.Layers {
		w := l.W.Mat().RawMatrix()
		mw := a.mW[li].RawMatrix()
		vw := a.vW[li].RawMatrix()
		gw := g.dW[li].Mat().RawMatrix()
		for i := 0; i < w.Rows; i++ {
			for j := 0; j < w.Cols; j++ {
				k := i*w.Stride + j
				gk := i*gw.Stride + j
				mk := i*mw.Stride + j
				update(&w.Data[k], &mw.Data[mk], &vw.Data[mk], gw.Data[gk])
			}
		}
		for j := range l.B {
			update(&l.B[j], &a.mB[li][j], &a.vB[li][j], g.dB[li][j])
		}
	}
}
