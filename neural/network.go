package neural

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/agriwarn/pkg/errors"
)

// 活性化関数の名前（成果物に保存される）
const (
	ActivationReLU   = "relu"
	ActivationLinear = "linear"
)

// Dense は全結合層
type Dense struct {
	// W は in×out の重み（プールから取得し、Network.Release で返す）
	W *Tensor
	// B は長さ out のバイアス
	B          []float64
	Activation string
	// Dropout はこの層の出力に学習時のみ適用するドロップアウト率
	Dropout float64
}

// Network は全結合のフィードフォワードネットワーク
type Network struct {
	Layers []*Dense
}

// NewNetwork は dense(in→h0, ReLU) → [dense(ReLU) + dropout]... → dense(→1, linear) を構築する
//
// 重みは Glorot 一様分布、バイアスは 0 で初期化する。
func NewNetwork(inputSize int, hidden []int, dropout float64, rng *rand.Rand) (*Network, error) {
	if inputSize < 1 {
		return nil, errors.NewValidationError("inputSize", "network needs at least one input", inputSize)
	}
	if len(hidden) == 0 {
		return nil, errors.NewValidationError("hiddenLayerSizes", "network needs at least one hidden layer", hidden)
	}
	if dropout < 0 || dropout >= 1 {
		return nil, errors.NewValidationError("dropoutRate", "must be in [0, 1)", dropout)
	}

	net := &Network{}
	in := inputSize
	for i, units := range hidden {
		if units < 1 {
			return nil, errors.NewValidationError("hiddenLayerSizes", "layer size must be positive", units)
		}
		layer := newDense(in, units, ActivationReLU, rng)
		if i > 0 {
			layer.Dropout = dropout
		}
		net.Layers = append(net.Layers, layer)
		in = units
	}
	net.Layers = append(net.Layers, newDense(in, 1, ActivationLinear, rng))
	return net, nil
}

func newDense(in, out int, activation string, rng *rand.Rand) *Dense {
	limit := math.Sqrt(6.0 / float64(in+out))
	w := NewTensor(in, out)
	raw := w.Mat().RawMatrix()
	for i := 0; i < in; i++ {
		for j := 0; j < out; j++ {
			raw.Data[i*raw.Stride+j] = (rng.Float64()*2 - 1) * limit
		}
	}
	return &Dense{
		W:          w,
		B:          make([]float64, out),
		Activation: activation,
	}
}

// Release は全層の重みをプールに返す。以後ネットワークは使用できない。
func (n *Network) Release() {
	if n == nil {
		return
	}
	for _, l := range n.Layers {
		l.W.Release()
	}
}

// InputSize は入力の次元を返す
func (n *Network) InputSize() int {
	r, _ := n.Layers[0].W.Dims()
	return r
}

// HiddenSizes は隠れ層のユニット数を返す
func (n *Network) HiddenSizes() []int {
	out := make([]int, 0, len(n.Layers)-1)
	for _, l := range n.Layers[:len(n.Layers)-1] {
		_, c := l.W.Dims()
		out = append(out, c)
	}
	return out
}

// pass は 1 回の順伝播の中間結果。すべてのテンソルを所有する。
type pass struct {
	// pre は各層の活性化前の値、act は活性化（とドロップアウト）後の値
	pre   []*Tensor
	act   []*Tensor
	masks []*Tensor
	owned tensors
}

func (p *pass) output() *Tensor {
	return p.act[len(p.act)-1]
}

func (p *pass) release() {
	p.owned.release()
}

// forward は x（n×in）を順伝播する。train が true の場合のみドロップアウトを適用する。
//
// 返り値の pass は呼び出し側が release しなければならない。
func (n *Network) forward(x *Tensor, train bool, rng *rand.Rand) *pass {
	p := &pass{}
	a := x.Mat()
	rows, _ := x.Dims()

	for _, l := range n.Layers {
		_, out := l.W.Dims()

		z := p.owned.add(NewTensor(rows, out))
		z.Mat().Mul(a, l.W.Mat())
		zm := z.Mat()
		for i := 0; i < rows; i++ {
			row := zm.RawRowView(i)
			for j := range row {
				row[j] += l.B[j]
			}
		}

		act := p.owned.add(NewTensor(rows, out))
		switch l.Activation {
		case ActivationReLU:
			act.Mat().Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, zm)
		default:
			act.Mat().Copy(zm)
		}

		var mask *Tensor
		if train && l.Dropout > 0 {
			// inverted dropout: 残したユニットを 1/(1-p) 倍して期待値を保つ
			mask = p.owned.add(NewTensor(rows, out))
			keep := 1 / (1 - l.Dropout)
			mm := mask.Mat()
			for i := 0; i < rows; i++ {
				for j := 0; j < out; j++ {
					if rng.Float64() >= l.Dropout {
						mm.Set(i, j, keep)
					}
				}
			}
			act.Mat().MulElem(act.Mat(), mm)
		}

		p.pre = append(p.pre, z)
		p.act = append(p.act, act)
		p.masks = append(p.masks, mask)
		a = act.Mat()
	}
	return p
}

// gradients は各層の重みとバイアスの勾配
type gradients struct {
	dW    []*Tensor
	dB    [][]float64
	owned tensors
}

func (g *gradients) release() {
	g.owned.release()
}

// backward は出力に対する損失の勾配 dOut（n×1）から各層の勾配を計算する
func (n *Network) backward(x *Tensor, p *pass, dOut *Tensor) *gradients {
	g := &gradients{
		dW: make([]*Tensor, len(n.Layers)),
		dB: make([][]float64, len(n.Layers)),
	}
	var scratch tensors
	defer scratch.release()

	delta := dOut.Mat()
	for li := len(n.Layers) - 1; li >= 0; li-- {
		l := n.Layers[li]
		rows, out := delta.Dims()

		d := scratch.add(NewTensor(rows, out)).Mat()
		d.Copy(delta)
		if mask := p.masks[li]; mask != nil {
			d.MulElem(d, mask.Mat())
		}
		if l.Activation == ActivationReLU {
			pre := p.pre[li].Mat()
			d.Apply(func(i, j int, v float64) float64 {
				if pre.At(i, j) <= 0 {
					return 0
				}
				return v
			}, d)
		}

		prev := x.Mat()
		if li > 0 {
			prev = p.act[li-1].Mat()
		}
		in, _ := l.W.Dims()
		dW := g.owned.add(NewTensor(in, out))
		dW.Mat().Mul(prev.T(), d)
		g.dW[li] = dW

		dB := make([]float64, out)
		for i := 0; i < rows; i++ {
			for j, v := range d.RawRowView(i) {
				dB[j] += v
			}
		}
		g.dB[li] = dB

		if li > 0 {
			next := scratch.add(NewTensor(rows, in)).Mat()
			next.Mul(d, l.W.Mat().T())
			delta = next
		}
	}
	return g
}

// Predict は正規化済みの入力行列（n×in）に対する出力を返す（推論時、ドロップアウトなし）
func (n *Network) Predict(rows [][]float64) ([]float64, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	for _, r := range rows {
		if len(r) != n.InputSize() {
			return nil, errors.NewValidationError("input", "input width does not match network", len(r))
		}
	}

	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	x := TensorFrom(rows, idx)
	defer x.Release()

	p := n.forward(x, false, nil)
	defer p.release()

	out := make([]float64, len(rows))
	mat.Col(out, 0, p.output().Mat())
	return out, nil
}
