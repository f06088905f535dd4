package neural

import (
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"
)

// Tensor はプールから取得した行列バッファ
//
// 取得したテンソルは成功・失敗どちらの経路でも必ず Release すること。
// 解放漏れは LiveTensors で検出できる。
type Tensor struct {
	m        *mat.Dense
	released atomic.Bool
}

var (
	densePool = sync.Pool{New: func() any { return &mat.Dense{} }}
	live      atomic.Int64
)

// NewTensor はゼロ初期化された r×c のテンソルを取得する
func NewTensor(r, c int) *Tensor {
	m := densePool.Get().(*mat.Dense)
	m.ReuseAs(r, c)
	live.Add(1)
	return &Tensor{m: m}
}

// TensorFrom は行スライスの一部をコピーしたテンソルを取得する
func TensorFrom(rows [][]float64, idx []int) *Tensor {
	c := len(rows[idx[0]])
	t := NewTensor(len(idx), c)
	for i, k := range idx {
		t.m.SetRow(i, rows[k])
	}
	return t
}

// ColumnFrom は値の一部を n×1 の列テンソルとしてコピーする
func ColumnFrom(values []float64, idx []int) *Tensor {
	t := NewTensor(len(idx), 1)
	for i, k := range idx {
		t.m.Set(i, 0, values[k])
	}
	return t
}

// Mat は内部の行列を返す。解放後は nil。
func (t *Tensor) Mat() *mat.Dense {
	if t == nil || t.released.Load() {
		return nil
	}
	return t.m
}

// Dims は行数と列数を返す
func (t *Tensor) Dims() (int, int) {
	return t.m.Dims()
}

// Release はバッファをプールに返す。二重解放は無視される。
func (t *Tensor) Release() {
	if t == nil || !t.released.CompareAndSwap(false, true) {
		return
	}
	m := t.m
	t.m = nil
	m.Reset()
	densePool.Put(m)
	live.Add(-1)
}

// LiveTensors は未解放のテンソル数を返す
func LiveTensors() int64 {
	return live.Load()
}

// tensors は同じ寿命を持つテンソルの集合
type tensors []*Tensor

func (ts *tensors) add(t *Tensor) *Tensor {
	*ts = append(*ts, t)
	return t
}

func (ts *tensors) release() {
	for _, t := range *ts {
		t.Release()
	}
	*ts = (*ts)[:0]
}
