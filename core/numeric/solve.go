package numeric

import (
	"math"

	"github.com/YuminosukeSato/agriwarn/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// PivotFloor はピボットの絶対値の下限
//
// 部分ピボット選択後のピボットの絶対値がこの値を下回った場合、
// エラーにせず ±PivotFloor に置き換えて消去を続行する。ほぼ特異な系に対して
// 失敗ではなく「劣化しているが定義された」解を返すという方針である。
// 解に NaN/Inf が含まれる場合は NumericalInstabilityError を返す。
const PivotFloor = 1e-12

// SolveLinearSystem は A x = b を部分ピボット選択付きガウス消去法で解く
//
// A と b は変更しない（拡大係数行列 [A|b] のコピー上で計算する）。
//
// パラメータ:
//   - A: n×n の係数行列
//   - b: 長さ n の右辺ベクトル
//
// 戻り値:
//   - *mat.VecDense: 解ベクトル x
//   - error: 次元不一致、または解が有限でない場合
func SolveLinearSystem(A mat.Matrix, b mat.Vector) (*mat.VecDense, error) {
	n, c := A.Dims()
	if n == 0 {
		return nil, errors.NewModelError("SolveLinearSystem", "empty system", errors.ErrEmptyData)
	}
	if n != c {
		return nil, errors.NewValidationError("A", "coefficient matrix must be square", []int{n, c})
	}
	if b.Len() != n {
		return nil, errors.NewValidationError("b", "right-hand side length must match matrix size", b.Len())
	}

	// 拡大係数行列 [A|b]
	aug := mat.NewDense(n, n+1, nil)
	aug.Slice(0, n, 0, n).(*mat.Dense).Copy(A)
	for i := 0; i < n; i++ {
		aug.Set(i, n, b.AtVec(i))
	}

	// 前進消去
	for k := 0; k < n; k++ {
		// ピボット列で絶対値が最大の行を選ぶ
		pivotRow := k
		maxAbs := math.Abs(aug.At(k, k))
		for i := k + 1; i < n; i++ {
			if v := math.Abs(aug.At(i, k)); v > maxAbs {
				maxAbs = v
				pivotRow = i
			}
		}
		if pivotRow != k {
			swapRows(aug, k, pivotRow)
		}

		pivot := aug.At(k, k)
		if math.Abs(pivot) < PivotFloor {
			if pivot < 0 {
				pivot = -PivotFloor
			} else {
				pivot = PivotFloor
			}
			aug.Set(k, k, pivot)
		}

		for i := k + 1; i < n; i++ {
			factor := aug.At(i, k) / pivot
			if factor == 0 {
				continue
			}
			for j := k; j <= n; j++ {
				aug.Set(i, j, aug.At(i, j)-factor*aug.At(k, j))
			}
		}
	}

	// 後退代入
	x := mat.NewVecDense(n, nil)
	for i := n - 1; i >= 0; i-- {
		sum := aug.At(i, n)
		for j := i + 1; j < n; j++ {
			sum -= aug.At(i, j) * x.AtVec(j)
		}
		x.SetVec(i, sum/aug.At(i, i))
	}

	if err := errors.CheckNumericalStability("SolveLinearSystem", x.RawVector().Data, 0); err != nil {
		return nil, err
	}

	return x, nil
}

func swapRows(m *mat.Dense, a, b int) {
	_, c := m.Dims()
	for j := 0; j < c; j++ {
		va, vb := m.At(a, j), m.At(b, j)
		m.Set(a, j, vb)
		m.Set(b, j, va)
	}
}
