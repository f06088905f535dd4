package numeric

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/agriwarn/pkg/errors"
)

func TestColumnStats(t *testing.T) {
	rows := [][]float64{
		{1, 10, 5},
		{2, 20, 5},
		{3, 30, 5},
		{4, 40, 5},
	}

	means, stds, err := ColumnStats(rows)
	require.NoError(t, err)

	assert.InDeltaSlice(t, []float64{2.5, 25, 5}, means, 1e-12)
	// 母標準偏差: sqrt(1.25)
	assert.InDelta(t, math.Sqrt(1.25), stds[0], 1e-12)
	assert.InDelta(t, 10*math.Sqrt(1.25), stds[1], 1e-12)
	// 定数列の標準偏差は 1 に置換される
	assert.Equal(t, 1.0, stds[2])
}

func TestColumnStatsErrors(t *testing.T) {
	_, _, err := ColumnStats(nil)
	assert.True(t, errors.Is(err, errors.ErrEmptyData))

	_, _, err = ColumnStats([][]float64{{1, 2}, {3}})
	assert.True(t, errors.IsValidation(err))
}

func TestSolveLinearSystem(t *testing.T) {
	tests := []struct {
		name string
		A    *mat.Dense
		b    *mat.VecDense
		want []float64
	}{
		{
			name: "2x2",
			A:    mat.NewDense(2, 2, []float64{2, 1, 1, 3}),
			b:    mat.NewVecDense(2, []float64{3, 5}),
			want: []float64{0.8, 1.4},
		},
		{
			name: "zero leading pivot needs a row swap",
			A:    mat.NewDense(3, 3, []float64{0, 2, 1, 1, 1, 1, 2, 1, 0}),
			b:    mat.NewVecDense(3, []float64{7, 6, 4}),
			want: []float64{1, 2, 3},
		},
		{
			name: "identity",
			A:    mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}),
			b:    mat.NewVecDense(3, []float64{7, -1, 2}),
			want: []float64{7, -1, 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := mat.DenseCopyOf(tt.A)

			x, err := SolveLinearSystem(tt.A, tt.b)
			require.NoError(t, err)
			assert.InDeltaSlice(t, tt.want, x.RawVector().Data, 1e-6)
			// 入力行列は変更されない
			assert.True(t, mat.Equal(before, tt.A))
		})
	}
}

func TestSolveLinearSystemSingularUsesPivotFloor(t *testing.T) {
	// 完全に特異な系でも失敗せず、有限な解を返す
	A := mat.NewDense(2, 2, []float64{1, 2, 2, 4})
	b := mat.NewVecDense(2, []float64{3, 6})

	x, err := SolveLinearSystem(A, b)
	require.NoError(t, err)
	for i := 0; i < x.Len(); i++ {
		assert.False(t, math.IsNaN(x.AtVec(i)) || math.IsInf(x.AtVec(i), 0), "x[%d] must be finite", i)
	}
}

func TestSolveLinearSystemNonFiniteRaises(t *testing.T) {
	// 床値で割った結果がオーバーフローする
	A := mat.NewDense(2, 2, []float64{1, 1, 1, 1})
	b := mat.NewVecDense(2, []float64{1, math.MaxFloat64})

	_, err := SolveLinearSystem(A, b)
	assert.True(t, errors.IsNumerical(err), "got %v", err)
}

func TestSolveLinearSystemValidation(t *testing.T) {
	_, err := SolveLinearSystem(mat.NewDense(2, 3, nil), mat.NewVecDense(2, nil))
	assert.True(t, errors.IsValidation(err))

	_, err = SolveLinearSystem(mat.NewDense(2, 2, []float64{1, 0, 0, 1}), mat.NewVecDense(3, nil))
	assert.True(t, errors.IsValidation(err))
}

func TestDot(t *testing.T) {
	assert.Equal(t, 32.0, Dot([]float64{1, 2, 3}, []float64{4, 5, 6}))
}
