package linear

import (
	"math/rand"
	"testing"

	"github.com/YuminosukeSato/agriwarn/core/model"
)

// createBenchmarkSet はベンチマーク用の学習データを生成する
func createBenchmarkSet(rows, cols int) *model.TrainingSet {
	// シードを固定して再現性を確保
	rng := rand.New(rand.NewSource(42))

	// 真の重みベクトル
	trueWeights := make([]float64, cols)
	for j := 0; j < cols; j++ {
		trueWeights[j] = float64(j+1) * 0.5
	}

	set := &model.TrainingSet{
		Features: make([][]float64, rows),
		Targets:  make([]float64, rows),
	}
	for i := 0; i < rows; i++ {
		row := make([]float64, cols)
		sum := 1.0 // 切片
		for j := 0; j < cols; j++ {
			row[j] = rng.Float64()*2.0 - 1.0
			sum += row[j] * trueWeights[j]
		}
		// 小さなノイズを追加
		sum += (rng.Float64() - 0.5) * 0.1
		set.Features[i] = row
		set.Targets[i] = sum
	}
	return set
}

// BenchmarkMultivariateTrain は Train のベンチマークを実行する
func BenchmarkMultivariateTrain(b *testing.B) {
	sizes := []struct {
		name string
		rows int
		cols int
	}{
		{"Small_100x10", 100, 10},
		{"Medium_1000x10", 1000, 10}, // 並列処理の閾値
		{"Large_10000x20", 10000, 20},
		{"XLarge_50000x50", 50000, 50},
	}

	for _, size := range sizes {
		b.Run(size.name, func(b *testing.B) {
			set := createBenchmarkSet(size.rows, size.cols)
			trainer := NewMultivariateTrainer(quiet(), WithAssumeNormalized(false))

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := trainer.Train(set, testSpec()); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkMultivariateTrainSequential は並列化を無効にした版（比較用）
func BenchmarkMultivariateTrainSequential(b *testing.B) {
	sizes := []struct {
		name string
		rows int
		cols int
	}{
		{"Sequential_1000x10", 1000, 10},
		{"Sequential_10000x20", 10000, 20},
	}

	for _, size := range sizes {
		b.Run(size.name, func(b *testing.B) {
			set := createBenchmarkSet(size.rows, size.cols)
			trainer := NewMultivariateTrainer(quiet(), WithAssumeNormalized(false), WithParallelThreshold(size.rows+1))

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := trainer.Train(set, testSpec()); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkPredictMultivariate は 1 点の予測（正規化と逆変換を含む）を測定する
func BenchmarkPredictMultivariate(b *testing.B) {
	set := createBenchmarkSet(1000, 20)
	m, err := NewMultivariateTrainer(quiet(), WithAssumeNormalized(false)).Train(set, testSpec())
	if err != nil {
		b.Fatal(err)
	}
	input := set.Features[0]

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := PredictMultivariate(m.Parameters.Multivariate, input); err != nil {
			b.Fatal(err)
		}
	}
}
