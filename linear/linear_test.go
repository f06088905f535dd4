package linear

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/agriwarn/core/model"
	"github.com/YuminosukeSato/agriwarn/pkg/errors"
	"github.com/YuminosukeSato/agriwarn/pkg/log"
)

func testSpec() model.ModelSpec {
	return model.ModelSpec{
		ID:        "model_1_deadbeef",
		Name:      "test",
		CreatedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func quiet() Option {
	logger, _ := log.NewTestLogger(log.LevelDebug)
	return WithLogger(logger)
}

func TestSimpleTrainer(t *testing.T) {
	set := &model.TrainingSet{
		Features: [][]float64{{1}, {2}, {3}, {4}},
		Targets:  []float64{3, 5, 7, 9},
	}

	m, err := NewSimpleTrainer(quiet()).Train(set, testSpec())
	require.NoError(t, err)

	assert.Equal(t, model.Linear, m.Kind)
	assert.InDelta(t, 2.0, m.Parameters.Linear.Slope, 1e-9)
	assert.InDelta(t, 1.0, m.Parameters.Linear.Intercept, 1e-9)
	assert.InDelta(t, 1.0, m.Metadata.TrainingMetrics.R2, 1e-9)
	assert.InDelta(t, 0.0, m.Metadata.TrainingMetrics.MSE, 1e-12)
	assert.Equal(t, m.Metadata.TrainingMetrics.R2, m.Metadata.Accuracy)
	assert.Equal(t, []string{"x0"}, m.FeatureNames)
	assert.Equal(t, "y", m.TargetName)
	require.NoError(t, m.Validate())

	got, err := PredictSimple(m.Parameters.Linear, []float64{10})
	require.NoError(t, err)
	assert.InDelta(t, 21.0, got, 1e-9)
}

func TestSimpleTrainerValidation(t *testing.T) {
	tests := []struct {
		name string
		set  *model.TrainingSet
	}{
		{"two features", &model.TrainingSet{Features: [][]float64{{1, 2}, {2, 3}}, Targets: []float64{1, 2}}},
		{"single row", &model.TrainingSet{Features: [][]float64{{1}}, Targets: []float64{1}}},
		{"zero variance", &model.TrainingSet{Features: [][]float64{{0.1}, {0.1}, {0.1}}, Targets: []float64{1, 2, 3}}},
		{"empty", &model.TrainingSet{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSimpleTrainer(quiet()).Train(tt.set, testSpec())
			assert.True(t, errors.IsValidation(err), "got %v", err)
		})
	}
}

func TestPredictSimpleArity(t *testing.T) {
	p := &model.LinearParams{Slope: 2, Intercept: 1}
	for _, in := range [][]float64{nil, {1, 2}} {
		_, err := PredictSimple(p, in)
		assert.True(t, errors.IsValidation(err))
	}
}

// rawWeatherSet は y = 5 + 0.5·temperature − 0.1·humidity + 2·rain を満たす生データ
func rawWeatherSet(n int) *model.TrainingSet {
	rng := rand.New(rand.NewSource(7))
	set := &model.TrainingSet{FeatureNames: []string{"temperature", "humidity", "rain"}, TargetName: "risk"}
	for i := 0; i < n; i++ {
		temp := 10 + 20*rng.Float64()
		hum := 40 + 50*rng.Float64()
		rain := 15 * rng.Float64()
		set.Features = append(set.Features, []float64{temp, hum, rain})
		set.Targets = append(set.Targets, 5+0.5*temp-0.1*hum+2*rain)
	}
	return set
}

// standardizedSet は列ごとに平均 0・標準偏差 1 の特徴量と、正規化していない目的変数を持つ
func standardizedSet() *model.TrainingSet {
	features := [][]float64{
		{-1, 1}, {1, -1}, {-1, -1}, {1, 1},
	}
	targets := make([]float64, len(features))
	for i, x := range features {
		targets[i] = 40 + 3*x[0] - 2*x[1]
	}
	return &model.TrainingSet{Features: features, Targets: targets}
}

func TestMultivariateSelfNormalizes(t *testing.T) {
	set := rawWeatherSet(50)

	m, err := NewMultivariateTrainer(quiet()).Train(set, testSpec())
	require.NoError(t, err)

	norm := m.Parameters.Multivariate.Normalization
	require.NotNil(t, norm)
	assert.True(t, norm.TargetWasNormalized)
	assert.Len(t, m.Parameters.Multivariate.Coefficients, 4)
	assert.InDelta(t, 1.0, m.Metadata.TrainingMetrics.R2, 1e-9)

	for i, row := range set.Features {
		got, err := PredictMultivariate(m.Parameters.Multivariate, row)
		require.NoError(t, err)
		assert.InDelta(t, set.Targets[i], got, 1e-6)
	}
}

func TestMultivariateAlreadyNormalized(t *testing.T) {
	var warnings []error
	errors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
	t.Cleanup(func() { errors.SetWarningHandler(nil) })

	set := standardizedSet()
	m, err := NewMultivariateTrainer(quiet()).Train(set, testSpec())
	require.NoError(t, err)

	norm := m.Parameters.Multivariate.Normalization
	require.NotNil(t, norm)
	assert.False(t, norm.TargetWasNormalized)
	assert.Equal(t, []float64{0, 0}, norm.FeatureMeans)
	assert.Equal(t, []float64{1, 1}, norm.FeatureStds)
	assert.InDeltaSlice(t, []float64{3, -2, 40}, m.Parameters.Multivariate.Coefficients, 1e-9)
	assert.Len(t, warnings, 1, "heuristic decision must be reported")

	// 出力は逆変換されない
	got, err := PredictMultivariate(m.Parameters.Multivariate, []float64{1, 1})
	require.NoError(t, err)
	assert.InDelta(t, 41.0, got, 1e-9)
}

func TestMultivariateFlagHonoredAfterPersistence(t *testing.T) {
	for _, normalized := range []bool{true, false} {
		set := standardizedSet()
		m, err := NewMultivariateTrainer(quiet(), WithAssumeNormalized(normalized)).Train(set, testSpec())
		require.NoError(t, err)

		data, err := m.ToJSON()
		require.NoError(t, err)
		var restored model.TrainedModel
		require.NoError(t, restored.FromJSON(data))

		assert.Equal(t, !normalized, restored.Parameters.Multivariate.Normalization.TargetWasNormalized)
		for i, row := range set.Features {
			got, err := PredictMultivariate(restored.Parameters.Multivariate, row)
			require.NoError(t, err)
			assert.InDelta(t, set.Targets[i], got, 1e-9)
		}
	}
}

func TestPredictMultivariateTargetFlag(t *testing.T) {
	params := func(targetWasNormalized bool) *model.MultivariateParams {
		return &model.MultivariateParams{
			Coefficients: []float64{2, -1, 0.5},
			Normalization: &model.NormalizationParams{
				FeatureMeans:        []float64{10, 20},
				FeatureStds:         []float64{2, 4},
				TargetMean:          50,
				TargetStd:           5,
				TargetWasNormalized: targetWasNormalized,
			},
		}
	}
	// 正規化後の入力は [2, -1]、線形結合は 2·2 + (−1)·(−1) + 0.5 = 5.5
	input := []float64{14, 16}

	raw, err := PredictMultivariate(params(false), input)
	require.NoError(t, err)
	denormalized, err := PredictMultivariate(params(true), input)
	require.NoError(t, err)

	assert.InDelta(t, 5.5, raw, 1e-12)
	assert.InDelta(t, 5.5*5+50, denormalized, 1e-12)
	assert.NotEqual(t, raw, denormalized)
}

func TestMultivariateOverrideForcesNormalization(t *testing.T) {
	m, err := NewMultivariateTrainer(quiet(), WithAssumeNormalized(false)).Train(standardizedSet(), testSpec())
	require.NoError(t, err)
	norm := m.Parameters.Multivariate.Normalization
	assert.True(t, norm.TargetWasNormalized)
	assert.InDelta(t, 40.0, norm.TargetMean, 1e-9)
}

func TestMultivariateParallelScoringMatchesSequential(t *testing.T) {
	set := rawWeatherSet(200)
	seq, err := NewMultivariateTrainer(quiet()).Train(set, testSpec())
	require.NoError(t, err)
	par, err := NewMultivariateTrainer(quiet(), WithParallelThreshold(10)).Train(set, testSpec())
	require.NoError(t, err)

	assert.InDeltaSlice(t, seq.Parameters.Multivariate.Coefficients, par.Parameters.Multivariate.Coefficients, 1e-12)
	assert.InDelta(t, seq.Metadata.TrainingMetrics.MSE, par.Metadata.TrainingMetrics.MSE, 1e-12)
}

func TestPredictMultivariate(t *testing.T) {
	legacy := &model.MultivariateParams{Coefficients: []float64{2, 3, 1}}
	got, err := PredictMultivariate(legacy, []float64{1, 1})
	require.NoError(t, err)
	assert.Equal(t, 6.0, got)

	tests := []struct {
		name   string
		params *model.MultivariateParams
		input  []float64
	}{
		{"too few", legacy, []float64{1}},
		{"too many", legacy, []float64{1, 2, 3}},
		{"nil params", nil, []float64{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PredictMultivariate(tt.params, tt.input)
			assert.True(t, errors.IsValidation(err))
		})
	}
}

func TestMultivariateValidation(t *testing.T) {
	_, err := NewMultivariateTrainer(quiet()).Train(&model.TrainingSet{
		Features: [][]float64{{1, 2}},
		Targets:  []float64{1},
	}, testSpec())
	assert.True(t, errors.IsValidation(err))
}
