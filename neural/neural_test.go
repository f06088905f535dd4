package neural

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/agriwarn/core/model"
	"github.com/YuminosukeSato/agriwarn/pkg/errors"
	"github.com/YuminosukeSato/agriwarn/pkg/log"
	"github.com/YuminosukeSato/agriwarn/pkg/report"
)

func quietLogger() Option {
	logger, _ := log.NewTestLogger(log.LevelWarn)
	return WithLogger(logger)
}

func linearSet(n int) *model.TrainingSet {
	rng := rand.New(rand.NewSource(1))
	set := &model.TrainingSet{FeatureNames: []string{"temperature"}, TargetName: "risk"}
	for i := 0; i < n; i++ {
		x := 5 + 25*rng.Float64()
		set.Features = append(set.Features, []float64{x})
		set.Targets = append(set.Targets, 3*x+2)
	}
	return set
}

func specIn(t *testing.T) model.ModelSpec {
	dir := t.TempDir()
	return model.ModelSpec{
		ID:          "model_1_cafebabe",
		Name:        "frost",
		CreatedAt:   time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		ArtifactDir: filepath.Join(dir, "model_1_cafebabe_model"),
	}
}

func TestTensorPool(t *testing.T) {
	before := LiveTensors()
	a := NewTensor(2, 3)
	b := NewTensor(4, 1)
	assert.Equal(t, before+2, LiveTensors())

	r, c := a.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 3, c)

	a.Mat().Set(1, 2, 5)
	a.Release()
	a.Release()
	assert.Nil(t, a.Mat())
	b.Release()
	assert.Equal(t, before, LiveTensors())

	// プールから再取得したバッファはゼロ初期化されている
	d := NewTensor(2, 3)
	defer d.Release()
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			assert.Zero(t, d.Mat().At(i, j))
		}
	}
}

func TestBackwardMatchesFiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	net, err := NewNetwork(2, []int{4, 3}, 0, rng)
	require.NoError(t, err)
	defer net.Release()

	features := [][]float64{{0.5, -1.2}, {1.5, 0.3}, {-0.7, 0.9}, {0.1, 0.1}}
	targets := []float64{1, -0.5, 0.25, 2}
	idx := []int{0, 1, 2, 3}

	lossAt := func() float64 {
		l, err := evalLoss(net, features, targets, idx, 0)
		require.NoError(t, err)
		return l
	}

	x := TensorFrom(features, idx)
	y := ColumnFrom(targets, idx)
	p := net.forward(x, true, rng)
	dOut := NewTensor(len(idx), 1)
	mseLoss(p.output(), y, dOut)
	g := net.backward(x, p, dOut)

	const h = 1e-6
	for li, l := range net.Layers {
		w := l.W.Mat()
		in, out := w.Dims()
		for i := 0; i < in; i++ {
			for j := 0; j < out; j++ {
				orig := w.At(i, j)
				w.Set(i, j, orig+h)
				up := lossAt()
				w.Set(i, j, orig-h)
				down := lossAt()
				w.Set(i, j, orig)
				assert.InDelta(t, (up-down)/(2*h), g.dW[li].Mat().At(i, j), 1e-5, "layer %d w[%d,%d]", li, i, j)
			}
		}
		for j := range l.B {
			orig := l.B[j]
			l.B[j] = orig + h
			up := lossAt()
			l.B[j] = orig - h
			down := lossAt()
			l.B[j] = orig
			assert.InDelta(t, (up-down)/(2*h), g.dB[li][j], 1e-5, "layer %d b[%d]", li, j)
		}
	}

	g.release()
	dOut.Release()
	p.release()
	y.Release()
	x.Release()
}

func TestNewNetworkArchitecture(t *testing.T) {
	net, err := NewNetwork(3, []int{64, 32}, 0.2, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	defer net.Release()

	require.Len(t, net.Layers, 3)
	assert.Equal(t, ActivationReLU, net.Layers[0].Activation)
	assert.Zero(t, net.Layers[0].Dropout)
	assert.Equal(t, 0.2, net.Layers[1].Dropout)
	assert.Equal(t, ActivationLinear, net.Layers[2].Activation)
	assert.Equal(t, 3, net.InputSize())
	assert.Equal(t, []int{64, 32}, net.HiddenSizes())

	limit := math.Sqrt(6.0 / float64(3+64))
	w := net.Layers[0].W.Mat()
	for i := 0; i < 3; i++ {
		for j := 0; j < 64; j++ {
			assert.LessOrEqual(t, math.Abs(w.At(i, j)), limit)
		}
	}
	for _, l := range net.Layers {
		for _, b := range l.B {
			assert.Zero(t, b)
		}
	}

	_, err = NewNetwork(0, []int{4}, 0, rand.New(rand.NewSource(1)))
	assert.True(t, errors.IsValidation(err))
	_, err = NewNetwork(2, nil, 0, rand.New(rand.NewSource(1)))
	assert.True(t, errors.IsValidation(err))
}

func TestTrainerLearnsLinearRelation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HiddenLayerSizes = []int{16, 8}
	cfg.DropoutRate = 0

	spec := specIn(t)
	m, err := NewTrainer(WithConfig(cfg), WithBackend(NativeBackend{}), quietLogger()).Train(linearSet(120), spec)
	require.NoError(t, err)
	assert.Zero(t, LiveTensors())

	require.NoError(t, m.Validate())
	assert.Equal(t, model.NeuralNetwork, m.Kind)
	assert.Greater(t, m.Metadata.TrainingMetrics.R2, 0.8)
	assert.Equal(t, m.Metadata.TrainingMetrics.R2, m.Metadata.Accuracy)

	p := m.Parameters.Neural
	assert.Equal(t, spec.ArtifactDir, p.WeightsArtifactRef)
	assert.Equal(t, FormatNative, p.ArtifactFormat)
	assert.True(t, p.Normalization.TargetWasNormalized)
	assert.Equal(t, []int{16, 8}, p.Architecture.HiddenLayerSizes)
	assert.FileExists(t, filepath.Join(spec.ArtifactDir, NativeFile))

	extra := m.Metadata.TrainingMetrics.Extra
	assert.Equal(t, 100.0, extra[MetricEpochs])
	assert.Contains(t, extra, MetricFinalLoss)
	assert.Contains(t, extra, MetricValLoss)
}

func TestTrainerIsDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HiddenLayerSizes = []int{8, 4}
	cfg.Epochs = 20
	set := linearSet(40)

	a, err := NewTrainer(WithConfig(cfg), quietLogger()).Train(set, specIn(t))
	require.NoError(t, err)
	b, err := NewTrainer(WithConfig(cfg), quietLogger()).Train(set, specIn(t))
	require.NoError(t, err)

	assert.Equal(t, a.Metadata.TrainingMetrics.MSE, b.Metadata.TrainingMetrics.MSE)
	assert.Equal(t, a.Metadata.TrainingMetrics.Extra, b.Metadata.TrainingMetrics.Extra)
}

func TestTrainerDefaultsOnMinimalSet(t *testing.T) {
	set := linearSet(MinSamples)
	m, err := NewTrainer(quietLogger()).Train(set, specIn(t))
	require.NoError(t, err)
	assert.Zero(t, LiveTensors())
	assert.Equal(t, []int{64, 32}, m.Parameters.Neural.Architecture.HiddenLayerSizes)
	assert.Equal(t, 0.2, m.Parameters.Neural.Architecture.DropoutRate)
}

func TestTrainerValidation(t *testing.T) {
	tests := []struct {
		name string
		set  *model.TrainingSet
		spec func(t *testing.T) model.ModelSpec
		opts []Option
	}{
		{"too few samples", linearSet(MinSamples - 1), specIn, nil},
		{"no artifact dir", linearSet(10), func(*testing.T) model.ModelSpec { return model.ModelSpec{ID: "x"} }, nil},
		{"bad config", linearSet(10), specIn, []Option{WithConfig(Config{Epochs: 1})}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTrainer(append(tt.opts, quietLogger())...).Train(tt.set, tt.spec(t))
			assert.True(t, errors.IsValidation(err), "got %v", err)
			assert.Zero(t, LiveTensors())
		})
	}
}

func TestTrainerReleasesTensorsOnError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Epochs = 3

	t.Run("non-finite loss", func(t *testing.T) {
		set := linearSet(20)
		set.Targets[3] = math.Inf(1)
		_, err := NewTrainer(WithConfig(cfg), quietLogger()).Train(set, specIn(t))
		assert.True(t, errors.IsNumerical(err), "got %v", err)
		assert.Zero(t, LiveTensors())
	})

	t.Run("artifact write failure", func(t *testing.T) {
		blocker := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
		spec := specIn(t)
		spec.ArtifactDir = filepath.Join(blocker, "model_dir")

		_, err := NewTrainer(WithConfig(cfg), quietLogger()).Train(linearSet(20), spec)
		assert.True(t, errors.IsArtifactIO(err), "got %v", err)
		assert.Zero(t, LiveTensors())
	})
}

func TestTrainerRendersLossCurve(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Epochs = 5
	spec := specIn(t)

	_, err := NewTrainer(WithConfig(cfg), WithLossPlot(true), quietLogger()).Train(linearSet(20), spec)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(spec.ArtifactDir, report.LossCurveFile))
}

func TestBackendsRoundTrip(t *testing.T) {
	net, err := NewNetwork(3, []int{5, 4}, 0.2, rand.New(rand.NewSource(9)))
	require.NoError(t, err)
	defer net.Release()
	art := net.ToArtifact()

	tests := []struct {
		backend Backend
		file    string
		delta   float64
	}{
		{NativeBackend{}, NativeFile, 0},
		{PortableBackend{}, PortableTopologyFile, 1e-6},
	}

	for _, tt := range tests {
		t.Run(tt.backend.Name(), func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "m")
			require.NoError(t, tt.backend.Save(dir, art))
			assert.FileExists(t, filepath.Join(dir, tt.file))

			detected, err := DetectBackend(dir)
			require.NoError(t, err)
			assert.Equal(t, tt.backend.Name(), detected.Name())

			loaded, err := LoadArtifact(dir)
			require.NoError(t, err)
			require.Len(t, loaded.Layers, len(art.Layers))
			for i, l := range loaded.Layers {
				assert.Equal(t, art.Layers[i].In, l.In)
				assert.Equal(t, art.Layers[i].Out, l.Out)
				assert.Equal(t, art.Layers[i].Activation, l.Activation)
				assert.Equal(t, art.Layers[i].Dropout, l.Dropout)
				assert.InDeltaSlice(t, art.Layers[i].Weights, l.Weights, tt.delta)
				assert.InDeltaSlice(t, art.Layers[i].Biases, l.Biases, tt.delta)
			}

			restored, err := loaded.Network()
			require.NoError(t, err)
			restored.Release()
		})
	}

	_, err = LoadArtifact(t.TempDir())
	assert.True(t, errors.IsArtifactIO(err))
}

func TestPortableRejectsTruncatedWeights(t *testing.T) {
	net, err := NewNetwork(2, []int{3}, 0, rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	defer net.Release()

	dir := t.TempDir()
	require.NoError(t, PortableBackend{}.Save(dir, net.ToArtifact()))
	require.NoError(t, os.WriteFile(filepath.Join(dir, PortableWeightsFile), []byte{0, 0, 0, 0}, 0o644))

	_, err = LoadArtifact(dir)
	assert.True(t, errors.IsArtifactIO(err), "got %v", err)
}

func TestProbeBackend(t *testing.T) {
	for format, want := range map[string]string{FormatNative: FormatNative, FormatPortable: FormatPortable} {
		b, err := ProbeBackend(format)
		require.NoError(t, err)
		assert.Equal(t, want, b.Name())
	}

	b, err := ProbeBackend(FormatAuto)
	require.NoError(t, err)
	assert.Contains(t, []string{FormatNative, FormatPortable}, b.Name())

	_, err = ProbeBackend("onnx")
	assert.True(t, errors.IsValidation(err))
}

func TestLoaderPredictMatchesTraining(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Epochs = 10
	set := linearSet(30)

	for _, backend := range []Backend{NativeBackend{}, PortableBackend{}} {
		t.Run(backend.Name(), func(t *testing.T) {
			spec := specIn(t)
			m, err := NewTrainer(WithConfig(cfg), WithBackend(backend), quietLogger()).Train(set, spec)
			require.NoError(t, err)

			loader := NewLoader()
			var wg sync.WaitGroup
			results := make([]float64, 8)
			errs := make([]error, 8)
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					net, err := loader.Load(m.Parameters.Neural.WeightsArtifactRef)
					if err != nil {
						errs[i] = err
						return
					}
					defer net.Release()
					results[i], errs[i] = Predict(net, set.Features[0], m.Parameters.Neural.Normalization)
				}(i)
			}
			wg.Wait()

			for i := range results {
				require.NoError(t, errs[i])
				assert.Equal(t, results[0], results[i])
			}
			assert.False(t, math.IsNaN(results[0]))
			assert.Zero(t, LiveTensors())

			net, err := loader.Load(spec.ArtifactDir)
			require.NoError(t, err)
			_, err = Predict(net, []float64{1, 2}, m.Parameters.Neural.Normalization)
			assert.True(t, errors.IsValidation(err))
			net.Release()
			assert.Zero(t, LiveTensors())
		})
	}
}
