// Package neural は全結合ニューラルネットワークの学習と推論を提供する。
//
// ネットワークは gonum の行列をプールしたテンソル上で計算する。入力バッチ、
// 中間の活性化、勾配、重みはすべて Tensor として取得され、成功・失敗の
// どちらの経路でも解放される。LiveTensors で解放漏れを検査できる。
package neural

import (
	"math/rand"
	"path/filepath"

	"github.com/YuminosukeSato/agriwarn/core/model"
	"github.com/YuminosukeSato/agriwarn/metrics"
	"github.com/YuminosukeSato/agriwarn/pkg/errors"
	"github.com/YuminosukeSato/agriwarn/pkg/log"
	"github.com/YuminosukeSato/agriwarn/pkg/report"
	"github.com/YuminosukeSato/agriwarn/preprocessing"
)

// MinSamples はニューラルネットワークの学習に必要な最小行数
const MinSamples = 5

// Extra メトリクスのキー
const (
	MetricFinalLoss = "finalLoss"
	MetricValLoss   = "valLoss"
	MetricEpochs    = "epochs"
)

// Trainer はニューラルネットワークの学習器
type Trainer struct {
	cfg      Config
	backend  Backend
	plotLoss bool
	logger   log.Logger
}

var _ model.Trainer = (*Trainer)(nil)

// NewTrainer は新しい Trainer を作成する
//
// 成果物のバックエンドは指定が無ければ CPU の機能から選ぶ。
func NewTrainer(opts ...Option) *Trainer {
	backend, _ := ProbeBackend(FormatAuto)
	t := &Trainer{
		cfg:     DefaultConfig(),
		backend: backend,
		logger:  log.GetLoggerWithName("neural"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Kind implements model.Trainer.
func (t *Trainer) Kind() model.Kind {
	return model.NeuralNetwork
}

// Train はネットワークを学習し、成果物を spec.ArtifactDir に保存する
//
// 特徴量と目的変数は常に正規化する。検証データは末尾 ValidationSplit の割合の行を
// そのまま使い（シャッフルしない）、学習データはエポックごとにシード付き乱数で並べ替える。
// 学習は最後まで実行され、途中でキャンセルできない。
func (t *Trainer) Train(set *model.TrainingSet, spec model.ModelSpec) (*model.TrainedModel, error) {
	if spec.ArtifactDir == "" {
		return nil, errors.NewValidationError("artifactDir", "neural network needs an artifact directory", spec.ID)
	}
	if err := t.cfg.Validate(); err != nil {
		return nil, err
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	if err := set.RequireMinSamples(MinSamples); err != nil {
		return nil, err
	}

	features, targets, norm, err := preprocessing.Normalize(set)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(t.cfg.Seed))
	net, err := NewNetwork(set.NumFeatures(), t.cfg.HiddenLayerSizes, t.cfg.DropoutRate, rng)
	if err != nil {
		return nil, err
	}
	defer net.Release()

	n := set.Len()
	nVal := int(float64(n) * t.cfg.ValidationSplit)
	nTrain := n - nVal
	trainIdx := make([]int, nTrain)
	for i := range trainIdx {
		trainIdx[i] = i
	}
	valIdx := make([]int, nVal)
	for i := range valIdx {
		valIdx[i] = nTrain + i
	}

	logger := t.logger.With(log.ModelIDKey, spec.ID, log.OperationKey, log.OperationTrain)
	logger.Info("Neural network training started",
		log.SamplesKey, nTrain,
		log.ValidationSamplesKey, nVal,
		log.HiddenLayersKey, t.cfg.HiddenLayerSizes,
		log.LearningRateKey, t.cfg.LearningRate,
		log.RandomSeedKey, t.cfg.Seed,
	)

	opt := NewAdam(net, t.cfg.LearningRate)
	var history report.LossHistory
	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		rng.Shuffle(len(trainIdx), func(i, j int) { trainIdx[i], trainIdx[j] = trainIdx[j], trainIdx[i] })

		var epochLoss float64
		for start := 0; start < nTrain; start += t.cfg.BatchSize {
			end := min(start+t.cfg.BatchSize, nTrain)
			loss, err := t.step(net, opt, features, targets, trainIdx[start:end], rng, epoch)
			if err != nil {
				return nil, err
			}
			epochLoss += loss * float64(end-start)
		}
		epochLoss /= float64(nTrain)
		history.Train = append(history.Train, epochLoss)

		if nVal > 0 {
			valLoss, err := evalLoss(net, features, targets, valIdx, epoch)
			if err != nil {
				return nil, err
			}
			history.Validation = append(history.Validation, valLoss)
		}

		if (epoch+1)%10 == 0 {
			logger.Debug("Epoch finished", log.EpochKey, epoch+1, log.LossKey, epochLoss)
		}
	}

	// 学習データ全体を推論経路で採点し、元のスケールで評価する
	normalized, err := net.Predict(features)
	if err != nil {
		return nil, err
	}
	preds := make([]float64, len(normalized))
	for i, v := range normalized {
		preds[i] = preprocessing.Denormalize(v, &norm)
	}
	reg, err := metrics.Evaluate(set.Targets, preds)
	if err != nil {
		return nil, err
	}

	if err := t.backend.Save(spec.ArtifactDir, net.ToArtifact()); err != nil {
		return nil, err
	}
	if t.plotLoss {
		path := filepath.Join(spec.ArtifactDir, report.LossCurveFile)
		if err := report.SaveLossCurve(history, spec.Name, path); err != nil {
			logger.Warn("Failed to render loss curve", err, log.ArtifactPathKey, path)
		}
	}

	extra := map[string]float64{
		MetricFinalLoss: history.Train[len(history.Train)-1],
		MetricEpochs:    float64(t.cfg.Epochs),
	}
	if len(history.Validation) > 0 {
		extra[MetricValLoss] = history.Validation[len(history.Validation)-1]
	}

	logger.Info("Neural network training finished",
		log.LossKey, extra[MetricFinalLoss],
		log.R2ScoreKey, reg.R2,
		log.ArtifactPathKey, spec.ArtifactDir,
		log.ArtifactFormatKey, t.backend.Name(),
	)

	params := &model.NeuralParams{
		WeightsArtifactRef: spec.ArtifactDir,
		ArtifactFormat:     t.backend.Name(),
		Architecture: model.Architecture{
			InputSize:        set.NumFeatures(),
			HiddenLayerSizes: append([]int(nil), t.cfg.HiddenLayerSizes...),
			DropoutRate:      t.cfg.DropoutRate,
			Activation:       ActivationReLU,
			Optimizer:        "adam",
			LearningRate:     t.cfg.LearningRate,
			Loss:             "mse",
		},
		Normalization: &norm,
	}
	return model.NewTrainedModel(model.NeuralNetwork, set, spec,
		model.Parameters{Neural: params},
		model.TrainingMetrics{MSE: reg.MSE, RMSE: reg.RMSE, R2: reg.R2, Extra: extra},
	), nil
}

// step は 1 ミニバッチ分の順伝播・逆伝播・更新を行い、バッチの MSE を返す
func (t *Trainer) step(net *Network, opt *Adam, features [][]float64, targets []float64, idx []int, rng *rand.Rand, epoch int) (float64, error) {
	x := TensorFrom(features, idx)
	defer x.Release()
	y := ColumnFrom(targets, idx)
	defer y.Release()

	p := net.forward(x, true, rng)
	defer p.release()

	dOut := NewTensor(len(idx), 1)
	defer dOut.Release()

	loss := mseLoss(p.output(), y, dOut)
	if err := errors.CheckScalar("neural.Train", loss, epoch); err != nil {
		return 0, err
	}

	g := net.backward(x, p, dOut)
	defer g.release()
	opt.Step(net, g)
	return loss, nil
}

// evalLoss は検証データの MSE をドロップアウト無しで計算する
func evalLoss(net *Network, features [][]float64, targets []float64, idx []int, epoch int) (float64, error) {
	x := TensorFrom(features, idx)
	defer x.Release()
	y := ColumnFrom(targets, idx)
	defer y.Release()

	p := net.forward(x, false, nil)
	defer p.release()

	loss := mseLoss(p.output(), y, nil)
	if err := errors.CheckScalar("neural.Validate", loss, epoch); err != nil {
		return 0, err
	}
	return loss, nil
}

// mseLoss は平均二乗誤差を返し、grad が nil でなければ出力に対する勾配 2(ŷ−y)/n を書き込む
func mseLoss(pred, y, grad *Tensor) float64 {
	pm, ym := pred.Mat(), y.Mat()
	n, _ := pm.Dims()
	var sum float64
	for i := 0; i < n; i++ {
		diff := pm.At(i, 0) - ym.At(i, 0)
		sum += diff * diff
		if grad != nil {
			grad.Mat().Set(i, 0, 2*diff/float64(n))
		}
	}
	return sum / float64(n)
}
