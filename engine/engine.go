// Package engine はモデルの学習・登録・予測をまとめたサービスを提供する。
//
// プロセスごとに 1 つの Engine を作成し、Init で既存のモデルを読み込み、
// Shutdown で副作用の呼び出しが終わるのを待つ。Train と Predict は同期的で、
// 複数のゴルーチンから同時に呼び出してよい。
package engine

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/YuminosukeSato/agriwarn/core/model"
	"github.com/YuminosukeSato/agriwarn/linear"
	"github.com/YuminosukeSato/agriwarn/neural"
	"github.com/YuminosukeSato/agriwarn/pkg/errors"
	"github.com/YuminosukeSato/agriwarn/pkg/ingest"
	"github.com/YuminosukeSato/agriwarn/pkg/log"
	"github.com/YuminosukeSato/agriwarn/pkg/weather"
	"github.com/YuminosukeSato/agriwarn/registry"
)

const (
	collaboratorArtifactStore = "artifact_store"
	collaboratorTracker       = "tracker"
)

// TrainOptions は 1 回の学習に対する指定
type TrainOptions struct {
	// Name はモデルの表示名。空の場合は種類から生成する。
	Name string
	// AssumeNormalized は多変量回帰で入力が正規化済みかどうかの推定を上書きする
	AssumeNormalized *bool
	// Neural はニューラルネットワークの学習設定を上書きする
	Neural *neural.Config
}

// TrainingResult は学習結果
type TrainingResult struct {
	ModelID  string
	Model    *model.TrainedModel
	Metrics  model.TrainingMetrics
	Duration time.Duration
}

// Engine は学習・予測サービス
type Engine struct {
	Opts

	registry *registry.Registry
	loader   *neural.Loader
	metrics  *collectors

	side sync.WaitGroup
}

// New は Engine を作成する
func New(reg *registry.Registry, applyOpts ...OptionFn) *Engine {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}
	e := &Engine{
		Opts:     opts,
		registry: reg,
		loader:   neural.NewLoader(),
	}
	e.metrics = newCollectors(func() float64 { return float64(reg.Len()) })
	return e
}

// Name implements service.Name
func (e *Engine) Name() string {
	return "engine"
}

// Init は永続化されたモデルを読み込み、メタデータを登録する
func (e *Engine) Init() error {
	if err := e.registry.Init(); err != nil {
		return err
	}
	if e.registerer != nil {
		if err := e.metrics.register(e.registerer); err != nil {
			return errors.Wrap(err, "register engine metrics")
		}
	}
	e.logger.Info("Engine initialized", log.PhaseKey, log.PhaseStartup, "models", e.registry.Len())
	return nil
}

// Shutdown は実行中の副作用の呼び出しを待つ
func (e *Engine) Shutdown() error {
	e.Wait()
	return e.registry.Shutdown()
}

// Wait は実行中の副作用の呼び出し（アップロード・実験記録）が終わるまで待つ
func (e *Engine) Wait() {
	e.side.Wait()
}

// Registry は内部のレジストリを返す
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Train はモデルを学習して登録する
//
// 学習はパニックを含めてエラーとして返される。学習の開始後に ctx が
// キャンセルされても学習は最後まで実行され、モデルは登録される。
//
// パラメータ:
//   - kind: モデルの種類
//   - set: 学習データ
//   - opts: 名前や学習設定の上書き
//
// 戻り値:
//   - *TrainingResult: 登録されたモデルと学習データ上の指標
//   - error: ValidationError, NumericalInstabilityError, ArtifactIOError など
func (e *Engine) Train(ctx context.Context, kind model.Kind, set *model.TrainingSet, opts TrainOptions) (*TrainingResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if set == nil {
		return nil, errors.NewValidationError("set", "training set is nil", nil)
	}
	trainer, err := e.trainerFor(kind, opts)
	if err != nil {
		e.metrics.trainings.WithLabelValues(kindUnknown, statusError).Inc()
		return nil, err
	}

	now := e.clock.Now()
	spec := model.ModelSpec{
		ID:        e.registry.NewModelID(),
		Name:      opts.Name,
		CreatedAt: now,
	}
	if spec.Name == "" {
		spec.Name = kind.String() + " model"
	}
	if kind == model.NeuralNetwork {
		spec.ArtifactDir = e.registry.ArtifactDir(spec.ID)
	}

	logger := e.logger.With(log.ModelIDKey, spec.ID, log.ModelKindKey, kind.String(), log.OperationKey, log.OperationTrain)
	logger.Info("Training started", log.SamplesKey, set.Len(), log.FeaturesKey, set.NumFeatures())

	var trained *model.TrainedModel
	err = errors.SafeExecute("engine.Train", func() error {
		var trainErr error
		trained, trainErr = trainer.Train(set, spec)
		return trainErr
	})
	if err == nil {
		err = e.registry.Register(trained)
	}

	duration := e.clock.Since(now)
	e.metrics.trainings.WithLabelValues(kind.String(), status(err)).Inc()
	e.metrics.trainingDuration.WithLabelValues(kind.String()).Observe(duration.Seconds())

	if err != nil {
		if spec.ArtifactDir != "" {
			_ = os.RemoveAll(spec.ArtifactDir)
		}
		logger.Error("Training failed", err)
		return nil, err
	}

	logger.Info("Training finished",
		log.AccuracyKey, trained.Metadata.Accuracy,
		log.MSEKey, trained.Metadata.TrainingMetrics.MSE,
		log.DurationMsKey, duration.Milliseconds(),
	)
	e.startSideCalls(ctx, trained, opts)

	return &TrainingResult{
		ModelID:  trained.ID,
		Model:    trained.Clone(),
		Metrics:  trained.Metadata.TrainingMetrics,
		Duration: duration,
	}, nil
}

// TrainFrom は source から学習データを読み込んで Train する
func (e *Engine) TrainFrom(ctx context.Context, kind model.Kind, source ingest.Source, opts TrainOptions) (*TrainingResult, error) {
	set, err := source.Load(ctx)
	if err != nil {
		return nil, err
	}
	return e.Train(ctx, kind, set, opts)
}

func (e *Engine) trainerFor(kind model.Kind, opts TrainOptions) (model.Trainer, error) {
	switch kind {
	case model.Linear:
		return linear.NewSimpleTrainer(linear.WithLogger(e.logger)), nil
	case model.Multivariate:
		lopts := []linear.Option{linear.WithLogger(e.logger)}
		if opts.AssumeNormalized != nil {
			lopts = append(lopts, linear.WithAssumeNormalized(*opts.AssumeNormalized))
		}
		return linear.NewMultivariateTrainer(lopts...), nil
	case model.NeuralNetwork:
		cfg := e.neural
		if opts.Neural != nil {
			cfg = *opts.Neural
		}
		return neural.NewTrainer(
			neural.WithConfig(cfg),
			neural.WithBackend(e.backend),
			neural.WithLossPlot(e.plotLoss),
			neural.WithLogger(e.logger),
		), nil
	default:
		return nil, errors.NewValidationError("kind", "unsupported model kind", kind)
	}
}

// startSideCalls は成果物のアップロードと実験記録を別ゴルーチンで開始する
//
// 失敗はログとメトリクスに残すだけで、学習結果には影響しない。
func (e *Engine) startSideCalls(ctx context.Context, m *model.TrainedModel, opts TrainOptions) {
	ctx = context.WithoutCancel(ctx)

	if e.artifacts != nil && m.Kind == model.NeuralNetwork {
		dir := m.Parameters.Neural.WeightsArtifactRef
		e.goSide(collaboratorArtifactStore, m.ID, func() error {
			ref, err := e.artifacts.Upload(ctx, m.ID, dir)
			if err == nil {
				e.logger.Info("Artifact uploaded", log.ModelIDKey, m.ID, log.ArtifactPathKey, ref)
			}
			return err
		})
	}

	if e.tracker != nil {
		metrics := map[string]float64{
			"mse":  m.Metadata.TrainingMetrics.MSE,
			"rmse": m.Metadata.TrainingMetrics.RMSE,
			"r2":   m.Metadata.TrainingMetrics.R2,
		}
		for k, v := range m.Metadata.TrainingMetrics.Extra {
			metrics[k] = v
		}
		params := map[string]any{
			"kind":     m.Kind.String(),
			"name":     m.Name,
			"features": m.FeatureNames,
			"target":   m.TargetName,
		}
		if m.Kind == model.NeuralNetwork {
			arch := m.Parameters.Neural.Architecture
			params["hiddenLayers"] = arch.HiddenLayerSizes
			params["learningRate"] = arch.LearningRate
			params["dropout"] = arch.DropoutRate
		}
		if opts.AssumeNormalized != nil {
			params["assumeNormalized"] = *opts.AssumeNormalized
		}
		e.goSide(collaboratorTracker, m.ID, func() error {
			_, err := e.tracker.LogRun(ctx, m.ID, metrics, params)
			return err
		})
	}
}

func (e *Engine) goSide(collaborator, modelID string, fn func() error) {
	e.side.Add(1)
	go func() {
		defer e.side.Done()
		err := errors.SafeExecute("engine."+collaborator, fn)
		if err != nil {
			e.metrics.sideCallFailures.WithLabelValues(collaborator).Inc()
			e.logger.Warn("Side call failed", err, log.CollaboratorKey, collaborator, log.ModelIDKey, modelID)
		}
	}()
}

// Predict は登録済みモデルで 1 点を予測する
//
// snapshot が nil でなく、モデルの特徴量名に気象系の名前が含まれる場合は
// input の末尾に temperature, humidity, precipitation, windSpeed の順で追加する。
func (e *Engine) Predict(ctx context.Context, id string, input []float64, snapshot *weather.Snapshot) (*model.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := e.registry.Get(id)
	if err != nil {
		e.metrics.predictions.WithLabelValues(kindUnknown, statusError).Inc()
		return nil, err
	}

	pred, err := e.predict(m, input, snapshot)
	e.metrics.predictions.WithLabelValues(m.Kind.String(), status(err)).Inc()
	if err != nil {
		e.logger.Debug("Prediction failed", err, log.ModelIDKey, id, log.OperationKey, log.OperationPredict)
		return nil, err
	}
	return pred, nil
}

// PredictAt は設定された気象データの取得元から loc の観測値を取得して Predict する
//
// モデルが気象系の特徴量を持たない場合は取得しない。取得元のエラーはそのまま返す。
func (e *Engine) PredictAt(ctx context.Context, id string, input []float64, loc weather.Location) (*model.Prediction, error) {
	m, err := e.registry.Get(id)
	if err != nil {
		e.metrics.predictions.WithLabelValues(kindUnknown, statusError).Inc()
		return nil, err
	}
	if !weather.HasWeatherFeatures(m.FeatureNames) {
		return e.Predict(ctx, id, input, nil)
	}
	if e.weather == nil {
		return nil, errors.NewValidationError("weather", "no weather provider configured", id)
	}
	snap, err := e.weather.Fetch(ctx, loc)
	if err != nil {
		return nil, err
	}
	return e.Predict(ctx, id, input, &snap)
}

func (e *Engine) predict(m *model.TrainedModel, input []float64, snapshot *weather.Snapshot) (*model.Prediction, error) {
	resolved := append([]float64(nil), input...)
	merged := snapshot != nil && weather.HasWeatherFeatures(m.FeatureNames)
	if merged {
		resolved = append(resolved, snapshot.Features()...)
	}

	value, err := e.dispatch(m, resolved)
	if err != nil {
		return nil, err
	}
	if err := errors.CheckScalar("engine.Predict", value, 0); err != nil {
		return nil, err
	}

	pred := &model.Prediction{
		Value:         value,
		Confidence:    m.Metadata.Accuracy,
		ModelID:       m.ID,
		ResolvedInput: resolved,
		Timestamp:     e.clock.Now(),
	}
	if merged {
		w := model.WeatherInfluenceWeight
		pred.WeatherInfluence = &w
	}
	return pred, nil
}

func (e *Engine) dispatch(m *model.TrainedModel, input []float64) (float64, error) {
	switch m.Kind {
	case model.Linear:
		return linear.PredictSimple(m.Parameters.Linear, input)
	case model.Multivariate:
		return linear.PredictMultivariate(m.Parameters.Multivariate, input)
	case model.NeuralNetwork:
		p := m.Parameters.Neural
		if p == nil {
			return 0, errors.NewValidationError("parameters.neural", "missing neural parameters", m.ID)
		}
		net, err := e.loader.Load(p.WeightsArtifactRef)
		if err != nil {
			return 0, err
		}
		defer net.Release()
		return neural.Predict(net, input, p.Normalization)
	default:
		return 0, errors.NewValidationError("kind", "unsupported model kind", m.Kind)
	}
}

// GetModel は登録済みモデルのコピーを返す
func (e *Engine) GetModel(id string) (*model.TrainedModel, error) {
	return e.registry.Get(id)
}

// ListModels は登録済みモデルの要約を作成日時順で返す
func (e *Engine) ListModels() []model.ModelSummary {
	return e.registry.List()
}

// DeleteModel はモデルと成果物を削除する。未知の ID は (false, nil)。
func (e *Engine) DeleteModel(id string) (bool, error) {
	return e.registry.Delete(id)
}
