// Package config はエンジンと CLI の設定を YAML ファイルとコマンドラインフラグから組み立てる。
//
// フラグは明示的に指定された場合のみ設定ファイルの値を上書きする。
package config

import (
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/ptr"

	"github.com/YuminosukeSato/agriwarn/neural"
	"github.com/YuminosukeSato/agriwarn/pkg/errors"
	"github.com/YuminosukeSato/agriwarn/pkg/weather"
)

type (
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}

	Storage struct {
		// ModelsDir はメタデータ {id}.json と成果物 {id}_model/ を置くディレクトリ
		ModelsDir string `yaml:"modelsDir"`
	}

	Artifact struct {
		// Format は auto, native, portable のいずれか
		Format   string `yaml:"format"`
		PlotLoss *bool  `yaml:"plotLoss"`
	}

	ArtifactStore struct {
		Enabled *bool  `yaml:"enabled"`
		Dir     string `yaml:"dir"`
	}

	Tracking struct {
		Enabled *bool  `yaml:"enabled"`
		Path    string `yaml:"path"`
	}

	// Weather は固定値の気象データの取得元の設定
	Weather struct {
		Enabled       *bool   `yaml:"enabled"`
		Temperature   float64 `yaml:"temperature"`
		Humidity      float64 `yaml:"humidity"`
		Precipitation float64 `yaml:"precipitation"`
		WindSpeed     float64 `yaml:"windSpeed"`
	}

	Web struct {
		ListenAddress string `yaml:"listenAddress"`
	}

	Config struct {
		Log           Log           `yaml:"log"`
		Storage       Storage       `yaml:"storage"`
		Artifact      Artifact      `yaml:"artifact"`
		Neural        neural.Config `yaml:"neural"`
		ArtifactStore ArtifactStore `yaml:"artifactStore"`
		Tracking      Tracking      `yaml:"tracking"`
		Weather       Weather       `yaml:"weather"`
		Web           Web           `yaml:"web"`
	}
)

const (
	LogLevelFlag  = "log.level"
	LogFormatFlag = "log.format"

	ModelsDirFlag = "storage.models-dir"

	ArtifactFormatFlag   = "artifact.format"
	ArtifactPlotLossFlag = "artifact.plot-loss"

	NeuralHiddenLayersFlag = "neural.hidden-layers"
	NeuralEpochsFlag       = "neural.epochs"
	NeuralBatchSizeFlag    = "neural.batch-size"
	NeuralLearningRateFlag = "neural.learning-rate"
	NeuralDropoutFlag      = "neural.dropout"
	NeuralSeedFlag         = "neural.seed"

	ArtifactStoreEnabledFlag = "artifact-store.enabled"
	ArtifactStoreDirFlag     = "artifact-store.dir"

	TrackingEnabledFlag = "tracking.enabled"
	TrackingPathFlag    = "tracking.path"

	WebListenAddressFlag = "web.listen-address"
)

// DefaultConfig は既定の設定を返す
func DefaultConfig() *Config {
	return &Config{
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Storage: Storage{
			ModelsDir: "models",
		},
		Artifact: Artifact{
			Format:   neural.FormatAuto,
			PlotLoss: ptr.To(false),
		},
		Neural: neural.DefaultConfig(),
		ArtifactStore: ArtifactStore{
			Enabled: ptr.To(false),
			Dir:     "backup",
		},
		Tracking: Tracking{
			Enabled: ptr.To(false),
			Path:    "runs.jsonl",
		},
		Weather: Weather{
			Enabled: ptr.To(false),
		},
		Web: Web{
			ListenAddress: ":9090",
		},
	}
}

// Load は r から YAML を読み込み、既定値に重ねる
func Load(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile は設定ファイルを読み込む
func FromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open config file")
	}
	defer func() {
		_ = f.Close()
	}()
	return Load(f)
}

// ConfigUpdaterFn はパース済みのフラグで Config を更新する
type ConfigUpdaterFn func(*Config) error

// RegisterFlags は app にフラグを登録し、明示的に指定されたフラグだけを
// Config に反映する関数を返す
func RegisterFlags(app *kingpin.Application) ConfigUpdaterFn {
	flagsSet := map[string]bool{}

	app.PreAction(func(ctx *kingpin.ParseContext) error {
		flagsSet = map[string]bool{}
		for _, element := range ctx.Elements {
			if flag, ok := element.Clause.(*kingpin.FlagClause); ok && element.Value != nil {
				flagsSet[flag.Model().Name] = true
			}
		}
		return nil
	})

	logLevel := app.Flag(LogLevelFlag, "Logging level: debug, info, warn, error").Default("info").Enum("debug", "info", "warn", "error")
	logFormat := app.Flag(LogFormatFlag, "Logging format: text or json").Default("text").Enum("text", "json")

	modelsDir := app.Flag(ModelsDirFlag, "Directory holding model metadata and artifacts").Default("models").String()

	artifactFormat := app.Flag(ArtifactFormatFlag, "Neural artifact format: auto, native or portable").
		Default(neural.FormatAuto).Enum(neural.FormatAuto, neural.FormatNative, neural.FormatPortable)
	plotLoss := app.Flag(ArtifactPlotLossFlag, "Render loss.png next to neural artifacts").Default("false").Bool()

	hiddenLayers := app.Flag(NeuralHiddenLayersFlag, "Hidden layer sizes (repeatable)").Ints()
	epochs := app.Flag(NeuralEpochsFlag, "Training epochs").Default("100").Int()
	batchSize := app.Flag(NeuralBatchSizeFlag, "Mini-batch size").Default("32").Int()
	learningRate := app.Flag(NeuralLearningRateFlag, "Adam learning rate").Default("0.01").Float64()
	dropout := app.Flag(NeuralDropoutFlag, "Dropout rate for hidden layers after the first").Default("0.2").Float64()
	seed := app.Flag(NeuralSeedFlag, "Random seed for weight init and shuffling").Default("42").Int64()

	storeEnabled := app.Flag(ArtifactStoreEnabledFlag, "Back up neural artifacts after training").Default("false").Bool()
	storeDir := app.Flag(ArtifactStoreDirFlag, "Backup directory for neural artifacts").Default("backup").String()

	trackingEnabled := app.Flag(TrackingEnabledFlag, "Record training runs as JSON lines").Default("false").Bool()
	trackingPath := app.Flag(TrackingPathFlag, "Training run log path").Default("runs.jsonl").String()

	listenAddress := app.Flag(WebListenAddressFlag, "Metrics server listen address").Default(":9090").String()

	return func(cfg *Config) error {
		if flagsSet[LogLevelFlag] {
			cfg.Log.Level = *logLevel
		}
		if flagsSet[LogFormatFlag] {
			cfg.Log.Format = *logFormat
		}
		if flagsSet[ModelsDirFlag] {
			cfg.Storage.ModelsDir = *modelsDir
		}
		if flagsSet[ArtifactFormatFlag] {
			cfg.Artifact.Format = *artifactFormat
		}
		if flagsSet[ArtifactPlotLossFlag] {
			cfg.Artifact.PlotLoss = plotLoss
		}
		if flagsSet[NeuralHiddenLayersFlag] {
			cfg.Neural.HiddenLayerSizes = *hiddenLayers
		}
		if flagsSet[NeuralEpochsFlag] {
			cfg.Neural.Epochs = *epochs
		}
		if flagsSet[NeuralBatchSizeFlag] {
			cfg.Neural.BatchSize = *batchSize
		}
		if flagsSet[NeuralLearningRateFlag] {
			cfg.Neural.LearningRate = *learningRate
		}
		if flagsSet[NeuralDropoutFlag] {
			cfg.Neural.DropoutRate = *dropout
		}
		if flagsSet[NeuralSeedFlag] {
			cfg.Neural.Seed = *seed
		}
		if flagsSet[ArtifactStoreEnabledFlag] {
			cfg.ArtifactStore.Enabled = storeEnabled
		}
		if flagsSet[ArtifactStoreDirFlag] {
			cfg.ArtifactStore.Dir = *storeDir
		}
		if flagsSet[TrackingEnabledFlag] {
			cfg.Tracking.Enabled = trackingEnabled
		}
		if flagsSet[TrackingPathFlag] {
			cfg.Tracking.Path = *trackingPath
		}
		if flagsSet[WebListenAddressFlag] {
			cfg.Web.ListenAddress = *listenAddress
		}

		cfg.sanitize()
		return cfg.Validate()
	}
}

func (c *Config) sanitize() {
	c.Log.Level = strings.TrimSpace(c.Log.Level)
	c.Log.Format = strings.TrimSpace(c.Log.Format)
	c.Storage.ModelsDir = strings.TrimSpace(c.Storage.ModelsDir)
	c.Artifact.Format = strings.ToLower(strings.TrimSpace(c.Artifact.Format))
	c.ArtifactStore.Dir = strings.TrimSpace(c.ArtifactStore.Dir)
	c.Tracking.Path = strings.TrimSpace(c.Tracking.Path)
	c.Web.ListenAddress = strings.TrimSpace(c.Web.ListenAddress)
}

// Validate は設定の誤りをまとめて 1 つの ValidationError として返す
func (c *Config) Validate() error {
	var errs []string
	{ // log
		switch c.Log.Level {
		case "debug", "info", "warn", "error":
		default:
			errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
		}
		switch c.Log.Format {
		case "text", "json":
		default:
			errs = append(errs, fmt.Sprintf("invalid log format: %s", c.Log.Format))
		}
	}
	{ // storage
		if c.Storage.ModelsDir == "" {
			errs = append(errs, "models directory cannot be empty")
		}
	}
	{ // artifact
		switch c.Artifact.Format {
		case neural.FormatAuto, neural.FormatNative, neural.FormatPortable:
		default:
			errs = append(errs, fmt.Sprintf("invalid artifact format: %s", c.Artifact.Format))
		}
	}
	{ // neural
		if err := c.Neural.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("invalid neural config: %s", err.Error()))
		}
	}
	{ // side calls
		if ptr.Deref(c.ArtifactStore.Enabled, false) && c.ArtifactStore.Dir == "" {
			errs = append(errs, fmt.Sprintf("%s must be set when %s is true", ArtifactStoreDirFlag, ArtifactStoreEnabledFlag))
		}
		if ptr.Deref(c.Tracking.Enabled, false) && c.Tracking.Path == "" {
			errs = append(errs, fmt.Sprintf("%s must be set when %s is true", TrackingPathFlag, TrackingEnabledFlag))
		}
	}
	{ // web
		if _, _, err := net.SplitHostPort(c.Web.ListenAddress); err != nil {
			errs = append(errs, fmt.Sprintf("invalid web listen address %q: %s", c.Web.ListenAddress, err.Error()))
		}
	}

	if len(errs) > 0 {
		return errors.NewValidationError("config", "invalid configuration: "+strings.Join(errs, ", "), nil)
	}
	return nil
}

// WeatherSnapshot は固定値の気象データを返す
func (w Weather) WeatherSnapshot() weather.Snapshot {
	return weather.Snapshot{
		Temperature:   w.Temperature,
		Humidity:      w.Humidity,
		Precipitation: w.Precipitation,
		WindSpeed:     w.WindSpeed,
	}
}
