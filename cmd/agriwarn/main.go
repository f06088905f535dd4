package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/YuminosukeSato/agriwarn/config"
	"github.com/YuminosukeSato/agriwarn/core/model"
	"github.com/YuminosukeSato/agriwarn/engine"
	"github.com/YuminosukeSato/agriwarn/pkg/errors"
	"github.com/YuminosukeSato/agriwarn/pkg/ingest"
	"github.com/YuminosukeSato/agriwarn/pkg/log"
	"github.com/YuminosukeSato/agriwarn/pkg/weather"
)

type trainArgs struct {
	kind             *string
	csv              *string
	features         *[]string
	target           *string
	name             *string
	assumeNormalized *string
}

type predictArgs struct {
	model    *string
	input    *[]float64
	location *string
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.GetLoggerWithName("agriwarn").Error("agriwarn failed", err)
		os.Exit(1)
	}
}

// run はコマンドを実行する。エンジンと追跡ログの後始末は戻る前に必ず行われる。
func run(args []string, stdout io.Writer) error {
	app := kingpin.New("agriwarn", "Model training and inference engine for agricultural early warnings.")
	configFile := app.Flag("config.file", "Path to YAML configuration file").String()
	updateConfig := config.RegisterFlags(app)

	trainCmd := app.Command("train", "Train a model from a sensor CSV and register it")
	train := trainArgs{
		kind:             trainCmd.Flag("kind", "Model kind").Required().Enum(kindNames()...),
		csv:              trainCmd.Flag("csv", "CSV file with a header row").Required().ExistingFile(),
		features:         trainCmd.Flag("feature", "Feature column (repeatable)").Required().Strings(),
		target:           trainCmd.Flag("target", "Target column").Required().String(),
		name:             trainCmd.Flag("name", "Display name").String(),
		assumeNormalized: trainCmd.Flag("assume-normalized", "Override the already-normalized check for multivariate models").Default("auto").Enum("auto", "true", "false"),
	}

	predictCmd := app.Command("predict", "Predict with a registered model")
	predict := predictArgs{
		model:    predictCmd.Flag("model", "Model ID").Required().String(),
		input:    predictCmd.Flag("input", "Input value (repeatable, in feature order)").Required().Float64List(),
		location: predictCmd.Flag("location", "Merge weather observed at this location").String(),
	}

	listCmd := app.Command("list", "List registered models")

	deleteCmd := app.Command("delete", "Delete a model and its artifacts")
	deleteID := deleteCmd.Arg("model", "Model ID").Required().String()

	serveCmd := app.Command("serve", "Load all models and expose metrics over HTTP")

	command, err := app.Parse(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(*configFile, updateConfig)
	if err != nil {
		return err
	}
	if err := log.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	logger := log.GetLoggerWithName("agriwarn")

	promReg := prometheus.NewRegistry()
	eng, closeFn, err := newEngine(cfg, promReg)
	if err != nil {
		return errors.Wrap(err, "create engine")
	}
	defer closeFn()

	if err := eng.Init(); err != nil {
		return errors.Wrap(err, "initialize engine")
	}
	defer func() {
		if err := eng.Shutdown(); err != nil {
			logger.Warn("Engine shutdown failed", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case trainCmd.FullCommand():
		err = runTrain(ctx, stdout, eng, train)
	case predictCmd.FullCommand():
		err = runPredict(ctx, stdout, eng, predict)
	case listCmd.FullCommand():
		err = printJSON(stdout, eng.ListModels())
	case deleteCmd.FullCommand():
		var ok bool
		ok, err = eng.DeleteModel(*deleteID)
		if err == nil {
			err = printJSON(stdout, map[string]bool{"deleted": ok})
		}
	case serveCmd.FullCommand():
		err = serve(ctx, logger, cfg.Web.ListenAddress, promReg)
	}
	if err != nil {
		return errors.Wrapf(err, "command %s", command)
	}
	return nil
}

func kindNames() []string {
	kinds := model.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return names
}

func loadConfig(path string, update config.ConfigUpdaterFn) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		loaded, err := config.FromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := update(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runTrain(ctx context.Context, w io.Writer, eng *engine.Engine, args trainArgs) error {
	kind, err := model.ParseKind(*args.kind)
	if err != nil {
		return err
	}
	opts := engine.TrainOptions{Name: *args.name}
	if *args.assumeNormalized != "auto" {
		v, err := strconv.ParseBool(*args.assumeNormalized)
		if err != nil {
			return err
		}
		opts.AssumeNormalized = &v
	}

	source := ingest.NewCSVSource(*args.csv, *args.features, *args.target)
	res, err := eng.TrainFrom(ctx, kind, source, opts)
	if err != nil {
		return err
	}
	return printJSON(w, res.Model.Summary())
}

func runPredict(ctx context.Context, w io.Writer, eng *engine.Engine, args predictArgs) error {
	var (
		pred *model.Prediction
		err  error
	)
	if *args.location != "" {
		pred, err = eng.PredictAt(ctx, *args.model, *args.input, weather.Location{Name: *args.location})
	} else {
		pred, err = eng.Predict(ctx, *args.model, *args.input, nil)
	}
	if err != nil {
		return err
	}
	return printJSON(w, pred)
}

func serve(ctx context.Context, logger log.Logger, addr string, reg *prometheus.Registry) error {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          reg,
	}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics", "web.listen_address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("Shutting down metrics server")
		return srv.Shutdown(shutdownCtx)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
