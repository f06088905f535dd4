// Package agriwarn is the model training and inference engine behind an
// agricultural early-warning service.
//
// It fits regression and neural-network models to tabular weather-derived data,
// persists them, and serves predictions that back climate-risk alerts
// (frost, blight, drought). Alert management and the HTTP layer live elsewhere;
// this module owns everything from a TrainingSet to a Prediction.
//
// # Model kinds
//
//   - linear: single-feature ordinary least squares
//   - multivariate: normal equations solved by Gaussian elimination with partial pivoting
//   - neural_network: feed-forward network (ReLU hidden layers, Adam, MSE) whose
//     weights are stored as an artifact directory next to the model metadata
//
// Training and inference share one normalization protocol: if a model carries
// normalization parameters, every prediction input goes through the same z-score
// transform, and the output is denormalized only when the target was normalized
// during training.
//
// # Quick Start
//
//	store, err := registry.NewFileStore("models", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	eng := engine.New(registry.New(store, "models"))
//	if err := eng.Init(); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Shutdown()
//
//	set := &model.TrainingSet{
//	    Features:     [][]float64{{1}, {2}, {3}, {4}},
//	    Targets:      []float64{3, 5, 7, 9},
//	    FeatureNames: []string{"soil_moisture"},
//	}
//	res, err := eng.Train(ctx, model.Linear, set, engine.TrainOptions{Name: "yield"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	pred, err := eng.Predict(ctx, res.ModelID, []float64{5}, nil)
//	fmt.Println(pred.Value) // 11
//
// # Packages
//
//   - core/model: TrainingSet, TrainedModel, Kind, Prediction
//   - core/numeric: column statistics and the linear solver
//   - core/parallel: row-parallel helpers
//   - preprocessing: normalization protocol and StandardScaler
//   - metrics: MSE, RMSE, MAE, R²
//   - linear: simple and multivariate trainers and predictors
//   - neural: network, Adam, pooled tensors, artifact backends
//   - registry: model registry over a file or memory store
//   - engine: train / predict / list / delete service with Prometheus metrics
//   - config: YAML configuration and command-line flags
//   - pkg/weather, pkg/ingest, pkg/artifactstore, pkg/tracking: collaborators
//   - cmd/agriwarn: command-line interface
package agriwarn
