// Package tracking は学習ランの記録先を抽象化する。
package tracking

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/YuminosukeSato/agriwarn/pkg/errors"
)

// Tracker は学習ランの指標とパラメータを記録する
type Tracker interface {
	LogRun(ctx context.Context, modelID string, metrics map[string]float64, params map[string]any) (string, error)
}

// NopTracker は何も記録しない
type NopTracker struct{}

// LogRun implements Tracker.
func (NopTracker) LogRun(context.Context, string, map[string]float64, map[string]any) (string, error) {
	return "", nil
}

// LogTracker は 1 ラン 1 行の JSON Lines として記録する Tracker
type LogTracker struct {
	logger zerolog.Logger
	closer io.Closer
	now    func() time.Time
}

var _ Tracker = (*LogTracker)(nil)

// NewLogTracker は w に書き込む LogTracker を作成する
func NewLogTracker(w io.Writer) *LogTracker {
	return &LogTracker{
		logger: zerolog.New(zerolog.SyncWriter(w)),
		now:    time.Now,
	}
}

// OpenLogTracker は path に追記する LogTracker を作成する
func OpenLogTracker(path string) (*LogTracker, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.NewArtifactIOError("mkdir", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.NewArtifactIOError("open", path, err)
	}
	t := NewLogTracker(f)
	t.closer = f
	return t, nil
}

// LogRun implements Tracker.
func (t *LogTracker) LogRun(ctx context.Context, modelID string, metrics map[string]float64, params map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	runID := uuid.NewString()

	m := zerolog.Dict()
	for _, k := range sortedKeys(metrics) {
		m.Float64(k, metrics[k])
	}
	p := zerolog.Dict()
	for k, v := range params {
		p.Interface(k, v)
	}

	t.logger.Log().
		Str("run_id", runID).
		Str("model_id", modelID).
		Time("logged_at", t.now()).
		Dict("metrics", m).
		Dict("params", p).
		Send()
	return runID, nil
}

// Close は OpenLogTracker で開いたファイルを閉じる
func (t *LogTracker) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
