package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/agriwarn/pkg/errors"
)

const frostCSV = `timestamp,temperature,frost_risk
2024-06-01T00:00:00Z,1,3
2024-06-01T01:00:00Z,2,5
2024-06-01T02:00:00Z,3,7
2024-06-01T03:00:00Z,4,9
`

type cliEnv struct {
	dir     string
	csv     string
	runs    string
	baseArg []string
}

func newCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "frost.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(frostCSV), 0o644))
	runs := filepath.Join(dir, "runs.jsonl")
	return cliEnv{
		dir:  dir,
		csv:  csvPath,
		runs: runs,
		baseArg: []string{
			"--storage.models-dir=" + filepath.Join(dir, "models"),
			"--tracking.enabled",
			"--tracking.path=" + runs,
			"--log.level=error",
		},
	}
}

func (e cliEnv) run(t *testing.T, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(append(append([]string(nil), e.baseArg...), args...), &out)
	return &out, err
}

func TestRunTrainPredictDelete(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "train", "--kind=linear", "--csv="+env.csv, "--feature=temperature", "--target=frost_risk", "--name=frost")
	require.NoError(t, err)
	var summary struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	assert.Equal(t, "frost", summary.Name)

	// 追跡ログは run が戻った時点で書き込み済み
	runs, err := os.ReadFile(env.runs)
	require.NoError(t, err)
	assert.Contains(t, string(runs), summary.ID)

	out, err = env.run(t, "predict", "--model="+summary.ID, "--input=5")
	require.NoError(t, err)
	var pred struct {
		Value float64 `json:"value"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &pred))
	assert.InDelta(t, 11.0, pred.Value, 1e-9)

	out, err = env.run(t, "delete", summary.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"deleted": true}`, out.String())

	out, err = env.run(t, "list")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out.String())
}

func TestRunReturnsErrors(t *testing.T) {
	env := newCLIEnv(t)

	tests := []struct {
		name  string
		args  []string
		check func(error) bool
	}{
		{"unknown model", []string{"predict", "--model=model_0_deadbeef", "--input=1"}, errors.IsNotFound},
		{"wrong arity", []string{"train", "--kind=linear", "--csv=" + env.csv, "--feature=temperature", "--feature=frost_risk", "--target=frost_risk"}, errors.IsValidation},
		{"unknown command", []string{"explode"}, func(err error) bool { return err != nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.run(t, tt.args...)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}

	// 失敗後も後始末が済んでいるので、同じ設定で続けて実行できる
	_, err := env.run(t, "list")
	assert.NoError(t, err)
}
