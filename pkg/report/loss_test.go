package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/agriwarn/pkg/errors"
)

func TestSaveLossCurve(t *testing.T) {
	path := filepath.Join(t.TempDir(), LossCurveFile)
	err := SaveLossCurve(LossHistory{
		Train:      []float64{1.0, 0.6, 0.4, 0.3},
		Validation: []float64{1.1, 0.7, 0.5, 0.45},
	}, "frost risk", path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestSaveLossCurveEmpty(t *testing.T) {
	err := SaveLossCurve(LossHistory{}, "empty", filepath.Join(t.TempDir(), LossCurveFile))
	assert.True(t, errors.IsValidation(err))
}
