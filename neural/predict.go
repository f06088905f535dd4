package neural

import (
	"golang.org/x/sync/singleflight"

	"github.com/YuminosukeSato/agriwarn/core/model"
	"github.com/YuminosukeSato/agriwarn/pkg/errors"
	"github.com/YuminosukeSato/agriwarn/preprocessing"
)

// Loader は成果物ディレクトリからネットワークを復元する
//
// 同じディレクトリに対する同時の読み込みは 1 回のディスク読み込みにまとめる。
// 復元したネットワークは呼び出しごとに別物で、呼び出し側が Release する。
type Loader struct {
	group singleflight.Group
}

// NewLoader は新しい Loader を作成する
func NewLoader() *Loader {
	return &Loader{}
}

// Load は dir の成果物を読み込み、ネットワークを復元する
func (l *Loader) Load(dir string) (*Network, error) {
	v, err, _ := l.group.Do(dir, func() (interface{}, error) {
		return LoadArtifact(dir)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Artifact).Network()
}

// Predict は生の入力を正規化して順伝播し、必要なら元のスケールに戻す
func Predict(net *Network, input []float64, norm *model.NormalizationParams) (float64, error) {
	if norm == nil {
		return 0, errors.NewValidationError("normalization", "neural model requires normalization", nil)
	}
	if len(input) != net.InputSize() {
		return 0, errors.NewValidationError("input", "input width does not match network", len(input))
	}

	x, err := preprocessing.NormalizeInput(input, norm)
	if err != nil {
		return 0, err
	}
	out, err := net.Predict([][]float64{x})
	if err != nil {
		return 0, err
	}

	y := out[0]
	if norm.TargetWasNormalized {
		y = preprocessing.Denormalize(y, norm)
	}
	if err := errors.CheckScalar("neural.Predict", y, 0); err != nil {
		return 0, err
	}
	return y, nil
}
