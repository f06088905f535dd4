// Package report はニューラルネットワークの学習曲線を画像として出力する。
package report

import (
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/agriwarn/pkg/errors"
)

// LossCurveFile は成果物ディレクトリ内の学習曲線のファイル名
const LossCurveFile = "loss.png"

// LossHistory はエポックごとの損失
type LossHistory struct {
	Train      []float64
	Validation []float64
}

// SaveLossCurve はエポックごとの学習損失と検証損失を PNG に描画する
//
// Validation が空の場合は学習損失のみ描画する。
func SaveLossCurve(h LossHistory, title, path string) error {
	if len(h.Train) == 0 {
		return errors.NewValidationError("history", "loss history is empty", 0)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "MSE (normalized)"
	p.Add(plotter.NewGrid())

	train, err := plotter.NewLine(points(h.Train))
	if err != nil {
		return errors.Wrap(err, "build training loss line")
	}
	p.Add(train)
	p.Legend.Add("train", train)

	if len(h.Validation) > 0 {
		val, err := plotter.NewLine(points(h.Validation))
		if err != nil {
			return errors.Wrap(err, "build validation loss line")
		}
		val.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(val)
		p.Legend.Add("validation", val)
	}

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.NewArtifactIOError("plot", filepath.Clean(path), err)
	}
	return nil
}

func points(values []float64) plotter.XYs {
	pts := make(plotter.XYs, len(values))
	for i, v := range values {
		pts[i].X = float64(i + 1)
		pts[i].Y = v
	}
	return pts
}
