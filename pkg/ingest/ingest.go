// Package ingest は学習データを外部から読み込んで TrainingSet に変換する。
package ingest

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jszwec/csvutil"

	"github.com/YuminosukeSato/agriwarn/core/model"
	"github.com/YuminosukeSato/agriwarn/pkg/errors"
	"github.com/YuminosukeSato/agriwarn/pkg/log"
)

// Source は学習データの取得元
type Source interface {
	Load(ctx context.Context) (*model.TrainingSet, error)
}

// StaticSource はメモリ上の TrainingSet をそのまま返す Source
type StaticSource struct {
	Set *model.TrainingSet
}

// Load implements Source.
func (s StaticSource) Load(ctx context.Context) (*model.TrainingSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Set == nil {
		return nil, errors.NewModelError("StaticSource.Load", "no data", errors.ErrEmptyData)
	}
	return s.Set, nil
}

// SensorRecord は農業センサー CSV の 1 行
//
// 既知の列以外は Extra に float として格納される。
type SensorRecord struct {
	Timestamp     time.Time `csv:"timestamp,omitempty"`
	Temperature   *float64  `csv:"temperature,omitempty"`
	Humidity      *float64  `csv:"humidity,omitempty"`
	Precipitation *float64  `csv:"precipitation,omitempty"`
	WindSpeed     *float64  `csv:"wind_speed,omitempty"`
	SoilMoisture  *float64  `csv:"soil_moisture,omitempty"`

	Extra map[string]float64 `csv:"-"`
}

// canonical は列名の比較用キー（小文字、アンダースコア・空白・ハイフンなし）
func canonical(name string) string {
	r := strings.NewReplacer("_", "", " ", "", "-", "")
	return r.Replace(strings.ToLower(strings.TrimSpace(name)))
}

// sensorColumns は SensorRecord の既知の列（csv タグ）を比較用キーで引く
var sensorColumns = func() map[string]string {
	cols := make(map[string]string)
	for _, tag := range []string{"timestamp", "temperature", "humidity", "precipitation", "wind_speed", "soil_moisture"} {
		cols[canonical(tag)] = tag
	}
	return cols
}()

// bindHeader は既知の列名を csv タグの綴りに揃える
//
// "Temperature" や "WindSpeed" のような表記でも SensorRecord のフィールドに
// 結び付くようにする。同じ既知列に揃う見出しが複数ある場合は最初のものだけを
// 結び付け、残りはそのまま（Extra 扱い）にする。
func bindHeader(header []string) []string {
	out := make([]string, len(header))
	bound := make(map[string]bool, len(sensorColumns))
	for i, h := range header {
		out[i] = h
		tag, ok := sensorColumns[canonical(h)]
		if !ok || bound[tag] {
			continue
		}
		out[i] = tag
		bound[tag] = true
	}
	return out
}

// Value は列名に対応する値を返す。値が無い、または有限でない場合は false。
func (r *SensorRecord) Value(column string) (float64, bool) {
	key := canonical(column)
	var v *float64
	switch key {
	case "temperature":
		v = r.Temperature
	case "humidity":
		v = r.Humidity
	case "precipitation":
		v = r.Precipitation
	case "windspeed":
		v = r.WindSpeed
	case "soilmoisture":
		v = r.SoilMoisture
	}
	if v == nil {
		x, ok := r.Extra[key]
		if !ok {
			return 0, false
		}
		v = &x
	}
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, false
	}
	return *v, true
}

// CSVSource はヘッダー付き CSV ファイルから TrainingSet を作る Source
//
// Features と Target は列名で指定する。選択した列のいずれかが空、NaN、
// または ±Inf の行は読み飛ばす。既知の列に数値でない値がある場合はエラー。
type CSVSource struct {
	Path     string
	Features []string
	Target   string
	Logger   log.Logger
}

var _ Source = (*CSVSource)(nil)

// NewCSVSource は CSVSource を作成する
func NewCSVSource(path string, features []string, target string) *CSVSource {
	return &CSVSource{
		Path:     path,
		Features: features,
		Target:   target,
		Logger:   log.GetLoggerWithName("ingest.csv"),
	}
}

// Load implements Source.
func (s *CSVSource) Load(ctx context.Context) (*model.TrainingSet, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, errors.NewArtifactIOError("open", s.Path, err)
	}
	defer f.Close()

	logger := s.Logger
	if logger == nil {
		logger = log.GetLoggerWithName("ingest.csv")
	}
	set, skipped, err := DecodeCSV(ctx, f, s.Features, s.Target)
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded training data",
		log.ArtifactPathKey, s.Path,
		log.SamplesKey, set.Len(),
		log.FeaturesKey, len(s.Features),
		"data.skipped_rows", skipped,
	)
	return set, nil
}

// DecodeCSV は r を読み込み、指定した列から TrainingSet を組み立てる
//
// 戻り値:
//   - *model.TrainingSet: 検証済みの学習データ
//   - int: 読み飛ばした行数
//   - error: ヘッダーの読み込み失敗、列が存在しない場合、有効な行が無い場合
func DecodeCSV(ctx context.Context, r io.Reader, features []string, target string) (*model.TrainingSet, int, error) {
	if len(features) == 0 {
		return nil, 0, errors.NewValidationError("features", "at least one feature column is required", features)
	}
	if target == "" {
		return nil, 0, errors.NewValidationError("target", "target column is required", target)
	}

	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, 0, errors.NewModelError("DecodeCSV", "empty csv", errors.ErrEmptyData)
		}
		return nil, 0, errors.Wrap(err, "read csv header")
	}
	dec, err := csvutil.NewDecoder(cr, bindHeader(header)...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "bind csv header")
	}

	present := make(map[string]struct{}, len(header))
	for _, h := range header {
		present[canonical(h)] = struct{}{}
	}
	for _, col := range append(append([]string(nil), features...), target) {
		if _, ok := present[canonical(col)]; !ok {
			return nil, 0, errors.NewValidationError("column", "column not found in csv header", col)
		}
	}

	set := &model.TrainingSet{
		FeatureNames: append([]string(nil), features...),
		TargetName:   target,
	}
	skipped := 0

	for line := 0; ; line++ {
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, skipped, err
			}
		}

		var rec SensorRecord
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			return nil, skipped, errors.NewValidationError("csv", err.Error(), line+2)
		}
		rec.Extra = extraColumns(header, dec.Record(), dec.Unused())

		row, y, ok := selectRow(&rec, features, target)
		if !ok {
			skipped++
			continue
		}
		set.Features = append(set.Features, row)
		set.Targets = append(set.Targets, y)
	}

	if err := set.Validate(); err != nil {
		return nil, skipped, err
	}
	return set, skipped, nil
}

func extraColumns(header, record []string, unused []int) map[string]float64 {
	if len(unused) == 0 {
		return nil
	}
	extra := make(map[string]float64, len(unused))
	for _, i := range unused {
		if i >= len(record) {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
		if err != nil {
			continue
		}
		extra[canonical(header[i])] = v
	}
	return extra
}

func selectRow(rec *SensorRecord, features []string, target string) ([]float64, float64, bool) {
	row := make([]float64, len(features))
	for j, col := range features {
		v, ok := rec.Value(col)
		if !ok {
			return nil, 0, false
		}
		row[j] = v
	}
	y, ok := rec.Value(target)
	if !ok {
		return nil, 0, false
	}
	return row, y, true
}
