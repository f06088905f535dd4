// Package errors はエンジン全体のエラーハンドリングと警告システムを提供します。
// すべてのコンストラクタは cockroachdb/errors でスタックトレースを付与し、
// zerolog 向けの構造化フィールドを出力できます。
package errors

import (
	"fmt"
	"log"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	グローバル警告ハンドリング
//
// ===========================================================================
var (
	warningMutex   sync.Mutex
	warningHandler = defaultWarningHandler
	// customHandler は SetWarningHandler で明示的に設定されたハンドラがあるかどうか
	customHandler bool
	// zerologロガー（循環importを避けるため遅延初期化）
	zerologWarnFunc func(warning error)
)

// デフォルトのハンドラは標準エラー出力にログを出す
func defaultWarningHandler(w error) {
	log.Printf("agriwarn-warning: %v\n", w)
}

// SetWarningHandler は警告ハンドラを設定します。
// 設定したハンドラは zerolog 出力より優先されます。nil を渡すと既定の動作に戻ります。
//
// 例:
//
//	errors.SetWarningHandler(func(w error) {
//	    // 警告を無視する
//	})
//	defer errors.SetWarningHandler(nil)
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	if handler == nil {
		warningHandler, customHandler = defaultWarningHandler, false
		return
	}
	warningHandler, customHandler = handler, true
}

// SetZerologWarnFunc はzerolog警告関数を設定します（循環importを避けるため）。
func SetZerologWarnFunc(warnFunc func(warning error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	zerologWarnFunc = warnFunc
}

// Warn は警告を発生させます。
// 明示的なハンドラが無く zerolog が設定されている場合は構造化ログとして出力します。
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()

	if !customHandler && zerologWarnFunc != nil {
		zerologWarnFunc(w)
		return
	}

	warningHandler(w)
}

// ===========================================================================
//
//	警告型
//
// ===========================================================================

// UndefinedMetricWarning は評価指標が定義できない場合に発生する警告です。
// 例えば、目的変数がすべて同じ値で R² の分母が 0 になる場合など。
type UndefinedMetricWarning struct {
	Metric    string
	Condition string
	Result    float64 // この条件で返される値
}

func (w *UndefinedMetricWarning) Error() string {
	return fmt.Sprintf("'%s' is ill-defined and being set to %f due to %s.", w.Metric, w.Result, w.Condition)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *UndefinedMetricWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("metric", w.Metric).
		Str("condition", w.Condition).
		Float64("result", w.Result).
		Str("type", "UndefinedMetricWarning")
}

// NewUndefinedMetricWarning は新しいUndefinedMetricWarningを作成します。
func NewUndefinedMetricWarning(metric, condition string, result float64) *UndefinedMetricWarning {
	return &UndefinedMetricWarning{Metric: metric, Condition: condition, Result: result}
}

// NormalizationHeuristicWarning は特徴量が「正規化済みに見える」と判定され、
// 追加の正規化を行わずに学習した場合の警告です。
type NormalizationHeuristicWarning struct {
	Means []float64
	Stds  []float64
}

func (w *NormalizationHeuristicWarning) Error() string {
	return fmt.Sprintf("features look already normalized (means=%v, stds=%v); training on raw values", w.Means, w.Stds)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *NormalizationHeuristicWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Floats64("means", w.Means).
		Floats64("stds", w.Stds).
		Str("type", "NormalizationHeuristicWarning")
}

// NewNormalizationHeuristicWarning は新しいNormalizationHeuristicWarningを作成します。
func NewNormalizationHeuristicWarning(means, stds []float64) *NormalizationHeuristicWarning {
	return &NormalizationHeuristicWarning{Means: means, Stds: stds}
}

// ===========================================================================
//
//	構造化されたエラー型
//
// ===========================================================================

// ValidationError は入力の検証に失敗した場合のエラーです。
// 特徴量の次元違い、未対応のモデル種別、学習データの不足などを表します。
// 呼び出し側にそのまま返され、リトライされません。
type ValidationError struct {
	ParamName string
	Reason    string
	Value     interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("agriwarn: validation failed for parameter '%s': %s (got: %v)", e.ParamName, e.Reason, e.Value)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ValidationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("param_name", e.ParamName).
		Str("reason", e.Reason).
		Interface("value", e.Value).
		Str("type", "ValidationError")
}

// NewValidationError は新しいValidationErrorを作成し、スタックトレースを付与します。
func NewValidationError(param, reason string, value interface{}) error {
	err := &ValidationError{ParamName: param, Reason: reason, Value: value}
	return errors.WithStack(err)
}

// NotFoundError は指定されたモデルIDが存在しない場合のエラーです。
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("agriwarn: %s '%s' not found", e.Resource, e.ID)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *NotFoundError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("resource", e.Resource).
		Str("id", e.ID).
		Str("type", "NotFoundError")
}

// NewNotFoundError は新しいNotFoundErrorを作成し、スタックトレースを付与します。
func NewNotFoundError(resource, id string) error {
	err := &NotFoundError{Resource: resource, ID: id}
	return errors.WithStack(err)
}

// ArtifactIOError はモデルのメタデータや重みファイルの読み書きに失敗した場合のエラーです。
type ArtifactIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *ArtifactIOError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agriwarn: %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("agriwarn: %s %s", e.Op, e.Path)
}

func (e *ArtifactIOError) Unwrap() error {
	return e.Err
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ArtifactIOError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("path", e.Path).
		AnErr("cause", e.Err).
		Str("type", "ArtifactIOError")
}

// NewArtifactIOError は新しいArtifactIOErrorを作成し、スタックトレースを付与します。
func NewArtifactIOError(op, path string, err error) error {
	ioErr := &ArtifactIOError{Op: op, Path: path, Err: err}
	return errors.WithStack(ioErr)
}

// ExternalServiceError は外部コラボレータ（気象API、データ取り込み等）の失敗を表します。
// エンジンは変換せずに呼び出し側へ伝搬します。
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("agriwarn: external service %s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ExternalServiceError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("service", e.Service).
		AnErr("cause", e.Err).
		Str("type", "ExternalServiceError")
}

// NewExternalServiceError は新しいExternalServiceErrorを作成し、スタックトレースを付与します。
func NewExternalServiceError(service string, err error) error {
	svcErr := &ExternalServiceError{Service: service, Err: err}
	return errors.WithStack(svcErr)
}

// ModelError はモデルに関する一般的なエラーです。
type ModelError struct {
	Op   string
	Kind string
	Err  error
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agriwarn: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("agriwarn: %s: %s", e.Op, e.Kind)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// NewModelError は新しいModelErrorを作成し、スタックトレースを付与します。
func NewModelError(op, kind string, err error) error {
	modelErr := &ModelError{Op: op, Kind: kind, Err: err}
	return errors.WithStack(modelErr)
}

// NumericalInstabilityError は数値計算が不安定になった場合のエラーです。
// NaN、Inf などを検出します。
type NumericalInstabilityError struct {
	Operation string                 // 発生した操作（例: "solve_linear_system", "epoch_loss"）
	Values    []float64              // 問題のある値
	Context   map[string]interface{} // デバッグ用の追加コンテキスト情報
	Iteration int                    // 発生したイテレーション番号
}

func (e *NumericalInstabilityError) Error() string {
	valStr := ""
	for i, v := range e.Values {
		if i > 0 {
			valStr += ", "
		}
		if i >= 5 {
			valStr += "..."
			break
		}
		valStr += fmt.Sprintf("%.6g", v)
	}
	return fmt.Sprintf("agriwarn: numerical instability detected in %s at iteration %d. Values: [%s]",
		e.Operation, e.Iteration, valStr)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *NumericalInstabilityError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Operation).
		Int("iteration", e.Iteration).
		Int("values", len(e.Values)).
		Str("type", "NumericalInstabilityError")
}

// NewNumericalInstabilityError は新しいNumericalInstabilityErrorを作成します。
func NewNumericalInstabilityError(operation string, values []float64, iteration int) error {
	err := &NumericalInstabilityError{
		Operation: operation,
		Values:    values,
		Iteration: iteration,
		Context:   make(map[string]interface{}),
	}
	return errors.WithStack(err)
}

// ===========================================================================
//
//	分類ヘルパー
//
// ===========================================================================

// IsValidation は err が ValidationError を含むかどうかを返します。
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound は err が NotFoundError を含むかどうかを返します。
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsNumerical は err が NumericalInstabilityError を含むかどうかを返します。
func IsNumerical(err error) bool {
	var target *NumericalInstabilityError
	return errors.As(err, &target)
}

// IsArtifactIO は err が ArtifactIOError を含むかどうかを返します。
func IsArtifactIO(err error) bool {
	var target *ArtifactIOError
	return errors.As(err, &target)
}

// IsExternalService は err が ExternalServiceError を含むかどうかを返します。
func IsExternalService(err error) bool {
	var target *ExternalServiceError
	return errors.As(err, &target)
}

// ===========================================================================
//
//	cockroachdb/errors ラッパー関数
//
// ===========================================================================

// Is はエラーが特定のターゲットエラーかどうかを判定します。
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As はエラーが特定の型にキャスト可能かどうかを判定します。
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap は既存のエラーをメッセージ付きでラップします。
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf は既存のエラーをフォーマット文字列でラップします。
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New は新しいエラーを作成します。
func New(message string) error {
	return errors.New(message)
}

// Newf は新しいフォーマット済みエラーを作成します。
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack はエラーにスタックトレースを付与します。
func WithStack(err error) error {
	return errors.WithStack(err)
}

// ===========================================================================
//
//	共通エラー変数
//
// ===========================================================================

var (
	// ErrEmptyData は空のデータが渡された場合のエラーです。
	ErrEmptyData = New("empty data")

	// ErrSingularMatrix は係数行列が特異な場合のエラーです。
	ErrSingularMatrix = New("singular matrix")

	// ErrTensorReleased は解放済みテンソルへのアクセスを表します。
	ErrTensorReleased = New("tensor already released")
)
