package errors

import (
	"fmt"
	"math"
	"strings"
	"testing"
)

func TestNewModelError(t *testing.T) {
	tests := []struct {
		name     string
		op       string
		kind     string
		err      error
		wantMsg  string
		hasStack bool
	}{
		{
			name:     "with original error",
			op:       "Train",
			kind:     "invalid input",
			err:      fmt.Errorf("test error"),
			wantMsg:  "agriwarn: Train: invalid input: test error",
			hasStack: true,
		},
		{
			name:     "without original error",
			op:       "Predict",
			kind:     "unsupported kind",
			err:      nil,
			wantMsg:  "agriwarn: Predict: unsupported kind",
			hasStack: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewModelError(tt.op, tt.kind, tt.err)

			if err.Error() != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", err.Error(), tt.wantMsg)
			}

			// スタックトレースの存在確認
			if tt.hasStack {
				formatted := fmt.Sprintf("%+v", err)
				if !strings.Contains(formatted, "errors_test.go") {
					t.Error("Expected stack trace to contain test file name")
				}
			}

			var modelErr *ModelError
			if !As(err, &modelErr) {
				t.Error("Error should be castable to *ModelError")
			}
		})
	}
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("features", "linear models take exactly one feature", 3)

	want := "agriwarn: validation failed for parameter 'features': linear models take exactly one feature (got: 3)"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
	if !IsValidation(err) {
		t.Error("IsValidation() = false, want true")
	}
	if IsNotFound(err) {
		t.Error("IsNotFound() = true, want false")
	}
}

func TestNewNotFoundError(t *testing.T) {
	err := Wrap(NewNotFoundError("model", "model_1_abc"), "predict")

	if !IsNotFound(err) {
		t.Fatal("IsNotFound() should see through Wrap")
	}
	var nf *NotFoundError
	if !As(err, &nf) {
		t.Fatal("Error should be castable to *NotFoundError")
	}
	if nf.ID != "model_1_abc" {
		t.Errorf("ID = %q, want model_1_abc", nf.ID)
	}
}

func TestArtifactIOErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := NewArtifactIOError("write", "/tmp/m.json", cause)

	if !IsArtifactIO(err) {
		t.Error("IsArtifactIO() = false, want true")
	}
	if !Is(err, cause) {
		t.Error("ArtifactIOError should unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "/tmp/m.json") {
		t.Errorf("Error() = %q, want path in message", err.Error())
	}
}

func TestExternalServiceError(t *testing.T) {
	cause := fmt.Errorf("timeout")
	err := NewExternalServiceError("weather", cause)

	if !IsExternalService(err) {
		t.Error("IsExternalService() = false, want true")
	}
	if !Is(err, cause) {
		t.Error("ExternalServiceError should unwrap to its cause")
	}
}

func TestNumericalChecks(t *testing.T) {
	if err := CheckNumericalStability("ok", []float64{1, 2, 3}, 0); err != nil {
		t.Errorf("CheckNumericalStability() unexpected error: %v", err)
	}

	err := CheckNumericalStability("solve", []float64{1, math.NaN()}, 3)
	if !IsNumerical(err) {
		t.Fatalf("expected NumericalInstabilityError, got %v", err)
	}
	if !strings.Contains(err.Error(), "solve") || !strings.Contains(err.Error(), "iteration 3") {
		t.Errorf("Error() = %q", err.Error())
	}

	if err := CheckScalar("loss", math.Inf(1), 7); !IsNumerical(err) {
		t.Errorf("CheckScalar(+Inf) = %v, want NumericalInstabilityError", err)
	}
}

type denseStub struct {
	r, c int
	data []float64
}

func (d denseStub) Dims() (int, int)      { return d.r, d.c }
func (d denseStub) At(i, j int) float64 { return d.data[i*d.c+j] }

func TestCheckMatrix(t *testing.T) {
	ok := denseStub{r: 2, c: 2, data: []float64{1, 2, 3, 4}}
	if err := CheckMatrix("weights", ok, 0); err != nil {
		t.Errorf("CheckMatrix() unexpected error: %v", err)
	}

	bad := denseStub{r: 2, c: 2, data: []float64{1, math.NaN(), 3, math.Inf(-1)}}
	err := CheckMatrix("weights", bad, 1)
	var nErr *NumericalInstabilityError
	if !As(err, &nErr) {
		t.Fatalf("expected NumericalInstabilityError, got %v", err)
	}
	if len(nErr.Values) != 2 {
		t.Errorf("len(Values) = %d, want 2", len(nErr.Values))
	}
}

func TestWarnUsesZerologFunc(t *testing.T) {
	var got []error
	SetZerologWarnFunc(func(w error) { got = append(got, w) })
	defer SetZerologWarnFunc(nil)

	Warn(NewUndefinedMetricWarning("r2", "constant targets", 0))

	if len(got) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(got))
	}
	if !strings.Contains(got[0].Error(), "'r2' is ill-defined") {
		t.Errorf("unexpected warning text: %v", got[0])
	}
}

func TestWarnFallsBackToHandler(t *testing.T) {
	var got error
	SetWarningHandler(func(w error) { got = w })
	defer SetWarningHandler(nil)

	Warn(NewNormalizationHeuristicWarning([]float64{0.1}, []float64{1.0}))

	if got == nil {
		t.Fatal("expected handler to receive the warning")
	}
}

func TestWrapf(t *testing.T) {
	wrapped := Wrapf(ErrEmptyData, "in %s: expected %d, got %d", "Train", 10, 0)

	if !Is(wrapped, ErrEmptyData) {
		t.Error("Expected Is(wrapped, ErrEmptyData) to be true")
	}

	expectedMsg := "in Train: expected 10, got 0"
	if !strings.Contains(wrapped.Error(), expectedMsg) {
		t.Errorf("Expected wrapped error to contain %q", expectedMsg)
	}
}
