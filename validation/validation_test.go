package validation

import (
	"strings"
	"testing"

	"github.com/kbukum/batchpredict/errors"
)

func TestValidatorRequired(t *testing.T) {
	if New().Required("table", "taxi_trips").HasErrors() {
		t.Error("expected no errors for valid input")
	}
	if !New().Required("table", "").HasErrors() {
		t.Error("expected error for empty required field")
	}
	if !New().Required("table", "   ").HasErrors() {
		t.Error("expected error for whitespace-only required field")
	}
}

func TestValidatorStorageURI(t *testing.T) {
	tests := []struct {
		value   string
		wantErr bool
	}{
		{"gs://bucket", false},
		{"gs://bucket/prediction/assets/schema.pbtxt", false},
		{"s3://my-bucket/path", false},
		{"file:///tmp/x", true},
		{"bucket/path", true},
		{"", true},
	}
	for _, tc := range tests {
		t.Run(tc.value, func(t *testing.T) {
			if got := New().StorageURI("uri", tc.value).HasErrors(); got != tc.wantErr {
				t.Errorf("StorageURI(%q) errors = %v, want %v", tc.value, got, tc.wantErr)
			}
		})
	}
}

func TestValidatorRangeMin(t *testing.T) {
	if New().Range("replicas", 3, 1, 10).HasErrors() {
		t.Error("expected no error for value in range")
	}
	if !New().Range("replicas", 11, 1, 10).HasErrors() {
		t.Error("expected error for value above range")
	}
	if !New().Min("replicas", 0, 1).HasErrors() {
		t.Error("expected error for value below min")
	}
}

func TestValidatorOneOf(t *testing.T) {
	allowed := []string{"CSV", "NEWLINE_DELIMITED_JSON"}
	if New().OneOf("format", "CSV", allowed).HasErrors() {
		t.Error("expected no error for allowed value")
	}
	if !New().OneOf("format", "AVRO", allowed).HasErrors() {
		t.Error("expected error for disallowed value")
	}
}

func TestValidatorValidate(t *testing.T) {
	v := New().Required("a", "").Custom(false, "b", "is broken")
	appErr := v.Validate()
	if appErr == nil {
		t.Fatal("expected error")
	}
	if appErr.Code != errors.ErrCodeInvalidInput {
		t.Errorf("expected INVALID_INPUT, got %s", appErr.Code)
	}
	if !strings.Contains(appErr.Message, "a: is required") || !strings.Contains(appErr.Message, "b: is broken") {
		t.Errorf("unexpected message %q", appErr.Message)
	}
	if New().Err() != nil {
		t.Error("expected nil error for empty validator")
	}
}

type replicaRequest struct {
	MachineType string `mapstructure:"machine_type" validate:"required"`
	MinReplicas int    `mapstructure:"min_replicas" validate:"min=1"`
	MaxReplicas int    `mapstructure:"max_replicas" validate:"gtefield=MinReplicas"`
	Output      string `json:"output" validate:"omitempty,storageuri"`
}

func TestStructValidateValid(t *testing.T) {
	req := replicaRequest{MachineType: "n1-standard-4", MinReplicas: 3, MaxReplicas: 10, Output: "gs://b/out"}
	if err := Validate(req); err != nil {
		t.Errorf("expected valid, got %v", err)
	}
}

func TestStructValidateInvalid(t *testing.T) {
	req := replicaRequest{MinReplicas: 5, MaxReplicas: 2, Output: "not-a-uri"}
	err := Validate(req)
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{
		"machine_type: is required",
		"max_replicas: must be greater than or equal to min_replicas",
		"output: must be a storage URI",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}
	appErr, ok := errors.AsAppError(err)
	if !ok {
		t.Fatal("expected AppError")
	}
	if fields, ok := appErr.Details["fields"].([]FieldError); !ok || len(fields) != 3 {
		t.Errorf("expected 3 field errors, got %v", appErr.Details["fields"])
	}
}

func TestRegisterValidation(t *testing.T) {
	if err := RegisterValidation("upper", func(s string) bool { return s == strings.ToUpper(s) }); err != nil {
		t.Fatalf("register: %v", err)
	}
	type req struct {
		Mode string `validate:"upper"`
	}
	if err := Validate(req{Mode: "SERVING"}); err != nil {
		t.Errorf("expected valid, got %v", err)
	}
	if err := Validate(req{Mode: "serving"}); err == nil {
		t.Error("expected error for lowercase mode")
	}
}

func TestRequiredFunc(t *testing.T) {
	if Required("x", "v") != nil {
		t.Error("expected nil")
	}
	if Required("x", "") == nil {
		t.Error("expected error")
	}
}

func TestSnake(t *testing.T) {
	for in, want := range map[string]string{
		"MinReplicas":  "min_replicas",
		"ProjectID":    "project_i_d",
		"table":        "table",
		"TFDVStatPath": "t_f_d_v_stat_path",
	} {
		if got := snake(in); got != want {
			t.Errorf("snake(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidatorCollectsEveryFailure(t *testing.T) {
	v := New().Min("a", 0, 1).Range("b", 5, 1, 3).OneOf("c", "x", []string{"y"}).Required("d", "ok")
	if got := len(v.Errors()); got != 3 {
		t.Fatalf("errors = %v", v.Errors())
	}
	fields, _ := v.Validate().Details["fields"].([]FieldError)
	if fields[1].Field != "b" || fields[1].Message != "must be between 1 and 3" {
		t.Errorf("fields = %v", fields)
	}
}
