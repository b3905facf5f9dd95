package prediction

import (
	"testing"

	"github.com/kbukum/batchpredict/errors"
)

func testParams() Params {
	p := DefaultParams()
	p.ProjectID = "p"
	p.ProjectLocation = "europe-west2"
	p.PipelineFilesGCSPath = "gs://bucket/pipelines/"
	p.TFDVTrainStatsPath = "gs://bucket/train_stats.json"
	return p
}

func TestParamsResolveDefaults(t *testing.T) {
	p := testParams()
	if err := p.Resolve(); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.IngestionProjectID != "p" || p.DatasetLocation != "europe-west2" {
		t.Errorf("derived defaults = %q %q", p.IngestionProjectID, p.DatasetLocation)
	}
	if p.PipelineFilesGCSPath != "gs://bucket/pipelines" {
		t.Errorf("files path = %q", p.PipelineFilesGCSPath)
	}
	if !p.FailOnAnomalies || !p.FailOnModelNotFound {
		t.Error("fail flags should default to true")
	}
	if p.Timestamp != "2022-12-01 00:00:00" {
		t.Errorf("timestamp = %q", p.Timestamp)
	}

	p = testParams()
	p.IngestionProjectID = "public-data"
	p.DatasetLocation = "US"
	if err := p.Resolve(); err != nil {
		t.Fatal(err)
	}
	if p.IngestionProjectID != "public-data" || p.DatasetLocation != "US" {
		t.Errorf("explicit values overwritten: %+v", p)
	}
}

func TestParamsValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"missing project", func(p *Params) { p.ProjectID = "" }},
		{"missing location", func(p *Params) { p.ProjectLocation = "" }},
		{"bad storage uri", func(p *Params) { p.PipelineFilesGCSPath = "bucket/pipelines" }},
		{"zero min replicas", func(p *Params) { p.BatchPredictionMinReplicas = 0 }},
		{"max below min", func(p *Params) { p.BatchPredictionMaxReplicas = 2 }},
		{"bad timestamp", func(p *Params) { p.Timestamp = "yesterday" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams()
			tt.mutate(&p)
			err := p.Resolve()
			if err == nil {
				t.Fatal("expected an error")
			}
			if !errors.IsAppError(err) {
				t.Errorf("expected an AppError, got %T", err)
			}
		})
	}
}

func TestNormalizeTimestamp(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"2022-12-01", "2022-12-01 00:00:00"},
		{"2022-12-01T10", "2022-12-01 10:00:00"},
		{"2022-12-01 10:30", "2022-12-01 10:30:00"},
		{"2022-12-01T10:30:15", "2022-12-01 10:30:15"},
		{"2022-12-01 10:30:15.250", "2022-12-01 10:30:15.25"},
		{"2022-12-01T10:30:15+02:00", "2022-12-01 08:30:15"},
		{"2022-12-01T00:30:00.5-01:00", "2022-12-01 01:30:00.5"},
		{"2022-12-01T10:30:15Z", "2022-12-01 10:30:15"},
	}
	for _, tt := range tests {
		got, err := NormalizeTimestamp(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("NormalizeTimestamp(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}

	if _, err := NormalizeTimestamp("12/01/2022"); !errors.HasCode(err, errors.ErrCodeInvalidFormat) {
		t.Errorf("expected INVALID_FORMAT, got %v", err)
	}
}

func TestPaths(t *testing.T) {
	if got := SchemaPath("gs://b/p/", "tfdv_schema_serving.pbtxt"); got != "gs://b/p/prediction/assets/tfdv_schema_serving.pbtxt" {
		t.Errorf("SchemaPath = %q", got)
	}
	if got := StagingPath("gs://b/p", "validate-skew", "anomalies.json"); got != "gs://b/p/staging/validate-skew/anomalies.json" {
		t.Errorf("StagingPath = %q", got)
	}
}
