package prediction

import (
	"strings"
	"time"

	"github.com/kbukum/batchpredict/errors"
	"github.com/kbukum/batchpredict/validation"
)

// Params are the pipeline parameters. Every field is defaulted and may be
// overridden from configuration, the environment or the command line.
type Params struct {
	ProjectID            string `mapstructure:"project_id" yaml:"project_id" json:"project_id" validate:"required"`
	ProjectLocation      string `mapstructure:"project_location" yaml:"project_location" json:"project_location" validate:"required"`
	PipelineFilesGCSPath string `mapstructure:"pipeline_files_gcs_path" yaml:"pipeline_files_gcs_path" json:"pipeline_files_gcs_path" validate:"required,storageuri"`
	// IngestionProjectID holds the source data; defaults to ProjectID.
	IngestionProjectID string `mapstructure:"ingestion_project_id" yaml:"ingestion_project_id" json:"ingestion_project_id" validate:"required"`
	TFDVSchemaFilename string `mapstructure:"tfdv_schema_filename" yaml:"tfdv_schema_filename" json:"tfdv_schema_filename" validate:"required"`
	TFDVTrainStatsPath string `mapstructure:"tfdv_train_stats_path" yaml:"tfdv_train_stats_path" json:"tfdv_train_stats_path" validate:"required,storageuri"`
	ModelName          string `mapstructure:"model_name" yaml:"model_name" json:"model_name" validate:"required"`
	ModelLabel         string `mapstructure:"model_label" yaml:"model_label" json:"model_label" validate:"required"`
	DatasetID          string `mapstructure:"dataset_id" yaml:"dataset_id" json:"dataset_id" validate:"required"`
	// DatasetLocation defaults to ProjectLocation.
	DatasetLocation    string `mapstructure:"dataset_location" yaml:"dataset_location" json:"dataset_location" validate:"required"`
	IngestionDatasetID string `mapstructure:"ingestion_dataset_id" yaml:"ingestion_dataset_id" json:"ingestion_dataset_id" validate:"required"`
	// Timestamp is the ingestion cutoff. Empty ingests everything.
	Timestamp string `mapstructure:"timestamp" yaml:"timestamp" json:"timestamp"`

	BatchPredictionMachineType string `mapstructure:"batch_prediction_machine_type" yaml:"batch_prediction_machine_type" json:"batch_prediction_machine_type" validate:"required"`
	BatchPredictionMinReplicas int    `mapstructure:"batch_prediction_min_replicas" yaml:"batch_prediction_min_replicas" json:"batch_prediction_min_replicas" validate:"min=1"`
	BatchPredictionMaxReplicas int    `mapstructure:"batch_prediction_max_replicas" yaml:"batch_prediction_max_replicas" json:"batch_prediction_max_replicas" validate:"gtefield=BatchPredictionMinReplicas"`

	FailOnAnomalies     bool `mapstructure:"fail_on_anomalies" yaml:"fail_on_anomalies" json:"fail_on_anomalies"`
	FailOnModelNotFound bool `mapstructure:"fail_on_model_not_found" yaml:"fail_on_model_not_found" json:"fail_on_model_not_found"`
}

// DefaultParams returns the documented defaults. Project, location and the
// storage paths have no default and normally come from the environment.
func DefaultParams() Params {
	return Params{
		TFDVSchemaFilename:         "tfdv_schema_serving.pbtxt",
		ModelName:                  "tensorflow_with_preprocessing",
		ModelLabel:                 "label_name",
		DatasetID:                  "preprocessing",
		IngestionDatasetID:         "chicago_taxi_trips",
		Timestamp:                  "2022-12-01 00:00:00",
		BatchPredictionMachineType: "n1-standard-4",
		BatchPredictionMinReplicas: 3,
		BatchPredictionMaxReplicas: 10,
		FailOnAnomalies:            true,
		FailOnModelNotFound:        true,
	}
}

// ApplyDefaults fills the fields derived from other fields.
func (p *Params) ApplyDefaults() {
	if p.IngestionProjectID == "" {
		p.IngestionProjectID = p.ProjectID
	}
	if p.DatasetLocation == "" {
		p.DatasetLocation = p.ProjectLocation
	}
	p.PipelineFilesGCSPath = strings.TrimRight(p.PipelineFilesGCSPath, "/")
}

// Validate checks the struct tags and the timestamp format.
func (p *Params) Validate() error {
	if err := validation.Validate(p); err != nil {
		return err
	}
	if _, err := NormalizeTimestamp(p.Timestamp); err != nil {
		return err
	}
	return nil
}

// Resolve applies defaults, validates and normalises the timestamp in place.
func (p *Params) Resolve() error {
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return err
	}
	ts, _ := NormalizeTimestamp(p.Timestamp)
	p.Timestamp = ts
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02T15",
	"2006-01-02 15",
	time.DateOnly,
}

// NormalizeTimestamp parses an ISO 8601 timestamp with optional time parts,
// fractional seconds and offset, and returns it as UTC "YYYY-MM-DD hh:mm:ss"
// with fractional seconds kept when present. Missing parts are zero.
func NormalizeTimestamp(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		return t.UTC().Format("2006-01-02 15:04:05.999999999"), nil
	}
	return "", errors.InvalidFormat("timestamp", "YYYY-MM-DDThh:mm:ss[.sss][±hh:mm]").WithDetail("value", s)
}

// SchemaPath returns {base}/prediction/assets/{file}.
func SchemaPath(base, file string) string {
	return strings.TrimRight(base, "/") + "/prediction/assets/" + file
}

// StagingPath returns {base}/staging/{step}/{name}, the location a step writes to.
func StagingPath(base, step, name string) string {
	return strings.TrimRight(base, "/") + "/staging/" + step + "/" + name
}
