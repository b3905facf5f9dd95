// Package prediction assembles the batch prediction pipeline: ingest serving
// data, check it for skew against the training data, score it with the
// champion model and load the predictions back into the warehouse.
package prediction

import (
	"github.com/kbukum/batchpredict/components/query"
	"github.com/kbukum/batchpredict/components/skew"
	"github.com/kbukum/batchpredict/dag"
	"github.com/kbukum/batchpredict/logger"
)

const (
	// PipelineName names the graph and its compiled definition.
	PipelineName = "tensorflow-prediction-pipeline"
	// TimeColumn is the column the ingestion timestamp filters on.
	TimeColumn = "trip_start_timestamp"
	// IngestionTable is the source table in the ingestion dataset.
	IngestionTable = "taxi_trips"
	// TableSuffix distinguishes this pipeline's tables from the training ones.
	TableSuffix = "_tf_prediction"
	// JobDisplayName names the batch prediction job.
	JobDisplayName = "my-tensorflow-batch-prediction-job"
	// ServingStatisticsName labels the statistics of the ingested data.
	ServingStatisticsName = "Serving Statistics"
	// TrainingStatisticsName labels the reference statistics.
	TrainingStatisticsName = "Training Statistics"
)

// Step names.
const (
	StepIngest             = "ingest-data"
	StepExtractPrediction  = "extract-data-for-prediction"
	StepExtractValidation  = "extract-data-for-validation"
	StepGenerateStatistics = "generate-statistics"
	StepVisualise          = "visualise-statistics"
	StepValidateSkew       = "validate-skew"
	StepShowAnomalies      = "show-anomalies"
	StepLookupModel        = "lookup-champion-model"
	StepBatchPredict       = "batch-predict"
	StepLoadPredictions    = "load-predictions"
)

// IngestedTable is the table the ingestion step writes.
func IngestedTable() string { return "ingested_data" + TableSuffix }

// PredictionTable is the table the predictions are loaded into.
func PredictionTable() string { return "tensorflow_staging_predictions" }

// IngestSource describes the rows the ingestion query selects.
func IngestSource(ingestionProject, ingestionDataset, timestamp string) query.IngestParams {
	return query.IngestParams{
		SourceDataset:    ingestionProject + "." + ingestionDataset,
		SourceTable:      IngestionTable,
		FilterColumn:     TimeColumn,
		FilterStartValue: timestamp,
	}
}

// Build resolves params and wires the pipeline. The ingestion query is
// rendered once here, so a template problem fails the build rather than a
// run. The ingest step renders it again from the parameters it is run with.
func Build(params Params, c Components, log *logger.Logger) (*dag.Graph, error) {
	if log == nil {
		log = logger.Nop()
	}
	p := params
	if err := p.Resolve(); err != nil {
		return nil, err
	}
	queries, err := c.queries()
	if err != nil {
		return nil, err
	}
	ingestQuery, err := queries.RenderIngest(IngestSource(p.IngestionProjectID, p.IngestionDatasetID, p.Timestamp))
	if err != nil {
		return nil, err
	}

	fns := Functions(c)
	b := dag.NewBuilder(PipelineName)

	projectID := b.Param("project_id", dag.KindString, p.ProjectID)
	projectLocation := b.Param("project_location", dag.KindString, p.ProjectLocation)
	filesPath := b.Param("pipeline_files_gcs_path", dag.KindString, p.PipelineFilesGCSPath)
	ingestionProject := b.Param("ingestion_project_id", dag.KindString, p.IngestionProjectID)
	schemaFile := b.Param("tfdv_schema_filename", dag.KindString, p.TFDVSchemaFilename)
	trainStats := b.Param("tfdv_train_stats_path", dag.KindString, p.TFDVTrainStatsPath)
	modelName := b.Param("model_name", dag.KindString, p.ModelName)
	modelLabel := b.Param("model_label", dag.KindString, p.ModelLabel)
	datasetID := b.Param("dataset_id", dag.KindString, p.DatasetID)
	datasetLocation := b.Param("dataset_location", dag.KindString, p.DatasetLocation)
	ingestionDataset := b.Param("ingestion_dataset_id", dag.KindString, p.IngestionDatasetID)
	timestamp := b.Param("timestamp", dag.KindString, p.Timestamp)
	machineType := b.Param("batch_prediction_machine_type", dag.KindString, p.BatchPredictionMachineType)
	minReplicas := b.Param("batch_prediction_min_replicas", dag.KindInt, p.BatchPredictionMinReplicas)
	maxReplicas := b.Param("batch_prediction_max_replicas", dag.KindInt, p.BatchPredictionMaxReplicas)
	failOnAnomalies := b.Param("fail_on_anomalies", dag.KindBool, p.FailOnAnomalies)
	failOnModelNotFound := b.Param("fail_on_model_not_found", dag.KindBool, p.FailOnModelNotFound)

	ingest := b.AddStep(StepIngest, ComponentQueryToTable, dag.Inputs{
		"ingestion_project_id": ingestionProject,
		"ingestion_dataset_id": ingestionDataset,
		"timestamp":            timestamp,
		"project_id":           projectID,
		"dataset_id":           datasetID,
		"dataset_location":     datasetLocation,
		"table_id":             b.Const(IngestedTable()),
		"write_disposition":    b.Const("WRITE_TRUNCATE"),
	}, fns[ComponentQueryToTable], "table").DisplayName("Ingest data")

	// An empty file_pattern selects every shard the extract writes.
	extract := func(name, display, format string) *dag.StepRef {
		return b.AddStep(name, ComponentExtractTable, dag.Inputs{
			"project_id":              projectID,
			"dataset_id":              datasetID,
			"table_name":              b.Const(IngestedTable()),
			"dataset_location":        datasetLocation,
			"destination_format":      b.Const(format),
			"file_pattern":            b.Const(""),
			"pipeline_files_gcs_path": filesPath,
			"stage":                   b.Const(name),
		}, fns[ComponentExtractTable], "dataset", "dataset_gcs_uri", "dataset_gcs_prefix").
			After(ingest).
			DisplayName(display)
	}
	extractPrediction := extract(StepExtractPrediction, "Extract data to storage for prediction", "NEWLINE_DELIMITED_JSON")
	extractValidation := extract(StepExtractValidation, "Extract data to storage for validation", "CSV")

	statistics := b.AddStep(StepGenerateStatistics, ComponentGenerateStats, dag.Inputs{
		"dataset":                 extractValidation.Output("dataset_gcs_uri"),
		"file_pattern":            b.Const(""),
		"statistics_name":         b.Const(ServingStatisticsName),
		"pipeline_files_gcs_path": filesPath,
		"stage":                   b.Const(StepGenerateStatistics),
	}, fns[ComponentGenerateStats], "statistics").DisplayName("Generate data statistics")

	b.AddStep(StepVisualise, ComponentVisualiseStats, dag.Inputs{
		"statistics":              statistics.Output("statistics"),
		"statistics_name":         b.Const(ServingStatisticsName),
		"other_statistics":        trainStats,
		"other_statistics_name":   b.Const(TrainingStatisticsName),
		"pipeline_files_gcs_path": filesPath,
		"stage":                   b.Const(StepVisualise),
	}, fns[ComponentVisualiseStats], "view").DisplayName("Visualise data statistics")

	validate := b.AddStep(StepValidateSkew, ComponentValidateSkew, dag.Inputs{
		"training_statistics":     trainStats,
		"serving_statistics":      statistics.Output("statistics"),
		"schema_filename":         schemaFile,
		"environment":             b.Const(skew.EnvironmentServing),
		"pipeline_files_gcs_path": filesPath,
		"stage":                   b.Const(StepValidateSkew),
	}, fns[ComponentValidateSkew], "anomalies", "anomaly_count").DisplayName("Validate data skew")

	gate := b.AddStep(StepShowAnomalies, ComponentShowAnomalies, dag.Inputs{
		"anomalies":         validate.Output("anomalies"),
		"fail_on_anomalies": failOnAnomalies,
	}, fns[ComponentShowAnomalies], "anomaly_count", "features").DisplayName("Show anomalies")

	champion := b.AddStep(StepLookupModel, ComponentLookupModel, dag.Inputs{
		"project_id":              projectID,
		"project_location":        projectLocation,
		"model_name":              modelName,
		"model_label":             modelLabel,
		"fail_on_model_not_found": failOnModelNotFound,
	}, fns[ComponentLookupModel], "model").DisplayName("Lookup champion model")

	predict := b.AddStep(StepBatchPredict, ComponentBatchPredict, dag.Inputs{
		"model":                             champion.Output("model"),
		"job_display_name":                  b.Const(JobDisplayName),
		"instances_format":                  b.Const("jsonl"),
		"predictions_format":                b.Const("jsonl"),
		"gcs_source_uris":                   extractPrediction.Output("dataset_gcs_uri"),
		"gcs_destination_output_uri_prefix": extractPrediction.Output("dataset_gcs_prefix"),
		"machine_type":                      machineType,
		"starting_replica_count":            minReplicas,
		"max_replica_count":                 maxReplicas,
	}, fns[ComponentBatchPredict], "batchpredictionjob", "output_directory", "instances").
		After(gate).
		DisplayName("Vertex Batch Predictions for TF model")

	b.AddStep(StepLoadPredictions, ComponentLoadDataset, dag.Inputs{
		"dataset":           predict.Output("batchpredictionjob"),
		"project_id":        projectID,
		"dataset_id":        datasetID,
		"dataset_location":  datasetLocation,
		"table_name":        b.Const(PredictionTable()),
		"write_disposition": b.Const("WRITE_TRUNCATE"),
	}, fns[ComponentLoadDataset], "table").DisplayName("Load predictions into Bigquery")

	g, err := b.Build()
	if err != nil {
		return nil, err
	}
	log.Debug("pipeline built", logger.Fields(
		logger.FieldPipeline, g.Name(),
		"steps", len(g.Steps()),
		"levels", len(g.Levels()),
		logger.FieldTable, IngestedTable(),
		"query", ingestQuery,
	))
	return g, nil
}
