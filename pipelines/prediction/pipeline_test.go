package prediction

import (
	"context"
	"reflect"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/kbukum/batchpredict/components/inference"
	"github.com/kbukum/batchpredict/components/model"
	"github.com/kbukum/batchpredict/components/skew"
	"github.com/kbukum/batchpredict/components/stats"
	"github.com/kbukum/batchpredict/components/warehouse"
	"github.com/kbukum/batchpredict/dag"
	"github.com/kbukum/batchpredict/errors"
	"github.com/kbukum/batchpredict/logger"
)

type fakeWarehouse struct {
	mu       sync.Mutex
	queries  []warehouse.QueryJob
	extracts []warehouse.ExtractJob
	loads    []warehouse.LoadJob
}

func (f *fakeWarehouse) QueryToTable(_ context.Context, job warehouse.QueryJob) (warehouse.TableRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, job)
	return job.Destination, nil
}

func (f *fakeWarehouse) ExtractTable(_ context.Context, job warehouse.ExtractJob) (warehouse.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extracts = append(f.extracts, job)
	pattern := job.FilePattern
	if pattern == "" {
		pattern = "files-*." + job.Format.Extension()
	}
	return warehouse.Dataset{URI: job.Destination + "/" + pattern, Prefix: job.Destination, Format: job.Format}, nil
}

func (f *fakeWarehouse) LoadDataset(_ context.Context, job warehouse.LoadJob) (warehouse.TableRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, job)
	return job.Destination, nil
}

type fakeStats struct{}

func (fakeStats) Generate(_ context.Context, req stats.GenerateRequest) (stats.Artifact, error) {
	return stats.Artifact{URI: req.Output}, nil
}

func (fakeStats) Visualise(_ context.Context, req stats.VisualiseRequest) (stats.Artifact, error) {
	return stats.Artifact{URI: req.Output}, nil
}

type fakeSkew struct {
	mu        sync.Mutex
	anomalies []skew.Anomaly
	requests  []skew.Request
}

func (f *fakeSkew) Validate(_ context.Context, req skew.Request) (skew.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return skew.Report{Environment: req.Environment, Anomalies: f.anomalies, URI: req.Output}, nil
}

func (f *fakeSkew) ReadReport(_ context.Context, uri string) (skew.Report, error) {
	return skew.Report{Environment: skew.EnvironmentServing, Anomalies: f.anomalies, URI: uri}, nil
}

type fakePredictor struct {
	mu   sync.Mutex
	jobs []inference.Job
}

func (f *fakePredictor) Predict(_ context.Context, job inference.Job) (inference.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	if job.Model.Empty() {
		return inference.Result{}, errors.InvalidInput("model", "no model was resolved")
	}
	dir := job.DestinationPrefix + "/prediction-out"
	return inference.Result{OutputDir: dir, URIGlob: dir + "/predictions_*.jsonl", Instances: 3}, nil
}

var champion = model.Model{Name: "tensorflow_with_preprocessing", Label: "label_name", Project: "p", Location: "europe-west2"}

type fixture struct {
	wh        *fakeWarehouse
	skew      *fakeSkew
	predictor *fakePredictor
	comps     Components
}

func newFixture(models ...model.Model) *fixture {
	f := &fixture{wh: &fakeWarehouse{}, skew: &fakeSkew{}, predictor: &fakePredictor{}}
	f.comps = Components{
		Warehouse:  f.wh,
		Statistics: fakeStats{},
		Skew:       f.skew,
		Models:     model.NewResolver(model.NewMemoryRegistry(models...), logger.Nop()),
		Predictor:  f.predictor,
	}
	return f
}

func build(t *testing.T, p Params, c Components) *dag.Graph {
	t.Helper()
	g, err := Build(p, c, logger.Nop())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func TestBuildLevels(t *testing.T) {
	g := build(t, testParams(), Components{})
	want := [][]string{
		{StepIngest, StepLookupModel},
		{StepExtractPrediction, StepExtractValidation},
		{StepGenerateStatistics},
		{StepValidateSkew, StepVisualise},
		{StepShowAnomalies},
		{StepBatchPredict},
		{StepLoadPredictions},
	}
	if got := g.Levels(); !reflect.DeepEqual(got, want) {
		t.Fatalf("levels = %v\nwant %v", got, want)
	}
	if g.Name() != PipelineName {
		t.Errorf("name = %q", g.Name())
	}

	st, _ := g.Step(StepBatchPredict)
	if st.Label() != "Vertex Batch Predictions for TF model" || !reflect.DeepEqual(st.After, []string{StepShowAnomalies}) {
		t.Errorf("batch-predict = %+v", st)
	}
	if got := st.Inputs["starting_replica_count"]; got.Kind != dag.BindParam || got.Param != "batch_prediction_min_replicas" {
		t.Errorf("starting_replica_count binding = %+v", got)
	}
}

func TestIngestQueryFollowsRunParams(t *testing.T) {
	p := testParams()
	p.IngestionProjectID = "bigquery-public-data"
	p.Timestamp = "2022-12-01T00:00:00+01:00"
	f := newFixture(champion)
	g := build(t, p, f.comps)

	for _, name := range []string{"timestamp", "ingestion_project_id", "ingestion_dataset_id"} {
		if !slices.ContainsFunc(g.Params(), func(p dag.Param) bool { return p.Name == name }) {
			t.Errorf("graph does not declare %q", name)
		}
	}
	st, _ := g.Step(StepIngest)
	if got := st.Inputs["table_id"].Value; got != IngestedTable() {
		t.Errorf("table_id = %v", got)
	}

	runs := []struct {
		name   string
		params map[string]any
		want   []string
		absent string
	}{
		{"defaults", nil, []string{
			"FROM `bigquery-public-data.chicago_taxi_trips.taxi_trips`",
			"WHERE trip_start_timestamp >= '2022-11-30 23:00:00'",
		}, ""},
		{"overridden", map[string]any{"timestamp": "2023-03-01", "ingestion_dataset_id": "other"}, []string{
			"FROM `bigquery-public-data.other.taxi_trips`",
			"WHERE trip_start_timestamp >= '2023-03-01 00:00:00'",
		}, ""},
		{"no cutoff", map[string]any{"timestamp": ""}, []string{"taxi_trips"}, "WHERE"},
	}
	for i, tt := range runs {
		res := (&dag.Engine{}).RunWithParams(context.Background(), g, tt.params)
		if !res.Succeeded() {
			t.Fatalf("%s: run failed at %s: %v", tt.name, res.FailedStep, res.Err)
		}
		got := f.wh.queries[i].Query
		for _, want := range tt.want {
			if !strings.Contains(got, want) {
				t.Errorf("%s: query %q does not contain %q", tt.name, got, want)
			}
		}
		if tt.absent != "" && strings.Contains(got, tt.absent) {
			t.Errorf("%s: query %q contains %q", tt.name, got, tt.absent)
		}
	}

	res := (&dag.Engine{}).RunWithParams(context.Background(), g, map[string]any{"timestamp": "yesterday"})
	if res.FailedStep != StepIngest || !errors.HasCode(res.Err, errors.ErrCodeInvalidFormat) {
		t.Errorf("bad timestamp: failed step = %q err = %v", res.FailedStep, res.Err)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	first, second := newFixture(champion), newFixture(champion)
	for _, f := range []*fixture{first, second} {
		res := (&dag.Engine{}).Run(context.Background(), build(t, testParams(), f.comps))
		if !res.Succeeded() {
			t.Fatalf("run failed at %s: %v", res.FailedStep, res.Err)
		}
	}
	a, b := build(t, testParams(), Components{}), build(t, testParams(), Components{})
	if !reflect.DeepEqual(a.Params(), b.Params()) {
		t.Errorf("params differ: %+v vs %+v", a.Params(), b.Params())
	}
	sa, _ := a.Step(StepIngest)
	sb, _ := b.Step(StepIngest)
	if sa.Inputs["table_id"].Value != sb.Inputs["table_id"].Value {
		t.Errorf("table_id differs: %v vs %v", sa.Inputs["table_id"].Value, sb.Inputs["table_id"].Value)
	}
	if first.wh.queries[0].Destination != second.wh.queries[0].Destination {
		t.Errorf("ingested tables differ: %v vs %v", first.wh.queries[0].Destination, second.wh.queries[0].Destination)
	}
	if first.skew.requests[0].Schema != second.skew.requests[0].Schema {
		t.Errorf("schema paths differ: %q vs %q", first.skew.requests[0].Schema, second.skew.requests[0].Schema)
	}
}

func TestBuildRejectsInvalidParams(t *testing.T) {
	p := testParams()
	p.BatchPredictionMaxReplicas = 1
	if _, err := Build(p, Components{}, nil); !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestRunWiresSteps(t *testing.T) {
	f := newFixture(champion)
	res := (&dag.Engine{}).Run(context.Background(), build(t, testParams(), f.comps))
	if !res.Succeeded() {
		t.Fatalf("run failed at %s: %v", res.FailedStep, res.Err)
	}
	if res.Count(dag.StepCompleted) != 10 {
		t.Fatalf("completed = %d", res.Count(dag.StepCompleted))
	}

	if len(f.wh.queries) != 1 || f.wh.queries[0].WriteDisposition != warehouse.WriteTruncate ||
		f.wh.queries[0].Destination.ID() != "p.preprocessing.ingested_data_tf_prediction" {
		t.Errorf("queries = %+v", f.wh.queries)
	}
	if len(f.wh.extracts) != 2 {
		t.Fatalf("extracts = %+v", f.wh.extracts)
	}
	for _, x := range f.wh.extracts {
		if x.FilePattern != "" {
			t.Errorf("extract %s file pattern = %q, want every shard", x.Destination, x.FilePattern)
		}
	}

	if len(f.skew.requests) != 1 {
		t.Fatalf("skew requests = %+v", f.skew.requests)
	}
	req := f.skew.requests[0]
	if req.Schema != "gs://bucket/pipelines/prediction/assets/tfdv_schema_serving.pbtxt" ||
		req.TrainingStatistics != "gs://bucket/train_stats.json" ||
		req.ServingStatistics != "gs://bucket/pipelines/staging/generate-statistics/statistics.json" ||
		req.Environment != skew.EnvironmentServing {
		t.Errorf("skew request = %+v", req)
	}

	if len(f.predictor.jobs) != 1 {
		t.Fatalf("jobs = %+v", f.predictor.jobs)
	}
	job := f.predictor.jobs[0]
	prefix := "gs://bucket/pipelines/staging/extract-data-for-prediction/ingested_data_tf_prediction"
	if job.SourceURIs != prefix+"/files-*.jsonl" || job.DestinationPrefix != prefix ||
		job.MinReplicas != 3 || job.MaxReplicas != 10 || job.Model.Name != champion.Name ||
		job.DisplayName != JobDisplayName || job.MachineType != "n1-standard-4" {
		t.Errorf("job = %+v", job)
	}

	if len(f.wh.loads) != 1 {
		t.Fatalf("loads = %+v", f.wh.loads)
	}
	load := f.wh.loads[0]
	if load.Source != prefix+"/prediction-out/predictions_*.jsonl" ||
		load.Destination.ID() != "p.preprocessing.tensorflow_staging_predictions" ||
		load.WriteDisposition != warehouse.WriteTruncate {
		t.Errorf("load = %+v", load)
	}
}

func TestAnomalyGate(t *testing.T) {
	f := newFixture(champion)
	f.skew.anomalies = []skew.Anomaly{
		{Feature: "trip_miles", Type: skew.AnomalyDivergence},
		{Feature: "payment_type", Type: skew.AnomalyInfinityNorm},
	}
	g := build(t, testParams(), f.comps)

	res := (&dag.Engine{}).Run(context.Background(), g)
	if res.Succeeded() || res.FailedStep != StepShowAnomalies {
		t.Fatalf("status = %s failed step = %q", res.Status, res.FailedStep)
	}
	if !errors.HasCode(res.Err, errors.ErrCodeAnomaliesDetected) {
		t.Fatalf("expected ANOMALIES_DETECTED, got %v", res.Err)
	}
	for _, name := range []string{StepBatchPredict, StepLoadPredictions} {
		if res.Steps[name].Status != dag.StepNotScheduled {
			t.Errorf("%s = %s, want not scheduled", name, res.Steps[name].Status)
		}
	}
	if len(f.predictor.jobs) != 0 || len(f.wh.loads) != 0 {
		t.Error("no predictions should be made after the gate trips")
	}

	res = (&dag.Engine{}).RunWithParams(context.Background(), g, map[string]any{"fail_on_anomalies": false})
	if !res.Succeeded() {
		t.Fatalf("gate disabled: run failed at %s: %v", res.FailedStep, res.Err)
	}
	if got := res.Steps[StepShowAnomalies].Outputs["features"]; !reflect.DeepEqual(got, []string{"payment_type", "trip_miles"}) {
		t.Errorf("features = %v", got)
	}
}

func TestModelNotFound(t *testing.T) {
	f := newFixture()
	g := build(t, testParams(), f.comps)

	res := (&dag.Engine{}).Run(context.Background(), g)
	if res.FailedStep != StepLookupModel || !errors.HasCode(res.Err, errors.ErrCodeNotFound) {
		t.Fatalf("failed step = %q err = %v", res.FailedStep, res.Err)
	}
	for _, name := range []string{StepBatchPredict, StepLoadPredictions} {
		if res.Steps[name].Status != dag.StepNotScheduled {
			t.Errorf("%s = %s, want not scheduled", name, res.Steps[name].Status)
		}
	}
	if len(f.predictor.jobs) != 0 || len(f.wh.loads) != 0 {
		t.Fatalf("jobs = %+v loads = %+v after a missing model", f.predictor.jobs, f.wh.loads)
	}

	res = (&dag.Engine{}).RunWithParams(context.Background(), g, map[string]any{"fail_on_model_not_found": false})
	if res.FailedStep != StepBatchPredict || !errors.HasCode(res.Err, errors.ErrCodeInvalidInput) ||
		len(f.predictor.jobs) != 1 || !f.predictor.jobs[0].Model.Empty() {
		t.Fatalf("failed step = %q jobs = %+v", res.FailedStep, f.predictor.jobs)
	}
}

func TestUnconfiguredComponents(t *testing.T) {
	res := (&dag.Engine{}).Run(context.Background(), build(t, testParams(), Components{}))
	if res.Succeeded() || !errors.HasCode(res.Err, errors.ErrCodeServiceUnavailable) {
		t.Fatalf("status = %s err = %v", res.Status, res.Err)
	}
}

func TestRegister(t *testing.T) {
	reg := dag.NewRegistry()
	Register(reg, Components{})
	want := []string{
		ComponentBatchPredict, ComponentExtractTable, ComponentGenerateStats, ComponentLoadDataset,
		ComponentLookupModel, ComponentQueryToTable, ComponentShowAnomalies, ComponentValidateSkew,
		ComponentVisualiseStats,
	}
	if got := reg.List(); !reflect.DeepEqual(got, want) {
		t.Fatalf("components = %v", got)
	}
}
