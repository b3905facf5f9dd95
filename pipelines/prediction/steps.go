package prediction

import (
	"context"
	"strings"

	"github.com/kbukum/batchpredict/components/inference"
	"github.com/kbukum/batchpredict/components/model"
	"github.com/kbukum/batchpredict/components/query"
	"github.com/kbukum/batchpredict/components/skew"
	"github.com/kbukum/batchpredict/components/stats"
	"github.com/kbukum/batchpredict/components/warehouse"
	"github.com/kbukum/batchpredict/dag"
	"github.com/kbukum/batchpredict/errors"
	"github.com/kbukum/batchpredict/provider"
)

// Component names. A compiled graph refers to step implementations by these.
const (
	ComponentQueryToTable   = "query-to-table"
	ComponentExtractTable   = "extract-table-to-dataset"
	ComponentGenerateStats  = "generate-statistics"
	ComponentVisualiseStats = "visualise-statistics"
	ComponentValidateSkew   = "validate-skew"
	ComponentShowAnomalies  = "show-anomalies"
	ComponentLookupModel    = "lookup-model"
	ComponentBatchPredict   = "batch-predict"
	ComponentLoadDataset    = "load-dataset-to-table"
)

// args decodes step inputs and keeps the first error.
type args struct {
	in  dag.Values
	err error
}

func get[T any](a *args, key string) T {
	v, err := dag.Arg[T](a.in, key)
	if err != nil && a.err == nil {
		a.err = errors.InvalidInput(key, err.Error())
	}
	return v
}

func (a *args) str(key string) string  { return get[string](a, key) }
func (a *args) integer(key string) int { return get[int](a, key) }
func (a *args) flag(key string) bool   { return get[bool](a, key) }

func (a *args) table(project, dataset, table string) warehouse.TableRef {
	return warehouse.TableRef{Project: a.str(project), Dataset: a.str(dataset), Table: a.str(table)}
}

// bind adapts a collaborator call into a step function.
func bind[I, O any](
	c Components,
	component string,
	call func(ctx context.Context, req I) (O, error),
	decode func(a *args) I,
	encode func(out O) dag.Values,
) dag.StepFunc {
	return bindProvider(c, provider.Func(component, call), decode, encode)
}

// bindProvider wraps p with tracing, logging, metrics and the configured
// resilience policies, and exposes it as a step function.
func bindProvider[I, O any](
	c Components,
	p provider.RequestResponse[I, O],
	decode func(a *args) I,
	encode func(out O) dag.Values,
) dag.StepFunc {
	mw := []provider.Middleware[I, O]{provider.WithTracing[I, O](PipelineName)}
	if c.Log != nil {
		mw = append(mw, provider.WithLogging[I, O](c.Log))
	}
	if c.Metrics != nil {
		mw = append(mw, provider.WithMetrics[I, O](c.Metrics))
	}
	mw = append(mw, provider.Resilient[I, O](c.Resilience.WithoutRetry()))

	return dag.FromProvider(dag.ProviderStep[I, O]{
		Service: provider.Chain(mw...)(p),
		Decode: func(in dag.Values) (I, error) {
			a := &args{in: in}
			req := decode(a)
			return req, a.err
		},
		Encode: encode,
	})
}

type stepSet struct {
	c Components
}

// Functions returns the step function of every component.
func Functions(c Components) map[string]dag.StepFunc {
	s := stepSet{c: c}
	return map[string]dag.StepFunc{
		ComponentQueryToTable:   s.queryToTable(),
		ComponentExtractTable:   s.extractTable(),
		ComponentGenerateStats:  s.generateStatistics(),
		ComponentVisualiseStats: s.visualiseStatistics(),
		ComponentValidateSkew:   s.validateSkew(),
		ComponentShowAnomalies:  s.showAnomalies(),
		ComponentLookupModel:    s.lookupModel(),
		ComponentBatchPredict:   s.batchPredict(),
		ComponentLoadDataset:    s.loadDataset(),
	}
}

// Register adds every component of the pipeline to reg.
func Register(reg *dag.Registry, c Components) {
	for name, fn := range Functions(c) {
		reg.Register(name, fn)
	}
}

// ingestRequest is a query job whose SQL is rendered when the step runs, so
// the ingestion window follows the parameters of the run.
type ingestRequest struct {
	Job    warehouse.QueryJob
	Source query.IngestParams
}

func (s stepSet) queryToTable() dag.StepFunc {
	return bind(s.c, ComponentQueryToTable,
		func(ctx context.Context, req ingestRequest) (warehouse.TableRef, error) {
			if s.c.Warehouse == nil {
				return warehouse.TableRef{}, unconfigured("warehouse")
			}
			queries, err := s.c.queries()
			if err != nil {
				return warehouse.TableRef{}, err
			}
			if req.Job.Query, err = queries.RenderIngest(req.Source); err != nil {
				return warehouse.TableRef{}, err
			}
			return s.c.Warehouse.QueryToTable(ctx, req.Job)
		},
		func(a *args) ingestRequest {
			req := ingestRequest{
				Job: warehouse.QueryJob{
					Destination: a.table("project_id", "dataset_id", "table_id"),
					Location:    a.str("dataset_location"),
				},
			}
			if d, err := warehouse.ParseWriteDisposition(a.str("write_disposition")); err != nil && a.err == nil {
				a.err = err
			} else {
				req.Job.WriteDisposition = d
			}
			ts, err := NormalizeTimestamp(a.str("timestamp"))
			if err != nil && a.err == nil {
				a.err = err
			}
			req.Source = IngestSource(a.str("ingestion_project_id"), a.str("ingestion_dataset_id"), ts)
			return req
		},
		func(t warehouse.TableRef) dag.Values { return dag.Values{"table": t.ID()} },
	)
}

func (s stepSet) extractTable() dag.StepFunc {
	return bind(s.c, ComponentExtractTable,
		func(ctx context.Context, job warehouse.ExtractJob) (warehouse.Dataset, error) {
			if s.c.Warehouse == nil {
				return warehouse.Dataset{}, unconfigured("warehouse")
			}
			return s.c.Warehouse.ExtractTable(ctx, job)
		},
		func(a *args) warehouse.ExtractJob {
			job := warehouse.ExtractJob{
				Source:      a.table("project_id", "dataset_id", "table_name"),
				Location:    a.str("dataset_location"),
				FilePattern: a.str("file_pattern"),
				Destination: StagingPath(a.str("pipeline_files_gcs_path"), a.str("stage"), a.str("table_name")),
			}
			if f, err := warehouse.ParseFormat(a.str("destination_format")); err != nil && a.err == nil {
				a.err = err
			} else {
				job.Format = f
			}
			return job
		},
		func(d warehouse.Dataset) dag.Values {
			return dag.Values{"dataset": d.Prefix, "dataset_gcs_uri": d.URI, "dataset_gcs_prefix": d.Prefix}
		},
	)
}

func (s stepSet) generateStatistics() dag.StepFunc {
	return bind(s.c, ComponentGenerateStats,
		func(ctx context.Context, req stats.GenerateRequest) (stats.Artifact, error) {
			if s.c.Statistics == nil {
				return stats.Artifact{}, unconfigured("statistics engine")
			}
			return s.c.Statistics.Generate(ctx, req)
		},
		func(a *args) stats.GenerateRequest {
			return stats.GenerateRequest{
				Dataset:     a.str("dataset"),
				FilePattern: a.str("file_pattern"),
				Name:        a.str("statistics_name"),
				Output:      StagingPath(a.str("pipeline_files_gcs_path"), a.str("stage"), "statistics.json"),
			}
		},
		func(out stats.Artifact) dag.Values { return dag.Values{"statistics": out.URI} },
	)
}

func (s stepSet) visualiseStatistics() dag.StepFunc {
	return bind(s.c, ComponentVisualiseStats,
		func(ctx context.Context, req stats.VisualiseRequest) (stats.Artifact, error) {
			if s.c.Statistics == nil {
				return stats.Artifact{}, unconfigured("statistics engine")
			}
			return s.c.Statistics.Visualise(ctx, req)
		},
		func(a *args) stats.VisualiseRequest {
			return stats.VisualiseRequest{
				Statistics:          a.str("statistics"),
				StatisticsName:      a.str("statistics_name"),
				OtherStatistics:     a.str("other_statistics"),
				OtherStatisticsName: a.str("other_statistics_name"),
				Output:              StagingPath(a.str("pipeline_files_gcs_path"), a.str("stage"), "view.html"),
			}
		},
		func(out stats.Artifact) dag.Values { return dag.Values{"view": out.URI} },
	)
}

func (s stepSet) validateSkew() dag.StepFunc {
	return bind(s.c, ComponentValidateSkew,
		func(ctx context.Context, req skew.Request) (skew.Report, error) {
			if s.c.Skew == nil {
				return skew.Report{}, unconfigured("skew validator")
			}
			return s.c.Skew.Validate(ctx, req)
		},
		func(a *args) skew.Request {
			base := a.str("pipeline_files_gcs_path")
			return skew.Request{
				TrainingStatistics: a.str("training_statistics"),
				ServingStatistics:  a.str("serving_statistics"),
				Schema:             SchemaPath(base, a.str("schema_filename")),
				Environment:        a.str("environment"),
				Output:             StagingPath(base, a.str("stage"), "anomalies.json"),
			}
		},
		// The report is re-read by the gate so both steps see the persisted artifact.
		func(r skew.Report) dag.Values {
			return dag.Values{"anomalies": r.URI, "anomaly_count": r.Count()}
		},
	)
}

type gateRequest struct {
	Anomalies       string
	FailOnAnomalies bool
}

func (s stepSet) showAnomalies() dag.StepFunc {
	return bind(s.c, ComponentShowAnomalies,
		func(ctx context.Context, req gateRequest) (skew.Report, error) {
			if s.c.Skew == nil {
				return skew.Report{}, unconfigured("skew validator")
			}
			report, err := s.c.Skew.ReadReport(ctx, req.Anomalies)
			if err != nil {
				return skew.Report{}, err
			}
			return report, skew.Gate(report, req.FailOnAnomalies)
		},
		func(a *args) gateRequest {
			return gateRequest{Anomalies: a.str("anomalies"), FailOnAnomalies: a.flag("fail_on_anomalies")}
		},
		func(r skew.Report) dag.Values {
			return dag.Values{"anomaly_count": r.Count(), "features": r.Features()}
		},
	)
}

func (s stepSet) lookupModel() dag.StepFunc {
	lookup := provider.Func(ComponentLookupModel, func(ctx context.Context, q model.Query) (*model.Model, error) {
		if s.c.Models == nil {
			return nil, unconfigured("model registry")
		}
		return s.c.Models.Lookup(ctx, q)
	})
	// Downstream steps take the model by value; a missing model is the zero Model.
	champion := provider.Adapt(lookup, ComponentLookupModel,
		func(_ context.Context, q model.Query) (model.Query, error) { return q, nil },
		func(m *model.Model) (model.Model, error) {
			if m == nil {
				return model.Model{}, nil
			}
			return *m, nil
		},
	)
	return bindProvider(s.c, champion,
		func(a *args) model.Query {
			return model.Query{
				Project:        a.str("project_id"),
				Location:       a.str("project_location"),
				Name:           a.str("model_name"),
				Label:          a.str("model_label"),
				FailOnNotFound: a.flag("fail_on_model_not_found"),
			}
		},
		func(m model.Model) dag.Values { return dag.Values{"model": m} },
	)
}

func (s stepSet) batchPredict() dag.StepFunc {
	return bind(s.c, ComponentBatchPredict,
		func(ctx context.Context, job inference.Job) (inference.Result, error) {
			if s.c.Predictor == nil {
				return inference.Result{}, unconfigured("batch predictor")
			}
			return s.c.Predictor.Predict(ctx, job)
		},
		func(a *args) inference.Job {
			return inference.Job{
				DisplayName:       a.str("job_display_name"),
				Model:             get[model.Model](a, "model"),
				InstancesFormat:   a.str("instances_format"),
				PredictionsFormat: a.str("predictions_format"),
				SourceURIs:        a.str("gcs_source_uris"),
				DestinationPrefix: strings.TrimRight(a.str("gcs_destination_output_uri_prefix"), "/"),
				MachineType:       a.str("machine_type"),
				MinReplicas:       a.integer("starting_replica_count"),
				MaxReplicas:       a.integer("max_replica_count"),
			}
		},
		func(r inference.Result) dag.Values {
			return dag.Values{"batchpredictionjob": r.URIGlob, "output_directory": r.OutputDir, "instances": r.Instances}
		},
	)
}

func (s stepSet) loadDataset() dag.StepFunc {
	return bind(s.c, ComponentLoadDataset,
		func(ctx context.Context, job warehouse.LoadJob) (warehouse.TableRef, error) {
			if s.c.Warehouse == nil {
				return warehouse.TableRef{}, unconfigured("warehouse")
			}
			return s.c.Warehouse.LoadDataset(ctx, job)
		},
		func(a *args) warehouse.LoadJob {
			job := warehouse.LoadJob{
				Source:      a.str("dataset"),
				Destination: a.table("project_id", "dataset_id", "table_name"),
				Location:    a.str("dataset_location"),
			}
			if d, err := warehouse.ParseWriteDisposition(a.str("write_disposition")); err != nil && a.err == nil {
				a.err = err
			} else {
				job.WriteDisposition = d
			}
			return job
		},
		func(t warehouse.TableRef) dag.Values { return dag.Values{"table": t.ID()} },
	)
}
