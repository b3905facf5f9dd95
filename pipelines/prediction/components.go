package prediction

import (
	"context"

	"github.com/kbukum/batchpredict/components/inference"
	"github.com/kbukum/batchpredict/components/model"
	"github.com/kbukum/batchpredict/components/query"
	"github.com/kbukum/batchpredict/components/skew"
	"github.com/kbukum/batchpredict/components/stats"
	"github.com/kbukum/batchpredict/components/warehouse"
	"github.com/kbukum/batchpredict/errors"
	"github.com/kbukum/batchpredict/logger"
	"github.com/kbukum/batchpredict/observability"
	"github.com/kbukum/batchpredict/provider"
)

// QueryRenderer renders the ingestion query.
type QueryRenderer interface {
	RenderIngest(p query.IngestParams) (string, error)
}

// StatisticsEngine generates and renders dataset statistics.
type StatisticsEngine interface {
	Generate(ctx context.Context, req stats.GenerateRequest) (stats.Artifact, error)
	Visualise(ctx context.Context, req stats.VisualiseRequest) (stats.Artifact, error)
}

// SkewValidator compares serving statistics with training statistics.
type SkewValidator interface {
	Validate(ctx context.Context, req skew.Request) (skew.Report, error)
	ReadReport(ctx context.Context, uri string) (skew.Report, error)
}

// ModelResolver finds the champion model.
type ModelResolver interface {
	Lookup(ctx context.Context, q model.Query) (*model.Model, error)
}

// BatchPredictor scores instance files with a model.
type BatchPredictor interface {
	Predict(ctx context.Context, job inference.Job) (inference.Result, error)
}

// Components bundles the collaborators the steps call. A nil collaborator
// is allowed for compiling and drawing the graph; its steps fail when run.
type Components struct {
	Queries    QueryRenderer
	Warehouse  warehouse.Warehouse
	Statistics StatisticsEngine
	Skew       SkewValidator
	Models     ModelResolver
	Predictor  BatchPredictor
	// Resilience guards every collaborator call. Retry is always dropped.
	Resilience provider.ResilienceConfig
	// Log and Metrics, when set, record every collaborator call.
	Log     *logger.Logger
	Metrics *observability.Metrics
}

func (c Components) queries() (QueryRenderer, error) {
	if c.Queries != nil {
		return c.Queries, nil
	}
	t, err := query.New()
	if err != nil {
		return nil, err
	}
	return t, nil
}

func unconfigured(name string) error {
	return errors.ServiceUnavailable(name).WithDetail("reason", "not configured")
}
