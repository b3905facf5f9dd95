package stats

import (
	"bytes"
	"context"
	"embed"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"slices"
	"sort"
	"time"

	"github.com/kbukum/batchpredict/errors"
	"github.com/kbukum/batchpredict/logger"
	"github.com/kbukum/batchpredict/storage"
)

//go:embed templates/*.html.tmpl
var templates embed.FS

var compareTemplate = template.Must(template.New("compare.html.tmpl").Funcs(template.FuncMap{
	"pct":   func(f float64) string { return fmt.Sprintf("%.1f%%", f*100) },
	"float": func(f float64) string { return fmt.Sprintf("%.4g", f) },
	"top":   topValues,
	"missingShare": func(f *FeatureStats) float64 {
		return 1 - f.PresenceFraction()
	},
}).ParseFS(templates, "templates/compare.html.tmpl"))

// Artifact points at an output written to storage.
type Artifact struct {
	URI string `json:"uri"`
}

// GenerateRequest describes a statistics run over CSV shards.
type GenerateRequest struct {
	// Dataset is the URI prefix of the exported shards.
	Dataset string
	// FilePattern selects shards below Dataset; empty selects every file.
	FilePattern string
	// Output is where the JSON summary is written.
	Output string
	// Name labels the summary.
	Name string
}

// VisualiseRequest compares two summaries.
type VisualiseRequest struct {
	Statistics     string
	StatisticsName string
	// OtherStatistics may be empty, in which case only one summary is shown.
	OtherStatistics     string
	OtherStatisticsName string
	Output              string
}

// Engine reads datasets from and writes artifacts to object storage.
type Engine struct {
	store *storage.Resolver
	log   *logger.Logger
}

// NewEngine creates a statistics engine.
func NewEngine(store *storage.Resolver, log *logger.Logger) *Engine {
	return &Engine{store: store, log: log.WithComponent("stats")}
}

// Generate summarises every CSV shard of the dataset and writes the summary to req.Output.
func (e *Engine) Generate(ctx context.Context, req GenerateRequest) (Artifact, error) {
	if req.Dataset == "" {
		return Artifact{}, errors.MissingField("dataset")
	}
	if req.Output == "" {
		return Artifact{}, errors.MissingField("output")
	}

	pattern := req.Dataset
	if req.FilePattern != "" {
		pattern = storage.Join(req.Dataset, req.FilePattern)
	}
	uris, err := e.store.Glob(ctx, pattern)
	if err != nil {
		return Artifact{}, err
	}
	if len(uris) == 0 {
		return Artifact{}, errors.NotFound("dataset", pattern)
	}

	start := time.Now()
	var sum *Summarizer
	for _, uri := range uris {
		if sum, err = e.addShard(ctx, sum, uri); err != nil {
			return Artifact{}, err
		}
	}
	if sum == nil {
		return Artifact{}, errors.InvalidFormat("dataset", "CSV with a header row").WithDetail("uri", pattern)
	}
	stats := sum.Statistics(req.Name)

	raw, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return Artifact{}, errors.Internal(err)
	}
	if err := e.store.WriteBytes(ctx, req.Output, raw); err != nil {
		return Artifact{}, err
	}

	e.log.WithContext(ctx).Info("statistics generated", logger.Fields(
		logger.FieldURI, req.Output,
		"shards", len(uris),
		"examples", stats.NumExamples,
		"features", len(stats.Features),
		logger.FieldDuration, time.Since(start).Milliseconds(),
	))
	return Artifact{URI: req.Output}, nil
}

func (e *Engine) addShard(ctx context.Context, sum *Summarizer, uri string) (*Summarizer, error) {
	rc, err := e.store.Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return sum, nil
	}
	if err != nil {
		return nil, errors.InvalidFormat("dataset", "CSV with a header row").WithCause(err).WithDetail("uri", uri)
	}
	switch {
	case sum == nil:
		sum = NewSummarizer(header)
	case !slices.Equal(sum.Header(), header):
		return nil, errors.InvalidFormat("dataset", "shards with identical headers").WithDetail("uri", uri)
	}

	for {
		record, err := r.Read()
		if err == io.EOF {
			return sum, nil
		}
		if err != nil {
			return nil, errors.InvalidFormat("dataset", "CSV").WithCause(err).WithDetail("uri", uri)
		}
		sum.Add(record)
	}
}

// Visualise renders an HTML comparison of two summaries to req.Output.
func (e *Engine) Visualise(ctx context.Context, req VisualiseRequest) (Artifact, error) {
	if req.Statistics == "" {
		return Artifact{}, errors.MissingField("statistics")
	}
	if req.Output == "" {
		return Artifact{}, errors.MissingField("output")
	}

	lhs, err := Read(ctx, e.store, req.Statistics)
	if err != nil {
		return Artifact{}, err
	}
	view := comparison{Title: req.StatisticsName, Left: side{Name: req.StatisticsName, Examples: lhs.NumExamples}}
	var rhs Statistics
	if req.OtherStatistics != "" {
		if rhs, err = Read(ctx, e.store, req.OtherStatistics); err != nil {
			return Artifact{}, err
		}
		view.Right = &side{Name: req.OtherStatisticsName, Examples: rhs.NumExamples}
		view.Title = req.StatisticsName + " vs " + req.OtherStatisticsName
	}
	view.Rows = compareRows(lhs, rhs, view.Right != nil)

	var buf bytes.Buffer
	if err := compareTemplate.Execute(&buf, view); err != nil {
		return Artifact{}, errors.TemplateError("compare.html.tmpl", err)
	}
	if err := e.store.WriteBytes(ctx, req.Output, buf.Bytes()); err != nil {
		return Artifact{}, err
	}

	e.log.WithContext(ctx).Info("statistics visualised", logger.Fields(logger.FieldURI, req.Output, "features", len(view.Rows)))
	return Artifact{URI: req.Output}, nil
}

type side struct {
	Name     string
	Examples int
}

type comparison struct {
	Title string
	Left  side
	Right *side
	Rows  []row
}

type row struct {
	Name  string
	Left  *FeatureStats
	Right *FeatureStats
}

func compareRows(lhs, rhs Statistics, withRight bool) []row {
	byName := make(map[string]*row)
	for i := range lhs.Features {
		f := &lhs.Features[i]
		byName[f.Name] = &row{Name: f.Name, Left: f}
	}
	if withRight {
		for i := range rhs.Features {
			f := &rhs.Features[i]
			if r, ok := byName[f.Name]; ok {
				r.Right = f
				continue
			}
			byName[f.Name] = &row{Name: f.Name, Right: f}
		}
	}
	rows := make([]row, 0, len(byName))
	for _, r := range byName {
		rows = append(rows, *r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows
}

type valueCount struct {
	Value string
	Count int
}

// topValues returns the n most frequent values, ties broken by value.
func topValues(f *FeatureStats, n int) []valueCount {
	out := make([]valueCount, 0, len(f.Values))
	for v, c := range f.Values {
		out = append(out, valueCount{Value: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
