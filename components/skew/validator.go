package skew

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/kbukum/batchpredict/components/stats"
	"github.com/kbukum/batchpredict/errors"
	"github.com/kbukum/batchpredict/logger"
	"github.com/kbukum/batchpredict/storage"
)

// EnvironmentServing is the evaluation environment of a prediction run.
const EnvironmentServing = "SERVING"

// AnomalyType classifies a detected anomaly.
type AnomalyType string

const (
	AnomalyMissingColumn  AnomalyType = "SCHEMA_MISSING_COLUMN"
	AnomalyNewColumn      AnomalyType = "SCHEMA_NEW_COLUMN"
	AnomalyLowPresence    AnomalyType = "FEATURE_TYPE_LOW_FRACTION_PRESENT"
	AnomalyUnexpectedType AnomalyType = "UNEXPECTED_DATA_TYPE"
	AnomalyInfinityNorm   AnomalyType = "COMPARATOR_L_INFTY_HIGH"
	AnomalyDivergence     AnomalyType = "COMPARATOR_JENSEN_SHANNON_DIVERGENCE_HIGH"
)

// Anomaly is one finding for one feature.
type Anomaly struct {
	Feature     string      `json:"feature"`
	Type        AnomalyType `json:"type"`
	Description string      `json:"description"`
	Value       float64     `json:"value,omitempty"`
	Threshold   float64     `json:"threshold,omitempty"`
}

// Report is the outcome of a skew validation.
type Report struct {
	Environment string    `json:"environment"`
	Anomalies   []Anomaly `json:"anomalies"`
	// URI is where the report was stored. Not serialised.
	URI string `json:"-"`
}

// Count returns the number of anomalies.
func (r Report) Count() int { return len(r.Anomalies) }

// Features returns the distinct anomalous feature names, sorted.
func (r Report) Features() []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range r.Anomalies {
		if !seen[a.Feature] {
			seen[a.Feature] = true
			out = append(out, a.Feature)
		}
	}
	sort.Strings(out)
	return out
}

// Request names the inputs and output of a validation.
type Request struct {
	TrainingStatistics string
	ServingStatistics  string
	Schema             string
	Environment        string
	// Output is where the JSON report is written.
	Output string
}

// Validator loads statistics and schemas from storage and writes reports back.
type Validator struct {
	store *storage.Resolver
	log   *logger.Logger
}

// NewValidator creates a Validator.
func NewValidator(store *storage.Resolver, log *logger.Logger) *Validator {
	return &Validator{store: store, log: log.WithComponent("skew")}
}

// Validate compares serving against training statistics and stores the report at req.Output.
func (v *Validator) Validate(ctx context.Context, req Request) (Report, error) {
	for _, f := range [][2]string{
		{"training_statistics_path", req.TrainingStatistics},
		{"serving_statistics", req.ServingStatistics},
		{"schema_path", req.Schema},
		{"output", req.Output},
	} {
		if f[1] == "" {
			return Report{}, errors.MissingField(f[0])
		}
	}
	env := req.Environment
	if env == "" {
		env = EnvironmentServing
	}

	schema, err := LoadSchema(ctx, v.store, req.Schema)
	if err != nil {
		return Report{}, err
	}
	training, err := stats.Read(ctx, v.store, req.TrainingStatistics)
	if err != nil {
		return Report{}, err
	}
	serving, err := stats.Read(ctx, v.store, req.ServingStatistics)
	if err != nil {
		return Report{}, err
	}

	report := Report{Environment: env, Anomalies: Detect(schema, training, serving, env)}
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return Report{}, errors.Internal(err)
	}
	if err := v.store.WriteBytes(ctx, req.Output, raw); err != nil {
		return Report{}, err
	}
	report.URI = req.Output

	v.log.WithContext(ctx).Info("skew validated", logger.Fields(
		logger.FieldURI, req.Output,
		"environment", env,
		"anomalies", report.Count(),
	))
	return report, nil
}

// ReadReport loads a report written by Validate.
func (v *Validator) ReadReport(ctx context.Context, uri string) (Report, error) {
	data, err := v.store.ReadAll(ctx, uri)
	if err != nil {
		return Report{}, err
	}
	r := Report{URI: uri}
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, errors.InvalidFormat("anomalies", "JSON anomaly report").WithCause(err).WithDetail("uri", uri)
	}
	return r, nil
}

// Detect returns the anomalies of serving against training under schema for env.
func Detect(schema Schema, training, serving stats.Statistics, env string) []Anomaly {
	anomalies := make([]Anomaly, 0)
	declared := make(map[string]bool, len(schema.Features))

	for _, f := range schema.Features {
		declared[f.Name] = true
		if !f.AppliesTo(env, schema.DefaultEnvironment) {
			continue
		}
		sf, ok := serving.Feature(f.Name)
		if !ok {
			anomalies = append(anomalies, Anomaly{
				Feature: f.Name, Type: AnomalyMissingColumn,
				Description: "Column is missing from the serving data.",
			})
			continue
		}
		if f.Presence != nil && sf.Count > 0 && sf.PresenceFraction() < f.Presence.MinFraction {
			anomalies = append(anomalies, Anomaly{
				Feature: f.Name, Type: AnomalyLowPresence,
				Description: fmt.Sprintf("Present in %.2f%% of examples.", sf.PresenceFraction()*100),
				Value:       sf.PresenceFraction(), Threshold: f.Presence.MinFraction,
			})
		}
		// A column without values has no type or distribution to check.
		if sf.Present() == 0 {
			continue
		}
		if f.Numeric() && sf.Type == stats.TypeString {
			anomalies = append(anomalies, Anomaly{
				Feature: f.Name, Type: AnomalyUnexpectedType,
				Description: fmt.Sprintf("Expected %s values, found strings.", f.Type),
			})
			continue
		}
		if f.SkewComparator == nil {
			continue
		}
		tf, ok := training.Feature(f.Name)
		if !ok {
			continue
		}
		if a, ok := compare(f, tf, sf); ok {
			anomalies = append(anomalies, a)
		}
	}

	if len(declared) > 0 {
		for _, sf := range serving.Features {
			if !declared[sf.Name] {
				anomalies = append(anomalies, Anomaly{
					Feature: sf.Name, Type: AnomalyNewColumn,
					Description: "Column is not declared in the schema.",
				})
			}
		}
	}

	sort.SliceStable(anomalies, func(i, j int) bool {
		if anomalies[i].Feature != anomalies[j].Feature {
			return anomalies[i].Feature < anomalies[j].Feature
		}
		return anomalies[i].Type < anomalies[j].Type
	})
	return anomalies
}

func compare(f Feature, training, serving stats.FeatureStats) (Anomaly, bool) {
	c := f.SkewComparator
	switch {
	case c.InfinityNorm != nil && serving.Type == stats.TypeString:
		d := InfinityNorm(training.Distribution(), serving.Distribution())
		if d > c.InfinityNorm.Threshold {
			return Anomaly{
				Feature: f.Name, Type: AnomalyInfinityNorm,
				Description: fmt.Sprintf("L-infinity distance between training and serving is %.4g.", d),
				Value:       d, Threshold: c.InfinityNorm.Threshold,
			}, true
		}
	case c.JensenShannonDivergence != nil && serving.Type == stats.TypeFloat && training.Type == stats.TypeFloat:
		d := MeanShift(training, serving)
		if d > c.JensenShannonDivergence.Threshold {
			return Anomaly{
				Feature: f.Name, Type: AnomalyDivergence,
				Description: fmt.Sprintf("Normalised mean shift between training and serving is %.4g.", d),
				Value:       d, Threshold: c.JensenShannonDivergence.Threshold,
			}, true
		}
	}
	return Anomaly{}, false
}

// InfinityNorm is the largest absolute difference between two value distributions.
func InfinityNorm(p, q map[string]float64) float64 {
	d := 0.0
	for v, pv := range p {
		d = math.Max(d, math.Abs(pv-q[v]))
	}
	for v, qv := range q {
		if _, ok := p[v]; !ok {
			d = math.Max(d, qv)
		}
	}
	return d
}

// MeanShift is |mean_serving - mean_training| scaled by the training
// standard deviation, or by max(|mean_training|, 1) when that is zero.
func MeanShift(training, serving stats.FeatureStats) float64 {
	scale := training.StdDev
	if scale == 0 {
		scale = math.Max(math.Abs(training.Mean), 1)
	}
	return math.Abs(serving.Mean-training.Mean) / scale
}

// Gate halts a run when failOnAnomalies is set and the report has anomalies.
func Gate(report Report, failOnAnomalies bool) error {
	if !failOnAnomalies || report.Count() == 0 {
		return nil
	}
	return errors.AnomaliesDetected(report.Features()).WithDetail("environment", report.Environment)
}
