package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/kbukum/batchpredict/components/model"
	"github.com/kbukum/batchpredict/errors"
	"github.com/kbukum/batchpredict/storage"
)

// FrameworkLinear serves LinearModel artifacts.
const FrameworkLinear = "linear"

// Scorer produces one prediction per instance.
type Scorer interface {
	Score(ctx context.Context, instance map[string]any) (any, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, instance map[string]any) (any, error)

// Score implements Scorer.
func (f ScorerFunc) Score(ctx context.Context, instance map[string]any) (any, error) {
	return f(ctx, instance)
}

// ScorerFactory loads the scorer serving a resolved model.
type ScorerFactory func(ctx context.Context, m model.Model) (Scorer, error)

// ByFramework dispatches to the factory registered for the model framework.
// An empty framework selects FrameworkLinear.
func ByFramework(factories map[string]ScorerFactory) ScorerFactory {
	return func(ctx context.Context, m model.Model) (Scorer, error) {
		framework := m.Framework
		if framework == "" {
			framework = FrameworkLinear
		}
		f, ok := factories[framework]
		if !ok {
			return nil, errors.InvalidInput("framework", fmt.Sprintf("no scorer for framework %q", framework)).WithDetail("model", m.Key())
		}
		return f(ctx, m)
	}
}

// LinearModel is a linear regression over numeric features plus per-value
// offsets for categorical ones.
type LinearModel struct {
	Intercept   float64                       `json:"intercept"`
	Weights     map[string]float64            `json:"weights"`
	Categorical map[string]map[string]float64 `json:"categorical,omitempty"`
}

// Score implements Scorer. Missing or empty features contribute nothing.
func (l LinearModel) Score(_ context.Context, instance map[string]any) (any, error) {
	y := l.Intercept
	for name, w := range l.Weights {
		x, ok, err := number(instance[name])
		if err != nil {
			return nil, errors.InvalidInput(name, err.Error())
		}
		if ok {
			y += w * x
		}
	}
	for name, offsets := range l.Categorical {
		if v, ok := instance[name]; ok && v != nil {
			y += offsets[fmt.Sprint(v)]
		}
	}
	return y, nil
}

func number(v any) (float64, bool, error) {
	switch x := v.(type) {
	case nil:
		return 0, false, nil
	case float64:
		return x, true, nil
	case json.Number:
		f, err := x.Float64()
		return f, err == nil, err
	case string:
		if x == "" {
			return 0, false, nil
		}
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil, err
	case bool:
		if x {
			return 1, true, nil
		}
		return 0, true, nil
	default:
		return 0, false, fmt.Errorf("unsupported value %T", v)
	}
}

// LinearScorerFactory loads LinearModel artifacts from storage.
func LinearScorerFactory(store *storage.Resolver) ScorerFactory {
	return func(ctx context.Context, m model.Model) (Scorer, error) {
		if m.ArtifactURI == "" {
			return nil, errors.MissingField("artifact_uri").WithDetail("model", m.Key())
		}
		data, err := store.ReadAll(ctx, m.ArtifactURI)
		if err != nil {
			return nil, err
		}
		var lm LinearModel
		if err := json.Unmarshal(data, &lm); err != nil {
			return nil, errors.InvalidFormat("model", "linear model JSON").WithCause(err).WithDetail("uri", m.ArtifactURI)
		}
		return lm, nil
	}
}
