package dag

import (
	"context"

	"github.com/kbukum/batchpredict/provider"
)

// StepFunc is the execution unit of a step: resolved inputs in, named outputs out.
type StepFunc func(ctx context.Context, in Values) (Values, error)

// ProviderStep configures a provider-backed step.
type ProviderStep[I, O any] struct {
	// Service is the provider to execute.
	Service provider.RequestResponse[I, O]
	// Decode builds the request from resolved inputs.
	Decode func(in Values) (I, error)
	// Encode maps the response to named outputs.
	Encode func(out O) Values
}

// FromProvider bridges a provider.RequestResponse[I,O] into a StepFunc.
func FromProvider[I, O any](cfg ProviderStep[I, O]) StepFunc {
	return func(ctx context.Context, in Values) (Values, error) {
		req, err := cfg.Decode(in)
		if err != nil {
			return nil, err
		}
		resp, err := cfg.Service.Execute(ctx, req)
		if err != nil {
			return nil, err
		}
		if cfg.Encode == nil {
			return Values{}, nil
		}
		return cfg.Encode(resp), nil
	}
}
