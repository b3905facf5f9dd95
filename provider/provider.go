package provider

import "context"

// Provider is anything a step can probe before calling it.
type Provider interface {
	Name() string
	IsAvailable(ctx context.Context) bool
}

// RequestResponse is a collaborator taking one request and returning one
// response: a warehouse job, a storage write, a model lookup, a batch
// prediction job.
type RequestResponse[I, O any] interface {
	Provider
	Execute(ctx context.Context, input I) (O, error)
}

// Middleware wraps a provider.
type Middleware[I, O any] func(RequestResponse[I, O]) RequestResponse[I, O]

// Chain composes middlewares so that the first one is outermost:
// Chain(a, b)(p) is a(b(p)).
func Chain[I, O any](mws ...Middleware[I, O]) Middleware[I, O] {
	return func(p RequestResponse[I, O]) RequestResponse[I, O] {
		for i := range mws {
			p = mws[len(mws)-1-i](p)
		}
		return p
	}
}

// Func turns fn into an always available provider.
func Func[I, O any](name string, fn func(ctx context.Context, input I) (O, error)) RequestResponse[I, O] {
	return &funcProvider[I, O]{name: name, fn: fn}
}

type funcProvider[I, O any] struct {
	name string
	fn   func(context.Context, I) (O, error)
}

func (f *funcProvider[I, O]) Name() string                     { return f.name }
func (f *funcProvider[I, O]) IsAvailable(context.Context) bool { return true }
func (f *funcProvider[I, O]) Execute(ctx context.Context, in I) (O, error) {
	return f.fn(ctx, in)
}

// Adapt exposes a provider of [BI, BO] as a provider of [I, O] named name.
// mapIn builds the backend request and mapOut converts its response.
func Adapt[I, O, BI, BO any](
	inner RequestResponse[BI, BO],
	name string,
	mapIn func(ctx context.Context, input I) (BI, error),
	mapOut func(output BO) (O, error),
) RequestResponse[I, O] {
	call := func(ctx context.Context, in I) (O, error) {
		var zero O
		req, err := mapIn(ctx, in)
		if err != nil {
			return zero, err
		}
		resp, err := inner.Execute(ctx, req)
		if err != nil {
			return zero, err
		}
		return mapOut(resp)
	}
	return &decorated[I, O]{
		RequestResponse: &funcProvider[I, O]{name: name, fn: call},
		probe:           inner.IsAvailable,
	}
}

// decorated keeps the name of the wrapped provider and replaces Execute
// and, when probe is set, IsAvailable.
type decorated[I, O any] struct {
	RequestResponse[I, O]
	exec  func(ctx context.Context, input I) (O, error)
	probe func(ctx context.Context) bool
}

func (d *decorated[I, O]) Execute(ctx context.Context, in I) (O, error) {
	if d.exec == nil {
		return d.RequestResponse.Execute(ctx, in)
	}
	return d.exec(ctx, in)
}

func (d *decorated[I, O]) IsAvailable(ctx context.Context) bool {
	if d.probe == nil {
		return d.RequestResponse.IsAvailable(ctx)
	}
	return d.probe(ctx)
}

// around builds a middleware from a function that receives the inner
// provider with each call.
func around[I, O any](fn func(ctx context.Context, inner RequestResponse[I, O], in I) (O, error)) Middleware[I, O] {
	return func(inner RequestResponse[I, O]) RequestResponse[I, O] {
		return &decorated[I, O]{
			RequestResponse: inner,
			exec: func(ctx context.Context, in I) (O, error) {
				return fn(ctx, inner, in)
			},
		}
	}
}
