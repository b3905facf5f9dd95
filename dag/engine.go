package dag

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kbukum/batchpredict/errors"
	"github.com/kbukum/batchpredict/logger"
)

// Middleware decorates the function of a step.
type Middleware func(step Step, next StepFunc) StepFunc

// Engine executes a graph in dependency order.
type Engine struct {
	// MaxParallel limits concurrent steps per level (0 = unlimited).
	MaxParallel int
	// Middleware is applied to every step, first entry outermost.
	Middleware []Middleware
	// Log receives run lifecycle events. Nil disables logging.
	Log *logger.Logger
	// NewRunID generates run identifiers. Nil uses random UUIDs.
	NewRunID func() string
}

// Run executes g with the parameter defaults declared at build time.
func (e *Engine) Run(ctx context.Context, g *Graph) *RunResult {
	return e.RunWithParams(ctx, g, nil)
}

// RunWithParams executes g with parameter overrides. Overrides are checked
// against the declared kinds before any step is scheduled.
func (e *Engine) RunWithParams(ctx context.Context, g *Graph, overrides map[string]any) *RunResult {
	result := &RunResult{
		RunID:     e.runID(),
		Pipeline:  g.Name(),
		Steps:     make(map[string]StepResult, len(g.order)),
		StartedAt: time.Now(),
	}
	result.transition(RunBuilt)

	log := e.log().WithFields(logger.Fields(logger.FieldPipeline, g.Name(), logger.FieldRunID, result.RunID))
	ctx = logger.ContextWithRun(ctx, g.Name(), result.RunID)

	params, err := resolveParams(g.params, overrides)
	if err != nil {
		e.finish(result, g, "", err)
		log.Error("run rejected", logger.ErrorFields("resolve_params", err))
		return result
	}

	result.transition(RunRunning)
	log.Info("run started", logger.Fields("steps", len(g.order), "levels", len(g.levels)))

	state := NewState(params)
	for _, level := range g.levels {
		if err := ctx.Err(); err != nil {
			e.finish(result, g, "", errors.Timeout("run").WithCause(err))
			break
		}
		if failed, err := e.runLevel(ctx, g, state, level, result); err != nil {
			e.finish(result, g, failed, err)
			break
		}
	}

	if result.Status == RunRunning {
		e.finish(result, g, "", nil)
		log.Info("run succeeded", logger.Fields(logger.FieldDuration, result.Duration.Milliseconds()))
	} else {
		log.Error("run failed", logger.Fields(
			logger.FieldStep, result.FailedStep,
			logger.FieldError, result.Err.Error(),
			logger.FieldDuration, result.Duration.Milliseconds(),
		))
	}
	return result
}

// runLevel executes one level concurrently and returns the first unmasked failure.
func (e *Engine) runLevel(ctx context.Context, g *Graph, state *State, level []string, result *RunResult) (string, error) {
	var (
		mu         sync.Mutex
		failedStep string
	)

	eg, egctx := errgroup.WithContext(ctx)
	if e.MaxParallel > 0 {
		eg.SetLimit(e.MaxParallel)
	}

	for _, name := range level {
		eg.Go(func() error {
			sr := e.runStep(egctx, g, state, name)
			mu.Lock()
			result.Steps[name] = sr
			if sr.Status == StepFailed && !g.steps[name].MaskFailure && failedStep == "" {
				failedStep = name
			}
			mu.Unlock()

			if sr.Status == StepFailed && g.steps[name].MaskFailure {
				e.log().Warn("masked step failure", logger.StepFields(name, sr.Duration, sr.Error))
				return nil
			}
			return sr.Error
		})
	}

	if err := eg.Wait(); err != nil {
		if failedStep == "" {
			return "", errors.Timeout("run").WithCause(err)
		}
		return failedStep, result.Steps[failedStep].Error
	}
	return "", nil
}

func (e *Engine) runStep(ctx context.Context, g *Graph, state *State, name string) StepResult {
	st := g.steps[name]
	if ctx.Err() != nil {
		return StepResult{Name: name, Status: StepCanceled, Error: ctx.Err()}
	}

	start := time.Now()
	in, err := state.resolve(st)
	if err != nil {
		return StepResult{Name: name, Status: StepFailed, Error: errors.StepFailed(name, err)}
	}

	fn := st.fn
	for i := len(e.Middleware) - 1; i >= 0; i-- {
		fn = e.Middleware[i](st.clone(), fn)
	}

	out, err := fn(logger.ContextWithStep(ctx, name), in)
	duration := time.Since(start)
	if err == nil {
		out, err = declaredOutputs(st, out)
	}
	if err != nil {
		if stderrors.Is(err, context.Canceled) && ctx.Err() != nil {
			return StepResult{Name: name, Status: StepCanceled, Duration: duration, Error: err}
		}
		return StepResult{Name: name, Status: StepFailed, Duration: duration, Error: errors.StepFailed(name, err)}
	}

	state.setOutputs(name, out)
	return StepResult{Name: name, Status: StepCompleted, Duration: duration, Outputs: out}
}

// finish closes the run. Steps that never produced a result are reported not scheduled.
func (e *Engine) finish(result *RunResult, g *Graph, failedStep string, err error) {
	for _, name := range g.order {
		if _, ok := result.Steps[name]; !ok {
			result.Steps[name] = StepResult{Name: name, Status: StepNotScheduled}
		}
	}
	result.Duration = time.Since(result.StartedAt)
	if err != nil {
		result.FailedStep = failedStep
		result.Err = err
		result.transition(RunFailed)
		return
	}
	result.transition(RunSucceeded)
}

func (e *Engine) runID() string {
	if e.NewRunID != nil {
		return e.NewRunID()
	}
	return uuid.NewString()
}

func (e *Engine) log() *logger.Logger {
	if e.Log == nil {
		return logger.Nop()
	}
	return e.Log
}

func declaredOutputs(st *Step, out Values) (Values, error) {
	kept := make(Values, len(st.Outputs))
	for _, name := range st.Outputs {
		v, ok := out[name]
		if !ok {
			return nil, fmt.Errorf("output %q was not produced", name)
		}
		kept[name] = v
	}
	return kept, nil
}

func resolveParams(declared []Param, overrides map[string]any) (map[string]any, error) {
	params := make(map[string]any, len(declared))
	kinds := make(map[string]ParamKind, len(declared))
	for _, p := range declared {
		params[p.Name] = p.Default
		kinds[p.Name] = p.Kind
	}
	for _, name := range sortedKeys(overrides) {
		kind, ok := kinds[name]
		if !ok {
			return nil, errors.InvalidInput(name, fmt.Sprintf("unknown parameter %q", name))
		}
		if err := checkKind(kind, overrides[name]); err != nil {
			return nil, errors.InvalidInput(name, err.Error())
		}
		params[name] = overrides[name]
	}
	return params, nil
}
