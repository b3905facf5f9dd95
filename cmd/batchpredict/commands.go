package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kbukum/batchpredict/compiler"
	"github.com/kbukum/batchpredict/dag"
	"github.com/kbukum/batchpredict/database"
	"github.com/kbukum/batchpredict/database/query"
	"github.com/kbukum/batchpredict/errors"
	"github.com/kbukum/batchpredict/history"
	"github.com/kbukum/batchpredict/logger"
	"github.com/kbukum/batchpredict/observability"
	"github.com/kbukum/batchpredict/pipelines/prediction"
	"github.com/kbukum/batchpredict/storage"
	"github.com/kbukum/batchpredict/version"
)

func newLogger(cfg *AppConfig) *logger.Logger {
	logger.Init(cfg.Logging)
	return logger.New(&cfg.Logging, cfg.Name)
}

func compileCmd(opts *rootOptions) *cobra.Command {
	var output, publish string
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile the pipeline definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return compileDefinition(cmd, opts, output, publish)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", compiler.DefaultOutput, "definition file to write (.json or .yaml)")
	cmd.Flags().StringVar(&publish, "publish", "", "also upload the definition to this storage URI")
	return cmd
}

func compileDefinition(cmd *cobra.Command, opts *rootOptions, output, publish string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	if !cmd.Flags().Changed("output") && cfg.Output != "" {
		output = cfg.Output
	}
	if publish == "" {
		publish = cfg.PublishURI
	}

	g, err := prediction.Build(cfg.Pipeline, prediction.Components{}, log)
	if err != nil {
		return err
	}
	spec, err := compiler.Compile(g, output)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "compiled %s (%d steps) to %s\n", spec.Pipeline, len(spec.Steps), output)

	if publish == "" {
		return nil
	}
	store, err := storage.NewResolver(cfg.Storage, log)
	if err != nil {
		return err
	}
	if err := compiler.Publish(cmd.Context(), store, output, publish, cfg.Publish); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published %s to %s\n", output, publish)
	return nil
}

// loadGraph builds the pipeline from the configuration, or rebuilds it from
// a compiled definition when specPath is set. Overrides are only returned
// for compiled definitions; otherwise --set is already part of cfg.
func loadGraph(opts *rootOptions, cfg *AppConfig, specPath string, c prediction.Components, log *logger.Logger) (*dag.Graph, map[string]any, error) {
	if specPath == "" {
		g, err := prediction.Build(cfg.Pipeline, c, log)
		return g, nil, err
	}
	spec, err := compiler.Load(specPath)
	if err != nil {
		return nil, nil, err
	}
	reg := dag.NewRegistry()
	prediction.Register(reg, c)
	g, err := spec.Graph(reg)
	if err != nil {
		return nil, nil, err
	}
	overrides, err := paramOverrides(g, opts.sets)
	if err != nil {
		return nil, nil, err
	}
	return g, overrides, nil
}

func graphCmd(opts *rootOptions) *cobra.Command {
	var specPath string
	var levels bool
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the pipeline graph in Graphviz DOT format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			g, _, err := loadGraph(opts, cfg, specPath, prediction.Components{}, newLogger(cfg))
			if err != nil {
				return err
			}
			if levels {
				return printLevels(cmd.OutOrStdout(), g)
			}
			return dag.WriteDOT(g, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&specPath, "spec", "", "compiled definition to draw instead of building from config")
	cmd.Flags().BoolVar(&levels, "levels", false, "print execution levels instead of DOT")
	return cmd
}

func printLevels(w io.Writer, g *dag.Graph) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LEVEL\tSTEPS")
	for i, level := range g.Levels() {
		fmt.Fprintf(tw, "%d\t%s\n", i, strings.Join(level, ", "))
	}
	return tw.Flush()
}

func runCmd(opts *rootOptions) *cobra.Command {
	var specPath string
	var asJSON bool
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline against the configured backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return runPipeline(ctx, cmd.OutOrStdout(), opts, specPath, asJSON)
		},
	}
	cmd.Flags().StringVar(&specPath, "spec", "", "compiled definition to run instead of building from config")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run result as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "cancel the run after this long (0 = no limit)")
	return cmd
}

func runPipeline(ctx context.Context, out io.Writer, opts *rootOptions, specPath string, asJSON bool) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	shutdown, err := observability.Setup(ctx, cfg.Observability, cfg.Name, version.Version, cfg.Environment)
	if err != nil {
		return err
	}
	defer func() {
		if serr := shutdown(context.WithoutCancel(ctx)); serr != nil {
			log.Warn("observability shutdown failed", logger.ErrorFields("shutdown", serr))
		}
	}()

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := b.close(context.WithoutCancel(ctx)); cerr != nil {
			log.Warn("backend shutdown failed", logger.ErrorFields("stop", cerr))
		}
	}()

	metrics, err := observability.NewMetrics(observability.Meter(version.Program))
	if err != nil {
		return err
	}
	c := b.components
	c.Log, c.Metrics = log, metrics

	g, overrides, err := loadGraph(opts, cfg, specPath, c, log)
	if err != nil {
		return err
	}
	runID := uuid.NewString()
	rc := observability.NewRunContext(g.Name(), runID, metrics)
	ctx, span := rc.StartRun(ctx)

	engine := &dag.Engine{
		MaxParallel: cfg.Engine.MaxParallel,
		Middleware: []dag.Middleware{
			dag.WithTracing(version.Program),
			dag.WithMetrics(metrics),
			dag.WithLogging(log),
		},
		Log:      log,
		NewRunID: func() string { return runID },
	}
	res := engine.RunWithParams(ctx, g, overrides)
	rc.EndRun(ctx, span, string(res.Status), res.FailedStep, res.Err)

	if b.runs != nil {
		if rerr := b.runs.Record(context.WithoutCancel(ctx), res); rerr != nil {
			log.Warn("run not recorded", logger.ErrorFields("record", rerr))
		}
	}
	if err := printResult(out, g, res, asJSON); err != nil {
		return err
	}
	if !res.Succeeded() {
		return res.Err
	}
	return nil
}

func printResult(w io.Writer, g *dag.Graph, res *dag.RunResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(history.FromResult(res))
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tSTATUS\tDURATION\tERROR")
	for _, name := range g.TopologicalOrder() {
		st := res.Steps[name]
		msg := ""
		if st.Error != nil {
			msg = st.Error.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, st.Status, st.Duration.Round(time.Millisecond), msg)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "run %s %s in %s\n", res.RunID, res.Status, res.Duration.Round(time.Millisecond))
	return nil
}

func historyCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded pipeline runs",
	}
	cmd.AddCommand(historyListCmd(opts), historyShowCmd(opts))
	return cmd
}

// openHistory starts only the history database.
func openHistory(ctx context.Context, cfg *AppConfig, log *logger.Logger) (*history.Store, func(), error) {
	if !cfg.History.Enabled {
		return nil, nil, errors.ServiceUnavailable("history").WithDetail("reason", "history.enabled is false")
	}
	comp := database.NewComponent(cfg.History, log)
	if err := comp.Start(ctx); err != nil {
		return nil, nil, err
	}
	stop := func() {
		if err := comp.Stop(ctx); err != nil {
			log.Warn("history shutdown failed", logger.ErrorFields("stop", err))
		}
	}
	store, err := history.NewStore(ctx, comp.DB(), log)
	if err != nil {
		stop()
		return nil, nil, err
	}
	return store, stop, nil
}

func historyListCmd(opts *rootOptions) *cobra.Command {
	var q query.Options
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			store, stop, err := openHistory(cmd.Context(), cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			defer stop()

			res, err := store.List(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printRuns(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringArrayVar(&q.Filters, "filter", nil, `filter as field=op.value, e.g. status=eq.failed (repeatable)`)
	cmd.Flags().StringVar(&q.Search, "search", "", "search pipeline names and errors")
	cmd.Flags().StringVar(&q.SortBy, "sort", "", "sort by started_at, duration_ms or status")
	cmd.Flags().StringVar(&q.Order, "order", "", "asc or desc")
	cmd.Flags().IntVar(&q.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&q.Limit, "limit", 20, "page size (-1 = all)")
	return cmd
}

func printRuns(w io.Writer, res *query.Result[history.Run]) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tPIPELINE\tSTATUS\tFAILED STEP\tERROR CODE\tSTARTED\tDURATION")
	for _, r := range res.Data {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%dms\n",
			r.RunID, r.Pipeline, r.Status, r.FailedStep, r.ErrorCode,
			r.StartedAt.UTC().Format(time.DateTime), r.DurationMS)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	p := res.Pagination
	fmt.Fprintf(w, "page %d/%d, %d runs", p.Page, max(p.TotalPages, 1), p.Total)
	if counts := res.Facets["status"]; len(counts) > 0 {
		parts := make([]string, 0, len(counts))
		for _, s := range []dag.RunStatus{dag.RunSucceeded, dag.RunFailed} {
			if n, ok := counts[string(s)]; ok {
				parts = append(parts, fmt.Sprintf("%s=%d", s, n))
			}
		}
		fmt.Fprintf(w, " (%s)", strings.Join(parts, " "))
	}
	fmt.Fprintln(w)
	return nil
}

func historyShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one recorded run with its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			store, stop, err := openHistory(cmd.Context(), cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			defer stop()

			run, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(run)
		},
	}
}

func versionCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(version.Get())
			}
			fmt.Fprintln(cmd.OutOrStdout(), version.Get())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
