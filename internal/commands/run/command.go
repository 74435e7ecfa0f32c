// Package run implements the `checkflow run` subcommand: load a
// workflow file, synthesize (or accept) a TriggerEvent, drive an
// engine.ExecutionEngine run to completion, and render the result.
package run

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tombee/checkflow/internal/cli/format"
	"github.com/tombee/checkflow/internal/config"
	"github.com/tombee/checkflow/internal/tracing"
	"github.com/tombee/checkflow/pkg/engine"
	"github.com/tombee/checkflow/pkg/providers"
)

// NewCommand builds the `run` subcommand.
func NewCommand() *cobra.Command {
	var (
		eventKind     string
		actor         string
		only          []string
		includeTags   []string
		excludeTags   []string
		failFast      bool
		dryRun        bool
		otelTrace     bool
		metricsAddr   string
		maxParallel   int
		promptCap     int
		outputJSON    bool
		tracePath     string
		llmCommand    []string
		httpRateLimit float64
	)

	cmd := &cobra.Command{
		Use:   "run <workflow.yaml>",
		Short: "Execute a workflow against a trigger event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			registry := engine.NewProviderRegistry()
			registry.Register("noop", providers.NewNoop())
			registry.Register("command", providers.NewCommand(""))
			registry.Register("http", providers.NewHTTP(30*time.Second, httpRateLimit))
			if len(llmCommand) > 0 {
				registry.Register("llm", providers.NewLLM(providers.NewShellClient(llmCommand...), httpRateLimit))
			}

			var sink engine.TraceSink
			if tracePath != "" {
				f, err := os.Create(tracePath)
				if err != nil {
					return err
				}
				defer f.Close()
				sink = tracing.NewNDJSONSink(f)
			}

			eng := engine.NewExecutionEngine(registry, nil, sink)

			if otelTrace {
				exporter, err := stdouttrace.New(stdouttrace.WithWriter(cmd.ErrOrStderr()), stdouttrace.WithPrettyPrint())
				if err != nil {
					return err
				}
				tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
				defer tp.Shutdown(context.Background())
				bridge := tracing.NewOTelBridge(tp.Tracer("checkflow/engine"))
				eng.AddListener(bridge.Listener())
			}

			var metrics *tracing.Metrics
			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				metrics = tracing.NewMetrics(reg)
				eng.AddListener(metrics.Listener())

				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
				srv := &http.Server{Addr: metricsAddr, Handler: mux}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						fmt.Fprintf(cmd.ErrOrStderr(), "metrics server: %v\n", err)
					}
				}()
				defer srv.Shutdown(context.Background())
			}

			event := engine.TriggerEvent{
				Kind:             engine.EventKind(eventKind),
				ActorAssociation: engine.ActorAssociation(actor),
				Timestamp:        time.Now(),
			}

			options := engine.RunOptions{
				Only:           only,
				IncludeTags:    includeTags,
				ExcludeTags:    excludeTags,
				FailFast:       failFast,
				DryRun:         dryRun,
				PromptCap:      promptCap,
				MaxParallelism: maxParallel,
			}

			run, err := eng.Start(context.Background(), cfg, event, options)
			if err != nil {
				return err
			}
			result := run.Wait()

			if metrics != nil {
				metrics.ObserveStatistics(result.Statistics)
				metrics.RecordDroppedEvents(run.EventBus().DroppedCount())
			}

			isTTY := format.IsTTY()
			if outputJSON {
				encoded, err := json.MarshalIndent(jsonSummary(result), "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
			} else {
				fmt.Fprint(cmd.OutOrStdout(), format.RenderSummary(result, isTTY))
				rendered, err := format.RenderIssues(result.Issues, isTTY)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), rendered)
			}

			if result.State == engine.StateFailed {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&eventKind, "event", string(engine.EventManual), "trigger event kind (pr_opened, pr_updated, issue_comment, cron, manual, ...)")
	cmd.Flags().StringVar(&actor, "actor-association", string(engine.AssociationUnknown), "actor association for hasMinPermission/isOwner expressions")
	cmd.Flags().StringSliceVar(&only, "only", nil, "run only these check ids, in isolation")
	cmd.Flags().StringSliceVar(&includeTags, "include-tags", nil, "only run checks whose tags match one of these glob patterns")
	cmd.Flags().StringSliceVar(&excludeTags, "exclude-tags", nil, "skip checks whose tags match one of these glob patterns")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop the run as soon as any failure condition fires")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "walk the graph and report what would run, without invoking providers")
	cmd.Flags().BoolVar(&otelTrace, "otel", false, "emit an OpenTelemetry span per run (stdout exporter) with one span event per lifecycle transition")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address at /metrics for the duration of the run (e.g. :9090)")
	cmd.Flags().IntVar(&maxParallel, "max-parallelism", 0, "override the workflow's max_parallelism (0 = use workflow value)")
	cmd.Flags().IntVar(&promptCap, "prompt-cap", 0, "truncate rendered templates beyond this many characters (0 = unbounded)")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "emit the run result as JSON instead of a rendered summary")
	cmd.Flags().StringVar(&tracePath, "trace", "", "write an NDJSON lifecycle trace to this file")
	cmd.Flags().StringSliceVar(&llmCommand, "llm-command", nil, "argv of a command that reads a prompt on stdin and writes a completion on stdout, registered as the \"llm\" provider")
	cmd.Flags().Float64Var(&httpRateLimit, "rate-limit", 0, "requests/sec cap applied to the http and llm providers, each with its own limiter (0 = unlimited)")

	return cmd
}

type runSummary struct {
	State      string                     `json:"state"`
	Statistics engine.ExecutionStatistics `json:"statistics"`
	Issues     []engine.Issue             `json:"issues"`
}

func jsonSummary(result engine.RunResult) runSummary {
	return runSummary{State: string(result.State), Statistics: result.Statistics, Issues: result.Issues}
}
