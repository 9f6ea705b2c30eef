package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/cmd/odyssey/cli"
	"github.com/odyssey-erp/stockledger/internal/app"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/jobs"
)

const usage = `usage: odyssey [command]

commands:
  serve                          run the HTTP API (default)
  jobs trigger <expire|reconcile> enqueue a background job now
  jobs stats                     print default queue depth
  jobs scheduled [-n size]       list scheduled tasks
  reconcile [-json] [-product id] compare the ledger with on-hand stock
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var code int
	switch cmd {
	case "serve":
		code = serve(ctx, stop)
	case "jobs":
		code = runJobs(ctx, args)
	case "reconcile":
		code = runReconcile(ctx, args)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		code = 2
	}
	stop()
	os.Exit(code)
}

func loadConfig() (*app.Config, *slog.Logger, bool) {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return nil, nil, false
	}
	return cfg, app.NewLogger(cfg), true
}

func serve(ctx context.Context, stop context.CancelFunc) int {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return 0
	}
	cfg, logger, ok := loadConfig()
	if !ok {
		return 1
	}

	metrics := observability.NewMetrics()
	inv, err := app.BuildInventory(ctx, cfg, logger, metrics.Registerer())
	if err != nil {
		logger.Error("build inventory", slog.Any("error", err))
		return 1
	}
	defer inv.Close()

	var jobHandler *jobs.Handler
	if cfg.RedisAddr != "" {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		InventoryHandler: inventory.NewHandler(logger, inv.Service),
		JobHandler:       jobHandler,
		Metrics:          metrics,
		Checks:           inv.Checks,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return 1
	}
	return 0
}

func runJobs(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	cfg, logger, ok := loadConfig()
	if !ok {
		return 1
	}
	jc, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		logger.Error("jobs cli", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := jc.Close(); err != nil {
			logger.Warn("jobs cli close", slog.Any("error", err))
		}
	}()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "jobs trigger: job name required (expire|reconcile)")
			return 2
		}
		info, err := jc.Trigger(ctx, args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jc.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d paused=%t\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Paused)
	case "scheduled":
		fs := flag.NewFlagSet("jobs scheduled", flag.ContinueOnError)
		size := fs.Int("n", 10, "page size")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		tasks, err := jc.ListScheduled(ctx, *size)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs scheduled: %v\n", err)
			return 1
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tNEXT PROCESS AT")
		for _, task := range tasks {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", task.ID, task.Type, task.NextProcessAt.Format(time.RFC3339))
		}
		_ = tw.Flush()
	default:
		fmt.Fprintf(os.Stderr, "unknown jobs command %q\n\n%s", args[0], usage)
		return 2
	}
	return 0
}

func runReconcile(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "print a JSON summary")
	productID := fs.Int64("product", 0, "reconcile a single product")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, logger, ok := loadConfig()
	if !ok {
		return 1
	}
	inv, err := app.BuildInventory(ctx, cfg, logger, nil)
	if err != nil {
		logger.Error("build inventory", slog.Any("error", err))
		return 1
	}
	defer inv.Close()
	return cli.ReconcileCommand(ctx, inv.Service, cli.ReconcileOptions{
		ProductID:  *productID,
		JSONOutput: *jsonOut,
	})
}
