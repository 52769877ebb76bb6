package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ogulcanaydogan/sweepctl/internal/check"
	"github.com/ogulcanaydogan/sweepctl/internal/config"
	"github.com/ogulcanaydogan/sweepctl/internal/report"
	"github.com/ogulcanaydogan/sweepctl/internal/sampler"
	"github.com/ogulcanaydogan/sweepctl/internal/server"
	"github.com/ogulcanaydogan/sweepctl/internal/store"
	"github.com/ogulcanaydogan/sweepctl/internal/sweep"
	"github.com/ogulcanaydogan/sweepctl/pkg/types"
)

// sweepFlags are shared by the commands that drive a sweep.
type sweepFlags struct {
	sweepPath string
	sweepID   string
	count     int
	seed      int64
	dbPath    string
}

func (f *sweepFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.sweepPath, "sweep", "sweep.yaml", "sweep document")
	cmd.Flags().StringVar(&f.sweepID, "id", "", "sweep ID (default random)")
	cmd.Flags().IntVar(&f.count, "count", 0, "maximum number of trials (0 runs until the search space is exhausted)")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "sampler seed (0 uses the config seed or the clock)")
	cmd.Flags().StringVar(&f.dbPath, "db", "", "SQLite trial database (default from config)")
}

// openController loads the sweep and opens its trial store. The caller
// closes the returned store.
func (f *sweepFlags) openController(ctx context.Context, cmd *cobra.Command, cfg config.Config, log *zap.Logger, reg prometheus.Registerer) (*sweep.Controller, *store.SQLite, error) {
	s, err := loadSweep(f.sweepPath)
	if err != nil {
		return nil, nil, err
	}
	dbPath := cfg.Store.DBPath
	if cmd.Flags().Changed("db") {
		dbPath = f.dbPath
	}
	db, err := store.OpenSQLite(dbPath)
	if err != nil {
		return nil, nil, err
	}
	opts := []sweep.Option{
		sweep.WithStore(db),
		sweep.WithLogger(log),
		sweep.WithMaxTrials(f.count),
		sweep.WithMetrics(sweep.NewMetrics(reg)),
	}
	if f.sweepID != "" {
		opts = append(opts, sweep.WithSweepID(f.sweepID))
	}
	seed := cfg.Runner.Seed
	if f.seed != 0 {
		seed = f.seed
	}
	if seed != 0 {
		opts = append(opts, sweep.WithSamplerOptions(sampler.WithSeed(seed)))
	}
	ctrl, err := sweep.NewController(ctx, s, opts...)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	// Archive the document beside the database so stored trials stay readable.
	archived, err := store.SaveLocal(f.sweepPath, filepath.Join(filepath.Dir(dbPath), "specs", ctrl.ID()))
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("archive sweep: %w", err)
	}
	log.Debug("sweep archived", zap.String("path", archived))
	return ctrl, db, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newRunCommand() *cobra.Command {
	var f sweepFlags
	var parallelism int
	var launchRate float64
	var interpreter, workDir, reportPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a sweep locally, launching the program once per trial",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			ctrl, db, err := f.openController(ctx, cmd, cfg, log, nil)
			if err != nil {
				return err
			}
			defer db.Close()

			rc := sweep.RunnerConfig{
				Interpreter: cfg.Runner.Interpreter,
				WorkDir:     cfg.Runner.WorkDir,
				Parallelism: cfg.Runner.Parallelism,
				LaunchRate:  cfg.Runner.LaunchRate,
			}
			if cmd.Flags().Changed("parallelism") {
				rc.Parallelism = parallelism
			}
			if cmd.Flags().Changed("launch-rate") {
				rc.LaunchRate = launchRate
			}
			if cmd.Flags().Changed("interpreter") {
				rc.Interpreter = interpreter
			}
			if cmd.Flags().Changed("workdir") {
				rc.WorkDir = workDir
			}
			if rc.WorkDir == "" {
				rc.WorkDir = filepath.Dir(f.sweepPath)
			}

			sum, err := sweep.NewRunner(ctrl, rc, log).Run(ctx)
			if errors.Is(err, context.Canceled) {
				log.Info("sweep interrupted", zap.String("sweep", ctrl.ID()))
				err = nil
			}
			if err != nil {
				return err
			}
			if reportPath != "" {
				r := report.BuildSweepReport(ctrl.Sweep(), ctrl.Trials())
				if err := report.WriteSweepMarkdown(reportPath, r); err != nil {
					return err
				}
			}
			printSummary(cmd, sum)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().IntVar(&parallelism, "parallelism", 1, "concurrent trial processes")
	cmd.Flags().Float64Var(&launchRate, "launch-rate", 0, "maximum trial launches per second (0 is unlimited)")
	cmd.Flags().StringVar(&interpreter, "interpreter", "python3", "interpreter for .py programs")
	cmd.Flags().StringVar(&workDir, "workdir", "", "trial working directory (default the sweep document's directory)")
	cmd.Flags().StringVar(&reportPath, "report", "", "write a markdown sweep report to this path")
	return cmd
}

func newServeCommand() *cobra.Command {
	var f sweepFlags
	var addr string
	var port, leaseTTL int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve suggestions and collect metric reports over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			ctrl, db, err := f.openController(ctx, cmd, cfg, log, reg)
			if err != nil {
				return err
			}
			defer db.Close()

			sc := server.Config{
				Addr:                   cfg.Server.Addr,
				Port:                   cfg.Server.Port,
				LeaseTTLSeconds:        cfg.Server.LeaseTTLSeconds,
				ShutdownTimeoutSeconds: cfg.Server.ShutdownTimeoutSeconds,
			}
			if cmd.Flags().Changed("addr") {
				sc.Addr = addr
			}
			if cmd.Flags().Changed("port") {
				sc.Port = port
			}
			if cmd.Flags().Changed("lease-ttl-seconds") {
				sc.LeaseTTLSeconds = leaseTTL
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "sweep %s listening on :%d\n", ctrl.ID(), sc.Port)
			svc := server.New(ctrl, sc, log, reg)
			if err := server.ListenAndServe(ctx, sc, svc.Handler(), log); err != nil {
				return err
			}
			printSummary(cmd, ctrl.Summary())
			return nil
		},
	}
	f.register(cmd)
	def := server.DefaultConfig()
	cmd.Flags().StringVar(&addr, "addr", "", "listen address")
	cmd.Flags().IntVar(&port, "port", def.Port, "listen port")
	cmd.Flags().IntVar(&leaseTTL, "lease-ttl-seconds", def.LeaseTTLSeconds, "seconds a trial may stay silent before it is failed (0 disables)")
	return cmd
}

func newReportCommand() *cobra.Command {
	var inPath, outPath, dbPath, sweepID, format string
	var list bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render a sweep leaderboard from the trial database, or markdown from validate JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if outPath == "" && !list {
				return fmt.Errorf("--out is required")
			}
			if inPath != "" {
				raw, err := os.ReadFile(inPath)
				if err != nil {
					return err
				}
				var r check.Report
				if err := json.Unmarshal(raw, &r); err != nil {
					return err
				}
				if err := report.WriteMarkdown(outPath, r); err != nil {
					return err
				}
				fmt.Println(outPath)
				return nil
			}

			if !cmd.Flags().Changed("db") {
				cfg, err := config.Load(globalFlags.configPath)
				if err != nil {
					return err
				}
				dbPath = cfg.Store.DBPath
			}
			if !fileExists(dbPath) {
				return cliError{code: check.ExitMissing, err: fmt.Errorf("trial database %s not found", dbPath)}
			}
			db, err := store.OpenSQLite(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if list {
				sweeps, err := db.Sweeps(ctx)
				if err != nil {
					return err
				}
				for _, sw := range sweeps {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", sw.ID, sw.CreatedAt.Format(time.RFC3339), sw.Name)
				}
				return nil
			}
			var sw types.Sweep
			if sweepID == "" {
				sw, err = db.LatestSweep(ctx)
			} else {
				sw, err = db.Sweep(ctx, sweepID)
			}
			if errors.Is(err, store.ErrNotFound) {
				return cliError{code: check.ExitMissing, err: err}
			}
			if err != nil {
				return err
			}
			trials, err := db.Trials(ctx, sw.ID)
			if err != nil {
				return err
			}
			r := report.BuildSweepReport(sw, trials)
			switch format {
			case "md":
				err = report.WriteSweepMarkdown(outPath, r)
			case "json":
				err = report.WriteJSON(outPath, r)
			default:
				return fmt.Errorf("unsupported format %s", format)
			}
			if err != nil {
				return err
			}
			fmt.Println(outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "validate report JSON input")
	cmd.Flags().StringVar(&outPath, "out", "", "report output")
	cmd.Flags().StringVar(&dbPath, "db", store.DefaultDBPath, "SQLite trial database")
	cmd.Flags().StringVar(&sweepID, "id", "", "sweep ID (default the latest sweep)")
	cmd.Flags().StringVar(&format, "format", "md", "sweep report format (md|json)")
	cmd.Flags().BoolVar(&list, "list", false, "list the sweeps in the trial database")
	return cmd
}

func printSummary(cmd *cobra.Command, sum sweep.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "sweep %s: %d trials (finished %d, pruned %d, failed %d)\n",
		sum.Sweep.ID, sum.Total,
		sum.Counts[types.TrialFinished], sum.Counts[types.TrialPruned], sum.Counts[types.TrialFailed])
	if sum.Best == nil {
		return
	}
	v, _ := sum.Best.Final()
	fmt.Fprintf(out, "best %s = %g (%s)\n", sum.Sweep.Spec.Metric.Name, v, joinArgs(sum.Best.Assignments.Args()))
}

func joinArgs(args []string) string {
	return strings.Join(args, " ")
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
