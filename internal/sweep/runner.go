package sweep

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ogulcanaydogan/sweepctl/pkg/types"
)

// iterationKeys are the JSON keys accepted as the step of a metric line, in
// order of preference.
var iterationKeys = []string{"iteration", "_step", "epoch"}

// stderrTail bounds how much of a failing trial's stderr ends up in its error.
const stderrTail = 2048

// RunnerConfig controls how trials are executed locally.
type RunnerConfig struct {
	Interpreter string
	WorkDir     string
	// Parallelism is the number of concurrent trial processes.
	Parallelism int
	// LaunchRate limits trial launches per second. Zero disables the limit.
	LaunchRate float64
}

// Runner executes a sweep's trials as local processes.
type Runner struct {
	ctrl    *Controller
	cfg     RunnerConfig
	log     *zap.Logger
	limiter *rate.Limiter
}

func NewRunner(ctrl *Controller, cfg RunnerConfig, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	r := &Runner{ctrl: ctrl, cfg: cfg, log: log.With(zap.String("sweep", ctrl.ID()))}
	if cfg.LaunchRate > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.LaunchRate), 1)
	}
	return r
}

// Run launches trials until the controller reports the sweep complete or ctx
// is cancelled. Trial failures are recorded on the trial and do not stop the
// sweep.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Parallelism)

	var done atomic.Bool
	for !done.Load() && gctx.Err() == nil {
		g.Go(func() error {
			if done.Load() {
				return nil
			}
			if r.limiter != nil {
				if err := r.limiter.Wait(gctx); err != nil {
					return nil
				}
			}
			t, err := r.ctrl.Suggest(gctx)
			if errors.Is(err, ErrSweepComplete) {
				done.Store(true)
				return nil
			}
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}
			r.runTrial(gctx, t)
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return r.ctrl.Summary(), err
}

func (r *Runner) runTrial(ctx context.Context, t types.Trial) {
	log := r.log.With(zap.String("trial", t.ID))
	status, cause := r.execute(ctx, t, log)
	// Record the outcome even when the sweep context is already cancelled.
	if _, err := r.ctrl.Complete(context.WithoutCancel(ctx), t.ID, status, cause); err != nil {
		log.Error("complete trial", zap.Error(err))
	}
}

func (r *Runner) execute(ctx context.Context, t types.Trial, log *zap.Logger) (types.TrialStatus, error) {
	spec := r.ctrl.Spec()
	argv, err := BuildCommand(spec, r.cfg.Interpreter, t.Assignments)
	if err != nil {
		return types.TrialFailed, &TrialExecutionError{TrialID: t.ID, Err: err}
	}

	tctx, kill := context.WithCancel(ctx)
	defer kill()
	cmd := exec.CommandContext(tctx, argv[0], argv[1:]...)
	cmd.Dir = r.cfg.WorkDir
	cmd.Env = TrialEnv(t)
	killProcessGroup(cmd)
	stderr := &tailWriter{limit: stderrTail}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return types.TrialFailed, &TrialExecutionError{TrialID: t.ID, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	if err := cmd.Start(); err != nil {
		return types.TrialFailed, &TrialExecutionError{TrialID: t.ID, Err: fmt.Errorf("start %s: %w", argv[0], err)}
	}
	log.Info("trial started", zap.Strings("argv", argv))

	pruned := false
	var reportErr error
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	next := 1
	for scanner.Scan() {
		rep, ok := parseMetricLine(scanner.Bytes(), spec.Metric.Name, next)
		if !ok {
			continue
		}
		next = rep.Iteration + 1
		d, err := r.ctrl.Report(ctx, t.ID, rep)
		if err != nil && !errors.Is(err, ErrTrialClosed) {
			reportErr = err
		}
		if d.Terminate {
			pruned = true
			kill()
			break
		}
	}
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	switch {
	case pruned:
		log.Info("trial process stopped after pruning")
		return types.TrialPruned, nil
	case reportErr != nil:
		return types.TrialFailed, &TrialExecutionError{TrialID: t.ID, Err: reportErr}
	case ctx.Err() != nil:
		return types.TrialFailed, &TrialExecutionError{TrialID: t.ID, Err: ctx.Err()}
	case waitErr != nil:
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			waitErr = fmt.Errorf("%w: %s", waitErr, msg)
		}
		return types.TrialFailed, &TrialExecutionError{TrialID: t.ID, Err: waitErr}
	case scanner.Err() != nil:
		return types.TrialFailed, &TrialExecutionError{TrialID: t.ID, Err: fmt.Errorf("read output: %w", scanner.Err())}
	}
	return types.TrialFinished, nil
}

// parseMetricLine extracts the named metric from a JSON output line. Lines
// without a recognised step key are assigned iteration next.
func parseMetricLine(line []byte, metric string, next int) (types.MetricReport, bool) {
	line = []byte(strings.TrimSpace(string(line)))
	if len(line) == 0 || line[0] != '{' {
		return types.MetricReport{}, false
	}
	var fields map[string]any
	if err := json.Unmarshal(line, &fields); err != nil {
		return types.MetricReport{}, false
	}
	v, ok := fields[metric].(float64)
	if !ok {
		return types.MetricReport{}, false
	}
	rep := types.MetricReport{Iteration: next, Value: v}
	for _, k := range iterationKeys {
		if it, ok := fields[k].(float64); ok && it >= 0 && it == math.Trunc(it) {
			rep.Iteration = int(it)
			break
		}
	}
	return rep, true
}

// tailWriter keeps the last limit bytes written to it.
type tailWriter struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	if over := len(w.buf) - w.limit; over > 0 {
		w.buf = w.buf[over:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.buf)
}
