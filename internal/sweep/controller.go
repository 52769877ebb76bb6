// Package sweep drives a hyperparameter sweep: it hands out parameter
// assignments, collects intermediate metrics, applies early termination and
// feeds results back to the sampler.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ogulcanaydogan/sweepctl/internal/sampler"
	"github.com/ogulcanaydogan/sweepctl/internal/spec"
	"github.com/ogulcanaydogan/sweepctl/internal/terminate"
	"github.com/ogulcanaydogan/sweepctl/pkg/types"
)

// TrialStore persists sweep state as it changes.
type TrialStore interface {
	SaveSweep(ctx context.Context, s types.Sweep) error
	SaveTrial(ctx context.Context, t types.Trial) error
}

// Controller owns the sampler and the trial table of one sweep. All methods
// are safe for concurrent use; sampling and observation are serialized.
type Controller struct {
	mu        sync.Mutex
	sweep     types.Sweep
	sampler   sampler.Sampler
	policy    *terminate.Hyperband
	trials    map[string]*types.Trial
	order     []string
	issued    int
	maxTrials int
	store     TrialStore
	log       *zap.Logger
	metrics   *Metrics
	now       func() time.Time
}

type controllerOptions struct {
	id         string
	maxTrials  int
	store      TrialStore
	log        *zap.Logger
	metrics    *Metrics
	samplerOps []sampler.Option
	now        func() time.Time
}

type Option func(*controllerOptions)

// WithSweepID fixes the sweep ID instead of generating one.
func WithSweepID(id string) Option {
	return func(o *controllerOptions) { o.id = id }
}

// WithMaxTrials bounds the number of trials Suggest hands out. Zero means
// unbounded.
func WithMaxTrials(n int) Option {
	return func(o *controllerOptions) { o.maxTrials = n }
}

func WithStore(s TrialStore) Option {
	return func(o *controllerOptions) { o.store = s }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *controllerOptions) { o.log = l }
}

func WithMetrics(m *Metrics) Option {
	return func(o *controllerOptions) { o.metrics = m }
}

// WithSamplerOptions passes options through to sampler.New.
func WithSamplerOptions(opts ...sampler.Option) Option {
	return func(o *controllerOptions) { o.samplerOps = append(o.samplerOps, opts...) }
}

// NewController prepares a sweep over s and records it in the store.
func NewController(ctx context.Context, s types.SweepSpec, opts ...Option) (*Controller, error) {
	o := controllerOptions{log: zap.NewNop(), now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}

	smp, err := sampler.New(s, o.samplerOps...)
	if err != nil {
		return nil, fmt.Errorf("create sampler: %w", err)
	}
	var policy *terminate.Hyperband
	if s.EarlyTerminate != nil {
		policy, err = terminate.NewHyperband(*s.EarlyTerminate)
		if err != nil {
			return nil, fmt.Errorf("early termination: %w", err)
		}
	}
	fingerprint, err := spec.Fingerprint(s)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		sweep: types.Sweep{
			ID:          o.id,
			Name:        s.Name,
			Fingerprint: fingerprint,
			Spec:        s,
			CreatedAt:   o.now().UTC(),
		},
		sampler:   smp,
		policy:    policy,
		trials:    make(map[string]*types.Trial),
		maxTrials: o.maxTrials,
		store:     o.store,
		log:       o.log.With(zap.String("sweep", o.id)),
		metrics:   o.metrics,
		now:       o.now,
	}
	if c.store != nil {
		if err := c.store.SaveSweep(ctx, c.sweep); err != nil {
			return nil, fmt.Errorf("persist sweep: %w", err)
		}
	}
	c.log.Info("sweep created",
		zap.String("method", string(s.Method)),
		zap.String("metric", s.Metric.Name),
		zap.Int("parameters", len(s.Parameters)),
		zap.String("fingerprint", fingerprint))
	return c, nil
}

func (c *Controller) ID() string { return c.sweep.ID }

func (c *Controller) Sweep() types.Sweep { return c.sweep }

func (c *Controller) Spec() types.SweepSpec { return c.sweep.Spec }

// Suggest issues a new trial with freshly sampled assignments. It returns
// ErrSweepComplete once the trial budget is spent or a grid is exhausted.
func (c *Controller) Suggest(ctx context.Context) (types.Trial, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxTrials > 0 && c.issued >= c.maxTrials {
		return types.Trial{}, ErrSweepComplete
	}
	a, err := c.sampler.Next(ctx)
	if errors.Is(err, sampler.ErrExhausted) {
		return types.Trial{}, fmt.Errorf("%w: %v", ErrSweepComplete, err)
	}
	if err != nil {
		return types.Trial{}, fmt.Errorf("sample assignments: %w", err)
	}

	t := &types.Trial{
		ID:          uuid.NewString(),
		SweepID:     c.sweep.ID,
		Assignments: a,
		Status:      types.TrialRunning,
		StartedAt:   c.now().UTC(),
	}
	c.trials[t.ID] = t
	c.order = append(c.order, t.ID)
	c.issued++
	c.metrics.Suggestions.Inc()
	c.metrics.Running.Inc()
	c.log.Debug("trial suggested", zap.String("trial", t.ID), zap.Strings("args", a.Args()))
	return *t, c.persist(ctx, t)
}

// Report appends an intermediate metric to a running trial and applies the
// early termination policy. A terminating decision prunes the trial.
func (c *Controller) Report(ctx context.Context, trialID string, r types.MetricReport) (terminate.Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.trials[trialID]
	if !ok {
		return terminate.Decision{}, fmt.Errorf("%w: %s", ErrUnknownTrial, trialID)
	}
	if t.Status.Terminal() {
		return terminate.Decision{Terminate: t.Status == types.TrialPruned}, fmt.Errorf("%w: %s is %s", ErrTrialClosed, trialID, t.Status)
	}
	if r.Iteration < 0 {
		return terminate.Decision{}, fmt.Errorf("iteration must not be negative, got %d", r.Iteration)
	}
	t.Reports = append(t.Reports, r)
	c.metrics.Reports.Inc()

	if c.policy == nil {
		return terminate.Decision{}, c.persist(ctx, t)
	}
	d := c.policy.Evaluate(*t, c.cohort(), c.sweep.Spec.Metric.Goal)
	if d.Terminate {
		c.finish(t, types.TrialPruned, "")
		c.log.Info("trial pruned",
			zap.String("trial", t.ID),
			zap.Int("bracket", d.Bracket),
			zap.Float64("value", d.Value),
			zap.Float64("threshold", d.Threshold))
	}
	return d, c.persist(ctx, t)
}

// Complete finalizes a trial. Finished trials without any report are
// recorded as failed. Completing an already pruned trial is a no-op, so the
// runner can confirm a kill without changing the outcome.
func (c *Controller) Complete(ctx context.Context, trialID string, status types.TrialStatus, cause error) (types.Trial, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.trials[trialID]
	if !ok {
		return types.Trial{}, fmt.Errorf("%w: %s", ErrUnknownTrial, trialID)
	}
	if t.Status.Terminal() {
		if t.Status == types.TrialPruned {
			return *t, nil
		}
		return *t, fmt.Errorf("%w: %s is %s", ErrTrialClosed, trialID, t.Status)
	}
	if !status.Terminal() {
		return *t, fmt.Errorf("cannot complete trial with status %q", status)
	}
	if status != types.TrialFailed && len(t.Reports) == 0 {
		status = types.TrialFailed
		cause = &TrialExecutionError{TrialID: trialID, Err: fmt.Errorf("no %q reported", c.sweep.Spec.Metric.Name)}
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	c.finish(t, status, msg)
	if status == types.TrialFailed {
		c.log.Warn("trial failed", zap.String("trial", t.ID), zap.String("error", msg))
	} else {
		final, _ := t.Final()
		c.log.Info("trial completed", zap.String("trial", t.ID), zap.String("status", string(status)), zap.Float64("value", final))
	}
	return *t, c.persist(ctx, t)
}

// finish moves t to a terminal status and feeds its last value to the
// sampler. Failed trials are never observed.
func (c *Controller) finish(t *types.Trial, status types.TrialStatus, msg string) {
	end := c.now().UTC()
	t.Status = status
	t.EndedAt = &end
	t.Error = msg
	c.metrics.Running.Dec()
	c.metrics.Trials.WithLabelValues(string(status)).Inc()
	if status == types.TrialFailed {
		return
	}
	final, ok := t.Final()
	if !ok || math.IsNaN(final) || math.IsInf(final, 0) {
		return
	}
	c.sampler.Observe(sampler.Observation{Assignments: t.Assignments, Value: final})
	if best, ok := c.bestLocked(); ok && best.ID == t.ID {
		c.metrics.Best.Set(final)
	}
}

// Trial returns a copy of the trial with id.
func (c *Controller) Trial(id string) (types.Trial, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.trials[id]
	if !ok {
		return types.Trial{}, false
	}
	return *t, true
}

// Trials returns copies of every trial in issue order.
func (c *Controller) Trials() []types.Trial {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cohort()
}

// Best returns the finished or pruned trial with the best final value.
func (c *Controller) Best() (types.Trial, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bestLocked()
}

// Summary counts trials by status.
func (c *Controller) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Summary{Sweep: c.sweep, Counts: map[types.TrialStatus]int{}}
	for _, id := range c.order {
		s.Counts[c.trials[id].Status]++
	}
	s.Total = len(c.order)
	if best, ok := c.bestLocked(); ok {
		s.Best = &best
	}
	return s
}

// Summary is a point-in-time view of a sweep.
type Summary struct {
	Sweep  types.Sweep               `json:"sweep"`
	Total  int                       `json:"total"`
	Counts map[types.TrialStatus]int `json:"counts"`
	Best   *types.Trial              `json:"best,omitempty"`
}

func (c *Controller) bestLocked() (types.Trial, bool) {
	goal := c.sweep.Spec.Metric.Goal
	var best *types.Trial
	var bestValue float64
	for _, id := range c.order {
		t := c.trials[id]
		if t.Status != types.TrialFinished && t.Status != types.TrialPruned {
			continue
		}
		v, ok := t.Final()
		if !ok || math.IsNaN(v) {
			continue
		}
		if best == nil || goal.Better(v, bestValue) {
			best, bestValue = t, v
		}
	}
	if best == nil {
		return types.Trial{}, false
	}
	return *best, true
}

func (c *Controller) cohort() []types.Trial {
	out := make([]types.Trial, 0, len(c.order))
	for _, id := range c.order {
		t := *c.trials[id]
		t.Reports = append([]types.MetricReport(nil), t.Reports...)
		out = append(out, t)
	}
	return out
}

func (c *Controller) persist(ctx context.Context, t *types.Trial) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.SaveTrial(ctx, *t); err != nil {
		return fmt.Errorf("persist trial %s: %w", t.ID, err)
	}
	return nil
}
