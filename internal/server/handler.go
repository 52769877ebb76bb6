package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ogulcanaydogan/sweepctl/internal/sweep"
	"github.com/ogulcanaydogan/sweepctl/pkg/types"
)

const maxBodyBytes = 1 << 20

var errLeaseExpired = errors.New("lease expired without a report")

// Service exposes a Controller over HTTP so remote workers can pull
// assignments and stream metrics back.
type Service struct {
	ctrl   *sweep.Controller
	log    *zap.Logger
	leases *leaseTracker
	gather prometheus.Gatherer
	now    func() time.Time
}

// New builds the service. gather backs /metrics and may be nil.
func New(ctrl *sweep.Controller, cfg Config, log *zap.Logger, gather prometheus.Gatherer) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		ctrl:   ctrl,
		log:    log,
		leases: newLeaseTracker(time.Duration(cfg.LeaseTTLSeconds) * time.Second),
		gather: gather,
		now:    time.Now,
	}
}

// Handler routes the service endpoints.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/suggest", s.handleSuggest)
	mux.HandleFunc("POST /v1/trials/{id}/report", s.handleReport)
	mux.HandleFunc("POST /v1/trials/{id}/complete", s.handleComplete)
	mux.HandleFunc("GET /v1/sweep", s.handleSweep)
	mux.HandleFunc("GET /v1/trials", s.handleTrials)
	mux.HandleFunc("GET /v1/trials/{id}", s.handleTrial)
	mux.Handle("GET /healthz", HealthHandler())
	if s.gather != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))
	}
	return mux
}

// HealthHandler returns an HTTP handler for liveness and readiness checks.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

type reportResponse struct {
	Terminate bool   `json:"terminate"`
	Bracket   int    `json:"bracket,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

type completeRequest struct {
	Status types.TrialStatus `json:"status"`
	Error  string            `json:"error"`
}

func (s *Service) handleSuggest(w http.ResponseWriter, r *http.Request) {
	s.reapLeases(r.Context())
	t, err := s.ctrl.Suggest(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.leases.touch(t.ID, s.now())
	writeJSON(w, http.StatusCreated, t)
}

func (s *Service) handleReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var report types.MetricReport
	if err := decodeBody(r, &report); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.lapsed(r.Context(), id) {
		writeJSON(w, http.StatusConflict, reportResponse{Terminate: true, Error: errLeaseExpired.Error()})
		return
	}
	d, err := s.ctrl.Report(r.Context(), id, report)
	resp := reportResponse{Terminate: d.Terminate, Bracket: d.Bracket, Reason: d.Reason}
	switch {
	case errors.Is(err, sweep.ErrTrialClosed):
		s.leases.release(id)
		resp.Error = err.Error()
		writeJSON(w, http.StatusConflict, resp)
		return
	case err != nil && d.Terminate:
		// The prune is already recorded in memory; the worker must still stop.
		s.log.Error("persist pruned trial", zap.String("trial", id), zap.Error(err))
	case err != nil:
		s.writeError(w, err)
		return
	}
	if d.Terminate {
		s.leases.release(id)
	} else {
		s.leases.touch(id, s.now())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleComplete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	req := completeRequest{Status: types.TrialFinished}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var cause error
	if req.Error != "" {
		cause = &sweep.TrialExecutionError{TrialID: id, Err: errors.New(req.Error)}
	}
	t, err := s.ctrl.Complete(r.Context(), id, req.Status, cause)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.leases.release(id)
	writeJSON(w, http.StatusOK, t)
}

func (s *Service) handleSweep(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Summary())
}

func (s *Service) handleTrials(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Trials())
}

func (s *Service) handleTrial(w http.ResponseWriter, r *http.Request) {
	t, ok := s.ctrl.Trial(r.PathValue("id"))
	if !ok {
		s.writeError(w, fmt.Errorf("%w: %s", sweep.ErrUnknownTrial, r.PathValue("id")))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// lapsed fails a running trial whose lease ran out before the sweep got
// around to reaping it, and reports whether that happened.
func (s *Service) lapsed(ctx context.Context, id string) bool {
	if s.leases == nil || s.leases.active(id, s.now()) {
		return false
	}
	t, ok := s.ctrl.Trial(id)
	if !ok || t.Status != types.TrialRunning {
		return false
	}
	s.leases.release(id)
	cause := &sweep.TrialExecutionError{TrialID: id, Err: errLeaseExpired}
	if _, err := s.ctrl.Complete(ctx, id, types.TrialFailed, cause); err != nil && !errors.Is(err, sweep.ErrTrialClosed) {
		s.log.Warn("expire trial lease", zap.String("trial", id), zap.Error(err))
	}
	s.log.Info("trial lease expired", zap.String("trial", id))
	return true
}

// reapLeases fails every running trial whose worker went quiet.
func (s *Service) reapLeases(ctx context.Context) {
	for _, id := range s.leases.expire(s.now()) {
		cause := &sweep.TrialExecutionError{TrialID: id, Err: errLeaseExpired}
		if _, err := s.ctrl.Complete(ctx, id, types.TrialFailed, cause); err != nil && !errors.Is(err, sweep.ErrTrialClosed) {
			s.log.Warn("expire trial lease", zap.String("trial", id), zap.Error(err))
			continue
		}
		s.log.Info("trial lease expired", zap.String("trial", id))
	}
}

func (s *Service) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sweep.ErrUnknownTrial):
		status = http.StatusNotFound
	case errors.Is(err, sweep.ErrTrialClosed):
		status = http.StatusConflict
	case errors.Is(err, sweep.ErrSweepComplete):
		status = http.StatusGone
	case errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	default:
		s.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
