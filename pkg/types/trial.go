package types

import (
	"fmt"
	"strings"
	"time"
)

type TrialStatus string

const (
	TrialRunning  TrialStatus = "running"
	TrialFinished TrialStatus = "finished"
	TrialFailed   TrialStatus = "failed"
	TrialPruned   TrialStatus = "pruned"
)

// Terminal reports whether no further reports are accepted in this status.
func (s TrialStatus) Terminal() bool {
	return s == TrialFinished || s == TrialFailed || s == TrialPruned
}

type Assignment struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

type Assignments []Assignment

// Get returns the value assigned to name.
func (a Assignments) Get(name string) (any, bool) {
	for _, v := range a {
		if v.Name == name {
			return v.Value, true
		}
	}
	return nil, false
}

func (a Assignments) Map() map[string]any {
	out := make(map[string]any, len(a))
	for _, v := range a {
		out[v.Name] = v.Value
	}
	return out
}

// Args renders the assignments as --name=value command line arguments.
func (a Assignments) Args() []string {
	out := make([]string, 0, len(a))
	for _, v := range a {
		out = append(out, fmt.Sprintf("--%s=%s", v.Name, FormatValue(v.Value)))
	}
	return out
}

// FormatValue renders an assigned value the way it is passed to the program.
func FormatValue(v any) string {
	switch vv := v.(type) {
	case nil:
		return "None"
	case string:
		return vv
	case float64:
		return fmt.Sprintf("%g", vv)
	case []any:
		parts := make([]string, 0, len(vv))
		for _, item := range vv {
			parts = append(parts, FormatValue(item))
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return fmt.Sprint(vv)
	}
}

type MetricReport struct {
	Iteration int     `json:"iteration"`
	Value     float64 `json:"value"`
}

type Trial struct {
	ID          string         `json:"id"`
	SweepID     string         `json:"sweep_id"`
	Assignments Assignments    `json:"assignments"`
	Status      TrialStatus    `json:"status"`
	Reports     []MetricReport `json:"reports,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	EndedAt     *time.Time     `json:"ended_at,omitempty"`
}

// Iterations returns the highest iteration reported so far.
func (t Trial) Iterations() int {
	n := 0
	for _, r := range t.Reports {
		if r.Iteration > n {
			n = r.Iteration
		}
	}
	return n
}

// ValueAt returns the last value reported at or before iteration.
func (t Trial) ValueAt(iteration int) (float64, bool) {
	best := -1
	var v float64
	for _, r := range t.Reports {
		if r.Iteration <= iteration && r.Iteration >= best {
			best = r.Iteration
			v = r.Value
		}
	}
	return v, best >= 0
}

// Final returns the latest reported value.
func (t Trial) Final() (float64, bool) {
	if len(t.Reports) == 0 {
		return 0, false
	}
	return t.ValueAt(t.Iterations())
}

// Sweep identifies one run of a sweep spec.
type Sweep struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	Spec        SweepSpec `json:"spec"`
	CreatedAt   time.Time `json:"created_at"`
}
