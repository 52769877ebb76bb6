// Package terminate decides whether a running trial should be stopped early.
package terminate

import (
	"fmt"
	"math"
	"sort"

	"github.com/ogulcanaydogan/sweepctl/pkg/types"
)

// Decision is the outcome of evaluating one trial against its cohort.
type Decision struct {
	Terminate bool    `json:"terminate"`
	Bracket   int     `json:"bracket,omitempty"`
	Value     float64 `json:"value,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Cohort    int     `json:"cohort,omitempty"`
	Survivors int     `json:"survivors,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

// Hyperband prunes trials at fixed iteration brackets, keeping the best
// ceil(n/eta) of the n trials that reached each bracket.
type Hyperband struct {
	eta      float64
	brackets []int
}

// NewHyperband builds the bracket schedule for et.
func NewHyperband(et types.EarlyTerminate) (*Hyperband, error) {
	if et.Type != "" && et.Type != types.EarlyTerminateHyperband {
		return nil, fmt.Errorf("unsupported early termination type %q", et.Type)
	}
	eta := et.Eta
	if eta == 0 {
		eta = types.DefaultHyperbandEta
	}
	s := et.S
	if s == 0 {
		s = types.DefaultHyperbandS
	}
	if eta <= 1 {
		return nil, fmt.Errorf("hyperband eta must be greater than 1, got %g", eta)
	}
	if s < 1 {
		return nil, fmt.Errorf("hyperband s must be at least 1, got %d", s)
	}

	var raw []int
	switch {
	case et.MinIter > 0 && et.MaxIter > 0:
		return nil, fmt.Errorf("hyperband takes min_iter or max_iter, not both")
	case et.MinIter > 0:
		for k := 0; k < s; k++ {
			raw = append(raw, int(math.Round(float64(et.MinIter)*math.Pow(eta, float64(k)))))
		}
	case et.MaxIter > 0:
		for k := 1; k <= s; k++ {
			raw = append(raw, int(float64(et.MaxIter)/math.Pow(eta, float64(k))))
		}
	default:
		return nil, fmt.Errorf("hyperband requires min_iter or max_iter")
	}

	sort.Ints(raw)
	h := &Hyperband{eta: eta}
	for _, b := range raw {
		if b < 1 {
			continue
		}
		if n := len(h.brackets); n > 0 && h.brackets[n-1] == b {
			continue
		}
		h.brackets = append(h.brackets, b)
	}
	if len(h.brackets) == 0 {
		return nil, fmt.Errorf("hyperband schedule has no bracket of at least one iteration")
	}
	return h, nil
}

// Brackets returns the ascending iteration counts at which trials are compared.
func (h *Hyperband) Brackets() []int {
	return append([]int(nil), h.brackets...)
}

// Evaluate compares trial with every cohort member that reached the highest
// bracket trial has reached. The cohort may include trial itself.
func (h *Hyperband) Evaluate(trial types.Trial, cohort []types.Trial, goal types.Goal) Decision {
	if trial.Status.Terminal() {
		return Decision{Reason: fmt.Sprintf("trial is %s", trial.Status)}
	}
	iter := trial.Iterations()
	bracket := 0
	for _, b := range h.brackets {
		if iter >= b {
			bracket = b
		}
	}
	if bracket == 0 {
		return Decision{Reason: fmt.Sprintf("iteration %d is below the first bracket %d", iter, h.brackets[0])}
	}
	value := valueAt(trial, bracket)
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return Decision{Terminate: true, Bracket: bracket, Value: value, Reason: "metric is not finite"}
	}

	values := []float64{value}
	for _, c := range cohort {
		if c.ID == trial.ID || c.Status == types.TrialFailed || c.Iterations() < bracket {
			continue
		}
		v := valueAt(c, bracket)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return goal.Better(values[i], values[j]) })

	keep := int(math.Ceil(float64(len(values)) / h.eta))
	threshold := values[keep-1]
	d := Decision{
		Bracket:   bracket,
		Value:     value,
		Threshold: threshold,
		Cohort:    len(values),
		Survivors: keep,
	}
	if goal.Better(threshold, value) {
		d.Terminate = true
		d.Reason = fmt.Sprintf("%g is outside the best %d of %d at iteration %d", value, keep, len(values), bracket)
	}
	return d
}

// valueAt returns the last value reported at or before bracket, falling back
// to the earliest report when the first one came after it.
func valueAt(t types.Trial, bracket int) float64 {
	if v, ok := t.ValueAt(bracket); ok {
		return v
	}
	first := t.Reports[0]
	for _, r := range t.Reports[1:] {
		if r.Iteration < first.Iteration {
			first = r
		}
	}
	return first.Value
}

// ShouldTerminate reports whether trial should be stopped under et. A nil
// policy never terminates.
func ShouldTerminate(trial types.Trial, cohort []types.Trial, et *types.EarlyTerminate, goal types.Goal) bool {
	if et == nil {
		return false
	}
	h, err := NewHyperband(*et)
	if err != nil {
		return false
	}
	return h.Evaluate(trial, cohort, goal).Terminate
}
