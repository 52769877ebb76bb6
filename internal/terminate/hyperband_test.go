package terminate

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/ogulcanaydogan/sweepctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrackets(t *testing.T) {
	tests := []struct {
		name string
		et   types.EarlyTerminate
		want []int
	}{
		{"min iter", types.EarlyTerminate{Type: "hyperband", MinIter: 3}, []int{3, 9, 27}},
		{"min iter eta 2", types.EarlyTerminate{Type: "hyperband", MinIter: 1, Eta: 2, S: 4}, []int{1, 2, 4, 8}},
		{"max iter", types.EarlyTerminate{Type: "hyperband", MaxIter: 27}, []int{1, 3, 9}},
		{"max iter dedupes", types.EarlyTerminate{MaxIter: 4, Eta: 3, S: 3}, []int{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewHyperband(tt.et)
			require.NoError(t, err)
			assert.Equal(t, tt.want, h.Brackets())
		})
	}
}

func TestNewHyperbandRejects(t *testing.T) {
	for _, et := range []types.EarlyTerminate{
		{Type: "median", MinIter: 3},
		{MinIter: 3, MaxIter: 27},
		{},
		{MinIter: 3, Eta: 1},
		{MaxIter: 2, Eta: 3, S: 1},
	} {
		_, err := NewHyperband(et)
		assert.Error(t, err, "%+v", et)
	}
}

func trial(id string, values ...float64) types.Trial {
	tr := types.Trial{ID: id, Status: types.TrialRunning}
	for i, v := range values {
		tr.Reports = append(tr.Reports, types.MetricReport{Iteration: i + 1, Value: v})
	}
	return tr
}

func TestEvaluatePrunesOutsideTopThird(t *testing.T) {
	h, err := NewHyperband(types.EarlyTerminate{MinIter: 3})
	require.NoError(t, err)
	var cohort []types.Trial
	for i := 0; i < 9; i++ {
		v := float64(i)
		cohort = append(cohort, trial(fmt.Sprintf("t%d", i), 10, 10, v))
	}
	for i, tr := range cohort {
		d := h.Evaluate(tr, cohort, types.GoalMinimize)
		assert.Equal(t, 3, d.Bracket)
		assert.Equal(t, 9, d.Cohort)
		assert.Equal(t, 3, d.Survivors)
		assert.Equal(t, i >= 3, d.Terminate, "trial %d", i)
	}
	d := h.Evaluate(cohort[0], cohort, types.GoalMaximize)
	assert.True(t, d.Terminate)
	assert.False(t, h.Evaluate(cohort[8], cohort, types.GoalMaximize).Terminate)
}

func TestEvaluateTiesSurvive(t *testing.T) {
	h, _ := NewHyperband(types.EarlyTerminate{MinIter: 1})
	cohort := []types.Trial{trial("a", 1), trial("b", 1), trial("c", 1)}
	for _, tr := range cohort {
		assert.False(t, h.Evaluate(tr, cohort, types.GoalMinimize).Terminate)
	}
}

func TestEvaluateUsesHighestBracketReached(t *testing.T) {
	h, _ := NewHyperband(types.EarlyTerminate{MinIter: 1, Eta: 2, S: 3})
	fast := trial("fast", 5, 1, 1, 1)
	slow := trial("slow", 1, 9)
	d := h.Evaluate(slow, []types.Trial{fast, slow}, types.GoalMinimize)
	assert.Equal(t, 2, d.Bracket)
	assert.Equal(t, 9.0, d.Value)
	assert.True(t, d.Terminate)

	d = h.Evaluate(fast, []types.Trial{fast, slow}, types.GoalMinimize)
	assert.Equal(t, 4, d.Bracket)
	assert.Equal(t, 1, d.Cohort)
	assert.False(t, d.Terminate)
}

func TestEvaluateSkipsFailedCohortMembers(t *testing.T) {
	h, _ := NewHyperband(types.EarlyTerminate{MinIter: 1})
	failed := trial("f", 0)
	failed.Status = types.TrialFailed
	d := h.Evaluate(trial("a", 5), []types.Trial{failed}, types.GoalMinimize)
	assert.Equal(t, 1, d.Cohort)
	assert.False(t, d.Terminate)
}

func TestEvaluateNonFiniteMetric(t *testing.T) {
	h, _ := NewHyperband(types.EarlyTerminate{MinIter: 2})
	assert.False(t, h.Evaluate(trial("a", math.NaN()), nil, types.GoalMinimize).Terminate)
	assert.True(t, h.Evaluate(trial("a", 1, math.NaN()), nil, types.GoalMinimize).Terminate)
}

func TestEvaluateTerminalTrial(t *testing.T) {
	h, _ := NewHyperband(types.EarlyTerminate{MinIter: 1})
	tr := trial("a", 100)
	tr.Status = types.TrialPruned
	assert.False(t, h.Evaluate(tr, []types.Trial{trial("b", 1), trial("c", 1)}, types.GoalMinimize).Terminate)
}

func TestEvaluateSparseReports(t *testing.T) {
	h, _ := NewHyperband(types.EarlyTerminate{MinIter: 3})
	late := types.Trial{ID: "late", Status: types.TrialRunning, Reports: []types.MetricReport{{Iteration: 5, Value: 50}}}
	cohort := []types.Trial{trial("a", 1, 1, 1), trial("b", 1, 1, 1), trial("c", 1, 1, 1), late}
	d := h.Evaluate(late, cohort, types.GoalMinimize)
	assert.Equal(t, 3, d.Bracket)
	assert.Equal(t, 50.0, d.Value)
	assert.True(t, d.Terminate)
}

func TestNeverTerminatesBeforeMinIter(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	et := &types.EarlyTerminate{Type: "hyperband", MinIter: 3, Eta: 3, S: 3}
	for round := 0; round < 500; round++ {
		var cohort []types.Trial
		for i := 0; i < 1+rng.Intn(20); i++ {
			n := 1 + rng.Intn(30)
			vals := make([]float64, n)
			for j := range vals {
				vals[j] = rng.Float64() * 100
			}
			cohort = append(cohort, trial(fmt.Sprintf("c%d", i), vals...))
		}
		young := trial("young", rng.Float64()*1e6, rng.Float64()*1e6)
		require.False(t, ShouldTerminate(young, append(cohort, young), et, types.GoalMinimize))
		require.False(t, ShouldTerminate(young, cohort, et, types.GoalMaximize))
	}
}

func TestShouldTerminateWithoutPolicy(t *testing.T) {
	assert.False(t, ShouldTerminate(trial("a", 1e9, 1e9, 1e9), []types.Trial{trial("b", 0, 0, 0)}, nil, types.GoalMinimize))
}
