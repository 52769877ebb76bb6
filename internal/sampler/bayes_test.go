package sampler

import (
	"context"
	"math"
	"testing"

	"github.com/ogulcanaydogan/sweepctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quadraticSweep(goal types.Goal) types.SweepSpec {
	return types.SweepSpec{
		Method: types.MethodBayes,
		Metric: types.Metric{Name: "loss", Goal: goal},
		Parameters: []types.Parameter{
			{Name: "x", Distribution: types.Distribution{Kind: types.KindUniform, Min: -2, Max: 2}},
			{Name: "lr", Distribution: types.Distribution{Kind: types.KindLogUniform, Min: -9.904, Max: -2.995}},
			{Name: "model", Distribution: types.Distribution{Kind: types.KindValues, Values: []any{"gcn", "gat"}}},
		},
	}
}

func scalarSweep(goal types.Goal) types.SweepSpec {
	s := quadraticSweep(goal)
	s.Parameters = s.Parameters[:1]
	return s
}

func objective(a types.Assignments) float64 {
	x, _ := a.Get("x")
	v := x.(float64) - 1
	return v * v
}

func TestBayesSuggestionsStayInBounds(t *testing.T) {
	s := quadraticSweep(types.GoalMinimize)
	smp, err := New(s, WithSeed(11), WithWarmup(3))
	require.NoError(t, err)
	for i := 0; i < 60; i++ {
		a, err := smp.Next(context.Background())
		require.NoError(t, err)
		require.NoError(t, CheckAssignments(s, a))
		smp.Observe(Observation{Assignments: a, Value: objective(a)})
	}
}

func TestBayesImprovesOnRandomLate(t *testing.T) {
	s := scalarSweep(types.GoalMinimize)
	smp, err := New(s, WithSeed(5), WithWarmup(5), WithCandidates(128), WithExploration(0.5))
	require.NoError(t, err)
	var late []float64
	for i := 0; i < 40; i++ {
		a, err := smp.Next(context.Background())
		require.NoError(t, err)
		y := objective(a)
		smp.Observe(Observation{Assignments: a, Value: y})
		if i >= 30 {
			late = append(late, y)
		}
	}
	// Uniform draws on [-2, 2] average (x-1)^2 = 7/3.
	mean, _ := meanStd(late)
	assert.Less(t, mean, 1.0)
}

func TestBayesMaximizeGoal(t *testing.T) {
	s := scalarSweep(types.GoalMaximize)
	smp, err := New(s, WithSeed(9), WithWarmup(5), WithCandidates(128), WithExploration(0.5))
	require.NoError(t, err)
	var late []float64
	for i := 0; i < 40; i++ {
		a, err := smp.Next(context.Background())
		require.NoError(t, err)
		y := -objective(a)
		smp.Observe(Observation{Assignments: a, Value: y})
		if i >= 30 {
			late = append(late, y)
		}
	}
	mean, _ := meanStd(late)
	assert.Greater(t, mean, -1.0)
}

func TestBayesIgnoresNonFiniteObservations(t *testing.T) {
	s := quadraticSweep(types.GoalMinimize)
	smp, err := New(s, WithSeed(1))
	require.NoError(t, err)
	b := smp.(*bayesSampler)
	a, _ := smp.Next(context.Background())
	smp.Observe(Observation{Assignments: a, Value: math.NaN()})
	smp.Observe(Observation{Assignments: a, Value: math.Inf(1)})
	smp.Observe(Observation{Assignments: types.Assignments{{Name: "x", Value: 0.1}}, Value: 1})
	assert.Empty(t, b.ys)
}

func TestBayesEncodeUnitInterval(t *testing.T) {
	s := quadraticSweep(types.GoalMinimize)
	smp, _ := New(s, WithSeed(1))
	b := smp.(*bayesSampler)
	x, err := b.encode(types.Assignments{
		{Name: "x", Value: 2.0},
		{Name: "lr", Value: math.Exp(-9.904)},
		{Name: "model", Value: "gat"},
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, x[0], 1e-9)
	assert.InDelta(t, 0.0, x[1], 1e-9)
	assert.InDelta(t, 1.0, x[2], 1e-9)
}
