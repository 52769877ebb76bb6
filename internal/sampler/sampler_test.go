package sampler

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/ogulcanaydogan/sweepctl/internal/spec"
	"github.com/ogulcanaydogan/sweepctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadExample(t *testing.T) types.SweepSpec {
	t.Helper()
	s, _, err := spec.Load("../../examples/gnn/sweep.yaml")
	require.NoError(t, err)
	return s
}

func TestDrawLogUniformStaysInBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	d := types.Distribution{Kind: types.KindLogUniform, Min: -9.904, Max: -2.995}
	lo, hi := math.Exp(-9.904), math.Exp(-2.995)
	for i := 0; i < 10000; i++ {
		v, ok := Draw(rng, d).(float64)
		require.True(t, ok)
		require.GreaterOrEqual(t, v, lo)
		require.LessOrEqual(t, v, hi)
	}
}

func TestDrawUniformStaysInBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	d := types.Distribution{Kind: types.KindUniform, Min: 0, Max: 0.5}
	for i := 0; i < 1000; i++ {
		v := Draw(rng, d).(float64)
		require.GreaterOrEqual(t, v, 0.0)
		require.LessOrEqual(t, v, 0.5)
	}
}

func TestDrawIntUniformCoversRange(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	d := types.Distribution{Kind: types.KindIntUniform, Min: 1, Max: 3}
	seen := map[int]bool{}
	for i := 0; i < 300; i++ {
		v := Draw(rng, d).(int)
		require.True(t, v >= 1 && v <= 3, "value %d", v)
		seen[v] = true
	}
	assert.Len(t, seen, 3)
}

func TestDrawDegenerateRange(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	assert.Equal(t, 0.25, Draw(rng, types.Distribution{Kind: types.KindUniform, Min: 0.25, Max: 0.25}))
	assert.Equal(t, 7, Draw(rng, types.Distribution{Kind: types.KindIntUniform, Min: 7, Max: 7}))
}

func TestRandomSamplerExampleInBounds(t *testing.T) {
	s := loadExample(t)
	s.Method = types.MethodRandom
	smp, err := New(s, WithSeed(42))
	require.NoError(t, err)
	for i := 0; i < 500; i++ {
		a, err := smp.Next(context.Background())
		require.NoError(t, err)
		require.NoError(t, CheckAssignments(s, a))
		require.Equal(t, s.ParameterNames(), names(a))
	}
}

func TestSeedIsReproducible(t *testing.T) {
	s := loadExample(t)
	s.Method = types.MethodRandom
	a, _ := New(s, WithSeed(7))
	b, _ := New(s, WithSeed(7))
	for i := 0; i < 20; i++ {
		x, _ := a.Next(context.Background())
		y, _ := b.Next(context.Background())
		require.Equal(t, x, y)
	}
}

func TestNextHonoursCancelledContext(t *testing.T) {
	s := loadExample(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, m := range []types.Method{types.MethodRandom, types.MethodBayes} {
		s.Method = m
		smp, err := New(s, WithSeed(1))
		require.NoError(t, err)
		_, err = smp.Next(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestNewRejectsUnknownMethod(t *testing.T) {
	s := loadExample(t)
	s.Method = "annealing"
	_, err := New(s)
	assert.Error(t, err)

	s.Method = types.MethodRandom
	s.Parameters = nil
	_, err = New(s)
	assert.Error(t, err)
}

func TestGridEnumeratesCartesianProduct(t *testing.T) {
	s := types.SweepSpec{
		Method: types.MethodGrid,
		Parameters: []types.Parameter{
			{Name: "model", Distribution: types.Distribution{Kind: types.KindValues, Values: []any{"gcn", "gat"}}},
			{Name: "layers", Distribution: types.Distribution{Kind: types.KindIntUniform, Min: 1, Max: 3}},
			{Name: "pca", Distribution: types.Distribution{Kind: types.KindValue, Value: false}},
		},
	}
	smp, err := New(s)
	require.NoError(t, err)
	var got []string
	for {
		a, err := smp.Next(context.Background())
		if errors.Is(err, ErrExhausted) {
			break
		}
		require.NoError(t, err)
		require.NoError(t, CheckAssignments(s, a))
		got = append(got, types.FormatValue(a[0].Value)+"/"+types.FormatValue(a[1].Value))
	}
	assert.Equal(t, []string{"gcn/1", "gcn/2", "gcn/3", "gat/1", "gat/2", "gat/3"}, got)

	_, err = smp.Next(context.Background())
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestGridRejectsContinuousParameters(t *testing.T) {
	s := loadExample(t)
	s.Method = types.MethodGrid
	_, err := New(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "learning_rate")
}

func TestGridLimit(t *testing.T) {
	s := types.SweepSpec{
		Method: types.MethodGrid,
		Parameters: []types.Parameter{
			{Name: "a", Distribution: types.Distribution{Kind: types.KindIntUniform, Min: 0, Max: 99}},
			{Name: "b", Distribution: types.Distribution{Kind: types.KindIntUniform, Min: 0, Max: 99}},
		},
	}
	_, err := New(s, WithGridLimit(1000))
	assert.Error(t, err)
	g, err := New(s, WithGridLimit(10000))
	require.NoError(t, err)
	assert.Equal(t, 10000, g.(*gridSampler).Size())
}

func TestGridLimitRejectsWideIntRangeBeforeAllocating(t *testing.T) {
	s := types.SweepSpec{
		Method: types.MethodGrid,
		Parameters: []types.Parameter{
			{Name: "a", Distribution: types.Distribution{Kind: types.KindIntUniform, Min: 0, Max: 1e15}},
		},
	}
	_, err := New(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grid has more than")

	s.Parameters = []types.Parameter{
		{Name: "a", Distribution: types.Distribution{Kind: types.KindIntUniform, Min: 0, Max: 1e5}},
		{Name: "b", Distribution: types.Distribution{Kind: types.KindIntUniform, Min: 0, Max: 1e5}},
	}
	_, err = New(s, WithGridLimit(1<<62))
	require.NoError(t, err, "product fits the limit")
}

func TestDrawIntUniformWideRange(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	d := types.Distribution{Kind: types.KindIntUniform, Min: -(1 << 53), Max: 1 << 53}
	for i := 0; i < 1000; i++ {
		v := Draw(rng, d).(int)
		require.True(t, v >= -(1<<53) && v <= 1<<53, "value %d", v)
	}
}

func names(a types.Assignments) []string {
	out := make([]string, 0, len(a))
	for _, v := range a {
		out = append(out, v.Name)
	}
	return out
}
