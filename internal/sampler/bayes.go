package sampler

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/ogulcanaydogan/sweepctl/pkg/types"
)

// bandwidth of the Gaussian kernel in the unit hypercube.
const bandwidth = 0.1

// priorWeight pulls predictions in sparsely observed regions back toward the
// observed mean.
const priorWeight = 0.1

// bayesSampler fits a Nadaraya-Watson kernel regression to the observed
// metric values and picks, among random candidates drawn from the prior, the
// one with the best confidence bound. Candidates come from Draw, so every
// suggestion stays inside the declared bounds.
type bayesSampler struct {
	params     []types.Parameter
	goal       types.Goal
	rng        *rand.Rand
	warmup     int
	candidates int
	kappa      float64

	xs [][]float64
	ys []float64
}

func newBayes(s types.SweepSpec, rng *rand.Rand, o options) *bayesSampler {
	if o.candidates < 1 {
		o.candidates = 1
	}
	return &bayesSampler{
		params:     s.Parameters,
		goal:       s.Metric.Goal,
		rng:        rng,
		warmup:     o.warmup,
		candidates: o.candidates,
		kappa:      o.kappa,
	}
}

func (b *bayesSampler) Next(ctx context.Context) (types.Assignments, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(b.ys) < b.warmup || len(b.ys) == 0 {
		return drawAll(b.rng, b.params), nil
	}
	mean, std := meanStd(b.ys)
	if std == 0 {
		std = 1
	}
	var (
		best      types.Assignments
		bestScore = math.Inf(1)
	)
	for i := 0; i < b.candidates; i++ {
		cand := drawAll(b.rng, b.params)
		x, err := b.encode(cand)
		if err != nil {
			return nil, err
		}
		mu, sigma := b.predict(x, mean, std)
		// Lower scores are better; maximize goals are negated.
		score := mu - b.kappa*sigma
		if b.goal == types.GoalMaximize {
			score = -mu - b.kappa*sigma
		}
		if score < bestScore {
			best, bestScore = cand, score
		}
	}
	return best, nil
}

func (b *bayesSampler) Observe(o Observation) {
	if math.IsNaN(o.Value) || math.IsInf(o.Value, 0) {
		return
	}
	x, err := b.encode(o.Assignments)
	if err != nil {
		return
	}
	b.xs = append(b.xs, x)
	b.ys = append(b.ys, o.Value)
}

// predict returns the surrogate mean and an uncertainty that shrinks with the
// kernel mass near x. Values are standardized before weighting.
func (b *bayesSampler) predict(x []float64, mean, std float64) (float64, float64) {
	var wsum, ysum float64
	weights := make([]float64, len(b.xs))
	for i, xi := range b.xs {
		w := math.Exp(-sqDist(x, xi) / (2 * bandwidth * bandwidth))
		weights[i] = w
		wsum += w
		ysum += w * (b.ys[i] - mean) / std
	}
	if wsum < 1e-12 {
		return 0, 1
	}
	mu := ysum / (wsum + priorWeight)
	var spread float64
	for i, w := range weights {
		d := (b.ys[i]-mean)/std - mu
		spread += w * d * d
	}
	spread /= wsum
	sigma := math.Sqrt(spread+1) / math.Sqrt(1+wsum)
	return mu, sigma
}

// encode maps assignments into the unit hypercube: numeric parameters by
// position within their bounds (log space for log_uniform), discrete choices
// by index.
func (b *bayesSampler) encode(a types.Assignments) ([]float64, error) {
	x := make([]float64, 0, len(b.params))
	for _, p := range b.params {
		d := p.Distribution
		if d.Kind == types.KindValue {
			continue
		}
		v, ok := a.Get(p.Name)
		if !ok {
			return nil, fmt.Errorf("assignment for %q missing", p.Name)
		}
		switch d.Kind {
		case types.KindValues, types.KindCategorical:
			idx := indexOf(d.Values, v)
			if len(d.Values) < 2 || idx < 0 {
				x = append(x, 0)
				continue
			}
			x = append(x, float64(idx)/float64(len(d.Values)-1))
		default:
			f, ok := toFloat(v)
			if !ok {
				return nil, fmt.Errorf("assignment for %q is not numeric", p.Name)
			}
			lo, hi := d.Min, d.Max
			if d.Kind == types.KindLogUniform {
				f = math.Log(f)
			}
			if hi == lo {
				x = append(x, 0)
				continue
			}
			x = append(x, clamp((f-lo)/(hi-lo), 0, 1))
		}
	}
	return x, nil
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	if len(a) == 0 {
		return 0
	}
	return s / float64(len(a))
}

func meanStd(ys []float64) (float64, float64) {
	var sum float64
	for _, y := range ys {
		sum += y
	}
	mean := sum / float64(len(ys))
	var ss float64
	for _, y := range ys {
		ss += (y - mean) * (y - mean)
	}
	return mean, math.Sqrt(ss / float64(len(ys)))
}

func indexOf(values []any, v any) int {
	want := types.FormatValue(v)
	for i, c := range values {
		if types.FormatValue(c) == want {
			return i
		}
	}
	return -1
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
