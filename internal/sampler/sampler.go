// Package sampler draws concrete parameter assignments from a sweep's search
// space. Samplers are not safe for concurrent use; the sweep controller owns
// one and serializes access to it.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/ogulcanaydogan/sweepctl/pkg/types"
)

// ErrExhausted is returned by Next once a finite search space has been fully
// enumerated.
var ErrExhausted = errors.New("search space exhausted")

// Observation is the outcome of a completed trial fed back to the sampler.
type Observation struct {
	Assignments types.Assignments
	Value       float64
}

type Sampler interface {
	Next(ctx context.Context) (types.Assignments, error)
	Observe(o Observation)
}

type options struct {
	seed       int64
	warmup     int
	candidates int
	kappa      float64
	gridLimit  int
}

type Option func(*options)

// WithSeed makes the sampler's draws reproducible.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

// WithWarmup sets how many observations the bayes method collects from
// random draws before the surrogate guides sampling.
func WithWarmup(n int) Option {
	return func(o *options) { o.warmup = n }
}

// WithCandidates sets how many prior draws the bayes method scores per
// suggestion.
func WithCandidates(n int) Option {
	return func(o *options) { o.candidates = n }
}

// WithExploration sets the confidence-bound weight used by the bayes method.
func WithExploration(kappa float64) Option {
	return func(o *options) { o.kappa = kappa }
}

// WithGridLimit caps the number of grid points.
func WithGridLimit(n int) Option {
	return func(o *options) { o.gridLimit = n }
}

// New returns the sampler for the sweep's search method.
func New(s types.SweepSpec, opts ...Option) (Sampler, error) {
	o := options{
		seed:       time.Now().UnixNano(),
		warmup:     5,
		candidates: 64,
		kappa:      1.5,
		gridLimit:  100000,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if len(s.Parameters) == 0 {
		return nil, fmt.Errorf("sweep has no parameters")
	}
	rng := rand.New(rand.NewSource(o.seed))
	switch s.Method {
	case types.MethodGrid:
		return newGrid(s.Parameters, o.gridLimit)
	case types.MethodRandom:
		return &randomSampler{params: s.Parameters, rng: rng}, nil
	case types.MethodBayes:
		return newBayes(s, rng, o), nil
	default:
		return nil, fmt.Errorf("unsupported search method %q", s.Method)
	}
}

// Draw samples one value from d.
func Draw(rng *rand.Rand, d types.Distribution) any {
	switch d.Kind {
	case types.KindValue:
		return d.Value
	case types.KindValues, types.KindCategorical:
		return d.Values[rng.Intn(len(d.Values))]
	case types.KindUniform:
		return clamp(d.Min+rng.Float64()*(d.Max-d.Min), d.Min, d.Max)
	case types.KindLogUniform:
		// min and max are natural-log exponents.
		v := math.Exp(d.Min + rng.Float64()*(d.Max-d.Min))
		return clamp(v, math.Exp(d.Min), math.Exp(d.Max))
	case types.KindIntUniform:
		lo, hi := int64(d.Min), int64(d.Max)
		return int(lo + rng.Int63n(hi-lo+1))
	}
	return nil
}

func drawAll(rng *rand.Rand, params []types.Parameter) types.Assignments {
	out := make(types.Assignments, 0, len(params))
	for _, p := range params {
		out = append(out, types.Assignment{Name: p.Name, Value: Draw(rng, p.Distribution)})
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

type randomSampler struct {
	params []types.Parameter
	rng    *rand.Rand
}

func (r *randomSampler) Next(ctx context.Context) (types.Assignments, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return drawAll(r.rng, r.params), nil
}

func (r *randomSampler) Observe(Observation) {}
