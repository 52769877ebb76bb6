package sampler

import (
	"context"
	"fmt"

	"github.com/ogulcanaydogan/sweepctl/pkg/types"
)

type gridSampler struct {
	names  []string
	axes   [][]any
	cursor []int
	done   bool
}

func newGrid(params []types.Parameter, limit int) (*gridSampler, error) {
	g := &gridSampler{}
	total := 1.0
	for _, p := range params {
		n, err := axisLen(p)
		if err != nil {
			return nil, err
		}
		total *= n
		if total > float64(limit) {
			return nil, fmt.Errorf("grid has more than %d points", limit)
		}
	}
	for _, p := range params {
		axis, err := gridAxis(p)
		if err != nil {
			return nil, err
		}
		g.names = append(g.names, p.Name)
		g.axes = append(g.axes, axis)
	}
	g.cursor = make([]int, len(g.axes))
	return g, nil
}

// axisLen counts an axis without materializing it, so oversized integer
// ranges are rejected before any allocation.
func axisLen(p types.Parameter) (float64, error) {
	d := p.Distribution
	switch d.Kind {
	case types.KindValue:
		return 1, nil
	case types.KindValues, types.KindCategorical:
		return float64(len(d.Values)), nil
	case types.KindIntUniform:
		return d.Max - d.Min + 1, nil
	default:
		return 0, fmt.Errorf("grid search cannot enumerate %s parameter %q", d.Kind, p.Name)
	}
}

func gridAxis(p types.Parameter) ([]any, error) {
	d := p.Distribution
	switch d.Kind {
	case types.KindValue:
		return []any{d.Value}, nil
	case types.KindValues, types.KindCategorical:
		return d.Values, nil
	case types.KindIntUniform:
		axis := make([]any, 0, int(d.Max-d.Min)+1)
		for i := int(d.Min); i <= int(d.Max); i++ {
			axis = append(axis, i)
		}
		return axis, nil
	default:
		return nil, fmt.Errorf("grid search cannot enumerate %s parameter %q", d.Kind, p.Name)
	}
}

// Size returns the number of points in the grid.
func (g *gridSampler) Size() int {
	n := 1
	for _, a := range g.axes {
		n *= len(a)
	}
	return n
}

func (g *gridSampler) Next(ctx context.Context) (types.Assignments, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if g.done {
		return nil, ErrExhausted
	}
	out := make(types.Assignments, len(g.axes))
	for i, axis := range g.axes {
		out[i] = types.Assignment{Name: g.names[i], Value: axis[g.cursor[i]]}
	}
	// Advance like an odometer, last parameter fastest.
	g.done = true
	for i := len(g.cursor) - 1; i >= 0; i-- {
		g.cursor[i]++
		if g.cursor[i] < len(g.axes[i]) {
			g.done = false
			break
		}
		g.cursor[i] = 0
	}
	return out, nil
}

func (g *gridSampler) Observe(Observation) {}
