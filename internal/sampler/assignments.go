package sampler

import (
	"fmt"
	"math"
	"strings"

	"github.com/ogulcanaydogan/sweepctl/pkg/types"
)

// AssignmentError describes every way a set of assignments disagrees with
// the sweep's parameters.
type AssignmentError struct {
	Unassigned  []string
	Undefined   []string
	OutOfBounds []string
	Duplicated  []string
}

func (e *AssignmentError) Error() string {
	var msg []string
	if len(e.Unassigned) > 0 {
		msg = append(msg, fmt.Sprintf("unassigned parameters: %s", strings.Join(e.Unassigned, ", ")))
	}
	if len(e.Undefined) > 0 {
		msg = append(msg, fmt.Sprintf("undefined parameters: %s", strings.Join(e.Undefined, ", ")))
	}
	if len(e.OutOfBounds) > 0 {
		msg = append(msg, fmt.Sprintf("out of bounds: %s", strings.Join(e.OutOfBounds, ", ")))
	}
	if len(e.Duplicated) > 0 {
		msg = append(msg, fmt.Sprintf("duplicate assignments: %s", strings.Join(e.Duplicated, ", ")))
	}
	return "invalid assignments: " + strings.Join(msg, "; ")
}

func (e *AssignmentError) empty() bool {
	return len(e.Unassigned)+len(e.Undefined)+len(e.OutOfBounds)+len(e.Duplicated) == 0
}

// CheckAssignments verifies that a covers each parameter exactly once with an
// in-bounds value.
func CheckAssignments(s types.SweepSpec, a types.Assignments) error {
	e := &AssignmentError{}
	seen := make(map[string]int, len(a))
	for _, as := range a {
		seen[as.Name]++
		if seen[as.Name] == 2 {
			e.Duplicated = append(e.Duplicated, as.Name)
		}
		p, ok := s.Parameter(as.Name)
		if !ok {
			e.Undefined = append(e.Undefined, as.Name)
			continue
		}
		if !InBounds(p.Distribution, as.Value) {
			e.OutOfBounds = append(e.OutOfBounds, fmt.Sprintf("%s=%s", as.Name, types.FormatValue(as.Value)))
		}
	}
	for _, p := range s.Parameters {
		if seen[p.Name] == 0 {
			e.Unassigned = append(e.Unassigned, p.Name)
		}
	}
	if e.empty() {
		return nil
	}
	return e
}

// InBounds reports whether v is a value d can produce.
func InBounds(d types.Distribution, v any) bool {
	switch d.Kind {
	case types.KindValue:
		return types.FormatValue(v) == types.FormatValue(d.Value)
	case types.KindValues, types.KindCategorical:
		return indexOf(d.Values, v) >= 0
	}
	f, ok := toFloat(v)
	if !ok {
		return false
	}
	switch d.Kind {
	case types.KindUniform:
		return f >= d.Min && f <= d.Max
	case types.KindLogUniform:
		return f >= math.Exp(d.Min) && f <= math.Exp(d.Max)
	case types.KindIntUniform:
		return f == math.Trunc(f) && f >= d.Min && f <= d.Max
	}
	return false
}
