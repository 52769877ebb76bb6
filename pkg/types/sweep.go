package types

type Method string

const (
	MethodGrid   Method = "grid"
	MethodRandom Method = "random"
	MethodBayes  Method = "bayes"
)

type Goal string

const (
	GoalMinimize Goal = "minimize"
	GoalMaximize Goal = "maximize"
)

// Kind identifies how a parameter's value is produced.
type Kind string

const (
	KindValues      Kind = "values"
	KindValue       Kind = "value"
	KindLogUniform  Kind = "log_uniform"
	KindUniform     Kind = "uniform"
	KindIntUniform  Kind = "int_uniform"
	KindCategorical Kind = "categorical"
)

const EarlyTerminateHyperband = "hyperband"

type SweepSpec struct {
	Name           string          `json:"name,omitempty"`
	Description    string          `json:"description,omitempty"`
	Program        string          `json:"program"`
	Method         Method          `json:"method"`
	Metric         Metric          `json:"metric"`
	Command        []string        `json:"command,omitempty"`
	Parameters     []Parameter     `json:"parameters"`
	EarlyTerminate *EarlyTerminate `json:"early_terminate,omitempty"`
}

type Metric struct {
	Name string `json:"name" yaml:"name"`
	Goal Goal   `json:"goal" yaml:"goal"`
}

type Parameter struct {
	Name         string       `json:"name"`
	Distribution Distribution `json:"distribution"`
}

// Distribution is a tagged variant: Kind selects which of the remaining
// fields are meaningful.
type Distribution struct {
	Kind   Kind    `json:"kind"`
	Values []any   `json:"values,omitempty"`
	Value  any     `json:"value,omitempty"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Numeric reports whether the distribution draws from a [Min, Max] range.
func (d Distribution) Numeric() bool {
	switch d.Kind {
	case KindLogUniform, KindUniform, KindIntUniform:
		return true
	}
	return false
}

// Discrete reports whether every possible value can be enumerated.
func (d Distribution) Discrete() bool {
	switch d.Kind {
	case KindValues, KindCategorical, KindValue, KindIntUniform:
		return true
	}
	return false
}

type EarlyTerminate struct {
	Type    string  `json:"type"`
	MinIter int     `json:"min_iter,omitempty"`
	MaxIter int     `json:"max_iter,omitempty"`
	Eta     float64 `json:"eta,omitempty"`
	S       int     `json:"s,omitempty"`
}

const (
	DefaultHyperbandEta = 3
	DefaultHyperbandS   = 3
)

// Parameter returns the named parameter, if present.
func (s SweepSpec) Parameter(name string) (Parameter, bool) {
	for _, p := range s.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// ParameterNames returns the parameter names in document order.
func (s SweepSpec) ParameterNames() []string {
	out := make([]string, 0, len(s.Parameters))
	for _, p := range s.Parameters {
		out = append(out, p.Name)
	}
	return out
}

// Better reports whether a improves on b under goal.
func (g Goal) Better(a, b float64) bool {
	if g == GoalMaximize {
		return a > b
	}
	return a < b
}
