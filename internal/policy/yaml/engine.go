package yaml

import (
	"fmt"
	"math"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	goyaml "gopkg.in/yaml.v3"

	"github.com/ogulcanaydogan/sweepctl/internal/spec"
	"github.com/ogulcanaydogan/sweepctl/pkg/types"
)

// Policy is an organisation's rules for which sweeps may run.
type Policy struct {
	Version                string   `yaml:"version" json:"version"`
	AllowedMethods         []string `yaml:"allowed_methods" json:"allowed_methods"`
	RequireEarlyTerminate  bool     `yaml:"require_early_terminate" json:"require_early_terminate"`
	MaxParameters          int      `yaml:"max_parameters" json:"max_parameters"`
	RequiredParameters     []string `yaml:"required_parameters" json:"required_parameters"`
	ForbidNestedParameters bool     `yaml:"forbid_nested_parameters" json:"forbid_nested_parameters"`
	Gates                  []Gate   `yaml:"gates" json:"gates"`
}

// Gate constrains every parameter whose name matches Parameter, a
// path.Match pattern.
type Gate struct {
	ID           string   `yaml:"id" json:"id"`
	Parameter    string   `yaml:"parameter" json:"parameter"`
	AllowedKinds []string `yaml:"allowed_kinds" json:"allowed_kinds"`
	Min          *float64 `yaml:"min" json:"min"`
	Max          *float64 `yaml:"max" json:"max"`
	MaxValues    int      `yaml:"max_values" json:"max_values"`
	Message      string   `yaml:"message" json:"message"`
}

// SpecView is the part of a sweep document a policy can see.
type SpecView struct {
	Path           string          `json:"path"`
	Method         string          `json:"method"`
	Metric         string          `json:"metric"`
	Goal           string          `json:"goal"`
	EarlyTerminate bool            `json:"early_terminate"`
	Nested         int             `json:"nested"`
	Parameters     []ParameterView `json:"parameters"`
}

// ParameterView describes one parameter. Min and Max are the range of
// produced values, so log_uniform exponents are already applied.
type ParameterView struct {
	Name   string  `json:"name"`
	Kind   string  `json:"kind"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Values int     `json:"values"`
}

func LoadPolicy(path string) (Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, err
	}
	var p Policy
	if err := goyaml.Unmarshal(raw, &p); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// LoadSpecs parses the sweep document at source, or every .yaml/.yml file
// in it when source is a directory.
func LoadSpecs(source string) ([]SpecView, error) {
	fi, err := os.Stat(source)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0)
	if fi.IsDir() {
		entries, err := os.ReadDir(source)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			name := e.Name()
			if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
				paths = append(paths, filepath.Join(source, name))
			}
		}
	} else {
		paths = append(paths, source)
	}
	sort.Strings(paths)

	out := make([]SpecView, 0, len(paths))
	for _, p := range paths {
		s, warnings, err := spec.Load(p)
		if err != nil {
			return nil, err
		}
		out = append(out, View(filepath.ToSlash(p), s, len(warnings)))
	}
	return out, nil
}

// View projects a parsed spec for policy evaluation.
func View(path string, s types.SweepSpec, nested int) SpecView {
	v := SpecView{
		Path:           path,
		Method:         string(s.Method),
		Metric:         s.Metric.Name,
		Goal:           string(s.Metric.Goal),
		EarlyTerminate: s.EarlyTerminate != nil,
		Nested:         nested,
		Parameters:     make([]ParameterView, 0, len(s.Parameters)),
	}
	for _, p := range s.Parameters {
		d := p.Distribution
		pv := ParameterView{Name: p.Name, Kind: string(d.Kind)}
		switch d.Kind {
		case types.KindValues, types.KindCategorical:
			pv.Values = len(d.Values)
		case types.KindValue:
			pv.Values = 1
		case types.KindLogUniform:
			pv.Min, pv.Max = math.Exp(d.Min), math.Exp(d.Max)
		default:
			pv.Min, pv.Max = d.Min, d.Max
		}
		v.Parameters = append(v.Parameters, pv)
	}
	return v
}

// Evaluate returns the sorted, de-duplicated violations of policy by specs.
func Evaluate(policy Policy, specs []SpecView) []string {
	set := make(map[string]struct{})
	add := func(format string, args ...any) {
		set[fmt.Sprintf(format, args...)] = struct{}{}
	}
	for _, s := range specs {
		if len(policy.AllowedMethods) > 0 && !contains(policy.AllowedMethods, s.Method) {
			add("%s: method %s is not allowed", s.Path, s.Method)
		}
		if policy.RequireEarlyTerminate && !s.EarlyTerminate {
			add("%s: early termination is required", s.Path)
		}
		if policy.MaxParameters > 0 && len(s.Parameters) > policy.MaxParameters {
			add("%s: %d parameters exceed the limit of %d", s.Path, len(s.Parameters), policy.MaxParameters)
		}
		if policy.ForbidNestedParameters && s.Nested > 0 {
			add("%s: nested parameter definitions are not allowed", s.Path)
		}
		for _, req := range policy.RequiredParameters {
			if !hasParameter(s, req) {
				add("%s: required parameter %s is missing", s.Path, req)
			}
		}
		for _, g := range policy.Gates {
			for _, p := range s.Parameters {
				if ok, _ := path.Match(g.Parameter, p.Name); !ok {
					continue
				}
				for _, reason := range gateReasons(g, p) {
					if g.Message != "" {
						add("%s: %s", s.Path, g.Message)
					} else {
						add("%s: gate %s: parameter %s %s", s.Path, g.ID, p.Name, reason)
					}
				}
			}
		}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func gateReasons(g Gate, p ParameterView) []string {
	var reasons []string
	if len(g.AllowedKinds) > 0 && !contains(g.AllowedKinds, p.Kind) {
		reasons = append(reasons, "uses a disallowed distribution")
	}
	numeric := p.Kind == string(types.KindUniform) || p.Kind == string(types.KindLogUniform) || p.Kind == string(types.KindIntUniform)
	if numeric && g.Min != nil && p.Min < *g.Min {
		reasons = append(reasons, "reaches below the allowed minimum")
	}
	if numeric && g.Max != nil && p.Max > *g.Max {
		reasons = append(reasons, "reaches above the allowed maximum")
	}
	if g.MaxValues > 0 && p.Values > g.MaxValues {
		reasons = append(reasons, "lists too many values")
	}
	return reasons
}

func hasParameter(s SpecView, name string) bool {
	for _, p := range s.Parameters {
		if p.Name == name {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
