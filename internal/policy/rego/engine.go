package rego

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	oparego "github.com/open-policy-agent/opa/rego"

	"github.com/ogulcanaydogan/sweepctl/internal/policy/yaml"
)

// Query is the rule a gate policy module must define.
const Query = "data.sweep.gates.result"

type Input struct {
	Specs  []yaml.SpecView `json:"specs"`
	Policy yaml.Policy     `json:"policy"`
}

type Result struct {
	Allow      bool     `json:"allow"`
	Violations []string `json:"violations"`
}

func BuildInput(policy yaml.Policy, specs []yaml.SpecView) Input {
	return Input{Specs: specs, Policy: policy}
}

func Evaluate(policyPath string, input Input) (Result, error) {
	raw, err := os.ReadFile(policyPath)
	if err != nil {
		return Result{}, fmt.Errorf("read rego policy: %w", err)
	}

	query, err := oparego.New(
		oparego.Query(Query),
		oparego.Module(filepath.Base(policyPath), string(raw)),
		oparego.Input(input),
	).PrepareForEval(context.Background())
	if err != nil {
		return Result{}, fmt.Errorf("prepare rego query: %w", err)
	}

	rs, err := query.Eval(context.Background())
	if err != nil {
		return Result{}, fmt.Errorf("eval rego policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Result{}, fmt.Errorf("rego policy returned no result")
	}
	return decodeResult(rs[0].Expressions[0].Value)
}

func decodeResult(v any) (Result, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return Result{}, fmt.Errorf("rego result must be object")
	}
	allow, _ := obj["allow"].(bool)
	violations := decodeViolations(obj["violations"])
	sort.Strings(violations)
	return Result{Allow: allow, Violations: violations}, nil
}

func decodeViolations(v any) []string {
	out := []string{}
	switch raw := v.(type) {
	case []any:
		for _, item := range raw {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	case map[string]any:
		for key := range raw {
			if key != "" {
				out = append(out, key)
			}
		}
	}
	return out
}
