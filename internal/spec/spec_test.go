package spec

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ogulcanaydogan/sweepctl/pkg/types"
)

const minimalSweep = `program: wandb_train.py
method: random
metric:
  name: validation_mse
  goal: minimize
parameters:
  dropout:
    distribution: uniform
    min: 0
    max: 0.5
`

func TestLoadExampleSweep(t *testing.T) {
	s, warnings, err := Load("../../examples/gnn/sweep.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if s.Program != "wandb_train.py" || s.Method != types.MethodBayes {
		t.Fatalf("program/method = %q/%q", s.Program, s.Method)
	}
	if s.Metric.Goal != types.GoalMinimize {
		t.Errorf("goal = %q", s.Metric.Goal)
	}
	want := []string{"model", "learning_rate", "weight_decay", "dropout", "similarity",
		"n_conv_layers", "layer_sizes", "similarity_threshold", "epochs"}
	if diff := cmp.Diff(want, s.ParameterNames()); diff != "" {
		t.Fatalf("parameter order (-want +got):\n%s", diff)
	}
	if len(warnings) != 2 {
		t.Fatalf("warnings = %v", warnings)
	}
	for _, w := range warnings {
		if !strings.Contains(w.Message, `nested under "similarity"`) {
			t.Errorf("warning = %q", w)
		}
	}
	lr, _ := s.Parameter("learning_rate")
	if lr.Distribution.Kind != types.KindLogUniform || lr.Distribution.Min != -9.904 || lr.Distribution.Max != -2.995 {
		t.Errorf("learning_rate = %+v", lr.Distribution)
	}
	if s.EarlyTerminate == nil || s.EarlyTerminate.MinIter != 3 {
		t.Fatalf("early_terminate = %+v", s.EarlyTerminate)
	}
	if s.EarlyTerminate.Eta != types.DefaultHyperbandEta || s.EarlyTerminate.S != types.DefaultHyperbandS {
		t.Errorf("hyperband defaults not applied: %+v", s.EarlyTerminate)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read sweep") {
		t.Fatalf("err = %v", err)
	}
}

func TestParseRejectsMissingTopLevelFields(t *testing.T) {
	for _, field := range []string{"program", "method", "metric", "parameters"} {
		t.Run(field, func(t *testing.T) {
			doc := dropTopLevel(minimalSweep, field)
			_, _, err := Parse([]byte(doc))
			var se *SchemaError
			if !errors.As(err, &se) {
				t.Fatalf("expected SchemaError, got %v", err)
			}
			if !strings.Contains(se.Error(), field) {
				t.Errorf("error %q does not name %s", se, field)
			}
		})
	}
}

func TestParseRejectsMissingGoal(t *testing.T) {
	doc := strings.Replace(minimalSweep, "  goal: minimize\n", "", 1)
	_, _, err := Parse([]byte(doc))
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	if !strings.Contains(se.Reason, "goal") {
		t.Errorf("reason = %q", se.Reason)
	}
}

func TestParseRejectsInvertedBounds(t *testing.T) {
	doc := strings.Replace(minimalSweep, "min: 0\n    max: 0.5", "min: 0.9\n    max: 0.1", 1)
	_, _, err := Parse([]byte(doc))
	var de *DistributionError
	if !errors.As(err, &de) {
		t.Fatalf("expected DistributionError, got %v", err)
	}
	if de.Parameter != "dropout" {
		t.Errorf("parameter = %q", de.Parameter)
	}
}

func TestParseDistributionErrors(t *testing.T) {
	tests := []struct {
		name  string
		param string
	}{
		{"empty values", "values: []"},
		{"empty categorical", "distribution: categorical\n    values: []"},
		{"fractional int bounds", "distribution: int_uniform\n    min: 1\n    max: 2.5"},
		{"inverted log bounds", "distribution: log_uniform\n    min: -2\n    max: -9"},
		{"int bounds too wide", "distribution: int_uniform\n    min: -6000000000000000000\n    max: 6000000000000000000"},
		{"int bound above 2^53", "min: 0\n    max: 9007199254740994"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Parse([]byte(withParameter("p", tt.param)))
			var de *DistributionError
			if !errors.As(err, &de) {
				t.Fatalf("expected DistributionError, got %v", err)
			}
		})
	}
}

func TestParseSchemaErrors(t *testing.T) {
	tests := []struct {
		name  string
		param string
	}{
		{"unknown distribution", "distribution: normal\n    min: 0\n    max: 1"},
		{"value and values", "value: 1\n    values: [1, 2]"},
		{"values and range", "values: [1, 2]\n    min: 0\n    max: 1"},
		{"numeric without max", "distribution: uniform\n    min: 0"},
		{"categorical with range", "distribution: categorical\n    values: [a]\n    min: 0\n    max: 1"},
		{"nothing", "{}"},
		{"unknown scalar key", "values: [1]\n    q: 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Parse([]byte(withParameter("p", tt.param)))
			var se *SchemaError
			if !errors.As(err, &se) {
				t.Fatalf("expected SchemaError, got %v", err)
			}
		})
	}
}

func TestParseInfersRangeKind(t *testing.T) {
	s, _, err := Parse([]byte(withParameter("layers", "min: 1\n    max: 4")))
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Parameters[0].Distribution.Kind; got != types.KindIntUniform {
		t.Errorf("integer bounds inferred %q", got)
	}
	s, _, err = Parse([]byte(withParameter("threshold", "min: 0.5\n    max: 1")))
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Parameters[0].Distribution.Kind; got != types.KindUniform {
		t.Errorf("float bounds inferred %q", got)
	}
}

func TestParseHoistCollision(t *testing.T) {
	doc := minimalSweep + `  similarity:
    values: [sex]
    dropout:
      values: [0.1]
`
	_, _, err := Parse([]byte(doc))
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	if !strings.Contains(se.Reason, "more than once") {
		t.Errorf("reason = %q", se.Reason)
	}
}

func TestParsePureGroupIsFlattened(t *testing.T) {
	doc := minimalSweep + `  architecture:
    n_conv_layers:
      values: [1, 2]
    hidden:
      min: 16
      max: 256
`
	s, warnings, err := Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"dropout", "n_conv_layers", "hidden"}, s.ParameterNames()); diff != "" {
		t.Errorf("names (-want +got):\n%s", diff)
	}
	if len(warnings) != 2 {
		t.Errorf("warnings = %v", warnings)
	}
}

func TestParseResolvesAliasesAndMergeKeys(t *testing.T) {
	doc := `program: wandb_train.py
method: random
metric: &m
  name: validation_mse
  goal: minimize
parameters:
  dropout: &rate
    distribution: uniform
    min: 0
    max: 0.5
  attn_dropout: *rate
  head_dropout:
    <<: *rate
    max: 0.3
early_terminate:
  <<: {type: hyperband, eta: 2}
  min_iter: 2
`
	s, warnings, err := Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v", warnings)
	}
	if diff := cmp.Diff([]string{"dropout", "attn_dropout", "head_dropout"}, s.ParameterNames()); diff != "" {
		t.Fatalf("names (-want +got):\n%s", diff)
	}
	rate := types.Distribution{Kind: types.KindUniform, Min: 0, Max: 0.5}
	if diff := cmp.Diff(rate, s.Parameters[1].Distribution); diff != "" {
		t.Errorf("aliased parameter (-want +got):\n%s", diff)
	}
	head := types.Distribution{Kind: types.KindUniform, Min: 0, Max: 0.3}
	if diff := cmp.Diff(head, s.Parameters[2].Distribution); diff != "" {
		t.Errorf("merged parameter (-want +got):\n%s", diff)
	}
	if s.EarlyTerminate == nil || s.EarlyTerminate.Type != "hyperband" || s.EarlyTerminate.Eta != 2 || s.EarlyTerminate.MinIter != 2 {
		t.Errorf("early_terminate = %+v", s.EarlyTerminate)
	}
}

func TestParseEarlyTerminateRequiresOneBound(t *testing.T) {
	for _, et := range []string{
		"early_terminate:\n  type: hyperband\n",
		"early_terminate:\n  type: hyperband\n  min_iter: 3\n  max_iter: 27\n",
	} {
		_, _, err := Parse([]byte(minimalSweep + et))
		var se *SchemaError
		if !errors.As(err, &se) {
			t.Fatalf("expected SchemaError for %q, got %v", et, err)
		}
	}
}

func TestParseRejectsNonMapping(t *testing.T) {
	for _, doc := range []string{"", "- a\n- b\n", "program: [unclosed"} {
		_, _, err := Parse([]byte(doc))
		var se *SchemaError
		if !errors.As(err, &se) {
			t.Errorf("expected SchemaError for %q, got %v", doc, err)
		}
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	original, _, err := Load("../../examples/gnn/sweep.yaml")
	if err != nil {
		t.Fatal(err)
	}
	raw, err := Marshal(original)
	if err != nil {
		t.Fatal(err)
	}
	again, warnings, err := Parse(raw)
	if err != nil {
		t.Fatalf("reparse: %v\n%s", err, raw)
	}
	if len(warnings) != 0 {
		t.Errorf("flattened document should not warn: %v", warnings)
	}
	if diff := cmp.Diff(original, again); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshalRoundTripLiteralTypes(t *testing.T) {
	original := types.SweepSpec{
		Program: "wandb_train.py",
		Method:  types.MethodGrid,
		Metric:  types.Metric{Name: "validation_mse", Goal: types.GoalMaximize},
		Command: []string{"${env}", "${interpreter}", "${program}", "${args}"},
		Parameters: []types.Parameter{
			{Name: "scale", Distribution: types.Distribution{Kind: types.KindValues, Values: []any{1.0, 2.5, 3}}},
			{Name: "tags", Distribution: types.Distribution{Kind: types.KindCategorical, Values: []any{"1", "true", "null"}}},
			{Name: "layer_sizes", Distribution: types.Distribution{Kind: types.KindValues, Values: []any{[]any{256, 128}, []any{64}}}},
			{Name: "pca", Distribution: types.Distribution{Kind: types.KindValue, Value: false}},
			{Name: "layers", Distribution: types.Distribution{Kind: types.KindIntUniform, Min: 1, Max: 4}},
			{Name: "dropout", Distribution: types.Distribution{Kind: types.KindUniform, Min: 0, Max: 0.5}},
		},
		EarlyTerminate: &types.EarlyTerminate{Type: "hyperband", MaxIter: 27, Eta: 3, S: 2},
	}
	raw, err := Marshal(original)
	if err != nil {
		t.Fatal(err)
	}
	again, _, err := Parse(raw)
	if err != nil {
		t.Fatalf("reparse: %v\n%s", err, raw)
	}
	if diff := cmp.Diff(original, again); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s\n%s", diff, raw)
	}
}

func TestFingerprint(t *testing.T) {
	s, _, err := Parse([]byte(minimalSweep))
	if err != nil {
		t.Fatal(err)
	}
	a, err := Fingerprint(s)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Fingerprint(s)
	if a != b {
		t.Fatal("fingerprint is not stable")
	}
	s.Parameters[0].Distribution.Max = 0.6
	c, _ := Fingerprint(s)
	if a == c {
		t.Fatal("fingerprint should change with the sweep")
	}
}

func TestErrorMessages(t *testing.T) {
	if got := (&SchemaError{Reason: "empty document"}).Error(); got != "schema: empty document" {
		t.Errorf("SchemaError = %q", got)
	}
	if got := (&SchemaError{Field: "metric", Reason: "goal is required"}).Error(); got != "schema: metric: goal is required" {
		t.Errorf("SchemaError = %q", got)
	}
	if got := (&DistributionError{Parameter: "dropout", Reason: "x"}).Error(); got != `distribution: parameter "dropout": x` {
		t.Errorf("DistributionError = %q", got)
	}
}

func withParameter(name, body string) string {
	return `program: wandb_train.py
method: random
metric:
  name: validation_mse
  goal: minimize
parameters:
  ` + name + `:
    ` + body + "\n"
}

func dropTopLevel(doc, field string) string {
	lines := strings.Split(doc, "\n")
	out := make([]string, 0, len(lines))
	skipping := false
	for _, line := range lines {
		if strings.HasPrefix(line, field+":") {
			skipping = true
			continue
		}
		if skipping && strings.HasPrefix(line, " ") {
			continue
		}
		skipping = false
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
