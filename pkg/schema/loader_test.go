package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validSweep() map[string]any {
	return map[string]any{
		"program": "wandb_train.py",
		"method":  "bayes",
		"metric": map[string]any{
			"name": "val_loss",
			"goal": "minimize",
		},
		"parameters": map[string]any{
			"model":         map[string]any{"values": []any{"gcn", "gat"}},
			"learning_rate": map[string]any{"distribution": "log_uniform", "min": -9.904, "max": -2.995},
			"similarity": map[string]any{
				"values":        []any{"sex", "sex_age"},
				"n_conv_layers": map[string]any{"values": []any{1, 2, 3}},
			},
		},
		"early_terminate": map[string]any{"type": "hyperband", "min_iter": 3},
	}
}

func TestValidateSweep(t *testing.T) {
	errs, err := ValidateSweep(validSweep())
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 0 {
		t.Fatalf("schema should pass: %v", errs)
	}
}

func TestValidateSweepMissingGoal(t *testing.T) {
	doc := validSweep()
	doc["metric"] = map[string]any{"name": "val_loss"}
	errs, err := ValidateSweep(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) == 0 {
		t.Fatal("expected violation for missing goal")
	}
	if !strings.Contains(errs[0].String(), "goal") {
		t.Errorf("violation = %q", errs[0])
	}
}

func TestValidateSweepRejectsUnknownDistribution(t *testing.T) {
	doc := validSweep()
	doc["parameters"] = map[string]any{
		"dropout": map[string]any{"distribution": "normal", "min": 0, "max": 1},
	}
	errs, err := ValidateSweep(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) == 0 {
		t.Fatal("expected violation for unknown distribution")
	}
}

func TestValidateSweepRejectsScalarExtraKey(t *testing.T) {
	doc := validSweep()
	doc["parameters"] = map[string]any{
		"dropout": map[string]any{"distribution": "uniform", "min": 0, "max": 0.5, "mu": 3},
	}
	errs, err := ValidateSweep(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) == 0 {
		t.Fatal("expected violation for scalar extra key")
	}
}

func TestValidateSweepRejectsUnknownMethod(t *testing.T) {
	doc := validSweep()
	doc["method"] = "annealing"
	errs, err := ValidateSweep(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) == 0 {
		t.Fatal("expected violation for unknown method")
	}
}

func TestSweepSchemaIsCopy(t *testing.T) {
	a := SweepSchema()
	a[0] = 'x'
	if SweepSchema()[0] == 'x' {
		t.Fatal("SweepSchema must return a copy")
	}
}

func TestValidateExternalSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "org.schema.json")
	if err := os.WriteFile(path, []byte(`{"type":"object","required":["name"]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	errs, err := Validate(path, map[string]any{"program": "train.py"})
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) == 0 {
		t.Fatal("expected violation for missing name")
	}
}

func TestValidateMissingSchemaFile(t *testing.T) {
	_, err := Validate(filepath.Join(t.TempDir(), "missing.schema.json"), map[string]any{})
	if err == nil {
		t.Fatal("expected schema loader error")
	}
	if !strings.Contains(err.Error(), "validate") {
		t.Fatalf("unexpected error: %v", err)
	}
}
