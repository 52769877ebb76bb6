package spec

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"

	"github.com/ogulcanaydogan/sweepctl/internal/hash"
	"github.com/ogulcanaydogan/sweepctl/pkg/schema"
	"github.com/ogulcanaydogan/sweepctl/pkg/types"
	"gopkg.in/yaml.v3"
)

var parameterName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// maxIntBound keeps int_uniform bounds exactly representable as float64.
const maxIntBound = 1 << 53

// Load reads and validates the sweep document at path.
func Load(path string) (types.SweepSpec, []Warning, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.SweepSpec{}, nil, fmt.Errorf("read sweep %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a sweep document, validates it structurally against the
// embedded schema and semantically against the distribution rules, and
// returns the typed spec. Nested parameter entries are hoisted to the top
// level and reported as warnings.
func Parse(raw []byte) (types.SweepSpec, []Warning, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return types.SweepSpec{}, nil, &SchemaError{Reason: fmt.Sprintf("parse document: %v", err)}
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return types.SweepSpec{}, nil, &SchemaError{Reason: "empty document"}
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return types.SweepSpec{}, nil, &SchemaError{Reason: "document must be a mapping"}
	}

	var generic map[string]any
	if err := doc.Decode(&generic); err != nil {
		return types.SweepSpec{}, nil, &SchemaError{Reason: fmt.Sprintf("decode document: %v", err)}
	}
	violations, err := schema.ValidateSweep(generic)
	if err != nil {
		return types.SweepSpec{}, nil, err
	}
	if len(violations) > 0 {
		return types.SweepSpec{}, nil, schemaErrorFrom(violations)
	}

	var out types.SweepSpec
	var warnings []Warning
	for _, kv := range pairs(doc) {
		key, value := kv.key, kv.value
		switch key {
		case "name":
			out.Name = value.Value
		case "description":
			out.Description = value.Value
		case "program":
			out.Program = value.Value
		case "method":
			out.Method = types.Method(value.Value)
		case "metric":
			if err := value.Decode(&out.Metric); err != nil {
				return types.SweepSpec{}, nil, &SchemaError{Field: "metric", Reason: err.Error()}
			}
		case "command":
			if err := value.Decode(&out.Command); err != nil {
				return types.SweepSpec{}, nil, &SchemaError{Field: "command", Reason: err.Error()}
			}
		case "parameters":
			params, w, err := parseParameters(value)
			if err != nil {
				return types.SweepSpec{}, nil, err
			}
			out.Parameters = params
			warnings = append(warnings, w...)
		case "early_terminate":
			et, err := parseEarlyTerminate(value)
			if err != nil {
				return types.SweepSpec{}, nil, err
			}
			out.EarlyTerminate = et
		}
	}
	return out, warnings, nil
}

// Fingerprint returns a stable digest of the sweep's canonical form.
func Fingerprint(s types.SweepSpec) (string, error) {
	digest, _, err := hash.HashCanonicalJSON(s)
	if err != nil {
		return "", fmt.Errorf("fingerprint sweep: %w", err)
	}
	return digest, nil
}

func schemaErrorFrom(violations []schema.Violation) *SchemaError {
	first := violations[0]
	reasons := make([]string, 0, len(violations))
	for _, v := range violations {
		reasons = append(reasons, v.String())
	}
	field := first.Field
	if field == "(root)" {
		field = ""
	}
	if len(reasons) == 1 {
		return &SchemaError{Field: field, Reason: first.Description}
	}
	return &SchemaError{Field: field, Reason: strings.Join(reasons, "; ")}
}

func parseParameters(node *yaml.Node) ([]types.Parameter, []Warning, error) {
	var params []types.Parameter
	var warnings []Warning
	seen := make(map[string]string)
	for _, kv := range pairs(node) {
		name := kv.key
		got, w, err := parseParameter(name, kv.value)
		if err != nil {
			return nil, nil, err
		}
		for _, p := range got {
			if owner, ok := seen[p.Name]; ok {
				return nil, nil, &SchemaError{
					Field:  "parameters." + p.Name,
					Reason: fmt.Sprintf("defined more than once (also under %q)", owner),
				}
			}
			seen[p.Name] = name
		}
		params = append(params, got...)
		warnings = append(warnings, w...)
	}
	return params, warnings, nil
}

// parseParameter returns the parameter defined by node plus any parameters
// nested beneath it, which are hoisted to the top level.
func parseParameter(name string, node *yaml.Node) ([]types.Parameter, []Warning, error) {
	field := "parameters." + name
	node = deref(node)
	if !parameterName.MatchString(name) {
		return nil, nil, &SchemaError{Field: field, Reason: "invalid parameter name"}
	}
	if node.Kind != yaml.MappingNode {
		return nil, nil, &SchemaError{Field: field, Reason: "parameter must be a mapping"}
	}

	var (
		kind                types.Kind
		values              []any
		value               any
		hasValues, hasValue bool
		minNode, maxNode    *yaml.Node
		nested              []types.Parameter
		warnings            []Warning
	)
	for _, kv := range pairs(node) {
		key, v := kv.key, kv.value
		switch key {
		case "distribution":
			kind = types.Kind(v.Value)
		case "values":
			if err := v.Decode(&values); err != nil {
				return nil, nil, &SchemaError{Field: field + ".values", Reason: err.Error()}
			}
			hasValues = true
		case "value":
			if err := v.Decode(&value); err != nil {
				return nil, nil, &SchemaError{Field: field + ".value", Reason: err.Error()}
			}
			hasValue = true
		case "min":
			minNode = v
		case "max":
			maxNode = v
		default:
			if v.Kind != yaml.MappingNode {
				return nil, nil, &SchemaError{Field: field + "." + key, Reason: "unknown parameter key"}
			}
			children, w, err := parseParameter(key, v)
			if err != nil {
				return nil, nil, err
			}
			nested = append(nested, children...)
			warnings = append(warnings, Warning{
				Parameter: key,
				Message:   fmt.Sprintf("nested under %q; hoisted to a top-level parameter (suspected indentation error in the document)", name),
			})
			warnings = append(warnings, w...)
		}
	}

	hasRange := minNode != nil || maxNode != nil
	if kind == "" {
		selectors := 0
		for _, b := range []bool{hasValues, hasValue, hasRange} {
			if b {
				selectors++
			}
		}
		switch {
		case selectors > 1:
			return nil, nil, &SchemaError{Field: field, Reason: "ambiguous distribution: use exactly one of values, value, or min/max"}
		case hasValues:
			kind = types.KindValues
		case hasValue:
			kind = types.KindValue
		case hasRange:
			kind = types.KindUniform
			if isInt(minNode) && isInt(maxNode) {
				kind = types.KindIntUniform
			}
		case len(nested) > 0:
			// A pure grouping entry contributes only its children.
			return nested, warnings, nil
		default:
			return nil, nil, &SchemaError{Field: field, Reason: "no distribution: expected values, value, distribution, or min/max"}
		}
	}

	d := types.Distribution{Kind: kind}
	switch kind {
	case types.KindValues, types.KindCategorical:
		if hasValue || hasRange {
			return nil, nil, &SchemaError{Field: field, Reason: fmt.Sprintf("%s takes only values", kind)}
		}
		if len(values) == 0 {
			return nil, nil, &DistributionError{Parameter: name, Reason: "value list must not be empty"}
		}
		d.Values = values
	case types.KindValue:
		d.Value = value
	case types.KindLogUniform, types.KindUniform, types.KindIntUniform:
		if hasValues || hasValue {
			return nil, nil, &SchemaError{Field: field, Reason: fmt.Sprintf("%s takes only min and max", kind)}
		}
		if minNode == nil || maxNode == nil {
			return nil, nil, &SchemaError{Field: field, Reason: fmt.Sprintf("%s requires min and max", kind)}
		}
		lo, hi, err := bounds(name, minNode, maxNode)
		if err != nil {
			return nil, nil, err
		}
		if kind == types.KindIntUniform && (lo != math.Trunc(lo) || hi != math.Trunc(hi)) {
			return nil, nil, &DistributionError{Parameter: name, Reason: "int_uniform bounds must be integers"}
		}
		if kind == types.KindIntUniform && (lo < -maxIntBound || hi > maxIntBound) {
			return nil, nil, &DistributionError{Parameter: name, Reason: fmt.Sprintf("int_uniform bounds must lie within ±%d", int64(maxIntBound))}
		}
		d.Min, d.Max = lo, hi
	default:
		return nil, nil, &SchemaError{Field: field + ".distribution", Reason: fmt.Sprintf("unknown distribution %q", kind)}
	}

	out := append([]types.Parameter{{Name: name, Distribution: d}}, nested...)
	return out, warnings, nil
}

func bounds(name string, minNode, maxNode *yaml.Node) (float64, float64, error) {
	var lo, hi float64
	if err := minNode.Decode(&lo); err != nil {
		return 0, 0, &SchemaError{Field: "parameters." + name + ".min", Reason: err.Error()}
	}
	if err := maxNode.Decode(&hi); err != nil {
		return 0, 0, &SchemaError{Field: "parameters." + name + ".max", Reason: err.Error()}
	}
	if math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		return 0, 0, &DistributionError{Parameter: name, Reason: "bounds must be finite"}
	}
	if lo > hi {
		return 0, 0, &DistributionError{Parameter: name, Reason: fmt.Sprintf("min %g is greater than max %g", lo, hi)}
	}
	return lo, hi, nil
}

type keyValue struct {
	key   string
	value *yaml.Node
}

func deref(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

// pairs lists the entries of a mapping in document order with aliases
// resolved. Merge keys are expanded in place; explicit keys override merged
// ones and earlier merge sources override later ones.
func pairs(n *yaml.Node) []keyValue {
	n = deref(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	own := make(map[string]bool)
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].ShortTag() != "!!merge" {
			own[n.Content[i].Value] = true
		}
	}
	seen := make(map[string]bool)
	var out []keyValue
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], deref(n.Content[i+1])
		if k.ShortTag() != "!!merge" {
			seen[k.Value] = true
			out = append(out, keyValue{key: k.Value, value: v})
			continue
		}
		sources := []*yaml.Node{v}
		if v.Kind == yaml.SequenceNode {
			sources = v.Content
		}
		for _, src := range sources {
			for _, kv := range pairs(src) {
				if own[kv.key] || seen[kv.key] {
					continue
				}
				seen[kv.key] = true
				out = append(out, kv)
			}
		}
	}
	return out
}

func isInt(n *yaml.Node) bool {
	return n != nil && n.ShortTag() == "!!int"
}

func parseEarlyTerminate(node *yaml.Node) (*types.EarlyTerminate, error) {
	var et types.EarlyTerminate
	for _, kv := range pairs(node) {
		key, v := kv.key, kv.value
		var err error
		switch key {
		case "type":
			et.Type = v.Value
		case "min_iter":
			err = v.Decode(&et.MinIter)
		case "max_iter":
			err = v.Decode(&et.MaxIter)
		case "eta":
			err = v.Decode(&et.Eta)
		case "s":
			err = v.Decode(&et.S)
		}
		if err != nil {
			return nil, &SchemaError{Field: "early_terminate." + key, Reason: err.Error()}
		}
	}
	if (et.MinIter > 0) == (et.MaxIter > 0) {
		return nil, &SchemaError{Field: "early_terminate", Reason: "exactly one of min_iter or max_iter is required"}
	}
	if et.Eta == 0 {
		et.Eta = types.DefaultHyperbandEta
	}
	if et.S == 0 {
		et.S = types.DefaultHyperbandS
	}
	return &et, nil
}
