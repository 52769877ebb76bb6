package spec

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ogulcanaydogan/sweepctl/pkg/types"
	"gopkg.in/yaml.v3"
)

// Marshal renders a sweep back to document form. Parameters keep their
// order and nested groups stay flattened, so Parse(Marshal(s)) yields s.
func Marshal(s types.SweepSpec) ([]byte, error) {
	doc := mapping()
	if s.Name != "" {
		addPair(doc, "name", str(s.Name))
	}
	if s.Description != "" {
		addPair(doc, "description", str(s.Description))
	}
	addPair(doc, "program", str(s.Program))
	addPair(doc, "method", str(string(s.Method)))

	metric := mapping()
	addPair(metric, "name", str(s.Metric.Name))
	addPair(metric, "goal", str(string(s.Metric.Goal)))
	addPair(doc, "metric", metric)

	if len(s.Command) > 0 {
		cmd := &yaml.Node{Kind: yaml.SequenceNode}
		for _, c := range s.Command {
			cmd.Content = append(cmd.Content, str(c))
		}
		addPair(doc, "command", cmd)
	}

	params := mapping()
	for _, p := range s.Parameters {
		n, err := distributionNode(p.Distribution)
		if err != nil {
			return nil, fmt.Errorf("marshal parameter %s: %w", p.Name, err)
		}
		addPair(params, p.Name, n)
	}
	addPair(doc, "parameters", params)

	if et := s.EarlyTerminate; et != nil {
		n := mapping()
		addPair(n, "type", str(et.Type))
		if et.MinIter > 0 {
			addPair(n, "min_iter", intNode(int64(et.MinIter)))
		}
		if et.MaxIter > 0 {
			addPair(n, "max_iter", intNode(int64(et.MaxIter)))
		}
		if et.Eta > 0 {
			addPair(n, "eta", floatNode(et.Eta))
		}
		if et.S > 0 {
			addPair(n, "s", intNode(int64(et.S)))
		}
		addPair(doc, "early_terminate", n)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode sweep: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode sweep: %w", err)
	}
	return buf.Bytes(), nil
}

func distributionNode(d types.Distribution) (*yaml.Node, error) {
	n := mapping()
	switch d.Kind {
	case types.KindValues:
		vals, err := valueNode(d.Values)
		if err != nil {
			return nil, err
		}
		addPair(n, "values", vals)
	case types.KindCategorical:
		vals, err := valueNode(d.Values)
		if err != nil {
			return nil, err
		}
		addPair(n, "distribution", str(string(d.Kind)))
		addPair(n, "values", vals)
	case types.KindValue:
		v, err := valueNode(d.Value)
		if err != nil {
			return nil, err
		}
		addPair(n, "value", v)
	case types.KindIntUniform:
		addPair(n, "distribution", str(string(d.Kind)))
		addPair(n, "min", intNode(int64(d.Min)))
		addPair(n, "max", intNode(int64(d.Max)))
	case types.KindUniform, types.KindLogUniform:
		addPair(n, "distribution", str(string(d.Kind)))
		addPair(n, "min", floatNode(d.Min))
		addPair(n, "max", floatNode(d.Max))
	default:
		return nil, fmt.Errorf("unknown distribution %q", d.Kind)
	}
	return n, nil
}

// valueNode encodes a literal so that it decodes back to the same Go type.
func valueNode(v any) (*yaml.Node, error) {
	switch vv := v.(type) {
	case float64:
		return floatNode(vv), nil
	case []any:
		n := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
		for _, item := range vv {
			c, err := valueNode(item)
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, c)
		}
		return n, nil
	case map[string]any:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		n := mapping()
		n.Style = yaml.FlowStyle
		for _, k := range keys {
			c, err := valueNode(vv[k])
			if err != nil {
				return nil, err
			}
			addPair(n, k, c)
		}
		return n, nil
	case string:
		return str(vv), nil
	}
	n := &yaml.Node{}
	if err := n.Encode(v); err != nil {
		return nil, err
	}
	return n, nil
}

func mapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode}
}

func addPair(m *yaml.Node, key string, value *yaml.Node) {
	m.Content = append(m.Content, str(key), value)
}

func str(s string) *yaml.Node {
	n := &yaml.Node{}
	// Encode picks quoting so strings such as "1" or "true" stay strings.
	_ = n.Encode(s)
	return n
}

func intNode(i int64) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(i, 10)}
}

func floatNode(f float64) *yaml.Node {
	var s string
	switch {
	case math.IsInf(f, 1):
		s = ".inf"
	case math.IsInf(f, -1):
		s = "-.inf"
	case math.IsNaN(f):
		s = ".nan"
	default:
		s = strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: s}
}
