package spec

import "fmt"

// SchemaError reports a malformed or incomplete sweep document. The sweep
// must not start when one is returned.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return "schema: " + e.Reason
	}
	return fmt.Sprintf("schema: %s: %s", e.Field, e.Reason)
}

// DistributionError reports a parameter whose bounds or value set cannot be
// sampled from.
type DistributionError struct {
	Parameter string
	Reason    string
}

func (e *DistributionError) Error() string {
	return fmt.Sprintf("distribution: parameter %q: %s", e.Parameter, e.Reason)
}

// Warning is a non-fatal finding produced while loading a document.
type Warning struct {
	Parameter string `json:"parameter"`
	Message   string `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("parameter %q: %s", w.Parameter, w.Message)
}
