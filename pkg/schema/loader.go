package schema

import (
	_ "embed"
	"fmt"
	"path/filepath"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed sweep.schema.json
var sweepSchema []byte

// Violation is a single structural problem reported by the schema validator.
type Violation struct {
	Field       string
	Description string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Description)
}

// SweepSchema returns the embedded JSON schema for sweep documents.
func SweepSchema() []byte {
	out := make([]byte, len(sweepSchema))
	copy(out, sweepSchema)
	return out
}

// ValidateSweep checks a decoded sweep document against the embedded schema.
func ValidateSweep(doc any) ([]Violation, error) {
	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(sweepSchema), gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("validate sweep document: %w", err)
	}
	return violations(result), nil
}

// Validate checks doc against an external schema file, such as an
// organization's stricter rules for sweep documents.
func Validate(schemaPath string, doc any) ([]string, error) {
	abs, err := filepath.Abs(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("validate %s: %w", schemaPath, err)
	}
	result, err := gojsonschema.Validate(gojsonschema.NewReferenceLoader("file://"+filepath.ToSlash(abs)), gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("validate %s: %w", schemaPath, err)
	}
	if result.Valid() {
		return nil, nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return errs, nil
}

func violations(result *gojsonschema.Result) []Violation {
	if result.Valid() {
		return nil
	}
	out := make([]Violation, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		out = append(out, Violation{Field: e.Field(), Description: e.Description()})
	}
	return out
}
