// Package check validates sweep documents end to end: schema, distribution
// rules, sampler compatibility and the early termination schedule.
package check

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ogulcanaydogan/sweepctl/internal/hash"
	"github.com/ogulcanaydogan/sweepctl/internal/sampler"
	"github.com/ogulcanaydogan/sweepctl/internal/spec"
	"github.com/ogulcanaydogan/sweepctl/internal/terminate"
	"github.com/ogulcanaydogan/sweepctl/pkg/schema"
	"github.com/ogulcanaydogan/sweepctl/pkg/types"
	"gopkg.in/yaml.v3"
)

type Options struct {
	// SourcePath is a sweep document or a directory of them.
	SourcePath string
	// Samples is how many assignments are drawn to confirm the sampler stays
	// in bounds. Zero uses the default.
	Samples int
	// Seed fixes the sampler used for the bounds check.
	Seed int64
	// SchemaPath is an optional JSON schema every document must also satisfy,
	// on top of the built-in sweep schema.
	SchemaPath string
}

const defaultSamples = 200

func Run(opts Options) Report {
	report := Report{Passed: true, ExitCode: ExitPass}
	paths, err := specPaths(opts.SourcePath)
	if err != nil {
		report.Passed = false
		report.ExitCode = ExitMissing
		report.Violations = append(report.Violations, err.Error())
		return report
	}
	if len(paths) == 0 {
		report.Passed = false
		report.ExitCode = ExitMissing
		report.Violations = append(report.Violations, "no sweep documents found")
		return report
	}
	report.SpecCount = len(paths)
	samples := opts.Samples
	if samples <= 0 {
		samples = defaultSamples
	}

	for _, p := range paths {
		s, warnings, err := spec.Load(p)
		if err != nil {
			report.addFailure(p, "parse", exitFor(err), err)
			continue
		}
		report.pass(p, "parse")
		for _, w := range warnings {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %s", p, w))
		}

		if opts.SchemaPath != "" {
			if exit, err := verifySchema(opts.SchemaPath, p); err != nil {
				report.addFailure(p, "schema", exit, err)
				continue
			}
			report.pass(p, "schema")
		}

		if err := VerifySampling(s, samples, opts.Seed); err != nil {
			report.addFailure(p, "sampling", ExitDistributionFail, err)
			continue
		}
		report.pass(p, "sampling")

		var brackets []int
		if s.EarlyTerminate != nil {
			h, err := terminate.NewHyperband(*s.EarlyTerminate)
			if err != nil {
				report.addFailure(p, "early_terminate", ExitSchemaFail, err)
				continue
			}
			brackets = h.Brackets()
			report.pass(p, "early_terminate")
		}

		fingerprint, err := spec.Fingerprint(s)
		if err != nil {
			report.addFailure(p, "fingerprint", ExitSchemaFail, err)
			continue
		}
		report.Specs = append(report.Specs, SpecSummary{
			Path:          p,
			Name:          s.Name,
			Method:        string(s.Method),
			Metric:        s.Metric.Name,
			Goal:          string(s.Metric.Goal),
			Parameters:    s.ParameterNames(),
			Brackets:      brackets,
			Fingerprint:   fingerprint,
			ProgramDigest: programDigest(p, s.Program),
		})
	}
	return report
}

// VerifySampling builds the sweep's sampler and confirms that n draws stay
// inside every declared distribution.
func VerifySampling(s types.SweepSpec, n int, seed int64) error {
	smp, err := sampler.New(s, sampler.WithSeed(seed))
	if err != nil {
		return err
	}
	ctx := context.Background()
	for i := 0; i < n; i++ {
		a, err := smp.Next(ctx)
		if errors.Is(err, sampler.ErrExhausted) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := sampler.CheckAssignments(s, a); err != nil {
			return err
		}
	}
	return nil
}

// verifySchema checks the raw document at docPath against the external
// schema at schemaPath.
func verifySchema(schemaPath, docPath string) (int, error) {
	if !hash.FileExists(schemaPath) {
		return ExitMissing, fmt.Errorf("schema %s not found", schemaPath)
	}
	raw, err := os.ReadFile(docPath)
	if err != nil {
		return ExitMissing, err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return ExitSchemaFail, err
	}
	violations, err := schema.Validate(schemaPath, doc)
	if err != nil {
		return ExitSchemaFail, err
	}
	if len(violations) > 0 {
		return ExitSchemaFail, errors.New(strings.Join(violations, "; "))
	}
	return ExitPass, nil
}

func exitFor(err error) int {
	var se *spec.SchemaError
	var de *spec.DistributionError
	switch {
	case errors.As(err, &de):
		return ExitDistributionFail
	case errors.As(err, &se):
		return ExitSchemaFail
	}
	return ExitMissing
}

func (r *Report) pass(path, check string) {
	r.Checks = append(r.Checks, CheckResult{Spec: path, Check: check, Passed: true, Message: "ok"})
}

func (r *Report) addFailure(path, check string, exit int, err error) {
	r.Passed = false
	if r.ExitCode == ExitPass || exit > r.ExitCode {
		r.ExitCode = exit
	}
	msg := err.Error()
	r.Checks = append(r.Checks, CheckResult{Spec: path, Check: check, Passed: false, Message: msg})
	r.Violations = append(r.Violations, fmt.Sprintf("%s: %s: %s", path, check, msg))
}

func WriteJSON(path string, report Report) error {
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// programDigest hashes the program when it resolves to a local file,
// relative paths being taken from the document's directory.
func programDigest(docPath, program string) string {
	if !filepath.IsAbs(program) {
		program = filepath.Join(filepath.Dir(docPath), program)
	}
	if !hash.FileExists(program) {
		return ""
	}
	digest, _, err := hash.DigestFile(program)
	if err != nil {
		return ""
	}
	return digest
}

func specPaths(source string) ([]string, error) {
	fi, err := os.Stat(source)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return []string{source}, nil
	}
	entries, err := os.ReadDir(source)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			files = append(files, filepath.Join(source, name))
		}
	}
	sort.Strings(files)
	return files, nil
}
