package report

import (
	"fmt"
	"os"
	"strings"

	"github.com/ogulcanaydogan/sweepctl/internal/check"
	"github.com/ogulcanaydogan/sweepctl/pkg/types"
)

func BuildMarkdown(r check.Report) string {
	status := "PASS"
	if !r.Passed {
		status = "FAIL"
	}
	var b strings.Builder
	b.WriteString("# Sweep Validation Report\n\n")
	b.WriteString(fmt.Sprintf("- Status: **%s**\n", status))
	b.WriteString(fmt.Sprintf("- Exit Code: `%d`\n", r.ExitCode))
	b.WriteString(fmt.Sprintf("- Documents Checked: `%d`\n\n", r.SpecCount))

	b.WriteString("## Checks\n\n")
	b.WriteString("| Document | Check | Passed | Message |\n")
	b.WriteString("|---|---|---:|---|\n")
	for _, c := range r.Checks {
		b.WriteString(fmt.Sprintf("| %s | %s | %t | %s |\n", c.Spec, c.Check, c.Passed, escape(c.Message)))
	}

	if len(r.Violations) > 0 {
		b.WriteString("\n## Violations\n\n")
		for _, v := range r.Violations {
			b.WriteString("- " + v + "\n")
		}
	}
	if len(r.Warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		for _, w := range r.Warnings {
			b.WriteString("- " + w + "\n")
		}
	}

	if len(r.Specs) > 0 {
		b.WriteString("\n## Sweeps\n\n")
		b.WriteString("| Document | Method | Metric | Parameters | Brackets | Fingerprint |\n")
		b.WriteString("|---|---|---|---:|---|---|\n")
		for _, s := range r.Specs {
			brackets := "-"
			if len(s.Brackets) > 0 {
				parts := make([]string, 0, len(s.Brackets))
				for _, br := range s.Brackets {
					parts = append(parts, fmt.Sprint(br))
				}
				brackets = strings.Join(parts, ", ")
			}
			b.WriteString(fmt.Sprintf("| %s | %s | %s (%s) | %d | %s | `%s` |\n",
				s.Path, s.Method, s.Metric, s.Goal, len(s.Parameters), brackets, s.Fingerprint))
		}
	}
	return b.String()
}

func WriteMarkdown(path string, r check.Report) error {
	return os.WriteFile(path, []byte(BuildMarkdown(r)), 0o644)
}

func BuildSweepMarkdown(r SweepReport) string {
	var b strings.Builder
	title := r.Sweep.Name
	if title == "" {
		title = r.Sweep.ID
	}
	spec := r.Sweep.Spec
	b.WriteString(fmt.Sprintf("# Sweep Report: %s\n\n", title))
	b.WriteString(fmt.Sprintf("- Sweep: `%s`\n", r.Sweep.ID))
	b.WriteString(fmt.Sprintf("- Method: `%s`\n", spec.Method))
	b.WriteString(fmt.Sprintf("- Metric: `%s` (%s)\n", spec.Metric.Name, spec.Metric.Goal))
	b.WriteString(fmt.Sprintf("- Trials: `%d` (finished %d, pruned %d, failed %d, running %d)\n",
		r.Total, r.Counts[types.TrialFinished], r.Counts[types.TrialPruned], r.Counts[types.TrialFailed], r.Counts[types.TrialRunning]))
	if r.Best != nil {
		b.WriteString(fmt.Sprintf("- Best: **%g** from `%s`\n", *r.Best.Value, r.Best.ID))
		b.WriteString(fmt.Sprintf("- Best Assignments: `%s`\n", r.Best.Assignments))
	}

	b.WriteString("\n## Trials\n\n")
	b.WriteString("| Rank | Trial | Status | Value | Iterations | Assignments |\n")
	b.WriteString("|---:|---|---|---:|---:|---|\n")
	for _, t := range r.Trials {
		rank, value := "-", "-"
		if t.Rank > 0 {
			rank = fmt.Sprint(t.Rank)
		}
		if t.Value != nil {
			value = fmt.Sprintf("%g", *t.Value)
		}
		b.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %d | %s |\n", rank, t.ID, t.Status, value, t.Iterations, escape(t.Assignments)))
	}

	var failed []TrialRow
	for _, t := range r.Trials {
		if t.Status == types.TrialFailed && t.Error != "" {
			failed = append(failed, t)
		}
	}
	if len(failed) > 0 {
		b.WriteString("\n## Failures\n\n")
		for _, t := range failed {
			b.WriteString(fmt.Sprintf("- `%s`: %s\n", t.ID, t.Error))
		}
	}
	return b.String()
}

func WriteSweepMarkdown(path string, r SweepReport) error {
	return os.WriteFile(path, []byte(BuildSweepMarkdown(r)), 0o644)
}

func escape(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
