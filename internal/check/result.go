package check

const (
	ExitPass             = 0
	ExitMissing          = 10
	ExitPolicyFail       = 13
	ExitSchemaFail       = 14
	ExitDistributionFail = 15
)

type CheckResult struct {
	Spec    string `json:"spec"`
	Check   string `json:"check"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

type SpecSummary struct {
	Path        string   `json:"path"`
	Name        string   `json:"name,omitempty"`
	Method      string   `json:"method"`
	Metric      string   `json:"metric"`
	Goal        string   `json:"goal"`
	Parameters  []string `json:"parameters"`
	Brackets    []int    `json:"brackets,omitempty"`
	Fingerprint string   `json:"fingerprint"`
	// ProgramDigest pins the program file when it sits next to the document.
	ProgramDigest string `json:"program_digest,omitempty"`
}

type Report struct {
	Passed     bool          `json:"passed"`
	ExitCode   int           `json:"exit_code"`
	SpecCount  int           `json:"spec_count"`
	Checks     []CheckResult `json:"checks"`
	Violations []string      `json:"violations"`
	Warnings   []string      `json:"warnings,omitempty"`
	Specs      []SpecSummary `json:"specs"`
}
