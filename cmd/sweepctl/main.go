package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ogulcanaydogan/sweepctl/internal/check"
	"github.com/ogulcanaydogan/sweepctl/internal/config"
	"github.com/ogulcanaydogan/sweepctl/internal/logging"
	policyrego "github.com/ogulcanaydogan/sweepctl/internal/policy/rego"
	policyyaml "github.com/ogulcanaydogan/sweepctl/internal/policy/yaml"
	"github.com/ogulcanaydogan/sweepctl/internal/report"
	"github.com/ogulcanaydogan/sweepctl/internal/sampler"
	"github.com/ogulcanaydogan/sweepctl/internal/spec"
	"github.com/ogulcanaydogan/sweepctl/internal/store"
	"github.com/ogulcanaydogan/sweepctl/pkg/schema"
	"github.com/ogulcanaydogan/sweepctl/pkg/types"
)

type cliError struct {
	code int
	err  error
}

func (e cliError) Error() string { return e.err.Error() }

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		var ce cliError
		if errors.As(err, &ce) {
			fmt.Fprintln(os.Stderr, ce.err)
			os.Exit(ce.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var ociPullFunc = store.PullSpec
var ociPublishFunc = store.PublishSpec

// Persistent flags shared by every command.
var globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "sweepctl",
		Short:         "Hyperparameter sweep controller",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&globalFlags.configPath, "config", "", "project config file (default sweepctl.yaml when present)")
	root.PersistentFlags().StringVar(&globalFlags.logLevel, "log-level", "", "log level (debug|info|warn|error)")
	root.PersistentFlags().StringVar(&globalFlags.logFormat, "log-format", "", "log format (console|json)")
	root.AddCommand(newInitCommand())
	root.AddCommand(newValidateCommand())
	root.AddCommand(newFmtCommand())
	root.AddCommand(newSampleCommand())
	root.AddCommand(newGateCommand())
	root.AddCommand(newRunCommand())
	root.AddCommand(newServeCommand())
	root.AddCommand(newReportCommand())
	root.AddCommand(newPublishCommand())
	root.AddCommand(newPullCommand())
	return root
}

// setup loads the project config and builds the logger for one command.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(globalFlags.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if globalFlags.logLevel != "" {
		cfg.Log.Level = globalFlags.logLevel
	}
	if globalFlags.logFormat != "" {
		cfg.Log.Format = globalFlags.logFormat
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

// loadSweep reads a sweep document and maps load failures to exit codes.
func loadSweep(path string) (types.SweepSpec, error) {
	s, warnings, err := spec.Load(path)
	if err != nil {
		return types.SweepSpec{}, cliError{code: exitForLoad(err), err: err}
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	return s, nil
}

func exitForLoad(err error) int {
	var se *spec.SchemaError
	var de *spec.DistributionError
	switch {
	case errors.As(err, &de):
		return check.ExitDistributionFail
	case errors.As(err, &se):
		return check.ExitSchemaFail
	default:
		return check.ExitMissing
	}
}

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize sweepctl configuration, policy and local store",
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := store.EnsureSpecDir(); err != nil {
				return err
			}
			if !fileExists(config.DefaultPath) {
				if err := os.WriteFile(config.DefaultPath, []byte(defaultConfigYAML), 0o644); err != nil {
					return err
				}
			}
			if !fileExists("policy/examples/sweep-policy.yaml") {
				if err := os.MkdirAll("policy/examples", 0o755); err != nil {
					return err
				}
				if err := os.WriteFile("policy/examples/sweep-policy.yaml", []byte(defaultPolicyYAML), 0o644); err != nil {
					return err
				}
			}
			if !fileExists(defaultSchemaPath) {
				if err := os.MkdirAll(filepath.Dir(defaultSchemaPath), 0o755); err != nil {
					return err
				}
				if err := os.WriteFile(defaultSchemaPath, schema.SweepSchema(), 0o644); err != nil {
					return err
				}
			}
			if !fileExists("sweep.yaml") {
				if err := os.WriteFile("sweep.yaml", []byte(defaultSweepYAML), 0o644); err != nil {
					return err
				}
			}
			fmt.Println("initialized sweepctl config, policy, schema and example sweep")
			return nil
		},
	}
}

func newValidateCommand() *cobra.Command {
	var sourceType, sweepPath, format, outPath, schemaPath string
	var samples int
	var seed int64
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate sweep documents: schema, distributions, sampling bounds and schedule",
		RunE: func(_ *cobra.Command, _ []string) error {
			resolved := sweepPath
			switch sourceType {
			case "local":
			case "oci":
				tmpDir, err := os.MkdirTemp("", "sweepctl-oci-validate-")
				if err != nil {
					return err
				}
				defer os.RemoveAll(tmpDir)
				refs := splitCSV(sweepPath)
				if len(refs) == 0 {
					return fmt.Errorf("--sweep must include at least one OCI ref for --source oci")
				}
				for i, ref := range refs {
					out := filepath.Join(tmpDir, fmt.Sprintf("oci_%d.yaml", i+1))
					if err := ociPullFunc(ref, out); err != nil {
						return cliError{code: check.ExitMissing, err: err}
					}
				}
				resolved = tmpDir
			default:
				return fmt.Errorf("unsupported source %s", sourceType)
			}

			r := check.Run(check.Options{SourcePath: resolved, Samples: samples, Seed: seed, SchemaPath: schemaPath})
			switch format {
			case "json":
				if outPath == "" {
					outPath = "validate.json"
				}
				if err := report.WriteJSON(outPath, r); err != nil {
					return err
				}
			case "md":
				if outPath == "" {
					outPath = "validate.md"
				}
				if err := report.WriteMarkdown(outPath, r); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unsupported format %s", format)
			}
			fmt.Println(outPath)

			if !r.Passed {
				return cliError{code: r.ExitCode, err: fmt.Errorf("validation failed")}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceType, "source", "local", "source type (local|oci)")
	cmd.Flags().StringVar(&sweepPath, "sweep", "sweep.yaml", "sweep document, directory, or comma separated OCI refs")
	cmd.Flags().StringVar(&format, "format", "json", "output format (json|md)")
	cmd.Flags().StringVar(&outPath, "out", "", "output report path")
	cmd.Flags().IntVar(&samples, "samples", 0, "assignments drawn per document for the bounds check")
	cmd.Flags().Int64Var(&seed, "seed", 1, "sampler seed for the bounds check")
	cmd.Flags().StringVar(&schemaPath, "schema", "", "additional JSON schema every document must satisfy")
	return cmd
}

func newFmtCommand() *cobra.Command {
	var inPath, outPath string
	cmd := &cobra.Command{
		Use:   "fmt",
		Short: "Rewrite a sweep document in canonical flattened form",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if inPath == "" {
				return fmt.Errorf("--in is required")
			}
			s, err := loadSweep(inPath)
			if err != nil {
				return err
			}
			raw, err := spec.Marshal(s)
			if err != nil {
				return err
			}
			if outPath == "" {
				_, err := cmd.OutOrStdout().Write(raw)
				return err
			}
			if err := os.WriteFile(outPath, raw, 0o644); err != nil {
				return err
			}
			fmt.Println(outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "sweep document")
	cmd.Flags().StringVar(&outPath, "out", "", "output path (default stdout)")
	return cmd
}

func newSampleCommand() *cobra.Command {
	var sweepPath string
	var count int
	var seed int64
	var asArgs bool
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Print assignments drawn from a sweep without running anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSweep(sweepPath)
			if err != nil {
				return err
			}
			smp, err := sampler.New(s, sampler.WithSeed(seed))
			if err != nil {
				return cliError{code: check.ExitDistributionFail, err: err}
			}
			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			for i := 0; i < count; i++ {
				a, err := smp.Next(cmd.Context())
				if errors.Is(err, sampler.ErrExhausted) {
					return nil
				}
				if err != nil {
					return err
				}
				if asArgs {
					fmt.Fprintln(out, joinArgs(a.Args()))
					continue
				}
				if err := enc.Encode(a.Map()); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sweepPath, "sweep", "sweep.yaml", "sweep document")
	cmd.Flags().IntVar(&count, "count", 10, "number of assignments to draw")
	cmd.Flags().Int64Var(&seed, "seed", 1, "sampler seed")
	cmd.Flags().BoolVar(&asArgs, "args", false, "print command line arguments instead of JSON")
	return cmd
}

func newGateCommand() *cobra.Command {
	var policyPath, sweepPath, engine, regoPolicyPath string
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Run policy gates over sweep documents and return non-zero on violations",
		RunE: func(_ *cobra.Command, _ []string) error {
			if policyPath == "" {
				return fmt.Errorf("--policy is required")
			}
			policy, err := policyyaml.LoadPolicy(policyPath)
			if err != nil {
				return err
			}
			specs, err := policyyaml.LoadSpecs(sweepPath)
			if err != nil {
				return cliError{code: exitForLoad(err), err: err}
			}
			var violations []string
			switch engine {
			case "yaml":
				violations = policyyaml.Evaluate(policy, specs)
			case "rego":
				result, err := policyrego.Evaluate(regoPolicyPath, policyrego.BuildInput(policy, specs))
				if err != nil {
					return err
				}
				if !result.Allow {
					violations = append(violations, result.Violations...)
					if len(violations) == 0 {
						violations = append(violations, "rego policy denied request")
					}
				}
			default:
				return fmt.Errorf("unsupported policy engine %s", engine)
			}
			if len(violations) > 0 {
				for _, v := range violations {
					fmt.Println(v)
				}
				return cliError{code: check.ExitPolicyFail, err: fmt.Errorf("policy gate failed")}
			}
			fmt.Println("policy gate passed")
			return nil
		},
	}
	cmd.Flags().StringVar(&policyPath, "policy", "", "policy YAML path")
	cmd.Flags().StringVar(&sweepPath, "sweep", "sweep.yaml", "sweep document or directory")
	cmd.Flags().StringVar(&engine, "engine", "yaml", "policy engine (yaml|rego)")
	cmd.Flags().StringVar(&regoPolicyPath, "rego-policy", "policy/examples/sweep-gates.rego", "rego policy path (used with --engine rego)")
	return cmd
}

func newPublishCommand() *cobra.Command {
	var inPath, ociRef string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a validated sweep document to an OCI registry",
		RunE: func(_ *cobra.Command, _ []string) error {
			if inPath == "" || ociRef == "" {
				return fmt.Errorf("--in and --oci are required")
			}
			if _, err := loadSweep(inPath); err != nil {
				return err
			}
			pinned, err := ociPublishFunc(inPath, ociRef)
			if err != nil {
				return err
			}
			fmt.Println(pinned)
			return nil
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "sweep document")
	cmd.Flags().StringVar(&ociRef, "oci", "", "OCI destination")
	return cmd
}

func newPullCommand() *cobra.Command {
	var ociRef, outPath string
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Pull a sweep document from an OCI registry",
		RunE: func(_ *cobra.Command, _ []string) error {
			if ociRef == "" {
				return fmt.Errorf("--oci is required")
			}
			if outPath == "" {
				dir, err := store.EnsureSpecDir()
				if err != nil {
					return err
				}
				outPath = filepath.Join(dir, "pulled.yaml")
			}
			if err := ociPullFunc(ociRef, outPath); err != nil {
				return cliError{code: check.ExitMissing, err: err}
			}
			if _, err := loadSweep(outPath); err != nil {
				return err
			}
			fmt.Println(outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&ociRef, "oci", "", "OCI reference")
	cmd.Flags().StringVar(&outPath, "out", "", "output path (default .sweepctl/specs/pulled.yaml)")
	return cmd
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

const defaultSchemaPath = "schemas/sweep.schema.json"

const defaultConfigYAML = `log:
  level: info
  format: console
store:
  dir: .sweepctl
  db: .sweepctl/sweeps.db
runner:
  interpreter: python3
  parallelism: 1
  launch_rate: 0
server:
  port: 8080
  lease_ttl_seconds: 600
registry: ghcr.io
`

const defaultPolicyYAML = `version: 1
allowed_methods: [random, bayes]
require_early_terminate: true
max_parameters: 12
forbid_nested_parameters: false
required_parameters: []
gates:
  - id: G001
    parameter: learning_rate
    allowed_kinds: [log_uniform]
    max: 0.1
  - id: G002
    parameter: "*dropout*"
    min: 0
    max: 0.9
`

const defaultSweepYAML = `name: example
program: train.py
method: bayes
metric:
  name: val_loss
  goal: minimize
parameters:
  learning_rate:
    distribution: log_uniform
    min: -9.21
    max: -2.303
  dropout:
    distribution: uniform
    min: 0
    max: 0.5
  epochs:
    value: 27
early_terminate:
  type: hyperband
  min_iter: 3
`
