package sweep

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/ogulcanaydogan/sweepctl/pkg/types"
)

// Command template macros.
const (
	MacroEnv           = "${env}"
	MacroInterpreter   = "${interpreter}"
	MacroProgram       = "${program}"
	MacroArgs          = "${args}"
	MacroArgsNoHyphens = "${args_no_hyphens}"
)

const envPath = "/usr/bin/env"

// BuildCommand returns the argv that runs s.Program with a. Without a command
// template, Python programs run through interpreter and anything else is
// executed directly.
func BuildCommand(s types.SweepSpec, interpreter string, a types.Assignments) ([]string, error) {
	if interpreter == "" {
		interpreter = "python3"
	}
	program := s.Program
	tmpl := s.Command
	if len(tmpl) == 0 {
		tmpl = []string{MacroProgram, MacroArgs}
		if strings.HasSuffix(s.Program, ".py") {
			tmpl = []string{MacroInterpreter, MacroProgram, MacroArgs}
		} else if !strings.ContainsRune(program, filepath.Separator) && !strings.ContainsRune(program, '/') {
			// Executed directly, so keep it out of the PATH lookup.
			program = "./" + program
		}
	}
	var argv []string
	for _, tok := range tmpl {
		switch tok {
		case MacroEnv:
			argv = append(argv, envPath)
		case MacroInterpreter:
			argv = append(argv, interpreter)
		case MacroProgram:
			argv = append(argv, program)
		case MacroArgs:
			argv = append(argv, a.Args()...)
		case MacroArgsNoHyphens:
			for _, arg := range a.Args() {
				argv = append(argv, strings.TrimPrefix(arg, "--"))
			}
		default:
			argv = append(argv, tok)
		}
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("command template expands to nothing")
	}
	return argv, nil
}

// TrialEnv returns the environment for a trial process: the current
// environment plus the sweep and trial IDs and one SWEEP_PARAM_ variable per
// assignment.
func TrialEnv(t types.Trial) []string {
	env := append(os.Environ(),
		"SWEEP_ID="+t.SweepID,
		"SWEEP_TRIAL_ID="+t.ID,
	)
	for _, a := range t.Assignments {
		env = append(env, fmt.Sprintf("SWEEP_PARAM_%s=%s", envName(a.Name), types.FormatValue(a.Value)))
	}
	return env
}

func envName(name string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return unicode.ToUpper(r)
		}
		return '_'
	}, name)
}
