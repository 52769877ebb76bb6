package config

import (
	"fmt"
	"strconv"
	"strings"
)

type lookupFunc func(string) (string, bool)

// envLoader applies SWEEPCTL_* overrides on top of the file configuration.
func envLoader(lookup lookupFunc) loader {
	return func(cfg *Config) error {
		overrideString(&cfg.Log.Level, lookup, "SWEEPCTL_LOG_LEVEL")
		overrideString(&cfg.Log.Format, lookup, "SWEEPCTL_LOG_FORMAT")
		overrideString(&cfg.Store.Dir, lookup, "SWEEPCTL_STORE_DIR")
		overrideString(&cfg.Store.DBPath, lookup, "SWEEPCTL_DB")
		overrideString(&cfg.Runner.Interpreter, lookup, "SWEEPCTL_INTERPRETER")
		overrideString(&cfg.Runner.WorkDir, lookup, "SWEEPCTL_WORKDIR")
		overrideString(&cfg.Server.Addr, lookup, "SWEEPCTL_ADDR")
		overrideString(&cfg.Registry, lookup, "SWEEPCTL_REGISTRY")
		if err := overrideInt(&cfg.Runner.Parallelism, lookup, "SWEEPCTL_PARALLELISM"); err != nil {
			return err
		}
		if err := overrideInt(&cfg.Server.Port, lookup, "SWEEPCTL_PORT"); err != nil {
			return err
		}
		if err := overrideInt(&cfg.Server.LeaseTTLSeconds, lookup, "SWEEPCTL_LEASE_TTL_SECONDS"); err != nil {
			return err
		}
		if v, ok := lookup("SWEEPCTL_LAUNCH_RATE"); ok && strings.TrimSpace(v) != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return fmt.Errorf("SWEEPCTL_LAUNCH_RATE: %w", err)
			}
			cfg.Runner.LaunchRate = f
		}
		if v, ok := lookup("SWEEPCTL_SEED"); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return fmt.Errorf("SWEEPCTL_SEED: %w", err)
			}
			cfg.Runner.Seed = n
		}
		return nil
	}
}

func overrideString(dst *string, lookup lookupFunc, key string) {
	if v, ok := lookup(key); ok && v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, lookup lookupFunc, key string) error {
	v, ok := lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}
