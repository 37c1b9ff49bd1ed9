package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
)

// ssmToEnvMapping maps each SSM category/key written by the bootstrap to
// the environment variable name the daemons read. It is the bridge between
// the SSM parameter hierarchy and the envconfig tags in internal/config.
var ssmToEnvMapping = map[string]string{
	"database/url":          "DATABASE_URL",
	"queue/prefix":          "QUEUE_PREFIX",
	"notify/channel_prefix": "NOTIFY_CHANNEL_PREFIX",
}

// secureSSMKeys marks which SSM keys are SecureStrings and need decryption
// on read-back.
var secureSSMKeys = map[string]bool{
	"database/url": true,
}

// localDefaults are appended when IncludeLocalDefaults is set, so the
// exported file works out of the box against LocalStack. SSM-sourced
// variables always win over these.
var localDefaults = [][2]string{
	{"APP_ENV", "local"},
	{"LOG_LEVEL", "debug"},
	{"OPS_PORT", "8080"},
	{"AWS_REGION", "us-east-1"},
	{"AWS_ENDPOINT_URL", "http://localhost:4566"},
}

// ExportEnvConfig holds the inputs for ExportEnvFile.
type ExportEnvConfig struct {
	// OutputPath is the destination .env file path.
	OutputPath string

	// Environment is the SSM environment the values are read from.
	Environment string

	// SSM reads the parameters back.
	SSM *SSMManager

	// Stderr receives progress output.
	Stderr io.Writer

	// IncludeLocalDefaults appends LocalStack-friendly defaults for
	// variables the bootstrap does not manage.
	IncludeLocalDefaults bool
}

// ExportEnvFile reads every bootstrap-managed parameter back from SSM and
// writes a .env file for local development. The file contains decrypted
// secrets, so it is written with owner-only permissions.
func ExportEnvFile(ctx context.Context, cfg ExportEnvConfig) error {
	if cfg.SSM == nil {
		return fmt.Errorf("SSM manager must not be nil")
	}
	if cfg.OutputPath == "" {
		return fmt.Errorf("output path must not be empty")
	}

	// Deterministic ordering for stable diffs between exports.
	keys := make([]string, 0, len(ssmToEnvMapping))
	for k := range ssmToEnvMapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("# Auto-generated by bootstrap --export-env\n")
	fmt.Fprintf(&b, "# Environment: %s\n", cfg.Environment)
	fmt.Fprintf(&b, "# Generated: %s\n", time.Now().UTC().Format(time.RFC3339))
	b.WriteString("#\n")
	b.WriteString("# SECURITY WARNING: this file contains decrypted secrets.\n")
	b.WriteString("# Do not commit it to version control.\n\n")

	written := make(map[string]bool)
	for _, key := range keys {
		envVar := ssmToEnvMapping[key]
		path := cfg.SSM.SSMPath(key)

		value, err := cfg.SSM.GetParameterValue(ctx, path, secureSSMKeys[key])
		if err != nil {
			return fmt.Errorf("exporting %s: %w", envVar, err)
		}

		fmt.Fprintf(&b, "%s=%s\n", envVar, value)
		written[envVar] = true

		if cfg.Stderr != nil {
			fmt.Fprintf(cfg.Stderr, "  exported %s\n", envVar)
		}
	}

	if cfg.IncludeLocalDefaults {
		b.WriteString("\n# Local development defaults\n")
		for _, kv := range localDefaults {
			if written[kv[0]] {
				continue
			}
			fmt.Fprintf(&b, "%s=%s\n", kv[0], kv[1])
		}
	}

	if err := os.WriteFile(cfg.OutputPath, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", cfg.OutputPath, err)
	}

	return nil
}
