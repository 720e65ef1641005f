package main

import (
	"strings"

	fwagent "github.com/httprunner/fwagent"
	"github.com/spf13/cobra"
)

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// noArgs rejects positional arguments as a usage error.
func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return &fwagent.UsageError{Err: err}
	}
	return nil
}

// usageOrErr classifies cobra's own command lookup failures as usage errors.
func usageOrErr(err error) error {
	if err != nil && strings.HasPrefix(err.Error(), "unknown command") {
		return &fwagent.UsageError{Err: err}
	}
	return err
}
