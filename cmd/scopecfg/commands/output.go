package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/scopecfg/pkg/config"
	"github.com/openfroyo/scopecfg/pkg/policy"
)

// writeValue renders v as JSON or YAML.
func writeValue(w io.Writer, v any, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (expected json or yaml)", format)
	}
}

// writeReport prints constraint errors and policy violations.
func writeReport(w io.Writer, result *config.Result) {
	for _, e := range result.ConstraintErrors {
		if e.File != "" {
			fmt.Fprintf(w, "[constraint] %s:%d:%d: %s\n", e.File, e.Line, e.Column, e)
		} else {
			fmt.Fprintf(w, "[constraint] %s\n", e)
		}
	}
	fmt.Fprint(w, policy.FormatViolations(result.Violations))
}
