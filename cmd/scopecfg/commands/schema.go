package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/scopecfg/pkg/markup"
)

// operationView is the printable form of a dispatch table entry.
type operationView struct {
	Key      string `json:"key" yaml:"key"`
	Op       string `json:"op" yaml:"op"`
	Kind     string `json:"kind" yaml:"kind"`
	Path     string `json:"path" yaml:"path"`
	List     bool   `json:"list,omitempty" yaml:"list,omitempty"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Default  any    `json:"default,omitempty" yaml:"default,omitempty"`
}

func newSchemaCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "schema <markup>",
		Short: "List the properties a markup file exposes to scripts",
		Long: `Compile a markup file and print its dispatch table: every property a
script can call, whether it sets a field or enters a scope, and the field
it resolves to.`,
		Example: `  # Table output
  scopecfg schema markup.yaml

  # Machine-readable output
  scopecfg schema markup.yaml -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := compileMarkup(args[0])
			if err != nil {
				return err
			}

			ops := schema.Operations()
			views := make([]operationView, 0, len(ops))
			for _, op := range ops {
				views = append(views, viewOf(op))
			}

			if format != "table" {
				return writeValue(cmd.OutOrStdout(), views, format)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tOP\tKIND\tPATH\tFLAGS")
			for _, v := range views {
				flags := ""
				if v.Required {
					flags += "required "
				}
				if v.List {
					flags += "list "
				}
				if v.Default != nil {
					flags += fmt.Sprintf("default=%v", v.Default)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", v.Key, v.Op, v.Kind, v.Path, flags)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&format, "format", "o", "table", "output format (table, json, yaml)")

	return cmd
}

func viewOf(op markup.Operation) operationView {
	v := operationView{Key: op.Key, Op: op.Kind.String()}
	if f := op.Field; f != nil {
		v.Kind = string(f.Kind)
		v.Path = f.Path()
		v.List = f.List
		v.Required = f.Required
		if f.HasDefault && !f.Kind.Scoped() {
			v.Default = f.Default
		}
	}
	return v
}
