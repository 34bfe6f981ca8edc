package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/scopecfg/pkg/markup"
)

func newValidateCommand() *cobra.Command {
	var cueSchema string

	cmd := &cobra.Command{
		Use:   "validate <markup>...",
		Short: "Compile markup files without running a script",
		Long: `Compile one or more markup files and report schema errors.

This command checks:
  - Markup syntax (YAML, JSON or CUE)
  - Field descriptors and their params
  - Reserved names and duplicate definitions
  - Namespace conflicts

With --cue-schema the constraint file is compiled as well.`,
		Example: `  # Validate a markup file
  scopecfg validate markup.yaml

  # Validate markup and a constraint
  scopecfg validate markup.cue --cue-schema limits.cue`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed int
			for _, path := range args {
				schema, err := compileMarkup(path)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d operations)\n", path, len(schema.Operations()))
			}

			if cueSchema != "" {
				s, err := openSession(cmd.Context(), nil)
				if err != nil {
					return err
				}
				defer s.Close(cmd.Context())
				if err := s.evaluator.Schemas().RegisterFile(cueSchema); err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", cueSchema, err)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", cueSchema)
				}
			}

			log.Debug().Int("files", len(args)).Int("failed", failed).Msg("Validation finished")
			if failed > 0 {
				return fmt.Errorf("%d file(s) failed validation", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cueSchema, "cue-schema", "", "CUE constraint file to compile")

	return cmd
}

func compileMarkup(path string) (*markup.Schema, error) {
	m, err := markup.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return markup.Compile(m)
}
