package commands

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/scopecfg/pkg/config"
)

// evalFlags are shared by eval and watch.
type evalFlags struct {
	markup       string
	env          []string
	workdir      string
	strict       bool
	isolated     bool
	searchPaths  []string
	policies     []string
	cueSchema    string
	cueDef       string
	skipPolicies bool
	format       string
	timeout      time.Duration
}

func (f *evalFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.markup, "markup", "m", "", "markup file describing the schema (YAML, JSON or CUE)")
	cmd.Flags().StringArrayVarP(&f.env, "env", "e", nil, "predeclare name=value in the script")
	cmd.Flags().StringVar(&f.workdir, "workdir", "", "directory relative paths resolve against")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "disable loose coercion")
	cmd.Flags().BoolVar(&f.isolated, "isolated", false, "confine includes to the script directory")
	cmd.Flags().StringArrayVarP(&f.searchPaths, "search-path", "I", nil, "directory searched for relative includes")
	cmd.Flags().StringArrayVar(&f.policies, "policy", nil, "Rego policy file or directory")
	cmd.Flags().StringVar(&f.cueSchema, "cue-schema", "", "CUE file the document must satisfy")
	cmd.Flags().StringVar(&f.cueDef, "cue-def", "", "definition inside --cue-schema, e.g. #Config")
	cmd.Flags().BoolVar(&f.skipPolicies, "skip-policies", false, "do not evaluate policies")
	cmd.Flags().StringVarP(&f.format, "format", "o", "json", "output format (json, yaml)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", config.DefaultTimeout, "script execution timeout")
	cmd.MarkFlagRequired("markup")
}

func (f *evalFlags) options(script string) (config.EvaluateOptions, error) {
	env, err := parseEnv(f.env)
	if err != nil {
		return config.EvaluateOptions{}, err
	}
	return config.EvaluateOptions{
		Script:         script,
		MarkupPath:     f.markup,
		Env:            env,
		Workdir:        f.workdir,
		Strict:         f.strict,
		Isolated:       f.isolated,
		SearchPaths:    f.searchPaths,
		Timeout:        f.timeout,
		ConstraintFile: f.cueSchema,
		Definition:     f.cueDef,
		SkipPolicies:   f.skipPolicies,
	}, nil
}

func newEvalCommand() *cobra.Command {
	var (
		flags    evalFlags
		parallel int
		failFast bool
	)

	cmd := &cobra.Command{
		Use:   "eval <script>...",
		Short: "Evaluate configuration scripts",
		Long: `Evaluate Starlark (.star) or HCL (.hcl) scripts against a markup schema
and print the resulting documents.

Each document is checked against the optional CUE constraint and every
enabled Rego policy. A rejected document is still printed; the report goes
to stderr and the command exits with status 2.

With several scripts the output maps each script to its document, and the
scripts are evaluated concurrently.`,
		Example: `  # Evaluate a script
  scopecfg eval site.star --markup markup.yaml

  # Pass values into the script and print YAML
  scopecfg eval site.hcl -m markup.yaml -e region=eu -e replicas=3 -o yaml

  # Check the result against a CUE definition and local policies
  scopecfg eval site.star -m markup.yaml --cue-schema limits.cue --cue-def '#Config' --policy policies/

  # Evaluate every site, four at a time, and record the runs
  scopecfg eval sites/*.star -m markup.yaml --parallel 4 --store history.db`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			batch := make([]config.EvaluateOptions, 0, len(args))
			for _, script := range args {
				opts, err := flags.options(script)
				if err != nil {
					return err
				}
				batch = append(batch, opts)
			}

			s, err := openSession(ctx, flags.policies)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			log.Debug().
				Strs("scripts", args).
				Str("markup", flags.markup).
				Bool("strict", flags.strict).
				Bool("isolated", flags.isolated).
				Msg("Evaluating scripts")

			if len(batch) == 1 {
				result, err := s.evaluator.Evaluate(ctx, batch[0])
				if err != nil {
					return err
				}
				if err := writeValue(cmd.OutOrStdout(), result.Document, flags.format); err != nil {
					return err
				}
				writeReport(cmd.ErrOrStderr(), result)
				if !result.Allowed {
					return fmt.Errorf("%w: run %s", errRejected, result.RunID)
				}
				return nil
			}

			results := s.evaluator.EvaluateAll(ctx, batch, config.BatchOptions{
				MaxParallel: parallel,
				FailFast:    failFast,
			})

			var failed, rejected int
			documents := make(map[string]any, len(results))
			for _, r := range results {
				switch {
				case r.Skipped:
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: skipped\n", r.Options.Script)
				case r.Err != nil:
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", r.Options.Script, r.Err)
				default:
					documents[r.Options.Script] = r.Result.Document
					if !r.Result.Allowed {
						rejected++
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: rejected\n", r.Options.Script)
					}
					writeReport(cmd.ErrOrStderr(), r.Result)
				}
			}

			if err := writeValue(cmd.OutOrStdout(), documents, flags.format); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d script(s) failed", failed, len(results))
			}
			if rejected > 0 {
				return fmt.Errorf("%w: %d of %d document(s)", errRejected, rejected, len(results))
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVar(&parallel, "parallel", config.DefaultMaxParallel, "maximum concurrent evaluations")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "skip remaining scripts after the first failure")

	return cmd
}
