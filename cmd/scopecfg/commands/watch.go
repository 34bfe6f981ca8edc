package commands

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/openfroyo/scopecfg/pkg/policy"
	"github.com/openfroyo/scopecfg/pkg/telemetry"
)

// watchDelay collapses bursts of editor writes into one evaluation.
const watchDelay = 300 * time.Millisecond

func newWatchCommand() *cobra.Command {
	var flags evalFlags

	cmd := &cobra.Command{
		Use:   "watch <script>",
		Short: "Re-evaluate a script whenever its files change",
		Long: `Evaluate a script, then watch the script directory, the markup file, the
search paths and the policy paths, and evaluate again after every change.

Each evaluation prints the document, or the error that stopped it. Policies
are reloaded when their files change. Runs until interrupted.`,
		Example: `  # Watch and print YAML
  scopecfg watch site.star -m markup.yaml -o yaml

  # Watch with policies and expose metrics
  scopecfg watch site.star -m markup.yaml --policy policies/ --metrics-addr :9090`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			opts, err := flags.options(args[0])
			if err != nil {
				return err
			}

			s, err := openSession(ctx, flags.policies)
			if err != nil {
				return err
			}
			defer s.Close(ctx)
			ctx = s.tel.WithContext(ctx)
			logger := s.tel.Logger.NewComponentLogger("watch")

			if len(flags.policies) > 0 {
				loader := policy.NewLoader(s.tel.Logger.Zerolog())
				reload := func(policies []policy.Policy) error {
					return s.evaluator.Policies().ReplacePolicies(ctx, policies)
				}
				if err := loader.Watch(ctx, flags.policies, reload); err != nil {
					return err
				}
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer watcher.Close()

			dirs := map[string]bool{
				filepath.Dir(opts.Script):     true,
				filepath.Dir(opts.MarkupPath): true,
			}
			for _, p := range opts.SearchPaths {
				dirs[p] = true
			}
			if opts.ConstraintFile != "" {
				dirs[filepath.Dir(opts.ConstraintFile)] = true
			}
			for dir := range dirs {
				if err := watcher.Add(dir); err != nil {
					logger.WithError(err).WithField("dir", dir).Warn("Failed to watch directory")
				}
			}

			evaluate := func() {
				op := telemetry.StartOperation(ctx, "scopecfg.watch.evaluate", telemetry.AttrScript.String(opts.Script))
				result, err := s.evaluator.Evaluate(op.Ctx, opts)
				op.End(err)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
					return
				}
				if err := writeValue(cmd.OutOrStdout(), result.Document, flags.format); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
				}
				writeReport(cmd.ErrOrStderr(), result)
				op.Logger.WithField("allowed", result.Allowed).Debugf("Evaluated in %s", op.Duration())
			}

			evaluate()
			logger.Infof("Watching %d directories", len(dirs))

			var (
				timer   *time.Timer
				trigger = make(chan struct{}, 1)
			)
			for {
				select {
				case <-ctx.Done():
					if timer != nil {
						timer.Stop()
					}
					return nil

				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
						continue
					}
					logger.WithField("file", event.Name).Debug("File changed")
					if timer != nil {
						timer.Stop()
					}
					timer = time.AfterFunc(watchDelay, func() {
						select {
						case trigger <- struct{}{}:
						default:
						}
					})

				case <-trigger:
					evaluate()

				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					logger.WithError(err).Error("Watcher error")
				}
			}
		},
	}

	flags.register(cmd)
	return cmd
}
