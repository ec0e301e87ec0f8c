package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/patchwork/pkg/catalog"
	"github.com/openfroyo/patchwork/pkg/telemetry"
)

func newWatchCommand() *cobra.Command {
	var settle time.Duration

	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Execute manifests dropped into a hot folder",
		Long: `Watch a directory and execute every manifest written to it once its
writes settle. A file is executed again only when its content changes.

Policy files of the configured policy directory are reloaded on change,
and metrics are served while watching when enabled.`,
		Example: `  patchwork watch
  patchwork watch ./dropbox --settle 2s`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			dir := rt.cfg.Packages.Dir
			if len(args) > 0 {
				dir = args[0]
			}

			if server := rt.tel.StartMetricsServer(); server != nil {
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = server.Shutdown(shutdownCtx)
				}()
			}

			if rt.policies != nil && rt.cfg.Policies.Dir != "" {
				if _, err := os.Stat(rt.cfg.Policies.Dir); err == nil {
					go func() {
						if err := rt.policies.Watch(ctx, []string{rt.cfg.Policies.Dir}); err != nil && !errors.Is(err, context.Canceled) {
							rt.tel.Logger.WithError(err).Error("Policy watcher stopped")
						}
					}()
				}
			}

			out := cmd.OutOrStdout()
			rt.tel.Events.Subscribe(func(e telemetry.Event) {
				fmt.Fprintf(out, "%s %s: %s\n", e.Timestamp.Format(time.TimeOnly), e.Type, e.Message)
			}, telemetry.FilterByType(
				telemetry.EventTypePackageCompleted,
				telemetry.EventTypePackageFailed,
				telemetry.EventTypePolicyViolation,
			))

			watcher := catalog.NewWatcher(dir, rt.executor, rt.tel.Logger, catalog.WithSettleDelay(settle))
			return watcher.Run(ctx)
		},
	}

	cmd.Flags().DurationVar(&settle, "settle", catalog.DefaultSettleDelay, "time a file must stay unchanged before it runs")

	return cmd
}
