package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/openfroyo/patchwork/pkg/manifest"
	"github.com/openfroyo/patchwork/pkg/packaging"
)

func newInstallCommand() *cobra.Command {
	var (
		phase  int
		params []string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "install <manifest.xml>",
		Short: "Execute a package manifest",
		Long: `Execute one phase of an Install, Patch or Tool package.

Phase 0 checks the package against the installed components and the
admission policies before any step runs. When further phases remain, the
command exits with status 3 and the host must be restarted before the
next phase is run with --phase.`,
		Example: `  # Install a component
  patchwork install ./packages/forms-1.0.xml

  # Override declared parameters
  patchwork install ./forms-1.1.xml --param @site:intranet --param @mode:fast

  # Continue a package after a restart
  patchwork install ./forms-2.0.xml --phase 1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			overrides, err := manifest.ParseParameterArgs(params)
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: err}
			}

			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read manifest: %w", err)
			}

			var extra []packaging.Option
			if force {
				extra = append(extra, packaging.WithForceReinstall(true))
			}
			rt, err := openRuntime(cmd.Context(), extra...)
			if err != nil {
				return err
			}
			defer rt.close()

			result, err := rt.executor.ExecutePackage(cmd.Context(), packaging.Request{
				Text:        string(content),
				PackagePath: filepath.Dir(path),
				Phase:       phase,
				Parameters:  overrides,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s %s: phase %d of %d succeeded\n",
				result.Package.PackageType, orDash(result.Package.ComponentID),
				result.Package.Version, result.Phase+1, result.PhaseCount)

			if result.NeedRestart {
				fmt.Fprintf(out, "Restart required. Continue with: patchwork install %s --phase %d\n",
					path, result.NextPhase())
				return &ExitError{Code: ExitNeedRestart}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&phase, "phase", 0, "zero-based phase to execute")
	cmd.Flags().StringArrayVar(&params, "param", nil, "parameter override as @name:value (repeatable)")
	cmd.Flags().BoolVar(&force, "force", false, "allow reinstalling an installed component")

	return cmd
}
