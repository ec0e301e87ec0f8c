package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/patchwork/pkg/manifest"
)

func newValidateCommand() *cobra.Command {
	var (
		params []string
		check  bool
	)

	cmd := &cobra.Command{
		Use:   "validate <manifest.xml>",
		Short: "Validate a package manifest",
		Long: `Parse a package manifest and build every step without running it.

This command checks:
  - XML syntax and required header elements
  - Version, release date and dependency declarations
  - Parameter declarations and overrides
  - Step elements and their attributes

With --check the package is also checked against the installed
components, as phase 0 of install would.`,
		Example: `  patchwork validate ./packages/forms-1.1.xml
  patchwork validate ./forms-1.1.xml --check --param @site:intranet`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read manifest: %w", err)
			}
			overrides, err := manifest.ParseParameterArgs(params)
			if err != nil {
				return &ExitError{Code: ExitUsage, Err: err}
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			opts := manifest.ParseOptions{
				Parameters:           overrides,
				ForceReinstall:       cfg.Execution.ForceReinstall,
				ReleaseDateTolerance: cfg.Execution.Tolerance(),
			}

			if check {
				rt, err := openRuntime(cmd.Context())
				if err != nil {
					return err
				}
				defer rt.close()

				opts.Installed, err = rt.executor.View().Components(cmd.Context())
				if err != nil {
					return err
				}
				opts.CheckPrerequisites = true
			}

			m, err := manifest.Parse(string(content), opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: valid %s package\n", args[0], m.PackageType)
			if m.ComponentID != "" {
				fmt.Fprintf(out, "  component:  %s %s\n", m.ComponentID, m.Version)
			}
			fmt.Fprintf(out, "  released:   %s\n", m.ReleaseDate.Format("2006-01-02"))
			fmt.Fprintf(out, "  phases:     %d\n", m.PhaseCount())
			if len(m.Dependencies) > 0 {
				deps := make([]string, 0, len(m.Dependencies))
				for _, d := range m.Dependencies {
					deps = append(deps, d.String())
				}
				fmt.Fprintf(out, "  depends on: %s\n", strings.Join(deps, ", "))
			}
			if len(m.ParameterNames) > 0 {
				fmt.Fprintf(out, "  parameters: %s\n", strings.Join(m.ParameterNames, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&params, "param", nil, "parameter override as @name:value (repeatable)")
	cmd.Flags().BoolVar(&check, "check", false, "check the package against the installed components")

	return cmd
}
