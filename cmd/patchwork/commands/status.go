package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/patchwork/pkg/engine"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the installed components",
		Long: `Show every installed component with its highest acceptable version.
A component whose last attempt failed shows the attempted version too.`,
		Example: `  patchwork status
  patchwork status --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			components, err := rt.executor.View().Components(cmd.Context())
			if err != nil {
				return err
			}
			rt.tel.Metrics.SetInstalledComponents(len(components))

			if components == nil {
				components = []engine.Component{}
			}
			return render(cmd.OutOrStdout(), components, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "COMPONENT\tVERSION\tATTEMPTED\tDEPENDENCIES\tDESCRIPTION")
				for _, c := range components {
					attempted := "-"
					if !c.Version.Equal(c.AcceptableVersion) {
						attempted = c.Version.String()
					}
					deps := make([]string, 0, len(c.Dependencies))
					for _, d := range c.Dependencies {
						deps = append(deps, d.String())
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ComponentID, c.AcceptableVersion,
						attempted, orDash(strings.Join(deps, ", ")), orDash(c.Description))
				}
			})
		},
	}

	return cmd
}
