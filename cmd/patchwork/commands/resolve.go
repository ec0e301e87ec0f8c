package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/patchwork/pkg/catalog"
	"github.com/openfroyo/patchwork/pkg/engine"
	"github.com/openfroyo/patchwork/pkg/packaging"
)

func newResolveCommand() *cobra.Command {
	var (
		dotFile string
		apply   bool
	)

	cmd := &cobra.Command{
		Use:   "resolve [dir]",
		Short: "Plan or apply the packages of a catalogue directory",
		Long: `Read every manifest of a directory, select the installers and patches
that apply to the installed components and order them by dependency.

Without --apply the plan is printed. With --apply the packages run in
order until one fails or asks for a restart.`,
		Example: `  # Show what would run
  patchwork resolve ./packages

  # Export the dependency graph
  patchwork resolve ./packages --dot plan.dot

  # Bring the installation up to date
  patchwork resolve ./packages --apply`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			dir := rt.cfg.Packages.Dir
			if len(args) > 0 {
				dir = args[0]
			}
			source := catalog.NewDirSource(dir, rt.tel.Logger)
			patcher := packaging.NewPatcher(rt.executor, source)

			resolution, err := patcher.Plan(cmd.Context())
			if err != nil {
				return err
			}
			if dotFile != "" {
				if err := os.WriteFile(dotFile, []byte(resolution.ToDOT()), 0o644); err != nil {
					return fmt.Errorf("failed to write graph: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			if !apply {
				if err := renderPlan(cmd, resolution); err != nil {
					return err
				}
				if resolution.HasErrors() {
					return &ExitError{Code: ExitFailure}
				}
				return nil
			}

			report, err := patcher.ApplyPlan(cmd.Context(), resolution)
			if report == nil {
				return err
			}
			for _, d := range report.Applied {
				fmt.Fprintf(out, "applied %s\n", d.String())
			}
			for _, rerr := range report.Resolution.Errors {
				fmt.Fprintf(out, "rejected: %v\n", rerr)
			}
			if err != nil {
				return err
			}
			if report.Pending != nil {
				fmt.Fprintf(out, "Restart required. Continue %s with phase %d\n",
					report.Pending.Package.ComponentID, report.Pending.NextPhase())
				return &ExitError{Code: ExitNeedRestart}
			}
			if len(report.Applied) == 0 {
				fmt.Fprintln(out, "Everything is up to date")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dotFile, "dot", "", "write the dependency graph in DOT format to a file")
	cmd.Flags().BoolVar(&apply, "apply", false, "execute the resolved packages")

	return cmd
}

type planView struct {
	Executable     []engine.PatchDescriptor `json:"executable" yaml:"executable"`
	ResultingState []engine.Component       `json:"resulting_state" yaml:"resulting_state"`
	Errors         []string                 `json:"errors,omitempty" yaml:"errors,omitempty"`
}

func renderPlan(cmd *cobra.Command, r *engine.Resolution) error {
	view := planView{
		Executable:     r.Executable,
		ResultingState: r.ResultingState,
	}
	for _, err := range r.Errors {
		view.Errors = append(view.Errors, err.Error())
	}

	return render(cmd.OutOrStdout(), view, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "#\tKIND\tCOMPONENT\tSOURCE\tVERSION\tDESCRIPTION")
		for i, d := range r.Executable {
			source := "-"
			if d.Kind == engine.DescriptorPatch {
				source = d.SourceInterval.String()
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
				i+1, d.Kind, d.ComponentID, source, d.Version, orDash(d.Description))
		}
		for _, msg := range view.Errors {
			fmt.Fprintf(tw, "!\terror\t%s\t\t\t\n", msg)
		}
	})
}
