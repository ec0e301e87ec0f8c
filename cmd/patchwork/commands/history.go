package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/patchwork/pkg/engine"
	"github.com/openfroyo/patchwork/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		component string
		audit     bool
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the package log",
		Long: `Show every recorded package attempt in execution order. With --audit
the change log of the records is shown instead, newest first.`,
		Example: `  patchwork history
  patchwork history --component Forms
  patchwork history --audit --limit 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			if audit {
				var filter *string
				if component != "" {
					filter = &component
				}
				entries, err := rt.store.ListAuditEntries(cmd.Context(), filter, limit, 0)
				if err != nil {
					return err
				}
				return renderAudit(cmd, entries)
			}

			records, err := rt.store.LoadPackages(cmd.Context())
			if err != nil {
				return err
			}
			filtered := make([]*engine.PackageRecord, 0, len(records))
			for _, r := range records {
				if component == "" || r.ComponentID == component {
					filtered = append(filtered, r)
				}
			}

			return render(cmd.OutOrStdout(), filtered, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "ID\tTYPE\tCOMPONENT\tVERSION\tRESULT\tEXECUTED\tERROR")
				for _, r := range filtered {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.PackageType,
						orDash(r.ComponentID), r.ComponentVersion, r.ExecutionResult,
						r.ExecutionDate.Local().Format(time.DateTime), orDash(r.ExecutionError))
				}
			})
		},
	}

	cmd.Flags().StringVar(&component, "component", "", "only show this component")
	cmd.Flags().BoolVar(&audit, "audit", false, "show the audit log")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of audit entries")

	return cmd
}

func renderAudit(cmd *cobra.Command, entries []*stores.AuditEntry) error {
	if entries == nil {
		entries = []*stores.AuditEntry{}
	}
	return render(cmd.OutOrStdout(), entries, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "TIME\tACTION\tPACKAGE\tCOMPONENT\tRESULT")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", e.Timestamp.Local().Format(time.DateTime),
				e.Action, e.PackageID, orDash(e.ComponentID), e.ExecutionResult)
		}
	})
}
