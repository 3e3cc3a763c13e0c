package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/linnemanlabs/payslipd/internal/dispatch"
)

func newHistoryCommand(c *cliContext) *cobra.Command {
	var q dispatch.HistoryQuery

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			audit, closeAudit, err := c.openAudit(ctx)
			if err != nil {
				return err
			}
			defer closeAudit()

			q = q.Normalize()
			recs, total, err := audit.List(ctx, q)
			if err != nil {
				return fmt.Errorf("list history: %w", err)
			}

			w := cmd.OutOrStdout()
			if len(recs) == 0 {
				_, _ = fmt.Fprintln(w, "no runs recorded")
				return nil
			}
			tw := newTable(w, "", table.Row{"Run", "Unit", "Subject", "Total", "Sent", "Failed", "Dry run", "Test recipient", "Created"}, 4, 5, 6)
			for _, r := range recs {
				tw.AppendRow(table.Row{
					r.ID, r.Unit, r.Subject, r.Total, r.Processed, r.Failed,
					yesNo(r.DryRun), r.TestRecipient, r.CreatedAt.Local().Format(time.DateTime),
				})
			}
			tw.AppendFooter(table.Row{fmt.Sprintf("page %d", q.Page), "", "", "", "", "", "", "", fmt.Sprintf("%d of %d", len(recs), total)})
			tw.Render()
			return nil
		},
	}

	cmd.Flags().StringVarP(&q.Unit, "unit", "u", "", "only runs for this unit")
	cmd.Flags().IntVar(&q.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&q.Limit, "limit", dispatch.DefaultHistoryLimit, fmt.Sprintf("records per page (max %d)", dispatch.MaxHistoryLimit))

	return cmd
}
