package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/linnemanlabs/payslipd/internal/roster"
	rpgstore "github.com/linnemanlabs/payslipd/internal/roster/pgstore"
)

func newRosterCommand(c *cliContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roster",
		Short: "Inspect and load the employee roster",
	}
	cmd.AddCommand(newRosterUnitsCommand(c))
	cmd.AddCommand(newRosterImportCommand(c))
	return cmd
}

func newRosterUnitsCommand(c *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "units",
		Short: "List roster units with their employee counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rs, err := c.openRoster(ctx)
			if err != nil {
				return err
			}
			units, err := rs.Units(ctx)
			if err != nil {
				return fmt.Errorf("list units: %w", err)
			}

			tw := newTable(cmd.OutOrStdout(), "", table.Row{"Unit", "Employees"}, 2)
			sum := 0
			for _, u := range units {
				tw.AppendRow(table.Row{u.Unit, u.Employees})
				sum += u.Employees
			}
			tw.AppendFooter(table.Row{"total", sum})
			tw.Render()
			return nil
		},
	}
}

func newRosterImportCommand(c *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <csv>",
		Short: "Upsert a roster CSV into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if c.databaseURL == "" {
				return errors.New("roster import needs --database-url")
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open roster: %w", err)
			}
			defer func() { _ = f.Close() }()
			entries, err := roster.ReadCSV(f)
			if err != nil {
				return fmt.Errorf("read roster %s: %w", args[0], err)
			}

			pool, err := c.db(ctx)
			if err != nil {
				return err
			}
			rs, err := rpgstore.New(ctx, pool)
			if err != nil {
				return err
			}
			if err := rs.Upsert(ctx, entries); err != nil {
				return fmt.Errorf("upsert roster: %w", err)
			}
			c.logger.Info(ctx, "roster imported", "path", args[0], "entries", len(entries))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d entries\n", len(entries))
			return err
		},
	}
}
