package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/log"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/linnemanlabs/payslipd/internal/dispatch"
	dpgstore "github.com/linnemanlabs/payslipd/internal/dispatch/pgstore"
	"github.com/linnemanlabs/payslipd/internal/dispatch/sqlitestore"
	"github.com/linnemanlabs/payslipd/internal/postgres"
	"github.com/linnemanlabs/payslipd/internal/roster"
	rmemstore "github.com/linnemanlabs/payslipd/internal/roster/memstore"
	rpgstore "github.com/linnemanlabs/payslipd/internal/roster/pgstore"
)

const appName = "payslipctl"

var errNoRoster = errors.New("a roster is required (--roster-file or --database-url)")

// cliContext carries the shared flags and the lazily opened database pool.
type cliContext struct {
	logCfg      log.Config
	databaseURL string
	sqlitePath  string
	rosterFile  string

	logger log.Logger
	pool   *pgxpool.Pool
}

func newRootCommand() *cobra.Command {
	c := &cliContext{logger: log.Nop()}

	// flags live on a stdlib FlagSet so the shared env filler and the log
	// package can register against it
	gfs := flag.NewFlagSet(appName, flag.ContinueOnError)
	c.logCfg.RegisterFlags(gfs)
	gfs.StringVar(&c.databaseURL, "database-url", "", "PostgreSQL connection URL for roster and audit")
	gfs.StringVar(&c.sqlitePath, "audit-sqlite-path", "", "SQLite audit file written by payslipd")
	gfs.StringVar(&c.rosterFile, "roster-file", "", "CSV roster (name, email, unit, optional tax id)")

	// env first, explicit flags parsed by cobra override it
	cfg.FillFromEnv(gfs, "PAYSLIPD_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "Inspect payroll PDFs and payslipd send history",
		Version:       v.Get().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.logCfg.Validate(); err != nil {
				return fmt.Errorf("log config: %w", err)
			}
			lg, err := log.New(c.logCfg.ToOptions(appName))
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			c.logger = lg.With("component", "cli", "command", cmd.Name())
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			c.close()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().AddGoFlagSet(gfs)

	rootCmd.AddCommand(newProcessCommand(c))
	rootCmd.AddCommand(newHistoryCommand(c))
	rootCmd.AddCommand(newRosterCommand(c))

	return rootCmd
}

func (c *cliContext) db(ctx context.Context) (*pgxpool.Pool, error) {
	if c.pool != nil {
		return c.pool, nil
	}
	pool, err := postgres.NewPool(ctx, c.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	c.pool = pool
	return pool, nil
}

func (c *cliContext) close() {
	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}
}

// openRoster prefers the CSV file over the database.
func (c *cliContext) openRoster(ctx context.Context) (roster.Store, error) {
	if c.rosterFile != "" {
		f, err := os.Open(c.rosterFile)
		if err != nil {
			return nil, fmt.Errorf("open roster: %w", err)
		}
		defer func() { _ = f.Close() }()
		entries, err := roster.ReadCSV(f)
		if err != nil {
			return nil, fmt.Errorf("read roster %s: %w", c.rosterFile, err)
		}
		c.logger.Info(ctx, "loaded roster", "path", c.rosterFile, "entries", len(entries))
		return rmemstore.New(entries...), nil
	}
	if c.databaseURL == "" {
		return nil, errNoRoster
	}
	pool, err := c.db(ctx)
	if err != nil {
		return nil, err
	}
	rs, err := rpgstore.New(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("roster pgstore init: %w", err)
	}
	return rs, nil
}

// openAudit returns the audit trail and a close function.
func (c *cliContext) openAudit(ctx context.Context) (dispatch.AuditStore, func(), error) {
	switch {
	case c.databaseURL != "":
		pool, err := c.db(ctx)
		if err != nil {
			return nil, nil, err
		}
		s, err := dpgstore.New(ctx, pool)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case c.sqlitePath != "":
		if _, err := os.Stat(c.sqlitePath); err != nil {
			return nil, nil, fmt.Errorf("audit database: %w", err)
		}
		s, err := sqlitestore.Open(ctx, c.sqlitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, errors.New("an audit store is required (--audit-sqlite-path or --database-url)")
	}
}
