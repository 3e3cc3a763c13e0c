package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/go-core/log"

	vc "github.com/linnemanlabs/payslipd/internal/cfg"
	"github.com/linnemanlabs/payslipd/internal/dispatch"
	dmemstore "github.com/linnemanlabs/payslipd/internal/dispatch/memstore"
	dpgstore "github.com/linnemanlabs/payslipd/internal/dispatch/pgstore"
	"github.com/linnemanlabs/payslipd/internal/dispatch/sqlitestore"
	"github.com/linnemanlabs/payslipd/internal/mail/brevo"
	"github.com/linnemanlabs/payslipd/internal/mail/mock"
	"github.com/linnemanlabs/payslipd/internal/mail/smtp"
	"github.com/linnemanlabs/payslipd/internal/roster"
	rmemstore "github.com/linnemanlabs/payslipd/internal/roster/memstore"
	rpgstore "github.com/linnemanlabs/payslipd/internal/roster/pgstore"
)

// stores is the persistence chosen at startup.
type stores struct {
	roster roster.Store
	audit  dispatch.AuditStore
	kind   string
	close  func()
}

// newChannel builds the configured delivery channel.
func newChannel(c *vc.Config, L log.Logger) (dispatch.Channel, error) {
	switch c.MailChannel {
	case vc.ChannelSMTP:
		ch, err := smtp.New(smtp.Config{
			Host:        c.SMTPHost,
			Port:        c.SMTPPort,
			Username:    c.SMTPUsername,
			Password:    c.SMTPPassword,
			From:        c.MailFrom,
			ImplicitTLS: c.SMTPImplicitTLS,
			Timeout:     c.SMTPTimeout,
		}, L)
		if err != nil {
			return nil, err
		}
		return ch, nil
	case vc.ChannelBrevo:
		return brevo.New(c.BrevoAPIKey, c.MailFrom, L), nil
	case vc.ChannelMock, "":
		return mock.New(L), nil
	default:
		return nil, fmt.Errorf("unknown mail channel %q", c.MailChannel)
	}
}

// readRoster loads the roster CSV at path. An empty path yields no entries.
func readRoster(path string) ([]roster.Entry, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("open roster: %w", err)
	}
	defer func() { _ = f.Close() }()
	entries, err := roster.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read roster %s: %w", path, err)
	}
	return entries, nil
}

// openStores picks postgres when a database URL is configured, otherwise an
// in-memory roster with a SQLite or in-memory audit trail.
func openStores(ctx context.Context, c *vc.Config, pool *pgxpool.Pool) (*stores, error) {
	entries, err := readRoster(c.RosterFile)
	if err != nil {
		return nil, err
	}

	if pool != nil {
		rs, err := rpgstore.New(ctx, pool)
		if err != nil {
			return nil, fmt.Errorf("roster pgstore init: %w", err)
		}
		if len(entries) > 0 {
			if err := rs.Upsert(ctx, entries); err != nil {
				return nil, fmt.Errorf("seed roster: %w", err)
			}
		}
		as, err := dpgstore.New(ctx, pool)
		if err != nil {
			return nil, fmt.Errorf("audit pgstore init: %w", err)
		}
		return &stores{roster: rs, audit: as, kind: "postgres", close: func() {}}, nil
	}

	rs := rmemstore.New(entries...)
	if c.AuditSQLitePath != "" {
		as, err := sqlitestore.Open(ctx, c.AuditSQLitePath)
		if err != nil {
			return nil, fmt.Errorf("audit sqlite open: %w", err)
		}
		return &stores{roster: rs, audit: as, kind: "sqlite", close: func() { _ = as.Close() }}, nil
	}
	return &stores{roster: rs, audit: dmemstore.New(), kind: "memory", close: func() {}}, nil
}
