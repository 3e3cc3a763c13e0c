package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/linnemanlabs/payslipd/internal/dispatch"
	"github.com/linnemanlabs/payslipd/internal/segment"
)

// Mail channels.
const (
	ChannelMock  = "mock"
	ChannelSMTP  = "smtp"
	ChannelBrevo = "brevo"
)

// Config adds payslipd-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	MaxUploadMB           int

	DatabaseURL      string
	DBLogMinDuration time.Duration
	AuditSQLitePath  string
	RosterFile       string
	APITokens        string
	SlackWebhookURL  string
	Layout           string
	FuzzyThreshold   float64
	ExtraStopwords   string
	TempDir          string

	MailChannel     string
	MailFrom        string
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPImplicitTLS bool
	SMTPTimeout     time.Duration
	BrevoAPIKey     string

	BatchSize        int
	ConfirmThreshold int
	BatchDelay       time.Duration
	AllowedDomains   string
	StrictPDF        bool
	StrictEmail      bool
	TestRecipient    string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.IntVar(&c.MaxUploadMB, "max-upload-mb", 50, "largest accepted upload in megabytes (1..512)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for roster and audit (empty = in-memory stores)")
	fs.DurationVar(&c.DBLogMinDuration, "db-log-min-duration", 0, "only log successful queries slower than this (0 = log all)")
	fs.StringVar(&c.AuditSQLitePath, "audit-sqlite-path", "", "SQLite file for the send audit when no database-url is set (empty = in-memory)")
	fs.StringVar(&c.RosterFile, "roster-file", "", "CSV roster to load at startup (name, email, unit, optional tax id)")
	fs.StringVar(&c.APITokens, "api-tokens", "", "comma separated bearer tokens for the API (empty = no auth)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for run summaries")
	fs.StringVar(&c.Layout, "layout", string(segment.LayoutAuto), "page layout: auto, single or twoup")
	fs.Float64Var(&c.FuzzyThreshold, "fuzzy-threshold", 0.7, "similarity a fuzzy name match must exceed (0..1)")
	fs.StringVar(&c.ExtraStopwords, "extra-stopwords", "", "comma separated words that disqualify a line as a name")
	fs.StringVar(&c.TempDir, "temp-dir", "", "directory for intermediate PDF files (empty = system default)")

	fs.StringVar(&c.MailChannel, "mail-channel", ChannelMock, "delivery channel: mock, smtp or brevo")
	fs.StringVar(&c.MailFrom, "mail-from", "", "sender address (defaults to smtp-username for smtp)")
	fs.StringVar(&c.SMTPHost, "smtp-host", "", "SMTP server host")
	fs.IntVar(&c.SMTPPort, "smtp-port", 587, "SMTP server port")
	fs.StringVar(&c.SMTPUsername, "smtp-username", "", "SMTP username")
	fs.StringVar(&c.SMTPPassword, "smtp-password", "", "SMTP password")
	fs.BoolVar(&c.SMTPImplicitTLS, "smtp-implicit-tls", false, "use implicit TLS instead of STARTTLS")
	fs.DurationVar(&c.SMTPTimeout, "smtp-timeout", 30*time.Second, "SMTP dial and send timeout")
	fs.StringVar(&c.BrevoAPIKey, "brevo-api-key", "", "Brevo transactional email API key")

	fs.IntVar(&c.BatchSize, "batch-size", dispatch.DefaultBatchSize, "concurrent sends per batch (1..100)")
	fs.IntVar(&c.ConfirmThreshold, "confirm-threshold", dispatch.DefaultConfirmThreshold, "recipient count above which a run needs confirmation")
	fs.DurationVar(&c.BatchDelay, "batch-delay", 2*time.Second, "pause between batches")
	fs.StringVar(&c.AllowedDomains, "allowed-domains", "", "comma separated recipient domains (empty = any)")
	fs.BoolVar(&c.StrictPDF, "strict-pdf", false, "abort a run when any attachment is not a PDF")
	fs.BoolVar(&c.StrictEmail, "strict-email", false, "abort a run when any recipient address is invalid")
	fs.StringVar(&c.TestRecipient, "test-recipient", "", "redirect every run to this address")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}
	if c.MaxUploadMB <= 0 || c.MaxUploadMB > 512 {
		errs = append(errs, fmt.Errorf("invalid MAX_UPLOAD_MB %d (must be 1..512)", c.MaxUploadMB))
	}

	if _, err := segment.ParseLayout(c.Layout); err != nil {
		errs = append(errs, fmt.Errorf("invalid LAYOUT: %w", err))
	}
	if c.FuzzyThreshold <= 0 || c.FuzzyThreshold >= 1 {
		errs = append(errs, fmt.Errorf("invalid FUZZY_THRESHOLD %v (must be between 0 and 1)", c.FuzzyThreshold))
	}

	// Dispatch limits
	if c.BatchSize < 1 || c.BatchSize > dispatch.MaxBatchSize {
		errs = append(errs, fmt.Errorf("invalid BATCH_SIZE %d (must be 1..%d)", c.BatchSize, dispatch.MaxBatchSize))
	}
	if c.ConfirmThreshold < 1 {
		errs = append(errs, fmt.Errorf("invalid CONFIRM_THRESHOLD %d (must be at least 1)", c.ConfirmThreshold))
	}
	if c.BatchDelay < 0 {
		errs = append(errs, fmt.Errorf("invalid BATCH_DELAY %s (must not be negative)", c.BatchDelay))
	}
	if c.TestRecipient != "" && !dispatch.ValidEmail(c.TestRecipient) {
		errs = append(errs, fmt.Errorf("invalid TEST_RECIPIENT %q", c.TestRecipient))
	}

	errs = append(errs, c.validateChannel()...)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (c *Config) validateChannel() []error {
	var errs []error
	switch c.MailChannel {
	case ChannelMock:
	case ChannelSMTP:
		if c.SMTPHost == "" {
			errs = append(errs, errors.New("SMTP_HOST is required for the smtp channel"))
		}
		if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
			errs = append(errs, fmt.Errorf("invalid SMTP_PORT %d (must be 1..65535)", c.SMTPPort))
		}
		if c.MailFrom == "" && c.SMTPUsername == "" {
			errs = append(errs, errors.New("MAIL_FROM or SMTP_USERNAME is required for the smtp channel"))
		}
		if c.SMTPTimeout <= 0 {
			errs = append(errs, fmt.Errorf("invalid SMTP_TIMEOUT %s (must be positive)", c.SMTPTimeout))
		}
	case ChannelBrevo:
		if c.BrevoAPIKey == "" {
			errs = append(errs, errors.New("BREVO_API_KEY is required for the brevo channel"))
		}
		if c.MailFrom == "" {
			errs = append(errs, errors.New("MAIL_FROM is required for the brevo channel"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid MAIL_CHANNEL %q (want mock, smtp or brevo)", c.MailChannel))
	}
	if c.MailFrom != "" {
		if _, err := mail.ParseAddress(c.MailFrom); err != nil {
			errs = append(errs, fmt.Errorf("invalid MAIL_FROM %q: %w", c.MailFrom, err))
		}
	}
	return errs
}

// DispatchOptions returns the dispatch defaults every request starts from.
func (c *Config) DispatchOptions() dispatch.Options {
	return dispatch.Options{
		BatchSize:        c.BatchSize,
		ConfirmThreshold: c.ConfirmThreshold,
		BatchDelay:       c.BatchDelay,
		StrictPDF:        c.StrictPDF,
		StrictEmail:      c.StrictEmail,
		TestRecipient:    strings.TrimSpace(c.TestRecipient),
		AllowedDomains:   dispatch.ParseDomains(c.AllowedDomains),
	}
}

// MaxUploadBytes is MaxUploadMB in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Stopwords splits ExtraStopwords.
func (c *Config) Stopwords() []string {
	var out []string
	for _, w := range strings.Split(c.ExtraStopwords, ",") {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, w)
		}
	}
	return out
}
