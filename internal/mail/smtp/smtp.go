// Package smtp delivers messages over SMTP.
package smtp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/payslipd/internal/dispatch"
)

const defaultTimeout = 30 * time.Second

// Config describes the SMTP relay.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// ImplicitTLS dials TLS directly (usually port 465) instead of
	// upgrading with STARTTLS when the server offers it.
	ImplicitTLS bool
	Timeout     time.Duration
}

// Channel sends each message on its own SMTP connection so concurrent sends
// within a batch never share protocol state.
type Channel struct {
	cfg    Config
	logger log.Logger
}

// New validates cfg and returns a Channel.
func New(cfg Config, logger log.Logger) (*Channel, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp: host is required")
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.From == "" {
		return nil, errors.New("smtp: sender address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Channel{cfg: cfg, logger: logger}, nil
}

func (c *Channel) Name() string { return "smtp" }

func (c *Channel) client() (*mail.Client, error) {
	opts := []mail.Option{mail.WithTimeout(c.cfg.Timeout)}
	if c.cfg.ImplicitTLS {
		opts = append(opts, mail.WithSSLPort(false))
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSOpportunistic))
	}
	if c.cfg.Port > 0 {
		opts = append(opts, mail.WithPort(c.cfg.Port))
	}
	if c.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(c.cfg.Username),
			mail.WithPassword(c.cfg.Password),
		)
	}
	return mail.NewClient(c.cfg.Host, opts...)
}

func (c *Channel) build(msg *dispatch.Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(c.cfg.From); err != nil {
		return nil, fmt.Errorf("smtp: sender %q: %w", c.cfg.From, err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("smtp: %w: recipient %q: %v", dispatch.ErrRejected, msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	for _, a := range msg.Attachments {
		name := a.Filename
		if name == "" {
			name = dispatch.DefaultFilename
		}
		if err := m.AttachReader(name, bytes.NewReader(a.Content),
			mail.WithFileContentType(mail.ContentType("application/pdf"))); err != nil {
			return nil, fmt.Errorf("smtp: attach %q: %w", name, err)
		}
	}
	return m, nil
}

// Send delivers msg. A refused recipient wraps dispatch.ErrRejected; every
// other failure wraps dispatch.ErrTransport.
func (c *Channel) Send(ctx context.Context, msg *dispatch.Message) error {
	m, err := c.build(msg)
	if err != nil {
		return err
	}
	client, err := c.client()
	if err != nil {
		return fmt.Errorf("smtp: %w: %v", dispatch.ErrTransport, err)
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp: %w: %v", classify(err), err)
	}
	c.logger.Info(ctx, "smtp accepted message", "to", msg.To)
	return nil
}

func classify(err error) error {
	var se *mail.SendError
	if errors.As(err, &se) && se.Reason == mail.ErrSMTPRcptTo {
		return dispatch.ErrRejected
	}
	return dispatch.ErrTransport
}
