// Package brevo delivers messages through the Brevo transactional email API.
package brevo

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/payslipd/internal/dispatch"
)

const (
	DefaultEndpoint = "https://api.brevo.com/v3/smtp/email"
	httpTimeout     = 30 * time.Second
)

// Channel sends messages with the Brevo API.
type Channel struct {
	endpoint string
	apiKey   string
	sender   string
	client   *http.Client
	logger   log.Logger
}

// Option configures a Channel.
type Option func(*Channel)

// WithEndpoint overrides the API endpoint.
func WithEndpoint(url string) Option {
	return func(c *Channel) { c.endpoint = url }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Channel) { c.client = hc }
}

// New creates a Brevo channel sending as sender.
func New(apiKey, sender string, logger log.Logger, opts ...Option) *Channel {
	if apiKey == "" {
		panic(xerrors.New("brevo api key is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	c := &Channel{
		endpoint: DefaultEndpoint,
		apiKey:   apiKey,
		sender:   sender,
		client:   &http.Client{Timeout: httpTimeout},
		logger:   logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Channel) Name() string { return "brevo" }

type address struct {
	Email string `json:"email"`
}

type attachment struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type payload struct {
	Sender      address      `json:"sender"`
	To          []address    `json:"to"`
	Subject     string       `json:"subject"`
	HTMLContent string       `json:"htmlContent"`
	Attachment  []attachment `json:"attachment,omitempty"`
}

type response struct {
	MessageID string `json:"messageId"`
}

// Send posts msg to the API. 4xx answers wrap dispatch.ErrRejected, network
// failures and 5xx answers wrap dispatch.ErrTransport.
func (c *Channel) Send(ctx context.Context, msg *dispatch.Message) error {
	p := payload{
		Sender:      address{Email: c.sender},
		To:          []address{{Email: msg.To}},
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
	}
	for _, a := range msg.Attachments {
		name := a.Filename
		if name == "" {
			name = dispatch.DefaultFilename
		}
		p.Attachment = append(p.Attachment, attachment{
			Name:    name,
			Content: base64.StdEncoding.EncodeToString(a.Content),
		})
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("brevo: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("brevo: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api-key", c.apiKey)

	resp, err := c.client.Do(req) //nolint:gosec // endpoint is from trusted config
	if err != nil {
		return fmt.Errorf("brevo: %w: %w", dispatch.ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		kind := dispatch.ErrTransport
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			kind = dispatch.ErrRejected
		}
		return fmt.Errorf("brevo: %w: status %d: %s", kind, resp.StatusCode, string(respBody))
	}

	var r response
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&r)
	c.logger.Info(ctx, "brevo accepted message", "to", msg.To, "message_id", r.MessageID)
	return nil
}
