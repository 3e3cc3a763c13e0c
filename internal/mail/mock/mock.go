// Package mock provides a dispatch.Channel that logs and records messages
// instead of delivering them. Used in development and tests.
package mock

import (
	"context"
	"sync"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/payslipd/internal/dispatch"
)

// Channel records every message it is asked to send.
type Channel struct {
	logger log.Logger

	mu   sync.Mutex
	sent []dispatch.Message
	fail map[string]error
}

// New creates a mock channel.
func New(logger log.Logger) *Channel {
	if logger == nil {
		logger = log.Nop()
	}
	return &Channel{logger: logger, fail: make(map[string]error)}
}

func (c *Channel) Name() string { return "mock" }

// FailFor makes sends to addr return err.
func (c *Channel) FailFor(addr string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail[addr] = err
}

// Send records msg, or returns the error registered for its recipient.
func (c *Channel) Send(ctx context.Context, msg *dispatch.Message) error {
	c.mu.Lock()
	err := c.fail[msg.To]
	if err == nil {
		c.sent = append(c.sent, *msg)
	}
	c.mu.Unlock()

	if err != nil {
		return err
	}

	size := 0
	for _, a := range msg.Attachments {
		size += len(a.Content)
	}
	c.logger.Info(ctx, "mock send", "to", msg.To, "subject", msg.Subject,
		"attachments", len(msg.Attachments), "bytes", size)
	return nil
}

// Sent returns copies of the recorded messages in send order.
func (c *Channel) Sent() []dispatch.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]dispatch.Message(nil), c.sent...)
}

// Reset forgets recorded messages.
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}
