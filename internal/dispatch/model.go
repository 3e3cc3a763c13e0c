package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/payslipd/internal/roster"
)

// Item is one recipient paired with the document addressed to them.
type Item struct {
	Entry    roster.Entry
	PDF      []byte
	Filename string
}

// Attachment is a file carried by a Message.
type Attachment struct {
	Filename string
	Content  []byte
}

// Message is a fully rendered email ready for a Channel.
type Message struct {
	To          string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Channel delivers one message. Implementations wrap ErrTransport when the
// provider could not be reached and ErrRejected when it refused the message
// or accepted no recipient.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg *Message) error
}

var (
	ErrTransport = errors.New("transport failure")
	ErrRejected  = errors.New("message rejected")
)

// ValidationError aborts a run before anything is sent.
type ValidationError struct {
	Reason string
	// Examples lists up to five offending recipients or filenames.
	Examples []string
}

func (e *ValidationError) Error() string {
	if len(e.Examples) == 0 {
		return e.Reason
	}
	return fmt.Sprintf("%s (e.g. %s)", e.Reason, strings.Join(e.Examples, ", "))
}

// ItemResult is the delivery outcome for one recipient.
type ItemResult struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Guard is returned instead of sending when a large run was not confirmed.
type Guard struct {
	Count     int `json:"count"`
	Threshold int `json:"threshold"`
}

// Preview is returned by a dry run.
type Preview struct {
	Sample []string `json:"sample"`
	Total  int      `json:"total"`
}

// Result aggregates one orchestrator run. Exactly one of Guard or Preview is
// set when the run did not send.
type Result struct {
	RunID      string       `json:"runId"`
	Processed  int          `json:"processed"`
	Failed     int          `json:"failed"`
	Total      int          `json:"total"`
	Items      []ItemResult `json:"items,omitempty"`
	Guard      *Guard       `json:"guard,omitempty"`
	Preview    *Preview     `json:"preview,omitempty"`
	AuditError string       `json:"auditError,omitempty"`
}

// Record is the audit entry persisted for each executed or dry run.
type Record struct {
	ID            string    `json:"id"`
	Unit          string    `json:"unit"`
	Subject       string    `json:"subject"`
	Total         int       `json:"total"`
	Processed     int       `json:"processed"`
	Failed        int       `json:"failed"`
	DryRun        bool      `json:"dryRun"`
	TestRecipient string    `json:"testRecipient,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
	// MaxHistoryPage keeps Offset far from integer overflow.
	MaxHistoryPage = 1_000_000
)

// HistoryQuery selects a page of audit records, newest first. An empty Unit
// matches every unit.
type HistoryQuery struct {
	Unit  string
	Page  int
	Limit int
}

// Normalize fills defaults and clamps the page number and size.
func (q HistoryQuery) Normalize() HistoryQuery {
	switch {
	case q.Page < 1:
		q.Page = 1
	case q.Page > MaxHistoryPage:
		q.Page = MaxHistoryPage
	}
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultHistoryLimit
	case q.Limit > MaxHistoryLimit:
		q.Limit = MaxHistoryLimit
	}
	return q
}

// Offset returns the number of records skipped before the page.
func (q HistoryQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

// AuditStore persists run records.
type AuditStore interface {
	RecordSend(ctx context.Context, rec *Record) error
	// List returns one page of records and the total number matching q.
	List(ctx context.Context, q HistoryQuery) ([]Record, int, error)
}
