package payslip

import (
	"errors"
	"fmt"

	"github.com/linnemanlabs/payslipd/internal/dispatch"
)

// ErrUnitNotFound is returned when the requested unit has no roster entries.
var ErrUnitNotFound = errors.New("unit not found")

// ValidationError reports a request that cannot be processed as given: a
// missing field, a file that is not a usable PDF, or a strict-mode abort.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Request is one upload to process.
type Request struct {
	Unit     string
	Filename string
	PDF      []byte
	Subject  string
	Message  string

	// Per-request switches layered over the service defaults. Zero values
	// keep the default.
	DryRun        bool
	Confirm       bool
	BatchSize     int
	TestRecipient string
}

// Stats describes what the pipeline found in the document.
type Stats struct {
	Pages              int            `json:"pages"`
	Segments           int            `json:"segments"`
	Sparse             int            `json:"sparse"`
	Matched            int            `json:"matched"`
	Recipients         int            `json:"recipients"`
	ExtractionFailures int            `json:"extractionFailures"`
	ResolutionFailures int            `json:"resolutionFailures"`
	ByMethod           map[string]int `json:"byMethod"`
}

// Unmatched describes a segment no roster entry was found for.
type Unmatched struct {
	Page       int      `json:"page"`
	Region     string   `json:"region"`
	Reason     string   `json:"reason"`
	Candidates []string `json:"candidates,omitempty"`
}

// Outcome is the result of Process.
type Outcome struct {
	RunID     string           `json:"runId"`
	Unit      string           `json:"unit"`
	Stats     Stats            `json:"stats"`
	Unmatched []Unmatched      `json:"unmatched,omitempty"`
	Result    *dispatch.Result `json:"result"`
	Duration  float64          `json:"duration"`
}

const (
	reasonSparse      = "too little text"
	reasonNoCandidate = "no identity candidates"
	reasonNoMatch     = "no roster match"
)
