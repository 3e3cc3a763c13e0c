package dispatch

import (
	"strings"
	"time"
)

const (
	DefaultBatchSize        = 20
	MaxBatchSize            = 100
	DefaultConfirmThreshold = 50
	// PreviewSampleSize caps the addresses listed by a dry run.
	PreviewSampleSize = 5
)

// ClampBatchSize maps an unset size to the default and forces the rest into
// 1..MaxBatchSize.
func ClampBatchSize(n int) int {
	switch {
	case n == 0:
		return DefaultBatchSize
	case n < 1:
		return 1
	case n > MaxBatchSize:
		return MaxBatchSize
	}
	return n
}

// Options control one run.
type Options struct {
	BatchSize        int
	ConfirmThreshold int
	BatchDelay       time.Duration
	DryRun           bool
	// TestRecipient, when set, redirects the run to a single message
	// addressed to this mailbox.
	TestRecipient string
	Confirm       bool
	StrictPDF     bool
	StrictEmail   bool
	// AllowedDomains restricts recipient domains. Empty allows all.
	AllowedDomains []string
}

// ParseDomains splits a comma-separated allowlist into lowercase domains.
func ParseDomains(s string) []string {
	var out []string
	for _, d := range strings.Split(s, ",") {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			out = append(out, d)
		}
	}
	return out
}
