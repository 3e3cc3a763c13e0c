package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/linnemanlabs/payslipd/internal/dispatch"
	dmemstore "github.com/linnemanlabs/payslipd/internal/dispatch/memstore"
	"github.com/linnemanlabs/payslipd/internal/identity"
	"github.com/linnemanlabs/payslipd/internal/mail/mock"
	"github.com/linnemanlabs/payslipd/internal/payslip"
	"github.com/linnemanlabs/payslipd/internal/segment"
)

type processOptions struct {
	unit          string
	layout        string
	fuzzy         float64
	stopwords     string
	subject       string
	testRecipient string
	asJSON        bool
}

func newProcessCommand(c *cliContext) *cobra.Command {
	var o processOptions

	cmd := &cobra.Command{
		Use:   "process <pdf>",
		Short: "Dry-run a payroll PDF: segment it, resolve each slip and list who would receive one",
		Long: `Runs the same pipeline as the server with a dry run and a mock channel.
Nothing is sent and nothing is written to the audit trail.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd, c, &o, args[0])
		},
	}

	cmd.Flags().StringVarP(&o.unit, "unit", "u", "", "roster unit the document belongs to (required)")
	cmd.Flags().StringVar(&o.layout, "layout", string(segment.LayoutAuto), "page layout: auto, single or twoup")
	cmd.Flags().Float64Var(&o.fuzzy, "fuzzy-threshold", identity.DefaultFuzzyThreshold, "similarity a fuzzy name match must exceed")
	cmd.Flags().StringVar(&o.stopwords, "extra-stopwords", "", "comma separated words that disqualify a line as a name")
	cmd.Flags().StringVar(&o.subject, "subject", "", "subject template")
	cmd.Flags().StringVar(&o.testRecipient, "test-recipient", "", "preview a redirect to this address")
	cmd.Flags().BoolVar(&o.asJSON, "json", false, "print the full outcome as JSON")
	_ = cmd.MarkFlagRequired("unit")

	return cmd
}

func runProcess(cmd *cobra.Command, c *cliContext, o *processOptions, path string) error {
	ctx := cmd.Context()

	doc, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	layout, err := segment.ParseLayout(o.layout)
	if err != nil {
		return err
	}
	rs, err := c.openRoster(ctx)
	if err != nil {
		return err
	}

	var words []string
	for _, w := range strings.Split(o.stopwords, ",") {
		if w = strings.TrimSpace(w); w != "" {
			words = append(words, w)
		}
	}
	extractor := identity.NewExtractor(words...)
	splitter := segment.New(c.logger,
		segment.WithLayout(layout),
		segment.WithTwoUpDetector(payslip.TwoUpDetector(extractor)),
	)
	audit := dmemstore.New()
	orch := dispatch.New(mock.New(c.logger), audit, c.logger, dispatch.Hooks{})
	svc := payslip.NewService(rs, splitter, orch, audit, c.logger,
		payslip.WithExtractor(extractor),
		payslip.WithFuzzyThreshold(o.fuzzy),
	)

	out, err := svc.Process(ctx, &payslip.Request{
		Unit:          o.unit,
		Filename:      filepath.Base(path),
		PDF:           doc,
		Subject:       o.subject,
		DryRun:        true,
		TestRecipient: o.testRecipient,
	})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if o.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	renderOutcome(w, out)
	return nil
}

func renderOutcome(w io.Writer, out *payslip.Outcome) {
	st := out.Stats
	summary := newTable(w, "Document "+out.Unit, table.Row{"Pages", "Segments", "Sparse", "Matched", "Recipients", "No candidates", "No match"}, 1, 2, 3, 4, 5, 6, 7)
	summary.AppendRow(table.Row{st.Pages, st.Segments, st.Sparse, st.Matched, st.Recipients, st.ExtractionFailures, st.ResolutionFailures})
	summary.Render()

	if len(st.ByMethod) > 0 {
		methods := make([]string, 0, len(st.ByMethod))
		for m := range st.ByMethod {
			methods = append(methods, m)
		}
		sort.Strings(methods)
		mt := newTable(w, "Matches by method", table.Row{"Method", "Segments"}, 2)
		for _, m := range methods {
			mt.AppendRow(table.Row{m, st.ByMethod[m]})
		}
		mt.Render()
	}

	if len(out.Unmatched) > 0 {
		ut := newTable(w, "Unmatched segments", table.Row{"Page", "Region", "Reason", "Candidates"}, 1)
		for _, u := range out.Unmatched {
			ut.AppendRow(table.Row{u.Page, u.Region, u.Reason, strings.Join(u.Candidates, ", ")})
		}
		ut.Render()
	}

	if res := out.Result; res != nil && res.Preview != nil {
		_, _ = fmt.Fprintf(w, "Would send %d message(s)\n", res.Preview.Total)
		pt := newTable(w, "", table.Row{"#", "Recipient"}, 1)
		for i, s := range res.Preview.Sample {
			pt.AppendRow(table.Row{i + 1, s})
		}
		if more := res.Preview.Total - len(res.Preview.Sample); more > 0 {
			pt.AppendFooter(table.Row{"", fmt.Sprintf("... and %d more", more)})
		}
		pt.Render()
	}
}
