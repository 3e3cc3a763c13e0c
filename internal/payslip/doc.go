// Package payslip runs the end-to-end pipeline: a batched PDF is split into
// segments, each segment is resolved to an employee of the requested unit,
// and the resulting documents are handed to the dispatch orchestrator.
package payslip
