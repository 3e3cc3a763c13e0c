// Package dispatch delivers resolved payslip documents to their recipients in
// bounded concurrent batches, behind confirmation and dry-run gates, and
// records one audit entry per executed run.
package dispatch
