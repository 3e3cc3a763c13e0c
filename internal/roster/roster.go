// Package roster defines the employee directory consulted when resolving
// payslip recipients. The roster is read-only from this service's side.
package roster

import "context"

// Entry is one employee of an organizational unit.
type Entry struct {
	ID             string `json:"id"`
	FullName       string `json:"full_name"`
	NormalizedName string `json:"normalized_name,omitempty"`
	Email          string `json:"email"`
	Unit           string `json:"unit"`
	TaxID          string `json:"tax_id,omitempty"`
}

// UnitCount is a unit name with the number of roster entries it holds.
type UnitCount struct {
	Unit      string `json:"unit"`
	Employees int    `json:"employees"`
}

// Store is the read interface over the roster.
type Store interface {
	// FindByUnit returns the unit's entries in a stable order.
	FindByUnit(ctx context.Context, unit string) ([]Entry, error)
	Units(ctx context.Context) ([]UnitCount, error)
}
