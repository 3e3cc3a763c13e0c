package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// header aliases accepted by ReadCSV, lowercase.
var columnAliases = map[string]string{
	"id":        "id",
	"nome":      "name",
	"name":      "name",
	"full_name": "name",
	"email":     "email",
	"e-mail":    "email",
	"unidade":   "unit",
	"unit":      "unit",
	"cpf":       "tax_id",
	"tax_id":    "tax_id",
}

// ReadCSV parses a roster export with a header row. Comma and semicolon
// delimiters are both accepted. Rows without a name or unit are skipped;
// entries without an id get their 1-based row number.
func ReadCSV(r io.Reader) ([]Entry, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	text := strings.TrimPrefix(string(raw), "\ufeff")

	cr := csv.NewReader(strings.NewReader(text))
	cr.Comma = sniffDelimiter(text)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("roster: empty file")
		}
		return nil, fmt.Errorf("roster: read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		if name, ok := columnAliases[strings.ToLower(strings.TrimSpace(h))]; ok {
			cols[name] = i
		}
	}
	for _, required := range []string{"name", "unit"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("roster: missing %q column", required)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var entries []Entry
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("roster: row %d: %w", row, err)
		}
		e := Entry{
			ID:       field(rec, "id"),
			FullName: field(rec, "name"),
			Email:    field(rec, "email"),
			Unit:     field(rec, "unit"),
			TaxID:    digitsOnly(field(rec, "tax_id")),
		}
		if e.FullName == "" || e.Unit == "" {
			continue
		}
		if e.ID == "" {
			e.ID = strconv.Itoa(row)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func sniffDelimiter(text string) rune {
	first, _, _ := strings.Cut(text, "\n")
	if strings.Count(first, ";") > strings.Count(first, ",") {
		return ';'
	}
	return ','
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
