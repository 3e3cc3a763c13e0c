package identity

import (
	"regexp"
	"strings"
	"unicode"
)

// Mode tells how a candidate token was found.
type Mode int

const (
	// ModeName is a run of capitalized words taken from one line.
	ModeName Mode = iota
	// ModeTaxID is a national tax id reduced to its digits.
	ModeTaxID
)

func (m Mode) String() string {
	switch m {
	case ModeName:
		return "name"
	case ModeTaxID:
		return "tax_id"
	default:
		return "unknown"
	}
}

// Candidate is a token that may identify the employee a segment belongs to.
type Candidate struct {
	Token string `json:"token"`
	Mode  Mode   `json:"mode"`
}

var (
	taxIDRe    = regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b`)
	nameLabels = regexp.MustCompile(`(?i)^\s*(nome|funcion[aá]rio|colaborador|empregado|servidor)\s*[:\-]\s*`)
	currencyRe = regexp.MustCompile(`R\$|US\$|€|£|\$`)
)

// particles may sit between capitalized words of one name.
var particles = map[string]struct{}{
	"da": {}, "de": {}, "do": {}, "das": {}, "dos": {}, "e": {},
	"DA": {}, "DE": {}, "DO": {}, "DAS": {}, "DOS": {}, "E": {},
}

// defaultStopwords are normalized words that never occur in a person's name
// on a payslip but fill its headers and line items.
var defaultStopwords = []string{
	"INSS", "IRRF", "FGTS", "IRPF", "PIS", "PASEP", "CPF", "CNPJ", "RG", "CTPS",
	"SALARIO", "SALARIOS", "BASE", "CALCULO", "DESCONTO", "DESCONTOS",
	"VENCIMENTO", "VENCIMENTOS", "PROVENTOS", "LIQUIDO", "BRUTO", "TOTAL", "TOTAIS",
	"REFERENCIA", "CODIGO", "COD", "EMPRESA", "EMPREGADOR", "CARGO", "FUNCAO",
	"ADMISSAO", "DEPARTAMENTO", "SETOR", "BANCO", "AGENCIA", "CONTA",
	"HORAS", "EXTRAS", "FERIAS", "ADICIONAL", "RECIBO", "PAGAMENTO",
	"DEMONSTRATIVO", "HOLERITE", "CONTRACHEQUE", "MENSAL", "COMPETENCIA",
	"DATA", "ASSINATURA", "DECLARO", "VALOR", "VALORES", "LTDA", "EIRELI",
	"SA", "ME", "MEI", "FOLHA", "PERIODO", "MES", "ANO", "UNIDADE", "LOTACAO",
	"MATRICULA", "ENDERECO", "PAYSLIP", "SALARY", "GROSS", "NET", "DEDUCTIONS",
}

// Extractor finds identity candidates in segment text.
type Extractor struct {
	stopwords map[string]struct{}
	minWords  int
}

// NewExtractor builds an Extractor. Extra stopwords are normalized and added
// to the built-in list.
func NewExtractor(extraStopwords ...string) *Extractor {
	sw := make(map[string]struct{}, len(defaultStopwords)+len(extraStopwords))
	for _, w := range defaultStopwords {
		sw[w] = struct{}{}
	}
	for _, w := range extraStopwords {
		if n := Normalize(w); n != "" {
			sw[n] = struct{}{}
		}
	}
	return &Extractor{stopwords: sw, minWords: 2}
}

// Extract returns the candidates in text, tax ids first, then names, each in
// order of appearance and without duplicates.
func (e *Extractor) Extract(text string) []Candidate {
	var out []Candidate
	for _, id := range TaxIDs(text) {
		out = append(out, Candidate{Token: id, Mode: ModeTaxID})
	}
	for _, n := range e.Names(text) {
		out = append(out, Candidate{Token: n, Mode: ModeName})
	}
	return out
}

// Names returns person-name candidates, one line at a time.
func (e *Extractor) Names(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, line := range strings.Split(text, "\n") {
		line = nameLabels.ReplaceAllString(strings.TrimSpace(line), "")
		if line == "" || hasDigit(line) || currencyRe.MatchString(line) {
			continue
		}
		for _, name := range e.namesInLine(line) {
			key := Normalize(name)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

func (e *Extractor) namesInLine(line string) []string {
	for _, w := range strings.Fields(Normalize(line)) {
		if _, stop := e.stopwords[w]; stop {
			return nil
		}
	}

	var (
		out  []string
		run  []string
		caps int
	)
	flush := func() {
		for len(run) > 0 {
			if _, p := particles[run[len(run)-1]]; !p {
				break
			}
			run = run[:len(run)-1]
		}
		if caps >= e.minWords {
			out = append(out, strings.Join(run, " "))
		}
		run, caps = nil, 0
	}

	for _, w := range strings.Fields(line) {
		w = strings.Trim(w, ".,;:()[]\"'")
		_, particle := particles[w]
		switch {
		case w == "":
			continue
		case particle:
			if caps > 0 {
				run = append(run, w)
			}
		case isCapitalized(w):
			run = append(run, w)
			caps++
		default:
			flush()
		}
	}
	flush()
	return out
}

// TaxIDs returns the tax ids in text as digit strings, in order of first
// appearance.
func TaxIDs(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range taxIDRe.FindAllString(text, -1) {
		id := digits(m)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// SplitTaxIDs assigns the first tax id on a page to its top half and the
// second to its bottom half. ok is false when fewer than two are present.
func SplitTaxIDs(pageText string) (top, bottom string, ok bool) {
	ids := TaxIDs(pageText)
	if len(ids) < 2 {
		return "", "", false
	}
	return ids[0], ids[1], true
}

func isCapitalized(w string) bool {
	first := true
	for _, r := range w {
		if first {
			if !unicode.IsUpper(r) {
				return false
			}
			first = false
			continue
		}
		if !unicode.IsLetter(r) && r != '-' && r != '\'' {
			return false
		}
	}
	return !first
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func digits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
