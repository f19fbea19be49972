package fx

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/josh-kwaku/reconciliation-engine/internal/domain"
)

//go:embed rates.yaml
var defaultRates []byte

type fiatTableFile struct {
	Reference string            `yaml:"reference"`
	Rates     map[string]string `yaml:"rates"`
	Direct    []struct {
		From string `yaml:"from"`
		To   string `yaml:"to"`
		Rate string `yaml:"rate"`
	} `yaml:"direct"`
}

// FiatTable is the static fiat rate table. It is read once at startup and
// never mutated.
type FiatTable struct {
	reference domain.Currency
	// perReference holds units of currency per one unit of reference.
	perReference map[domain.Currency]decimal.Decimal
	direct       map[string]decimal.Decimal
	known        map[domain.Currency]struct{}
}

func DefaultFiatTable() (*FiatTable, error) {
	return ParseFiatTable(defaultRates)
}

// LoadFiatTable reads a YAML table from path, or the embedded default when
// path is empty.
func LoadFiatTable(path string) (*FiatTable, error) {
	if path == "" {
		return DefaultFiatTable()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadFiatTable: %w", err)
	}
	return ParseFiatTable(raw)
}

func ParseFiatTable(raw []byte) (*FiatTable, error) {
	var f fiatTableFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("ParseFiatTable: %w", err)
	}

	ref := domain.Currency(f.Reference).Normalize()
	if !ref.IsValid() {
		return nil, fmt.Errorf("ParseFiatTable: reference %q: %w", f.Reference, domain.ErrInvalidCurrency)
	}

	t := &FiatTable{
		reference:    ref,
		perReference: map[domain.Currency]decimal.Decimal{ref: decimal.NewFromInt(1)},
		direct:       make(map[string]decimal.Decimal),
		known:        map[domain.Currency]struct{}{ref: {}},
	}

	for code, v := range f.Rates {
		c := domain.Currency(code).Normalize()
		rate, err := parsePositive(v)
		if err != nil || !c.IsValid() {
			return nil, fmt.Errorf("ParseFiatTable: rate %s=%q: %w", code, v, domain.ErrInvalidRequest)
		}
		t.perReference[c] = rate
		t.known[c] = struct{}{}
	}

	for _, d := range f.Direct {
		from, to := domain.Currency(d.From).Normalize(), domain.Currency(d.To).Normalize()
		rate, err := parsePositive(d.Rate)
		if err != nil || !from.IsValid() || !to.IsValid() {
			return nil, fmt.Errorf("ParseFiatTable: direct %s/%s=%q: %w", d.From, d.To, d.Rate, domain.ErrInvalidRequest)
		}
		t.direct[pairKey(from, to)] = rate
		t.known[from] = struct{}{}
		t.known[to] = struct{}{}
	}

	return t, nil
}

func parsePositive(v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive rate %s", v)
	}
	return d, nil
}

func pairKey(from, to domain.Currency) string {
	return string(from) + "_" + string(to)
}

func (t *FiatTable) Reference() domain.Currency {
	return t.reference
}

func (t *FiatTable) Has(c domain.Currency) bool {
	_, ok := t.known[c]
	return ok
}

// Lookup resolves a fiat pair from the table. Quoted pairs, their inverses
// and legs against the reference are static_table; anything derived through
// the reference is cross_rate.
func (t *FiatTable) Lookup(from, to domain.Currency) (decimal.Decimal, domain.RateSource, bool) {
	if from == to {
		return decimal.NewFromInt(1), domain.RateSourceStaticTable, true
	}
	if r, ok := t.direct[pairKey(from, to)]; ok {
		return r, domain.RateSourceStaticTable, true
	}
	if r, ok := t.direct[pairKey(to, from)]; ok {
		return decimal.NewFromInt(1).Div(r), domain.RateSourceStaticTable, true
	}

	fromPer, okFrom := t.perReference[from]
	toPer, okTo := t.perReference[to]
	if !okFrom || !okTo {
		return decimal.Zero, "", false
	}

	rate := toPer.Div(fromPer)
	if from == t.reference || to == t.reference {
		return rate, domain.RateSourceStaticTable, true
	}
	return rate, domain.RateSourceCrossRate, true
}
