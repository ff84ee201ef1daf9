// Package instrument holds the reference table of tradable symbols and the
// first calendar year the source has minute bars for each of them.
package instrument

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ahmethakanbesel/histdata/internal/apperror"
)

// Instrument is one tradable pair or index.
type Instrument struct {
	Symbol    string `json:"symbol"`
	FirstYear int    `json:"firstYear"`
}

// Earliest returns midnight UTC on January 1st of the first available year.
func (i Instrument) Earliest() time.Time {
	return time.Date(i.FirstYear, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// Catalog is an immutable symbol lookup table. It is safe for concurrent use
// because nothing mutates it after construction.
type Catalog struct {
	bySymbol map[string]Instrument
	symbols  []string
}

// NewCatalog builds a catalog from the given instruments. Symbols are
// normalized; duplicates are rejected.
func NewCatalog(items []Instrument) (*Catalog, error) {
	c := &Catalog{bySymbol: make(map[string]Instrument, len(items))}
	for _, it := range items {
		sym := Normalize(it.Symbol)
		if sym == "" {
			return nil, fmt.Errorf("empty symbol")
		}
		if it.FirstYear < 1970 {
			return nil, fmt.Errorf("symbol %s: invalid first year %d", sym, it.FirstYear)
		}
		if _, dup := c.bySymbol[sym]; dup {
			return nil, fmt.Errorf("duplicate symbol %s", sym)
		}
		c.bySymbol[sym] = Instrument{Symbol: sym, FirstYear: it.FirstYear}
		c.symbols = append(c.symbols, sym)
	}
	slices.Sort(c.symbols)
	return c, nil
}

// Default returns the catalog of every instrument histdata.com publishes
// 1-minute ASCII bars for.
func Default() *Catalog {
	c, err := NewCatalog(histdataInstruments)
	if err != nil {
		panic(err)
	}
	return c
}

// Normalize upper-cases a symbol and drops separators, so "eur/usd" and
// "EUR-USD" both become "EURUSD".
func Normalize(symbol string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(symbol)) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Lookup returns the instrument for symbol, or a NotFound error.
func (c *Catalog) Lookup(symbol string) (Instrument, error) {
	it, ok := c.bySymbol[Normalize(symbol)]
	if !ok {
		return Instrument{}, apperror.New(apperror.NotFound, fmt.Sprintf("unknown instrument %q", symbol))
	}
	return it, nil
}

// Symbols returns all symbols in ascending order.
func (c *Catalog) Symbols() []string {
	return slices.Clone(c.symbols)
}

// All returns every instrument ordered by symbol.
func (c *Catalog) All() []Instrument {
	out := make([]Instrument, 0, len(c.symbols))
	for _, s := range c.symbols {
		out = append(out, c.bySymbol[s])
	}
	return out
}

// Len returns the number of instruments.
func (c *Catalog) Len() int { return len(c.symbols) }

var histdataInstruments = []Instrument{
	{"AUDCAD", 2007}, {"AUDCHF", 2008}, {"AUDJPY", 2002}, {"AUDNZD", 2007},
	{"AUDUSD", 2000}, {"AUXAUD", 2010}, {"BCOUSD", 2010}, {"CADCHF", 2008},
	{"CADJPY", 2007}, {"CHFJPY", 2002}, {"ETXEUR", 2010}, {"EURAUD", 2002},
	{"EURCAD", 2007}, {"EURCHF", 2000}, {"EURCZK", 2010}, {"EURDKK", 2008},
	{"EURGBP", 2002}, {"EURHUF", 2010}, {"EURJPY", 2002}, {"EURNOK", 2008},
	{"EURNZD", 2008}, {"EURPLN", 2010}, {"EURSEK", 2008}, {"EURTRY", 2010},
	{"EURUSD", 2000}, {"FRXEUR", 2010}, {"GBPCHF", 2010}, {"GBPCAD", 2007},
	{"GBPJPY", 2002}, {"GBPNZD", 2008}, {"GBPAUD", 2007}, {"GBPUSD", 2000},
	{"GRXEUR", 2010}, {"HKXHKD", 2010}, {"JPXJPY", 2010}, {"NSXUSD", 2010},
	{"NZDCAD", 2008}, {"NZDCHF", 2008}, {"NZDJPY", 2006}, {"NZDUSD", 2005},
	{"SGDJPY", 2008}, {"SPXUSD", 2010}, {"UDXUSD", 2010}, {"UKXGBP", 2010},
	{"USDCAD", 2002}, {"USDCHF", 2000}, {"USDCZK", 2010}, {"USDDKK", 2008},
	{"USDHKD", 2008}, {"USDHUF", 2010}, {"USDJPY", 2000}, {"USDMXN", 2000},
	{"USDNOK", 2008}, {"USDPLN", 2010}, {"USDSGD", 2008}, {"USDSEK", 2008},
	{"USDTRY", 2010}, {"USDZAR", 2010}, {"WTIUSD", 2010}, {"XAUAUD", 2009},
	{"XAUCHF", 2009}, {"XAUEUR", 2009}, {"XAUGBP", 2009}, {"XAUUSD", 2009},
	{"XAGUSD", 2009}, {"ZARJPY", 2010},
}
