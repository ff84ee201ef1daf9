package instrument

import (
	"testing"
	"time"

	"github.com/ahmethakanbesel/histdata/internal/apperror"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"EURUSD", "EURUSD"},
		{"eur/usd", "EURUSD"},
		{" EUR-USD ", "EURUSD"},
		{"spx500", "SPX500"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDefault_Lookup(t *testing.T) {
	c := Default()

	it, err := c.Lookup("eur/usd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if it.Symbol != "EURUSD" || it.FirstYear != 2000 {
		t.Errorf("got %+v", it)
	}
	if want := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC); !it.Earliest().Equal(want) {
		t.Errorf("Earliest = %v, want %v", it.Earliest(), want)
	}

	if _, err := c.Lookup("NOPE"); apperror.CodeOf(err) != apperror.NotFound {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestDefault_SymbolsSorted(t *testing.T) {
	c := Default()
	syms := c.Symbols()
	if len(syms) != c.Len() || c.Len() != 66 {
		t.Fatalf("expected 66 symbols, got %d", len(syms))
	}
	for i := 1; i < len(syms); i++ {
		if syms[i-1] >= syms[i] {
			t.Fatalf("symbols not sorted at %d: %s >= %s", i, syms[i-1], syms[i])
		}
	}

	// Callers get a copy.
	syms[0] = "ZZZ"
	if c.Symbols()[0] == "ZZZ" {
		t.Error("Symbols leaked internal slice")
	}
}

func TestNewCatalog_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		items []Instrument
	}{
		{"duplicate after normalize", []Instrument{{"EURUSD", 2000}, {"eur/usd", 2001}}},
		{"empty symbol", []Instrument{{"//", 2000}}},
		{"bad year", []Instrument{{"EURUSD", 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCatalog(tt.items); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
