package scraper

import (
	"context"
	"slices"
	"testing"
)

type stubOpener struct{ mode string }

func (s stubOpener) Mode() string { return s.mode }
func (s stubOpener) Open(context.Context, SessionConfig) (Session, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(stubOpener{"webdriver"})
	r.Register(stubOpener{"http"})

	if _, err := r.Get("http"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Get("ftp"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
	if got := r.Modes(); !slices.Equal(got, []string{"http", "webdriver"}) {
		t.Errorf("Modes = %v", got)
	}
}
