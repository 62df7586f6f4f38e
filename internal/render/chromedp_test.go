package render

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestChromiumRender(t *testing.T) {
	r, err := NewChromium(ChromiumConfig{
		PageSize:    "A4",
		Margin:      "0.75in",
		Timeout:     15 * time.Second,
		MaxParallel: 1,
	}, zap.NewNop())
	if err != nil {
		t.Skipf("chrome unavailable: %v", err)
	}
	defer r.Close()

	out := filepath.Join(t.TempDir(), "pdfs", "1.pdf")
	html := []byte(`<!doctype html><html><body><h2>Print me</h2></body></html>`)
	if err := r.Render(context.Background(), html, out); err != nil {
		t.Skipf("render failed: %v", err)
	}

	info, err := os.Stat(out)
	if err != nil {
		t.Fatalf("stat output: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("rendered PDF is empty")
	}
}

func TestParseInches(t *testing.T) {
	t.Parallel()

	cases := map[string]float64{
		"0.75in": 0.75,
		"1in":    1,
		"":       0,
		"bogus":  0,
		"-2in":   0,
	}
	for in, want := range cases {
		if got := parseInches(in); got != want {
			t.Fatalf("parseInches(%q) = %v, want %v", in, got, want)
		}
	}
}
