package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/matzehuels/quotecard/pkg/errors"
	"github.com/matzehuels/quotecard/pkg/processor"
	"github.com/matzehuels/quotecard/pkg/quotes"
)

const testBatch = `
[defaults]
width = 390
height = 844
format = "webp"

[[cards]]
slug = "mies"

[[cards]]
content = "Simplicity is prerequisite for reliability."
author = "Edsger Dijkstra"
output = "dijkstra-hd.jpg"
width = 1920
height = 1080
format = "jpeg"
preserve_text = false
`

func writeBatch(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cards.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func batchCLI() *CLI {
	c := New(os.Stderr, LogInfo)
	c.config.Render.SiteName = "quotes.example"
	c.config.Quotes = []quotes.Quote{{Slug: "mies", Content: "Less is more.", Author: "Mies van der Rohe"}}
	return c
}

func TestLoadBatch(t *testing.T) {
	c := batchCLI()
	jobs, err := c.loadBatch(context.Background(), writeBatch(t, testBatch), "out")
	if err != nil {
		t.Fatalf("loadBatch() error: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}

	mies := jobs[0]
	if mies.opts.Content != "Less is more." || mies.opts.Author != "Mies van der Rohe" {
		t.Errorf("slug card not resolved: %+v", mies.opts)
	}
	if mies.opts.Width != 390 || mies.opts.Height != 844 || mies.opts.Format != "webp" {
		t.Errorf("defaults not applied: %+v", mies.opts)
	}
	if mies.opts.SiteName != "quotes.example" {
		t.Errorf("SiteName = %q", mies.opts.SiteName)
	}
	if want := filepath.Join("out", "01-mies.webp"); mies.output != want {
		t.Errorf("output = %q, want %q", mies.output, want)
	}
	if mies.label != "mies" {
		t.Errorf("label = %q", mies.label)
	}

	hd := jobs[1]
	if hd.opts.Width != 1920 || hd.opts.Format != "jpeg" {
		t.Errorf("card values should win over defaults: %+v", hd.opts)
	}
	if hd.opts.PreserveText == nil || *hd.opts.PreserveText {
		t.Errorf("PreserveText = %v, want false", hd.opts.PreserveText)
	}
	if want := filepath.Join("out", "dijkstra-hd.jpg"); hd.output != want {
		t.Errorf("output = %q, want %q", hd.output, want)
	}
}

func TestLoadBatchErrors(t *testing.T) {
	c := batchCLI()
	ctx := context.Background()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"no cards", "[defaults]\nwidth = 390\n", "no [[cards]]"},
		{"unknown key", "[[cards]]\nslug = \"mies\"\ncolour = \"red\"\n", "unknown key"},
		{"bad toml", "[[cards]\n", "parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.loadBatch(ctx, writeBatch(t, tt.body), ".")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("loadBatch() error = %v, want containing %q", err, tt.want)
			}
		})
	}

	_, err := c.loadBatch(ctx, writeBatch(t, "[[cards]]\nslug = \"nobody\"\n"), ".")
	if !errors.Is(err, errors.ErrCodeQuoteNotFound) {
		t.Errorf("unknown slug error = %v, want QUOTE_NOT_FOUND", err)
	}
}

func TestMergeDefaults(t *testing.T) {
	yes := true
	d := processor.ImageOptions{Width: 390, Height: 844, Quality: 70, PreserveText: &yes, Refresh: true}
	got := mergeDefaults(processor.ImageOptions{Quality: 95}, d)

	if got.Width != 390 || got.Height != 844 {
		t.Errorf("size = %dx%d", got.Width, got.Height)
	}
	if got.Quality != 95 {
		t.Errorf("Quality = %d, card value should win", got.Quality)
	}
	if got.PreserveText != &yes || !got.Refresh {
		t.Errorf("got %+v", got)
	}
}

func TestBatchModel(t *testing.T) {
	cancelled := false
	m := newBatchModel([]string{"a", "b", "c"}, func() { cancelled = true })

	next, _ := m.Update(batchItemMsg{Index: 0, Data: []byte("png")})
	next, _ = next.Update(batchItemMsg{Index: 2, Err: errors.New(errors.ErrCodeRenderFailed, "boom")})
	next, _ = next.Update(batchItemMsg{Index: 9})
	m = next.(batchModel)

	if done, failed := m.counts(); done != 1 || failed != 1 {
		t.Errorf("counts() = %d, %d, want 1, 1", done, failed)
	}
	view := m.View()
	for _, want := range []string{"Rendering Cards", "[2/3]", "boom"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}

	next, cmd := m.Update(batchDoneMsg{result: processor.BatchResult{Successful: []processor.BatchItem{{Index: 0}}}})
	if cmd == nil {
		t.Error("done message should quit")
	}
	if next.(batchModel).result == nil {
		t.Error("result not recorded")
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil || !cancelled {
		t.Error("q should cancel the batch and quit")
	}
}

func TestBatchModelScroll(t *testing.T) {
	labels := make([]string, 20)
	for i := range labels {
		labels[i] = "card"
	}
	m := newBatchModel(labels, nil)

	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 12})
	m = next.(batchModel)
	if m.Height != 5 {
		t.Fatalf("Height = %d, want 5", m.Height)
	}
	for range 30 {
		next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
		m = next.(batchModel)
	}
	if m.Offset != 15 {
		t.Errorf("Offset = %d, want 15", m.Offset)
	}
}
