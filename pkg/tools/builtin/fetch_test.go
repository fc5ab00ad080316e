package builtin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/calderhq/agentloop/pkg/ai"
)

func resultText(t *testing.T, blocks []ai.ContentBlock) string {
	t.Helper()
	var sb strings.Builder
	for _, b := range blocks {
		if tc, ok := b.(ai.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

func TestFetch_HTMLBecomesReadableText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><style>.x{}</style></head><body>
			<h1>Title</h1>
			<p>Hello <b>world</b></p>
			<ul><li>one</li><li>two</li></ul>
			<script>evil()</script>
		</body></html>`))
	}))
	defer srv.Close()

	res, err := NewFetchTool().Execute(context.Background(), "c1", map[string]any{"url": srv.URL}, nil)
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(t, res.Content)

	if !strings.Contains(text, "# Title") {
		t.Errorf("heading not rendered: %q", text)
	}
	if !strings.Contains(text, "Hello world") {
		t.Errorf("paragraph missing: %q", text)
	}
	if !strings.Contains(text, "• one") || !strings.Contains(text, "• two") {
		t.Errorf("list items missing: %q", text)
	}
	if strings.Contains(text, "evil()") {
		t.Errorf("script content leaked: %q", text)
	}
}

func TestFetch_PlainTextPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("just text"))
	}))
	defer srv.Close()

	res, err := NewFetchTool().Execute(context.Background(), "c1", map[string]any{"url": srv.URL}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := resultText(t, res.Content); got != "just text" {
		t.Errorf("text = %q", got)
	}
}

func TestFetch_TruncatesAtMaxBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("a", 5000)))
	}))
	defer srv.Close()

	res, err := NewFetchTool().Execute(context.Background(), "c1",
		map[string]any{"url": srv.URL, "max_bytes": float64(2048)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(t, res.Content)
	if !strings.Contains(text, "[Content truncated") {
		t.Errorf("no truncation notice: %q", text[len(text)-80:])
	}
}

func TestFetch_HTTPErrorIsToolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	res, err := NewFetchTool().Execute(context.Background(), "c1", map[string]any{"url": srv.URL}, nil)
	if err != nil {
		t.Fatalf("tool-level failure should be in the result, got err %v", err)
	}
	if got := resultText(t, res.Content); !strings.Contains(got, "404") {
		t.Errorf("result = %q", got)
	}
}

func TestFetch_MissingURLIsToolError(t *testing.T) {
	res, err := NewFetchTool().Execute(context.Background(), "c1", map[string]any{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := resultText(t, res.Content); !strings.Contains(got, "url is required") {
		t.Errorf("result = %q", got)
	}
}
