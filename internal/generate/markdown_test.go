package generate

import (
	"strings"
	"testing"
)

func TestRenderHTML(t *testing.T) {
	html, err := renderHTML("# Title\n\nSome **bold** text.")
	if err != nil {
		t.Fatalf("renderHTML() error = %v", err)
	}
	if !strings.Contains(html, "<h1") {
		t.Errorf("html = %q, want heading", html)
	}
	if !strings.Contains(html, "<strong>bold</strong>") {
		t.Errorf("html = %q, want bold span", html)
	}
}

func TestRenderHTMLSanitizesScripts(t *testing.T) {
	html, err := renderHTML("hello <script>alert(1)</script> world")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(html, "<script") {
		t.Errorf("html = %q, script survived sanitization", html)
	}
	if !strings.Contains(html, "hello") {
		t.Errorf("html = %q, legitimate text stripped", html)
	}
}

func TestRenderHTMLTable(t *testing.T) {
	html, err := renderHTML("| a | b |\n|---|---|\n| 1 | 2 |")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html, "<table") {
		t.Errorf("html = %q, want GFM table", html)
	}
}
