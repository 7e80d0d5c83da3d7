package preview

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/skillre/mindmap-qoder/internal/codec"
)

const plan = `{"root":{"data":{"text":"项目计划"},"children":[
	{"data":{"text":"需求"},"children":[{"data":{"text":"访谈"}}]},
	{"data":{"text":"排期 <b>Q1</b>"}}
]}}`

func TestOutline(t *testing.T) {
	got, err := Outline(json.RawMessage(plan))
	if err != nil {
		t.Fatalf("Outline failed: %v", err)
	}
	want := "# 项目计划\n\n- 需求\n  - 访谈\n- 排期 \\<b\\>Q1\\<\\/b\\>\n"
	if got != want {
		t.Errorf("Outline =\n%q\nwant\n%q", got, want)
	}
}

func TestOutline_EmptyTree(t *testing.T) {
	got, err := Outline(json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Outline failed: %v", err)
	}
	if got != "# "+codec.DefaultTitle+"\n" {
		t.Errorf("Outline = %q", got)
	}
	if _, err := Outline(json.RawMessage(`[`)); err == nil {
		t.Error("Expected error for malformed payload")
	}
}

func TestRenderer_RenderDocument(t *testing.T) {
	r := NewRenderer()
	out, err := r.RenderDocument(&codec.Envelope{Version: codec.FormatVersion, Data: json.RawMessage(plan)})
	if err != nil {
		t.Fatalf("RenderDocument failed: %v", err)
	}
	html := string(out)

	for _, want := range []string{"<h1", "项目计划</h1>", "<ul>", "<li>需求", "<li>访谈</li>", "&lt;b&gt;Q1&lt;/b&gt;"} {
		if !strings.Contains(html, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, html)
		}
	}
	if strings.Contains(html, "<b>") {
		t.Errorf("Raw HTML leaked into output:\n%s", html)
	}
}

func TestRenderer_Render(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"heading", "# Hello", "<h1 id=\"hello\">Hello</h1>\n"},
		{"strikethrough", "~~deleted~~", "<del>deleted</del>"},
		{"raw html omitted", "<script>alert(1)</script>", "<!-- raw HTML omitted -->"},
		{"empty", "", ""},
	}
	r := NewRenderer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := r.Render([]byte(tt.input))
			if err != nil {
				t.Fatalf("Render failed: %v", err)
			}
			if !strings.Contains(string(out), tt.expected) {
				t.Errorf("Render(%q) = %q, want it to contain %q", tt.input, out, tt.expected)
			}
		})
	}
}
