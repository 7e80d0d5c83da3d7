// Package preview renders a read-only outline of a mind map.
package preview

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/skillre/mindmap-qoder/internal/codec"
)

// Renderer turns mind-map payloads into HTML outlines.
type Renderer struct {
	md goldmark.Markdown
}

// NewRenderer creates a Renderer. Raw HTML in node text is never passed
// through.
func NewRenderer() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithXHTML(),
		),
	)
	return &Renderer{md: md}
}

// Outline converts a payload to a Markdown document: the root text as a
// heading followed by a nested list of its descendants.
func Outline(payload json.RawMessage) (string, error) {
	tree, err := codec.ParseTree(payload)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("# ")
	b.WriteString(escape(codec.TitleOf(payload)))
	b.WriteString("\n")
	if tree.Root == nil || len(tree.Root.Children) == 0 {
		return b.String(), nil
	}
	b.WriteString("\n")
	for _, child := range tree.Root.Children {
		writeNode(&b, child, 0)
	}
	return b.String(), nil
}

func writeNode(b *strings.Builder, n codec.Node, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString("- ")
	text := escape(n.Data.Text)
	if text == "" {
		text = " "
	}
	b.WriteString(text)
	b.WriteString("\n")
	for _, child := range n.Children {
		writeNode(b, child, depth+1)
	}
}

// escape backslash-escapes ASCII punctuation so node text is always literal.
func escape(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	var b strings.Builder
	for _, r := range s {
		if r < 0x80 && strings.ContainsRune("!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~", r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Render converts Markdown to HTML.
func (r *Renderer) Render(source []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.md.Convert(source, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderDocument renders the outline of an envelope's payload.
func (r *Renderer) RenderDocument(env *codec.Envelope) ([]byte, error) {
	outline, err := Outline(env.Data)
	if err != nil {
		return nil, err
	}
	return r.Render([]byte(outline))
}
