// Package markdown turns the model's markdown replies into plain text that can
// be read aloud or shown in places that do not render markdown.
package markdown

import (
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var (
	parserInstance goldmark.Markdown
	parserOnce     sync.Once
)

func getParser() goldmark.Markdown {
	parserOnce.Do(func() {
		parserInstance = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return parserInstance
}

// PlainText normalizes markdown for narration. Headings, emphasis, quotes and
// list markers are dropped while their text is kept, links and images keep
// their label, fenced code blocks and thematic breaks are removed entirely.
type PlainText struct{}

func (PlainText) Normalize(input string) string {
	return ToPlainText(input)
}

func ToPlainText(input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}

	source := []byte(input)
	document := getParser().Parser().Parse(text.NewReader(source))

	w := &plainWriter{source: source}
	_ = ast.Walk(document, w.walk)
	return strings.TrimSpace(w.output.String())
}

type plainWriter struct {
	source []byte
	output strings.Builder
}

func (w *plainWriter) walk(node ast.Node, entering bool) (ast.WalkStatus, error) {
	switch n := node.(type) {
	case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.ThematicBreak, *ast.HTMLBlock:
		return ast.WalkSkipChildren, nil

	case *ast.Image:
		if entering {
			w.writeInline(n)
		}
		return ast.WalkSkipChildren, nil

	case *ast.Text:
		if entering {
			w.output.Write(n.Segment.Value(w.source))
			if n.HardLineBreak() || n.SoftLineBreak() {
				w.output.WriteByte('\n')
			}
		}

	case *ast.String:
		if entering {
			w.output.Write(n.Value)
		}

	case *ast.CodeSpan:
		if entering {
			w.writeInline(n)
		}
		return ast.WalkSkipChildren, nil

	case *ast.AutoLink:
		if entering {
			w.output.Write(n.Label(w.source))
		}
		return ast.WalkSkipChildren, nil

	case *ast.RawHTML:
		return ast.WalkSkipChildren, nil

	case *extast.TableCell:
		if !entering {
			w.output.WriteByte(' ')
		}

	case *ast.Paragraph, *ast.Heading, *ast.TextBlock, *extast.TableRow, *extast.TableHeader:
		if !entering {
			w.endBlock()
		}
	}
	return ast.WalkContinue, nil
}

// writeInline writes the raw text of all text descendants of n.
func (w *plainWriter) writeInline(n ast.Node) {
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		switch c := child.(type) {
		case *ast.Text:
			w.output.Write(c.Segment.Value(w.source))
		case *ast.String:
			w.output.Write(c.Value)
		default:
			w.writeInline(c)
		}
	}
}

func (w *plainWriter) endBlock() {
	current := w.output.String()
	if current == "" || strings.HasSuffix(current, "\n") {
		return
	}
	w.output.WriteByte('\n')
}
