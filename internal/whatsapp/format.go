package whatsapp

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// MaxMessageLength is the longest body Twilio accepts for one WhatsApp
// message.
const MaxMessageLength = 1600

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
)

// Format converts model Markdown into WhatsApp markup: *bold*, _italic_,
// ~strike~, headings as bold lines, links as "text (url)" and plain
// bullet lists.
func Format(md string) string {
	src := []byte(md)
	doc := markdown.Parser().Parse(text.NewReader(src))
	r := &renderer{src: src}
	return strings.TrimSpace(r.children(doc, "\n\n"))
}

// Truncate shortens s to at most limit runes, ending with an ellipsis
// when anything was cut.
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return s
	}
	if limit == 1 {
		return "…"
	}
	return strings.TrimRight(string(runes[:limit-1]), " \n") + "…"
}

type renderer struct {
	src []byte
}

func (r *renderer) children(parent ast.Node, sep string) string {
	var parts []string
	for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
		if s := r.block(c); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, sep)
}

func (r *renderer) block(n ast.Node) string {
	switch n := n.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		return strings.TrimSpace(r.inline(n))
	case *ast.Heading:
		return "*" + strings.TrimSpace(r.inline(n)) + "*"
	case *ast.ThematicBreak:
		return "---"
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		return "```\n" + strings.TrimRight(r.lines(n), "\n") + "\n```"
	case *ast.HTMLBlock:
		return strings.TrimSpace(r.lines(n))
	case *ast.Blockquote:
		body := r.children(n, "\n")
		return "> " + strings.ReplaceAll(body, "\n", "\n> ")
	case *ast.List:
		return r.list(n)
	default:
		return strings.TrimSpace(r.inline(n))
	}
}

func (r *renderer) list(l *ast.List) string {
	var items []string
	i := 0
	for c := l.FirstChild(); c != nil; c = c.NextSibling() {
		marker := "• "
		if l.IsOrdered() {
			marker = fmt.Sprintf("%d. ", l.Start+i)
		}
		body := r.children(c, "\n")
		indent := strings.Repeat(" ", len([]rune(marker)))
		items = append(items, marker+strings.ReplaceAll(body, "\n", "\n"+indent))
		i++
	}
	return strings.Join(items, "\n")
}

func (r *renderer) lines(n ast.Node) string {
	var sb strings.Builder
	segs := n.Lines()
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		sb.Write(seg.Value(r.src))
	}
	return sb.String()
}

func (r *renderer) inline(parent ast.Node) string {
	var sb strings.Builder
	for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
		switch n := c.(type) {
		case *ast.Text:
			sb.Write(n.Segment.Value(r.src))
			if n.SoftLineBreak() || n.HardLineBreak() {
				sb.WriteByte('\n')
			}
		case *ast.String:
			sb.Write(n.Value)
		case *ast.CodeSpan:
			sb.WriteString("`" + r.inline(n) + "`")
		case *ast.Emphasis:
			mark := "_"
			if n.Level >= 2 {
				mark = "*"
			}
			sb.WriteString(mark + r.inline(n) + mark)
		case *extast.Strikethrough:
			sb.WriteString("~" + r.inline(n) + "~")
		case *ast.Link:
			sb.WriteString(labelled(r.inline(n), string(n.Destination)))
		case *ast.Image:
			sb.WriteString(labelled(r.inline(n), string(n.Destination)))
		case *ast.AutoLink:
			sb.Write(n.URL(r.src))
		case *ast.RawHTML:
			// Inline tags carry no meaning in WhatsApp.
		default:
			sb.WriteString(r.inline(n))
		}
	}
	return sb.String()
}

func labelled(label, dest string) string {
	label = strings.TrimSpace(label)
	if label == "" || label == dest {
		return dest
	}
	return label + " (" + dest + ")"
}
