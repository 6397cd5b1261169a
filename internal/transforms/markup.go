package transforms

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"os"
	"path"
	"strings"

	"github.com/yuin/goldmark"
	gmast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
	"golang.org/x/net/html"

	"git.home.luguber.info/inful/frontbuild/internal/stage"
)

// Markup minifies HTML pages, renders Markdown pages to HTML and copies every
// other asset (stylesheets beside the markup, fonts, images) verbatim.
type Markup struct {
	Name     stage.Name
	markdown goldmark.Markdown
}

// NewMarkup returns a Markup transform with GitHub-flavoured Markdown enabled.
func NewMarkup(name stage.Name) Markup {
	return Markup{Name: name, markdown: goldmark.New(goldmark.WithExtensions(extension.GFM))}
}

func (m Markup) Transform(_ context.Context, in stage.Input, w *stage.Writer) error {
	for _, p := range in.Paths {
		rel := in.Rel(p)
		var err error
		switch strings.ToLower(path.Ext(rel)) {
		case ".html", ".htm":
			err = m.page(p, rel, w)
		case ".md", ".markdown":
			err = m.markdownPage(p, rel, w)
		default:
			err = w.CopyFile(p, rel)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (m Markup) page(src, rel string, w *stage.Writer) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return stage.IOFailure(m.Name, src, err)
	}
	out, err := MinifyHTML(data)
	if err != nil {
		return stage.TransformFailure(m.Name, "malformed markup", []stage.Diagnostic{{File: rel, Message: err.Error()}}, err)
	}
	return w.WriteFile(rel, out)
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
{{.Body}}
</body>
</html>
`))

func (m Markup) markdownPage(src, rel string, w *stage.Writer) error {
	source, err := os.ReadFile(src)
	if err != nil {
		return stage.IOFailure(m.Name, src, err)
	}
	md := m.markdown
	if md == nil {
		md = goldmark.New(goldmark.WithExtensions(extension.GFM))
	}

	doc := md.Parser().Parse(text.NewReader(source))
	var body bytes.Buffer
	if err := md.Renderer().Render(&body, source, doc); err != nil {
		return stage.TransformFailure(m.Name, "render markdown", []stage.Diagnostic{{File: rel, Message: err.Error()}}, err)
	}

	title := firstHeading(doc, source)
	if title == "" {
		title = strings.TrimSuffix(path.Base(rel), path.Ext(rel))
	}
	var page bytes.Buffer
	err = pageTemplate.Execute(&page, struct {
		Title string
		Body  template.HTML
	}{Title: title, Body: template.HTML(body.String())}) //nolint:gosec // rendered from project sources
	if err != nil {
		return stage.TransformFailure(m.Name, "render page", nil, err)
	}

	out, err := MinifyHTML(page.Bytes())
	if err != nil {
		return stage.TransformFailure(m.Name, "malformed markup", []stage.Diagnostic{{File: rel, Message: err.Error()}}, err)
	}
	return w.WriteFile(strings.TrimSuffix(rel, path.Ext(rel))+".html", out)
}

func firstHeading(doc gmast.Node, source []byte) string {
	var title strings.Builder
	_ = gmast.Walk(doc, func(n gmast.Node, entering bool) (gmast.WalkStatus, error) {
		h, ok := n.(*gmast.Heading)
		if !entering || !ok || h.Level != 1 {
			return gmast.WalkContinue, nil
		}
		_ = gmast.Walk(h, func(c gmast.Node, entering bool) (gmast.WalkStatus, error) {
			if t, ok := c.(*gmast.Text); ok && entering {
				title.Write(t.Value(source))
			}
			return gmast.WalkContinue, nil
		})
		return gmast.WalkStop, nil
	})
	return strings.TrimSpace(title.String())
}

// Elements whose text content is copied without collapsing whitespace.
var preformatted = map[string]bool{"pre": true, "textarea": true, "script": true, "style": true}

// Elements around which whitespace-only text is dropped. Between any other
// tags it collapses to one space, since it separates inline content.
var blockLevel = map[string]bool{
	"html": true, "head": true, "body": true, "title": true, "meta": true, "link": true,
	"script": true, "style": true, "noscript": true, "template": true,
	"div": true, "p": true, "main": true, "header": true, "footer": true, "nav": true,
	"section": true, "article": true, "aside": true, "address": true, "blockquote": true,
	"figure": true, "figcaption": true, "details": true, "summary": true, "dialog": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "hr": true, "br": true,
	"ul": true, "ol": true, "li": true, "dl": true, "dt": true, "dd": true,
	"table": true, "caption": true, "colgroup": true, "col": true, "thead": true, "tbody": true,
	"tfoot": true, "tr": true, "td": true, "th": true,
	"form": true, "fieldset": true, "legend": true, "pre": true, "option": true, "optgroup": true,
}

// MinifyHTML strips comments, collapses whitespace outside preformatted
// elements and drops attribute quotes where the value allows it.
func MinifyHTML(src []byte) ([]byte, error) {
	z := html.NewTokenizer(bytes.NewReader(src))
	var out bytes.Buffer
	out.Grow(len(src))
	depth := map[string]int{}
	inPre := func() bool {
		for _, n := range depth {
			if n > 0 {
				return true
			}
		}
		return false
	}
	// Whitespace-only text is held back until the next tag shows whether it
	// sits between inline content.
	pendingSpace := false
	afterBlock := true
	flush := func(tag string) {
		if pendingSpace && !afterBlock && !blockLevel[tag] {
			out.WriteByte(' ')
		}
		pendingSpace = false
		afterBlock = blockLevel[tag]
	}

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return out.Bytes(), nil
			}
			return nil, fmt.Errorf("tokenize: %w", z.Err())
		case html.CommentToken:
			continue
		case html.DoctypeToken:
			out.WriteString("<!DOCTYPE ")
			out.Write(z.Text())
			out.WriteByte('>')
			pendingSpace, afterBlock = false, true
		case html.TextToken:
			raw := z.Raw()
			if inPre() {
				out.Write(raw)
				continue
			}
			if len(bytes.TrimSpace(raw)) == 0 {
				pendingSpace = true
				continue
			}
			if pendingSpace && !afterBlock {
				out.WriteByte(' ')
			}
			pendingSpace, afterBlock = false, false
			out.Write(collapseSpace(raw))
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			flush(tok.Data)
			writeTag(&out, tok)
			if tt == html.StartTagToken && preformatted[tok.Data] {
				depth[tok.Data]++
			}
		case html.EndTagToken:
			tok := z.Token()
			flush(tok.Data)
			if depth[tok.Data] > 0 {
				depth[tok.Data]--
			}
			out.WriteString("</")
			out.WriteString(tok.Data)
			out.WriteByte('>')
		}
	}
}

func writeTag(out *bytes.Buffer, tok html.Token) {
	out.WriteByte('<')
	out.WriteString(tok.Data)
	for _, a := range tok.Attr {
		out.WriteByte(' ')
		if a.Namespace != "" {
			out.WriteString(a.Namespace)
			out.WriteByte(':')
		}
		out.WriteString(a.Key)
		if a.Val == "" {
			continue
		}
		out.WriteByte('=')
		if canUnquote(a.Val) {
			out.WriteString(a.Val)
		} else {
			out.WriteByte('"')
			out.WriteString(strings.NewReplacer("&", "&amp;", `"`, "&#34;").Replace(a.Val))
			out.WriteByte('"')
		}
	}
	if tok.Type == html.SelfClosingTagToken {
		out.WriteByte('/')
	}
	out.WriteByte('>')
}

// canUnquote follows the HTML unquoted attribute value syntax. A trailing
// slash is refused so "<a href=x/>" is not read as self-closing.
func canUnquote(v string) bool {
	if strings.HasSuffix(v, "/") {
		return false
	}
	return !strings.ContainsAny(v, " \t\n\f\r\"'=<>`&")
}

func collapseSpace(b []byte) []byte {
	out := make([]byte, 0, len(b))
	space := false
	for _, c := range b {
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' {
			space = true
			continue
		}
		if space {
			out = append(out, ' ')
			space = false
		}
		out = append(out, c)
	}
	if space {
		out = append(out, ' ')
	}
	return out
}
