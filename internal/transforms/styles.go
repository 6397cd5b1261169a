package transforms

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/frontbuild/internal/stage"
)

// Styles compiles every stylesheet in path order with the preprocessor named
// by Argv, which must print CSS on stdout, and writes the concatenation as a
// single minified file. Plain .css sheets are read as they are. Partials
// (files starting with "_") are only reachable through imports and are
// skipped. When no sheet is left the previous output is removed.
type Styles struct {
	Name   stage.Name
	Output string
	Argv   []string
	Runner CommandRunner
}

func (s Styles) Transform(ctx context.Context, in stage.Input, w *stage.Writer) error {
	var buf bytes.Buffer
	count := 0
	for _, p := range in.Paths {
		if strings.HasPrefix(filepath.Base(p), "_") {
			continue
		}
		css, err := s.load(ctx, in, p)
		if err != nil {
			return err
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(css)
		count++
	}
	if count == 0 {
		return w.Remove(s.Output)
	}
	return w.WriteFile(s.Output, []byte(MinifyCSS(buf.String())))
}

func (s Styles) load(ctx context.Context, in stage.Input, path string) ([]byte, error) {
	if filepath.Ext(path) == ".css" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, stage.IOFailure(s.Name, path, err)
		}
		return data, nil
	}
	if len(s.Argv) == 0 {
		return nil, stage.TransformFailure(s.Name, "no stylesheet preprocessor configured",
			[]stage.Diagnostic{{File: in.Rel(path), Message: "tools.styles is empty"}}, nil)
	}
	argv := expandArgs(s.Argv, map[string]string{"in": path, "src": in.SourceRoot})
	stdout, stderr, err := s.Runner.Run(ctx, in.SourceRoot, argv)
	if err != nil {
		output := combinedOutput(nil, stderr)
		diags := ParseDiagnostics(output)
		if len(diags) == 0 {
			diags = []stage.Diagnostic{{File: in.Rel(path), Message: firstLine(output)}}
		}
		return nil, stage.TransformFailure(s.Name, "stylesheet preprocessing failed", diags, fmt.Errorf("%w\n%s", err, output))
	}
	return stdout, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// MinifyCSS removes comments and collapses whitespace. It does not restructure
// rules; string literals are copied unchanged.
func MinifyCSS(src string) string {
	out := make([]byte, 0, len(src))
	pendingSpace := false

	last := func() byte {
		if len(out) == 0 {
			return 0
		}
		return out[len(out)-1]
	}
	flushSpace := func(next byte) {
		if pendingSpace && len(out) > 0 && !cssTight(last()) && last() != ':' && !cssTight(next) {
			out = append(out, ' ')
		}
		pendingSpace = false
	}

	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				i = len(src)
			} else {
				i += end + 3
			}
			pendingSpace = true
		case c == '"' || c == '\'':
			flushSpace(c)
			j := i + 1
			for j < len(src) && src[j] != c {
				if src[j] == '\\' {
					j++
				}
				j++
			}
			j = min(j, len(src)-1)
			out = append(out, src[i:j+1]...)
			i = j
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			pendingSpace = true
		case c == '}' && last() == ';':
			out[len(out)-1] = '}'
			pendingSpace = false
		default:
			flushSpace(c)
			out = append(out, c)
		}
	}
	return string(out)
}

// cssTight lists bytes around which whitespace carries no meaning. A space
// before ':' is kept: "a :hover" and "a:hover" select different elements.
func cssTight(c byte) bool {
	switch c {
	case '{', '}', ';', ',', '>':
		return true
	}
	return false
}
