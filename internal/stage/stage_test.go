package stage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	}
}

func TestMatcher(t *testing.T) {
	m := MustMatcher("**/*.ts", "!**/node_modules/**")

	assert.True(t, m.Match("index.ts"))
	assert.True(t, m.Match("a/b/c.ts"))
	assert.False(t, m.Match("a/b/c.js"))
	assert.False(t, m.Match("node_modules/lib/x.ts"))
	assert.False(t, m.Match("pkg/node_modules/x.ts"))

	working := MustMatcher("working/**")
	assert.True(t, working.Match("working/data/x.json"))
	assert.False(t, working.Match("index.html"))
}

func TestMatcher_Glob(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"b.ts":                 "",
		"a/z.ts":               "",
		"a/y.css":              "",
		"node_modules/dep.ts":  "",
		"working/ignored.html": "",
	})

	got, err := MustMatcher("**/*.ts", "!**/node_modules/**").Glob(root)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "a", "z.ts"), filepath.Join(root, "b.ts")}, got)

	missing, err := MustMatcher("**/*.ts").Glob(filepath.Join(root, "absent"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestNewMatcher_Invalid(t *testing.T) {
	_, err := NewMatcher([]string{"!"})
	require.Error(t, err)
}

func TestWriter_RejectsEscape(t *testing.T) {
	root := t.TempDir()
	w := NewWriter("markup", filepath.Join(root, "build"))

	err := w.WriteFile("../outside.txt", []byte("x"))
	require.Error(t, err)
	assert.True(t, IsIOFailure(err))
	_, statErr := os.Stat(filepath.Join(root, "outside.txt"))
	assert.True(t, os.IsNotExist(statErr))

	err = w.Record(filepath.Join(root, "elsewhere.js"))
	require.Error(t, err)
	assert.True(t, IsIOFailure(err))
}

func TestWriter_SkipsUnchangedContent(t *testing.T) {
	root := t.TempDir()
	w := NewWriter("markup", root)
	require.NoError(t, w.WriteFile("index.html", []byte("<p>hi</p>")))

	p := filepath.Join(root, "index.html")
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(p, old, old))

	require.NoError(t, NewWriter("markup", root).WriteFile("index.html", []byte("<p>hi</p>")))
	info, err := os.Stat(p)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old), "unchanged output must not be rewritten")
	assert.Equal(t, []string{p}, w.Outputs())
}

func TestWriter_Remove(t *testing.T) {
	root := t.TempDir()
	w := NewWriter("styles", root)
	require.NoError(t, w.WriteFile("build.css", []byte("a{}")))

	require.NoError(t, w.Remove("build.css"))
	assert.NoFileExists(t, filepath.Join(root, "build.css"))
	assert.Empty(t, w.Outputs())
	require.NoError(t, w.Remove("build.css"))

	err := w.Remove("../elsewhere.css")
	require.Error(t, err)
	assert.True(t, IsIOFailure(err))
}

func TestStageRun(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	out := filepath.Join(root, "build")
	writeTree(t, src, map[string]string{"a.txt": "A", "sub/b.txt": "B", "c.md": "C"})

	var seen Input
	s := MustNew(Stage{
		Name:       "copy",
		SourceRoot: src,
		Patterns:   []string{"**/*.txt"},
		OutDir:     out,
		Transform: TransformFunc(func(_ context.Context, in Input, w *Writer) error {
			seen = in
			for _, p := range in.Paths {
				if err := w.CopyFile(p, in.Rel(p)); err != nil {
					return err
				}
			}
			return nil
		}),
	})

	res, err := s.Run(t.Context(), []string{filepath.Join(src, "a.txt")})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(src, "a.txt"), filepath.Join(src, "sub", "b.txt")}, seen.Paths)
	assert.Equal(t, []string{filepath.Join(src, "a.txt")}, seen.Changed)
	assert.Equal(t, []string{filepath.Join(out, "a.txt"), filepath.Join(out, "sub", "b.txt")}, res.Outputs)

	assert.True(t, s.Matches(filepath.Join(src, "sub", "b.txt")))
	assert.False(t, s.Matches(filepath.Join(src, "c.md")))
	assert.False(t, s.Matches(filepath.Join(root, "a.txt")))
}

func TestStageRun_ClassifiesPlainErrors(t *testing.T) {
	s := MustNew(Stage{
		Name:   "broken",
		OutDir: t.TempDir(),
		Transform: TransformFunc(func(context.Context, Input, *Writer) error {
			return errors.New("unexpected token")
		}),
	})

	_, err := s.Run(t.Context(), nil)
	require.Error(t, err)
	assert.True(t, IsTransformFailure(err))
	assert.Contains(t, err.Error(), "unexpected token")
}

func TestTransformFailureDiagnostics(t *testing.T) {
	diags := []Diagnostic{{File: "index.ts", Line: 3, Column: 7, Code: "TS2322", Message: "Type 'string' is not assignable to type 'number'."}}
	err := TransformFailure("compile", "compile failed", diags, nil)

	assert.Equal(t, diags, Diagnostics(err))
	assert.Equal(t, "index.ts(3,7): TS2322: Type 'string' is not assignable to type 'number'.", diags[0].String())
	assert.Nil(t, Diagnostics(errors.New("plain")))
}

func TestNew_Validation(t *testing.T) {
	noop := TransformFunc(func(context.Context, Input, *Writer) error { return nil })

	_, err := New(Stage{OutDir: "x", Transform: noop})
	require.Error(t, err)
	_, err = New(Stage{Name: "a", OutDir: "x"})
	require.Error(t, err)
	_, err = New(Stage{Name: "a", Transform: noop})
	require.Error(t, err)
}
