package packaging

import (
	"archive/zip"
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ggit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/frontbuild/internal/stage"
)

func buildTree(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "build")
	files := map[string]string{
		"index.html":      "<p>hi</p>",
		"bundle.js":       "console.log(1)",
		"bundle.js.map":   "{}",
		"fonts/a.ttf":     "font",
		"working/tmp.txt": "scratch",
	}
	for rel, body := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	}
	return root
}

func entries(t *testing.T, path string) ([]string, string) {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names, r.Comment
}

func TestArchiveName(t *testing.T) {
	assert.Equal(t, "archive-20240305.zip", ArchiveName(time.Date(2024, 3, 5, 23, 0, 0, 0, time.UTC)))
}

func TestPackage(t *testing.T) {
	root := buildTree(t)
	dist := filepath.Join(t.TempDir(), "dist")
	date := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	report, err := Package(t.Context(), Options{
		BuildRoot:   root,
		DistDir:     dist,
		Date:        date,
		BudgetBytes: 1 << 20,
		Exclude:     []string{"working"},
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dist, "archive-20240305.zip"), report.ArchivePath)
	assert.Equal(t, 4, report.Files)
	assert.False(t, report.OverBudget)
	assert.Positive(t, report.Headroom())

	names, comment := entries(t, report.ArchivePath)
	assert.Equal(t, []string{"bundle.js", "bundle.js.map", "fonts/a.ttf", "index.html"}, names)
	assert.Equal(t, "frontbuild", comment)
}

func TestPackage_Deterministic(t *testing.T) {
	root := buildTree(t)
	dist := t.TempDir()
	opts := Options{BuildRoot: root, DistDir: dist, Date: time.Now()}

	opts.Name = "one.zip"
	_, err := Package(t.Context(), opts)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	opts.Name = "two.zip"
	_, err = Package(t.Context(), opts)
	require.NoError(t, err)

	a, err := os.ReadFile(filepath.Join(dist, "one.zip"))
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(dist, "two.zip"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b), "archives of the same tree must be identical")
}

func TestPackage_OverBudgetIsNotAnError(t *testing.T) {
	report, err := Package(t.Context(), Options{
		BuildRoot:   buildTree(t),
		DistDir:     t.TempDir(),
		BudgetBytes: 10,
	})
	require.NoError(t, err)
	assert.True(t, report.OverBudget)
	assert.Negative(t, report.Headroom())
	assert.Contains(t, report.String(), "over by")
}

func TestPackage_MissingBuildRoot(t *testing.T) {
	_, err := Package(t.Context(), Options{BuildRoot: filepath.Join(t.TempDir(), "nope"), DistDir: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frontbuild build")
}

func TestHeadCommit(t *testing.T) {
	assert.Empty(t, HeadCommit(t.TempDir()))

	dir := t.TempDir()
	repo, err := ggit.PlainInit(dir, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o600))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	hash, err := wt.Commit("init", &ggit.CommitOptions{
		Author: &object.Signature{Name: "dev", Email: "dev@example.com", When: time.Unix(0, 0)},
	})
	require.NoError(t, err)

	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.MkdirAll(sub, 0o750))
	assert.Equal(t, hash.String(), HeadCommit(sub))
}

func TestTransform_RecordsArchiveAndWarns(t *testing.T) {
	root := buildTree(t)
	dist := t.TempDir()
	var logs bytes.Buffer

	tr := Transform{
		Name:    "dist",
		Options: Options{BuildRoot: root, BudgetBytes: 1, Exclude: []string{"working"}},
		Logger:  slog.New(slog.NewTextHandler(&logs, nil)),
		Now:     func() time.Time { return time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC) },
	}
	w := stage.NewWriter("dist", dist)
	require.NoError(t, tr.Transform(t.Context(), stage.Input{}, w))

	assert.Equal(t, []string{filepath.Join(dist, "archive-20250102.zip")}, w.Outputs())
	assert.True(t, strings.Contains(logs.String(), "exceeds size budget"), logs.String())
}
