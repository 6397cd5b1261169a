// Package packaging zips a finished build root into a dated archive and checks
// the archive against a size budget.
package packaging

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	ggit "github.com/go-git/go-git/v5"

	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/frontbuild/internal/stage"
)

// zipEpoch is stamped on every entry so archives of identical trees are byte-identical.
var zipEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Options configure one packaging run.
type Options struct {
	BuildRoot string
	DistDir   string
	// Name overrides the archive file name; empty means ArchiveName(Date).
	Name string
	Date time.Time
	// BudgetBytes is the size limit; zero disables the check.
	BudgetBytes int64
	// RepoDir is searched upwards for a git repository whose HEAD is recorded
	// in the archive comment.
	RepoDir string
	// Exclude lists top-level entries of BuildRoot left out of the archive.
	Exclude []string
}

// Report describes a written archive.
type Report struct {
	ArchivePath string
	Files       int
	Size        int64
	Budget      int64
	OverBudget  bool
	Commit      string
}

// Headroom is the number of bytes left under the budget (negative when over).
func (r Report) Headroom() int64 { return r.Budget - r.Size }

func (r Report) String() string {
	s := fmt.Sprintf("%s: %d files, %s", filepath.Base(r.ArchivePath), r.Files, humanize.IBytes(uint64(max(r.Size, 0))))
	if r.Budget > 0 {
		s += fmt.Sprintf(" of %s budget", humanize.IBytes(uint64(r.Budget)))
		if r.OverBudget {
			s += fmt.Sprintf(" (over by %s)", humanize.IBytes(uint64(-r.Headroom())))
		}
	}
	return s
}

// ArchiveName returns archive-YYYYMMDD.zip for date.
func ArchiveName(date time.Time) string {
	return "archive-" + date.Format("20060102") + ".zip"
}

// Package writes the archive. Exceeding the budget is reported in the Report,
// not as an error.
func Package(ctx context.Context, opts Options) (*Report, error) {
	if opts.Date.IsZero() {
		opts.Date = time.Now()
	}
	name := opts.Name
	if name == "" {
		name = ArchiveName(opts.Date)
	}
	if _, err := os.Stat(opts.BuildRoot); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "build root missing; run 'frontbuild build' first").
			WithContext("path", opts.BuildRoot).Build()
	}
	files, err := collect(opts.BuildRoot, opts.Exclude)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "scan build root").WithContext("path", opts.BuildRoot).Build()
	}
	if err := os.MkdirAll(opts.DistDir, 0o750); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "create dist directory").WithContext("path", opts.DistDir).Build()
	}

	commit := HeadCommit(opts.RepoDir)
	dst := filepath.Join(opts.DistDir, name)
	if err := writeArchive(ctx, dst, opts.BuildRoot, files, commit); err != nil {
		return nil, err
	}
	info, err := os.Stat(dst)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "stat archive").WithContext("path", dst).Build()
	}

	return &Report{
		ArchivePath: dst,
		Files:       len(files),
		Size:        info.Size(),
		Budget:      opts.BudgetBytes,
		OverBudget:  opts.BudgetBytes > 0 && info.Size() > opts.BudgetBytes,
		Commit:      commit,
	}, nil
}

// collect returns slash-separated paths of regular files under root, sorted.
func collect(root string, exclude []string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if top, _, _ := strings.Cut(rel, "/"); slices.Contains(exclude, top) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, rel)
		}
		return nil
	})
	slices.Sort(files)
	return files, err
}

func writeArchive(ctx context.Context, dst, root string, files []string, commit string) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".archive-*.zip")
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "create archive").WithContext("path", dst).Build()
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	zw := zip.NewWriter(tmp)
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := addFile(zw, root, rel); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "add file to archive").WithContext("path", rel).Build()
		}
	}
	comment := "frontbuild"
	if commit != "" {
		comment += " commit " + commit
	}
	if err := zw.SetComment(comment); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "finalize archive").Build()
	}
	if err := tmp.Close(); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "close archive").Build()
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "move archive into place").WithContext("path", dst).Build()
	}
	return nil
}

func addFile(zw *zip.Writer, root, rel string) error {
	f, err := os.Open(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     rel,
		Method:   zip.Deflate,
		Modified: zipEpoch,
	})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// HeadCommit returns the HEAD commit hash of the repository containing dir,
// or "" when there is none.
func HeadCommit(dir string) string {
	if dir == "" {
		return ""
	}
	repo, err := ggit.PlainOpenWithOptions(dir, &ggit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ""
	}
	ref, err := repo.Head()
	if err != nil {
		return ""
	}
	return ref.Hash().String()
}

// Transform packages the build root as a graph stage. The archive lands in
// the stage's output directory.
type Transform struct {
	Name    stage.Name
	Options Options
	Logger  *slog.Logger
	Now     func() time.Time
}

func (t Transform) Transform(ctx context.Context, _ stage.Input, w *stage.Writer) error {
	opts := t.Options
	opts.DistDir = w.Root()
	if t.Now != nil {
		opts.Date = t.Now()
	}
	report, err := Package(ctx, opts)
	if err != nil {
		return stage.IOFailure(t.Name, opts.BuildRoot, err)
	}
	if err := w.Record(report.ArchivePath); err != nil {
		return err
	}
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	LogReport(logger, report)
	return nil
}

// LogReport logs the archive size, at warning level when over budget.
func LogReport(logger *slog.Logger, r *Report) {
	attrs := []any{"archive", r.ArchivePath, "files", r.Files, "size", humanize.IBytes(uint64(max(r.Size, 0)))}
	if r.Budget > 0 {
		attrs = append(attrs, "budget", humanize.IBytes(uint64(r.Budget)))
	}
	if r.Commit != "" {
		attrs = append(attrs, "commit", r.Commit[:min(len(r.Commit), 12)])
	}
	if r.OverBudget {
		logger.Warn("Archive exceeds size budget", append(attrs, "over_by", humanize.IBytes(uint64(-r.Headroom())))...)
		return
	}
	logger.Info("Archive written", attrs...)
}
