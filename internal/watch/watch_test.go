package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/unicode/norm"
)

// triggerLog collects triggers delivered to a binding.
type triggerLog struct {
	mu       sync.Mutex
	triggers []Trigger
	ch       chan Trigger
}

func newTriggerLog() *triggerLog {
	return &triggerLog{ch: make(chan Trigger, 32)}
}

func (l *triggerLog) record(t Trigger) {
	l.mu.Lock()
	l.triggers = append(l.triggers, t)
	l.mu.Unlock()
	l.ch <- t
}

func (l *triggerLog) all() []Trigger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Trigger(nil), l.triggers...)
}

func (l *triggerLog) next(t *testing.T) Trigger {
	t.Helper()
	select {
	case tr := <-l.ch:
		return tr
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for rerun")
		return Trigger{}
	}
}

func startBinding(t *testing.T, cfg BindingConfig) *Binding {
	t.Helper()
	b, err := NewBinding(cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	<-b.Ready()
	return b
}

func TestNewBindingValidation(t *testing.T) {
	run := func(context.Context, Trigger) error { return nil }

	_, err := NewBinding(BindingConfig{Patterns: []string{"**/*.ts"}, Run: run})
	require.Error(t, err)

	_, err = NewBinding(BindingConfig{Name: "x", Patterns: []string{"**/*.ts"}})
	require.Error(t, err)

	b, err := NewBinding(BindingConfig{Name: "x", Root: "/src", Patterns: []string{"**/*.ts"}, Run: run})
	require.NoError(t, err)
	assert.Equal(t, DefaultDebounce, b.cfg.Debounce)
	assert.Equal(t, "x", b.Name())
}

func TestBindingMatches(t *testing.T) {
	b, err := NewBinding(BindingConfig{
		Name:     "compile",
		Root:     "/src",
		Patterns: []string{"**/*.ts", "!**/node_modules/**"},
		Run:      func(context.Context, Trigger) error { return nil },
	})
	require.NoError(t, err)

	assert.True(t, b.Matches("/src/app.ts"))
	assert.True(t, b.Matches("/src/lib/util.ts"))
	assert.False(t, b.Matches("/src/node_modules/x/index.ts"))
	assert.False(t, b.Matches("/src/site.scss"))
	assert.False(t, b.Matches("/elsewhere/app.ts"))
	assert.False(t, b.Notify("/src/site.scss"))
}

func TestBurstCoalescesIntoOneRun(t *testing.T) {
	log := newTriggerLog()
	b := startBinding(t, BindingConfig{
		Name:     "styles",
		Root:     "/src",
		Patterns: []string{"**/*.scss"},
		Debounce: 60 * time.Millisecond,
		Run: func(_ context.Context, tr Trigger) error {
			log.record(tr)
			return nil
		},
	})

	paths := []string{"/src/a.scss", "/src/b.scss", "/src/a.scss", "/src/sub/c.scss", "/src/b.scss"}
	for _, p := range paths {
		require.True(t, b.Notify(p))
	}

	tr := log.next(t)
	assert.Equal(t, []string{"/src/a.scss", "/src/b.scss", "/src/sub/c.scss"}, tr.Paths)
	assert.Equal(t, 5, tr.Events)
	assert.Equal(t, "quiet", tr.Cause)
	assert.Equal(t, "styles", tr.Binding)

	time.Sleep(200 * time.Millisecond)
	assert.Len(t, log.all(), 1)
	assert.EqualValues(t, 1, b.Runs())
}

func TestEventsDuringRunYieldExactlyOneFollowUp(t *testing.T) {
	log := newTriggerLog()
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	b := startBinding(t, BindingConfig{
		Name:     "compile",
		Root:     "/src",
		Patterns: []string{"**/*.ts"},
		Debounce: 20 * time.Millisecond,
		Run: func(_ context.Context, tr Trigger) error {
			started <- struct{}{}
			if len(log.all()) == 0 {
				<-release
			}
			log.record(tr)
			return nil
		},
	})

	require.True(t, b.Notify("/src/first.ts"))
	<-started

	// Spread past the debounce window while the first run is blocked.
	for _, name := range []string{"a", "b", "c", "a", "d"} {
		require.True(t, b.Notify("/src/"+name+".ts"))
		time.Sleep(30 * time.Millisecond)
	}
	select {
	case <-started:
		t.Fatal("a second run started while the first was in flight")
	default:
	}
	close(release)

	first := log.next(t)
	assert.Equal(t, []string{"/src/first.ts"}, first.Paths)

	second := log.next(t)
	assert.Equal(t, []string{"/src/a.ts", "/src/b.ts", "/src/c.ts", "/src/d.ts"}, second.Paths)
	assert.Equal(t, 5, second.Events)
	assert.Equal(t, "after_running", second.Cause)

	time.Sleep(150 * time.Millisecond)
	assert.Len(t, log.all(), 2)
}

func TestFailedRunDoesNotStopBinding(t *testing.T) {
	log := newTriggerLog()
	var calls int
	var mu sync.Mutex
	b := startBinding(t, BindingConfig{
		Name:     "markup",
		Root:     "/src",
		Patterns: []string{"**/*.html"},
		Debounce: 10 * time.Millisecond,
		Run: func(_ context.Context, tr Trigger) error {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			log.record(tr)
			if n == 1 {
				return errors.New("compile error")
			}
			return nil
		},
	})

	require.True(t, b.Notify("/src/index.html"))
	log.next(t)
	require.Eventually(t, func() bool { return b.Failures() == 1 }, time.Second, 5*time.Millisecond)

	require.True(t, b.Notify("/src/about.html"))
	tr := log.next(t)
	assert.Equal(t, []string{"/src/about.html"}, tr.Paths)
	assert.EqualValues(t, 1, b.Failures())
}

func TestPanickingRunIsRecovered(t *testing.T) {
	log := newTriggerLog()
	var once sync.Once
	b := startBinding(t, BindingConfig{
		Name:     "bundle",
		Root:     "/src",
		Patterns: []string{"**/*.ts"},
		Debounce: 10 * time.Millisecond,
		Run: func(_ context.Context, tr Trigger) error {
			log.record(tr)
			once.Do(func() { panic("boom") })
			return nil
		},
	})

	require.True(t, b.Notify("/src/a.ts"))
	log.next(t)
	require.Eventually(t, func() bool { return b.Failures() == 1 }, time.Second, 5*time.Millisecond)

	require.True(t, b.Notify("/src/b.ts"))
	log.next(t)
}

func TestMaxDelayCapsContinuousStream(t *testing.T) {
	log := newTriggerLog()
	b := startBinding(t, BindingConfig{
		Name:     "styles",
		Root:     "/src",
		Patterns: []string{"**/*.css"},
		Debounce: 80 * time.Millisecond,
		MaxDelay: 150 * time.Millisecond,
		Run: func(_ context.Context, tr Trigger) error {
			log.record(tr)
			return nil
		},
	})

	stop := time.After(400 * time.Millisecond)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-stop:
			break loop
		case <-ticker.C:
			b.Notify("/src/site.css")
		}
	}

	tr := log.next(t)
	assert.Equal(t, "max_delay", tr.Cause)
}

func TestNotifyAfterStopReturnsFalse(t *testing.T) {
	b, err := NewBinding(BindingConfig{
		Name:      "x",
		Root:      "/src",
		Patterns:  []string{"*.ts"},
		QueueSize: 1,
		Run:       func(context.Context, Trigger) error { return nil },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.NoError(t, b.Run(ctx))

	assert.False(t, b.Notify("/src/a.ts"))
	assert.False(t, b.Notify("/src/b.ts"))
}

func TestShouldIgnore(t *testing.T) {
	tests := map[string]bool{
		"/src/app.ts":         false,
		"/src/.hidden.ts":     true,
		"/src/app.ts~":        true,
		"/src/.app.ts.swp":    true,
		"/src/app.ts.swx":     true,
		"/src/#app.ts#":       true,
		"/src/.#app.ts":       true,
		"/src/.DS_Store":      true,
		"/src/Thumbs.db":      true,
		"/src/sub/index.html": false,
	}
	for path, want := range tests {
		assert.Equal(t, want, shouldIgnore(path), path)
	}
}

func TestNormalizePathFoldsToNFC(t *testing.T) {
	decomposed := norm.NFD.String("/src/café.md")
	assert.Equal(t, "/src/café.md", normalizePath(decomposed))
	assert.Equal(t, "/src/a.ts", normalizePath("/src/x/../a.ts"))
}

func TestWatcherDispatchesFilesystemEvents(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "styles"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0o755))

	styles := newTriggerLog()
	ts := newTriggerLog()
	mk := func(name string, patterns []string, l *triggerLog) *Binding {
		b, err := NewBinding(BindingConfig{
			Name:     name,
			Root:     root,
			Patterns: patterns,
			Debounce: 30 * time.Millisecond,
			Run: func(_ context.Context, tr Trigger) error {
				l.record(tr)
				return nil
			},
		})
		require.NoError(t, err)
		return b
	}
	stylesB := mk("styles", []string{"**/*.scss"}, styles)
	compileB := mk("compile", []string{"**/*.ts", "!**/node_modules/**"}, ts)

	w, err := NewWatcher(root, nil, stylesB, compileB)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	<-w.Ready()

	require.NoError(t, os.WriteFile(filepath.Join(root, "styles", "site.scss"), []byte("a{}"), 0o644))
	tr := styles.next(t)
	assert.Equal(t, []string{filepath.Join(root, "styles", "site.scss")}, tr.Paths)

	// A directory created after start is picked up together with its files.
	sub := filepath.Join(root, "feature")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "x.ts"), []byte("let x = 1"), 0o644))
	tr = ts.next(t)
	assert.Contains(t, tr.Paths, filepath.Join(sub, "x.ts"))

	// Editor swap files never trigger.
	require.NoError(t, os.WriteFile(filepath.Join(root, "styles", ".site.scss.swp"), []byte("x"), 0o644))
	time.Sleep(150 * time.Millisecond)
	assert.Len(t, styles.all(), 1)
}

func TestWatcherDispatchRoutesByPattern(t *testing.T) {
	root := t.TempDir()
	l := newTriggerLog()
	b, err := NewBinding(BindingConfig{
		Name:     "markup",
		Root:     root,
		Patterns: []string{"**/*.html"},
		Run: func(_ context.Context, tr Trigger) error {
			l.record(tr)
			return nil
		},
	})
	require.NoError(t, err)
	w, err := NewWatcher(root, nil, b)
	require.NoError(t, err)

	assert.Equal(t, 1, w.Dispatch(filepath.Join(root, "index.html")))
	assert.Equal(t, 0, w.Dispatch(filepath.Join(root, "app.ts")))
	assert.Len(t, w.Bindings(), 1)
}
