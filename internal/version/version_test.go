package version

import (
	"strings"
	"testing"
)

func TestBuildInfo(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
	if BuildTime == "" {
		t.Error("BuildTime should be initialized")
	}
	if GitCommit == "" {
		t.Error("GitCommit should be initialized")
	}
}

func TestString(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })

	Version = "v1.2.3"
	s := String()
	if !strings.HasPrefix(s, "frontbuild v1.2.3 (commit ") {
		t.Errorf("unexpected version line %q", s)
	}
	if !strings.Contains(s, "built "+BuildTime) {
		t.Errorf("version line %q lacks build time", s)
	}
}
