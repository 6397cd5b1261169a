package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"

	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
)

// Validate checks the configuration for values no stage could work with.
func (c *Config) Validate() error {
	for _, check := range []func() error{
		c.validatePaths,
		c.validateTools,
		c.validateBundle,
		c.validateWatch,
		c.validateServer,
	} {
		if err := check(); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryConfig, "invalid configuration").Fatal().Build()
		}
	}
	return nil
}

func (c *Config) validatePaths() error {
	p := c.Paths
	named := map[string]string{
		"paths.source":       p.Source,
		"paths.intermediate": p.Intermediate,
		"paths.build":        p.Build,
		"paths.dist":         p.Dist,
	}
	for key, v := range named {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s must not be empty", key)
		}
	}
	// Output roots are wiped before every full build; they must never overlap the sources.
	src := filepath.Clean(c.SourceDir())
	for _, key := range []string{"paths.intermediate", "paths.build", "paths.dist"} {
		out := filepath.Clean(c.Resolve(named[key]))
		if out == src || isWithin(src, out) || isWithin(out, src) {
			return fmt.Errorf("%s (%s) overlaps paths.source (%s)", key, named[key], p.Source)
		}
	}
	return nil
}

func isWithin(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (c *Config) validateTools() error {
	if len(c.Tools.Compiler) == 0 {
		return fmt.Errorf("tools.compiler must name a command")
	}
	if len(c.Tools.Bundler) == 0 {
		return fmt.Errorf("tools.bundler must name a command")
	}
	if len(c.Tools.Styles) == 0 {
		return fmt.Errorf("tools.styles must name a command")
	}
	return nil
}

func (c *Config) validateBundle() error {
	if c.Bundle.Entry == "" || c.Bundle.Output == "" {
		return fmt.Errorf("bundle.entry and bundle.output are required")
	}
	if c.Styles.Output == "" {
		return fmt.Errorf("styles.output is required")
	}
	if c.Dist.BudgetBytes < 0 {
		return fmt.Errorf("dist.budget_bytes must not be negative")
	}
	return nil
}

func (c *Config) validateWatch() error {
	if c.Watch.Debounce < 0 || c.Watch.MaxDelay < 0 || c.Watch.FullRebuildInterval < 0 {
		return fmt.Errorf("watch durations must not be negative")
	}
	if c.Watch.MaxDelay > 0 && c.Watch.MaxDelay < c.Watch.Debounce {
		return fmt.Errorf("watch.max_delay (%s) is shorter than watch.debounce (%s)", c.Watch.MaxDelay, c.Watch.Debounce)
	}
	return nil
}

func (c *Config) validateServer() error {
	if _, _, err := net.SplitHostPort(c.Server.Address); err != nil {
		return fmt.Errorf("server.address %q: %w", c.Server.Address, err)
	}
	return nil
}
