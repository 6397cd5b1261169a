package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
)

// DefaultFile is the configuration file name looked up when -c is not given.
const DefaultFile = "frontbuild.yaml"

// Config represents the frontbuild configuration file.
type Config struct {
	Paths    PathsConfig    `yaml:"paths" toml:"paths"`
	Compiler map[string]any `yaml:"compiler" toml:"compiler"` // decoded into CompilerOptions
	Tools    ToolsConfig    `yaml:"tools" toml:"tools"`
	Bundle   BundleConfig   `yaml:"bundle" toml:"bundle"`
	Styles   StylesConfig   `yaml:"styles" toml:"styles"`
	Dist     DistConfig     `yaml:"dist" toml:"dist"`
	Build    BuildConfig    `yaml:"build" toml:"build"`
	Watch    WatchConfig    `yaml:"watch" toml:"watch"`
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
	History  HistoryConfig  `yaml:"history" toml:"history"`
	Notify   NotifyConfig   `yaml:"notify" toml:"notify"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`

	// CompilerOptions is Compiler after defaults and key validation.
	CompilerOptions CompilerOptions `yaml:"-" toml:"-"`
	// BaseDir is the directory relative paths are resolved against.
	BaseDir string `yaml:"-" toml:"-"`
}

// PathsConfig names the source tree and the three output roots.
type PathsConfig struct {
	Source       string `yaml:"source" toml:"source"`
	Intermediate string `yaml:"intermediate" toml:"intermediate"`
	Build        string `yaml:"build" toml:"build"`
	Dist         string `yaml:"dist" toml:"dist"`
}

// ToolsConfig holds argv templates for the external collaborators. Arguments may
// contain {tsconfig}, {out}, {entry}, {in} and {src} placeholders.
type ToolsConfig struct {
	Compiler []string `yaml:"compiler" toml:"compiler"`
	Bundler  []string `yaml:"bundler" toml:"bundler"`
	// Styles compiles one stylesheet and must print CSS on stdout.
	Styles []string `yaml:"styles" toml:"styles"`
}

type BundleConfig struct {
	Entry  string `yaml:"entry" toml:"entry"` // relative to the intermediate root
	Output string `yaml:"output" toml:"output"`
}

type StylesConfig struct {
	Output string `yaml:"output" toml:"output"`
}

// DistConfig controls archive packaging.
type DistConfig struct {
	Enabled     bool  `yaml:"enabled" toml:"enabled"`
	BudgetBytes int64 `yaml:"budget_bytes" toml:"budget_bytes"`
}

type BuildConfig struct {
	Workers int `yaml:"workers" toml:"workers"`
}

// WatchConfig controls change coalescing in watch mode.
type WatchConfig struct {
	Debounce            Duration `yaml:"debounce" toml:"debounce"`
	MaxDelay            Duration `yaml:"max_delay" toml:"max_delay"`
	FullRebuildInterval Duration `yaml:"full_rebuild_interval" toml:"full_rebuild_interval"`
}

type ServerConfig struct {
	Address      string `yaml:"address" toml:"address"`
	InjectScript *bool  `yaml:"inject_script" toml:"inject_script"`
}

// ShouldInject reports whether HTML responses get the reload client script.
func (s ServerConfig) ShouldInject() bool {
	return s.InjectScript == nil || *s.InjectScript
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// HistoryConfig enables the sqlite run history when Path is set.
type HistoryConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// NotifyConfig enables NATS run notifications when NATSURL is set.
type NotifyConfig struct {
	NATSURL string `yaml:"nats_url" toml:"nats_url"`
	Subject string `yaml:"subject" toml:"subject"`
}

type LoggingConfig struct {
	Level  LogLevel  `yaml:"level" toml:"level"`
	Format LogFormat `yaml:"format" toml:"format"`
}

// Duration is a time.Duration read from strings such as "100ms".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when a key is absent from the file.
func Default() *Config {
	cfg := &Config{
		Paths: PathsConfig{
			Source:       "src",
			Intermediate: "lib",
			Build:        "build",
			Dist:         "dist",
		},
		Tools: ToolsConfig{
			Compiler: []string{"tsc", "-p", "{tsconfig}"},
			Bundler:  []string{"esbuild", "{entry}", "--bundle", "--outfile={out}", "--sourcemap"},
			Styles:   []string{"sass", "--no-source-map", "{in}"},
		},
		Bundle:  BundleConfig{Entry: "index.js", Output: "bundle.js"},
		Styles:  StylesConfig{Output: "build.css"},
		Dist:    DistConfig{BudgetBytes: 13 * 1024},
		Build:   BuildConfig{Workers: defaultWorkers()},
		Watch:   WatchConfig{Debounce: Duration(100 * time.Millisecond), MaxDelay: Duration(2 * time.Second)},
		Server:  ServerConfig{Address: "127.0.0.1:3000"},
		Notify:  NotifyConfig{Subject: "frontbuild.runs"},
		Logging: LoggingConfig{Level: LogLevelInfo, Format: LogFormatText},
		BaseDir: ".",
	}
	cfg.CompilerOptions = DefaultCompilerOptions()
	return cfg
}

func defaultWorkers() int {
	return min(runtime.NumCPU(), 4)
}

// Load reads the configuration at path. Values absent from the file keep their
// defaults. .env files next to the config are loaded first so ${VAR}
// references can be expanded.
func Load(path string) (*Config, error) {
	baseDir := filepath.Dir(path)
	if err := loadEnvFiles(baseDir); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to load .env file").
			WithContext("dir", baseDir).Fatal().Build()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ferrors.ConfigError(fmt.Sprintf("configuration file not found: %s (run 'frontbuild init')", path)).Build()
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to read config file").Fatal().Build()
	}

	cfg := Default()
	cfg.BaseDir = baseDir
	if err := decode(path, []byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to parse config file").
			WithContext("file", path).Fatal().Build()
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(cfg)
	case ".yaml", ".yml", "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	default:
		return fmt.Errorf("unsupported config format %q (want .yaml, .yml or .toml)", filepath.Ext(path))
	}
}

// Normalize applies canonical forms and decodes compiler options.
func (c *Config) Normalize() error {
	level, err := logLevelNormalizer.Strict(string(c.Logging.Level))
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "invalid logging.level").Fatal().UserAction().Build()
	}
	format, err := logFormatNormalizer.Strict(string(c.Logging.Format))
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "invalid logging.format").Fatal().UserAction().Build()
	}
	c.Logging.Level, c.Logging.Format = level, format
	if c.Build.Workers <= 0 {
		c.Build.Workers = defaultWorkers()
	}
	if c.Notify.Subject == "" {
		c.Notify.Subject = "frontbuild.runs"
	}
	project, err := ReadProjectCompilerOptions(c.ProjectTSConfigPath())
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "invalid project tsconfig").
			WithContext("file", c.ProjectTSConfigPath()).Fatal().Build()
	}
	opts, err := ResolveCompilerOptions(project, c.Compiler)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "invalid compiler options").Fatal().Build()
	}
	c.CompilerOptions = opts
	return nil
}

// Resolve returns p joined to BaseDir unless it is already absolute.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.BaseDir, p)
}

// SourceDir returns the resolved source root.
func (c *Config) SourceDir() string { return c.Resolve(c.Paths.Source) }

// ProjectTSConfigPath returns the project tsconfig in the source root.
func (c *Config) ProjectTSConfigPath() string {
	return filepath.Join(c.SourceDir(), ProjectTSConfig)
}

// IntermediateDir returns the resolved compiler output root.
func (c *Config) IntermediateDir() string { return c.Resolve(c.Paths.Intermediate) }

// BuildDir returns the resolved build root.
func (c *Config) BuildDir() string { return c.Resolve(c.Paths.Build) }

// DistDir returns the resolved archive directory.
func (c *Config) DistDir() string { return c.Resolve(c.Paths.Dist) }
