package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
)

const initHeader = "# frontbuild configuration. Relative paths resolve against this file's directory.\n"

// Init writes a default configuration to configPath and a tsconfig.json into the
// configured source directory. An existing config is only replaced when force
// is set; an existing tsconfig.json is never touched. It returns the files written.
func Init(configPath string, force bool) ([]string, error) {
	var written []string

	if _, err := os.Stat(configPath); err == nil && !force {
		return nil, ferrors.ConfigError(fmt.Sprintf("configuration file already exists: %s (use --force to overwrite)", configPath)).Build()
	}

	cfg := Default()
	cfg.BaseDir = filepath.Dir(configPath)
	data, err := renderDefault(cfg)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryInternal, "render default configuration").Build()
	}
	if err := writeFile(configPath, data); err != nil {
		return nil, err
	}
	written = append(written, configPath)

	tsconfig := cfg.ProjectTSConfigPath()
	if _, err := os.Stat(tsconfig); os.IsNotExist(err) {
		doc, err := RenderTSConfig(cfg.CompilerOptions, "", "", "", nil)
		if err != nil {
			return written, ferrors.WrapError(err, ferrors.CategoryInternal, "render tsconfig").Build()
		}
		if err := writeFile(tsconfig, doc); err != nil {
			return written, err
		}
		written = append(written, tsconfig)
	}
	return written, nil
}

func renderDefault(cfg *Config) ([]byte, error) {
	inject := true
	cfg.Server.InjectScript = &inject
	o := cfg.CompilerOptions
	cfg.Compiler = map[string]any{
		"module":             o.Module,
		"target":             o.Target,
		"noImplicitAny":      o.NoImplicitAny,
		"removeComments":     o.RemoveComments,
		"preserveConstEnums": o.PreserveConstEnums,
		"sourceMap":          o.SourceMap,
		"allowJs":            o.AllowJs,
		"checkJs":            o.CheckJs,
	}
	body, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	return append([]byte(initHeader), body...), nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "create directory").WithContext("path", path).Build()
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "write file").WithContext("path", path).Build()
	}
	return nil
}
