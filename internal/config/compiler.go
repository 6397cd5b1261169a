package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
)

// CompilerOptions are handed to the typed-source compiler unchanged. Only the
// keys below are recognized; anything else in the compiler section is rejected.
type CompilerOptions struct {
	Module             string `mapstructure:"module" json:"module" yaml:"module"`
	Target             string `mapstructure:"target" json:"target" yaml:"target"`
	NoImplicitAny      bool   `mapstructure:"noImplicitAny" json:"noImplicitAny" yaml:"noImplicitAny"`
	RemoveComments     bool   `mapstructure:"removeComments" json:"removeComments" yaml:"removeComments"`
	PreserveConstEnums bool   `mapstructure:"preserveConstEnums" json:"preserveConstEnums" yaml:"preserveConstEnums"`
	SourceMap          bool   `mapstructure:"sourceMap" json:"sourceMap" yaml:"sourceMap"`
	AllowJs            bool   `mapstructure:"allowJs" json:"allowJs" yaml:"allowJs"`
	CheckJs            bool   `mapstructure:"checkJs" json:"checkJs" yaml:"checkJs"`
}

// DefaultCompilerOptions mirrors the tsconfig written by 'frontbuild init'.
func DefaultCompilerOptions() CompilerOptions {
	return CompilerOptions{
		Module:             "ES2015",
		Target:             "ES2018",
		NoImplicitAny:      true,
		RemoveComments:     true,
		PreserveConstEnums: true,
		SourceMap:          true,
		AllowJs:            true,
		CheckJs:            false,
	}
}

// ProjectTSConfig is the compiler project file kept in the source root. Its
// compilerOptions are the base the compiler section overrides, and generated
// project files extend it so options frontbuild does not manage still apply.
const ProjectTSConfig = "tsconfig.json"

// DecodeCompilerOptions overlays raw onto the defaults. Unknown keys and values
// of the wrong type are errors.
func DecodeCompilerOptions(raw map[string]any) (CompilerOptions, error) {
	return ResolveCompilerOptions(nil, raw)
}

// ResolveCompilerOptions layers the project tsconfig's compilerOptions and
// then raw over the defaults. Keys of project that frontbuild does not manage
// are ignored here; raw must not contain any.
func ResolveCompilerOptions(project, raw map[string]any) (CompilerOptions, error) {
	opts := DefaultCompilerOptions()
	if err := decodeOptions(&opts, project, false); err != nil {
		return opts, fmt.Errorf("%s: %w", ProjectTSConfig, err)
	}
	if err := decodeOptions(&opts, raw, true); err != nil {
		return opts, err
	}
	return opts, nil
}

func decodeOptions(opts *CompilerOptions, raw map[string]any, strict bool) error {
	if len(raw) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      opts,
		TagName:     "mapstructure",
		ErrorUnused: strict,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// ReadProjectCompilerOptions returns the compilerOptions object of the
// tsconfig at path, or nil when the file does not exist.
func ReadProjectCompilerOptions(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc struct {
		CompilerOptions map[string]any `json:"compilerOptions"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc.CompilerOptions, nil
}

// TSConfig is the project file written for the compiler.
type TSConfig struct {
	Extends         string            `json:"extends,omitempty"`
	CompilerOptions tsCompilerOptions `json:"compilerOptions"`
	Files           []string          `json:"files,omitempty"`
	Include         []string          `json:"include,omitempty"`
	Exclude         []string          `json:"exclude,omitempty"`
}

type tsCompilerOptions struct {
	CompilerOptions
	OutDir  string `json:"outDir,omitempty"`
	RootDir string `json:"rootDir,omitempty"`
}

// RenderTSConfig marshals opts into a tsconfig document. extends, outDir and
// rootDir are omitted when empty.
func RenderTSConfig(opts CompilerOptions, extends, outDir, rootDir string, files []string) ([]byte, error) {
	doc := TSConfig{
		Extends:         extends,
		CompilerOptions: tsCompilerOptions{CompilerOptions: opts, OutDir: outDir, RootDir: rootDir},
		Files:           files,
	}
	if len(files) == 0 {
		doc.Include = []string{"**/*.ts"}
		doc.Exclude = []string{"node_modules"}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal tsconfig: %w", err)
	}
	return append(data, '\n'), nil
}
