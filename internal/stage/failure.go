package stage

import (
	"fmt"
	"strings"

	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
)

// Diagnostic is one problem reported by a transform, usually a compiler message.
type Diagnostic struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (d Diagnostic) String() string {
	var b strings.Builder
	if d.File != "" {
		b.WriteString(d.File)
		if d.Line > 0 {
			fmt.Fprintf(&b, "(%d,%d)", d.Line, d.Column)
		}
		b.WriteString(": ")
	}
	if d.Code != "" {
		b.WriteString(d.Code)
		b.WriteString(": ")
	}
	b.WriteString(d.Message)
	return b.String()
}

const (
	ctxStage       = "stage"
	ctxPath        = "path"
	ctxDiagnostics = "diagnostics"
)

// TransformFailure reports malformed input. diags may be empty when the
// collaborator gave nothing parseable; cause then carries its raw output.
func TransformFailure(name Name, message string, diags []Diagnostic, cause error) error {
	b := ferrors.TransformError(message).WithContext(ctxStage, string(name)).WithCause(cause)
	if len(diags) > 0 {
		b = b.WithContext(ctxDiagnostics, diags)
	}
	return b.Build()
}

// IOFailure reports an unreadable input or unwritable output at path.
func IOFailure(name Name, path string, cause error) error {
	return ferrors.FileSystemError("stage i/o failed").
		WithContext(ctxStage, string(name)).
		WithContext(ctxPath, path).
		WithCause(cause).
		Build()
}

// Diagnostics returns the diagnostics attached to a TransformFailure anywhere in err's chain.
func Diagnostics(err error) []Diagnostic {
	ce, ok := ferrors.AsClassified(err)
	if !ok {
		return nil
	}
	v, ok := ce.Context().Get(ctxDiagnostics)
	if !ok {
		return nil
	}
	diags, _ := v.([]Diagnostic)
	return diags
}

// IsTransformFailure reports whether err is a TransformFailure.
func IsTransformFailure(err error) bool {
	return ferrors.HasCategory(err, ferrors.CategoryTransform)
}

// IsIOFailure reports whether err is an IOFailure.
func IsIOFailure(err error) bool {
	return ferrors.HasCategory(err, ferrors.CategoryFileSystem)
}
