package transforms

import (
	"context"
	"strings"

	"git.home.luguber.info/inful/frontbuild/internal/stage"
)

// Working mirrors the working subtree of the sources into the build root
// unchanged. Prefix is stripped from each input's relative path.
type Working struct {
	Prefix string
}

func (t Working) Transform(_ context.Context, in stage.Input, w *stage.Writer) error {
	for _, p := range in.Paths {
		rel := strings.TrimPrefix(in.Rel(p), strings.TrimSuffix(t.Prefix, "/")+"/")
		if err := w.CopyFile(p, rel); err != nil {
			return err
		}
	}
	return nil
}
