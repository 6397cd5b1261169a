package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/frontbuild/internal/stage"
	"git.home.luguber.info/inful/frontbuild/internal/taskgraph"
)

type message struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, message{subject, data})
	return nil
}

func stageNamed(t *testing.T, name string, deps []stage.Name, err error) *stage.Stage {
	t.Helper()
	return stage.MustNew(stage.Stage{
		Name:      stage.Name(name),
		OutDir:    t.TempDir(),
		DependsOn: deps,
		Transform: stage.TransformFunc(func(_ context.Context, _ stage.Input, w *stage.Writer) error {
			if err != nil {
				return err
			}
			return w.WriteFile(name+".txt", []byte(name))
		}),
	})
}

func TestNotifierPublishesSuccessfulRun(t *testing.T) {
	pub := &fakePublisher{}
	n := New(pub, "", nil)
	assert.Equal(t, DefaultSubject, n.Subject())

	g := taskgraph.MustNew([]*stage.Stage{stageNamed(t, "styles", nil, nil)}, taskgraph.WithObserver(n))
	res, err := g.Execute(t.Context(), taskgraph.Request{Reason: "watch:styles"})
	require.NoError(t, err)

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, DefaultSubject, pub.msgs[0].subject)

	var ev RunEvent
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &ev))
	assert.Equal(t, res.RunID, ev.RunID)
	assert.Equal(t, "watch:styles", ev.Reason)
	assert.True(t, ev.Succeeded)
	assert.Equal(t, map[string]string{"styles": "succeeded"}, ev.Stages)
	assert.Equal(t, 1, ev.Outputs)
	assert.Empty(t, ev.FailedStage)
}

func TestNotifierPublishesFailure(t *testing.T) {
	pub := &fakePublisher{}
	n := New(pub, "ci.frontend", nil)
	g := taskgraph.MustNew([]*stage.Stage{
		stageNamed(t, "compile", nil, stage.TransformFailure("compile", "type errors", nil, errors.New("exit status 2"))),
		stageNamed(t, "bundle", []stage.Name{"compile"}, nil),
	}, taskgraph.WithObserver(n))

	_, err := g.Execute(t.Context(), taskgraph.Request{})
	require.Error(t, err)
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "ci.frontend", pub.msgs[0].subject)

	var ev RunEvent
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &ev))
	assert.False(t, ev.Succeeded)
	assert.Equal(t, "compile", ev.FailedStage)
	assert.Equal(t, []string{"bundle"}, ev.Skipped)
	assert.Contains(t, ev.Error, "type errors")
}

func TestPublishErrorDoesNotFailRun(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	n := New(pub, "x", nil)
	g := taskgraph.MustNew([]*stage.Stage{stageNamed(t, "markup", nil, nil)}, taskgraph.WithObserver(n))

	res, err := g.Execute(t.Context(), taskgraph.Request{})
	require.NoError(t, err)
	assert.Error(t, n.Publish(res))
	n.Close()
}
