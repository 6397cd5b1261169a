// Package notify publishes run results to NATS so editors, dashboards or CI
// hooks can follow a watch session.
package notify

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/nats-io/nats.go"

	ferrors "git.home.luguber.info/inful/frontbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/frontbuild/internal/logfields"
	"git.home.luguber.info/inful/frontbuild/internal/taskgraph"
)

// DefaultSubject is used when none is configured.
const DefaultSubject = "frontbuild.runs"

// Publisher sends one message. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// RunEvent is the JSON message published for every finished run.
type RunEvent struct {
	RunID       string            `json:"run_id"`
	Seq         uint64            `json:"seq"`
	Reason      string            `json:"reason"`
	Succeeded   bool              `json:"succeeded"`
	FailedStage string            `json:"failed_stage,omitempty"`
	Error       string            `json:"error,omitempty"`
	Changed     []string          `json:"changed,omitempty"`
	Stages      map[string]string `json:"stages"`
	Skipped     []string          `json:"skipped,omitempty"`
	Outputs     int               `json:"outputs"`
	DurationMS  int64             `json:"duration_ms"`
	Timestamp   time.Time         `json:"timestamp"`
}

// NewRunEvent summarizes res.
func NewRunEvent(res *taskgraph.Result) RunEvent {
	ev := RunEvent{
		RunID:      res.RunID,
		Seq:        res.Seq,
		Reason:     res.Reason,
		Succeeded:  res.Succeeded(),
		Changed:    res.Changed,
		Stages:     make(map[string]string, len(res.Stages)),
		Outputs:    len(res.Outputs()),
		DurationMS: res.Duration().Milliseconds(),
		Timestamp:  res.End,
	}
	for name, st := range res.Stages {
		ev.Stages[string(name)] = string(st.Status)
	}
	for _, n := range res.Skipped() {
		ev.Skipped = append(ev.Skipped, string(n))
	}
	sort.Strings(ev.Skipped)
	if res.Err != nil {
		ev.Error = res.Err.Error()
		var se *taskgraph.StageError
		if errors.As(res.Err, &se) {
			ev.FailedStage = string(se.Stage)
		}
	}
	return ev
}

// Notifier is a taskgraph.Observer publishing a RunEvent when a run ends.
// Publish failures are logged and never affect the run.
type Notifier struct {
	taskgraph.NoopObserver
	pub     Publisher
	subject string
	logger  *slog.Logger
	close   func()
}

// New returns a notifier publishing through pub.
func New(pub Publisher, subject string, logger *slog.Logger) *Notifier {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{pub: pub, subject: subject, logger: logger.With(slog.String("subject", subject))}
}

// Connect dials the NATS server at url and returns a notifier that owns the
// connection.
func Connect(url, subject string, logger *slog.Logger) (*Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("frontbuild"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logfields.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to connect to NATS").
			WithContext("url", url).Build()
	}
	n := New(conn, subject, logger)
	n.close = func() {
		if err := conn.Drain(); err != nil {
			conn.Close()
		}
	}
	logger.Info("NATS notifications enabled", slog.String("url", url), slog.String("subject", n.subject))
	return n, nil
}

// Subject returns the subject runs are published on.
func (n *Notifier) Subject() string { return n.subject }

// Publish sends the event for res.
func (n *Notifier) Publish(res *taskgraph.Result) error {
	data, err := json.Marshal(NewRunEvent(res))
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "failed to marshal run event").Build()
	}
	if err := n.pub.Publish(n.subject, data); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to publish run event").
			WithContext("subject", n.subject).Build()
	}
	return nil
}

func (n *Notifier) OnRunComplete(res *taskgraph.Result) {
	if err := n.Publish(res); err != nil {
		n.logger.Warn("Run notification failed", logfields.RunID(res.RunID), logfields.Error(err))
		return
	}
	n.logger.Debug("Run notification published", logfields.RunID(res.RunID))
}

// Close drains the connection opened by Connect.
func (n *Notifier) Close() {
	if n.close != nil {
		n.close()
	}
}
