package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"issueflow/internal/bootstrap/logging"
	"issueflow/internal/errs"
	"issueflow/internal/ports"
)

// LogSink writes notifications to the structured log.
type LogSink struct{}

func (LogSink) Deliver(ctx context.Context, n ports.Notification) error {
	logging.Info(logging.WithAttrs(ctx, slog.String("component", "notify.log")), n.Text,
		slog.String("kind", n.Kind),
		slog.String("project", n.Project),
		slog.Int("issue_id", n.IssueID),
		slog.String("channel_type", n.ChannelType),
		slog.String("channel_id", n.ChannelID),
	)
	return nil
}

// NATSSink publishes each notification as JSON on
// <prefix>.<project>.<kind>.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
}

func DialNATS(url string, prefix string, name string) (*NATSSink, error) {
	conn, err := nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
	if err != nil {
		return nil, errs.Wrapf(err, "connect nats %s", url)
	}
	return NewNATSSink(conn, prefix), nil
}

func NewNATSSink(conn *nats.Conn, prefix string) *NATSSink {
	if prefix == "" {
		prefix = "issueflow"
	}
	return &NATSSink{conn: conn, prefix: prefix}
}

func (s *NATSSink) Subject(n ports.Notification) string {
	return strings.Join([]string{s.prefix, token(n.Project), token(n.Kind)}, ".")
}

func (s *NATSSink) Deliver(ctx context.Context, n ports.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return errs.Wrap(err, "encode notification")
	}
	if err := s.conn.Publish(s.Subject(n), data); err != nil {
		return errs.Wrap(err, "publish notification")
	}
	if _, ok := ctx.Deadline(); ok {
		if err := s.conn.FlushWithContext(ctx); err != nil {
			return errs.Wrap(err, "flush nats")
		}
	}
	return nil
}

func (s *NATSSink) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}

// token makes a value safe as one NATS subject token.
func token(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, v)
}
