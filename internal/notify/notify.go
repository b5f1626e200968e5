// Package notify publishes run events to NATS so downstream systems (graders,
// cache invalidators) can react to course updates. Notification failures are
// never allowed to fail a run.
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/coursesync/internal/config"
	"git.home.luguber.info/inful/coursesync/internal/logfields"
	"github.com/nats-io/nats.go"
)

// Event is the JSON payload published after each run.
type Event struct {
	RunID      string    `json:"run_id"`
	Key        string    `json:"key"`
	Action     string    `json:"action"`
	Commit     string    `json:"commit"`
	BuildOK    bool      `json:"build_ok"`
	Published  bool      `json:"published"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Publisher publishes run events to a NATS subject.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

// New connects to NATS using the notify configuration. Returns (nil, nil)
// when notification is disabled.
func New(cfg config.NotifyConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	url := cfg.NATSURL
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url, nats.Name("coursesync"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS %s: %w", url, err)
	}
	slog.Info("NATS notification enabled", logfields.URL(url), slog.String("subject", cfg.Subject))
	return &Publisher{conn: conn, subject: cfg.Subject}, nil
}

// Publish sends a run event. A nil publisher is a no-op so callers don't
// have to branch on whether notification is configured.
func (p *Publisher) Publish(event Event) {
	if p == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		slog.Warn("failed to encode run event", logfields.RunID(event.RunID), logfields.Error(err))
		return
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		slog.Warn("failed to publish run event", logfields.RunID(event.RunID), logfields.Error(err))
	}
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		slog.Warn("failed to drain NATS connection", logfields.Error(err))
	}
}
