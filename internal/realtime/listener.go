// Package realtime subscribes to the server's change feed so the agent can
// sync promptly instead of waiting out the polling interval.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	ws "github.com/coder/websocket"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Message is one change event from the server feed.
type Message struct {
	Type   string         `json:"type"`
	Entity string         `json:"entity"`
	Action string         `json:"action"`
	ID     int64          `json:"id,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// Listener maintains a WebSocket connection to the server's event feed and
// invokes the callback for every decoded event. Dropped connections are
// redialed with capped exponential backoff.
type Listener struct {
	url     string
	token   string
	onEvent func(Message)
	logger  *slog.Logger
}

// NewListener creates a listener for the given feed URL.
func NewListener(url, token string, onEvent func(Message), logger *slog.Logger) *Listener {
	return &Listener{
		url:     url,
		token:   token,
		onEvent: onEvent,
		logger:  logger,
	}
}

// Run blocks until the context is cancelled, reconnecting as needed.
func (l *Listener) Run(ctx context.Context) {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		dialed, err := l.connect(ctx)
		if ctx.Err() != nil {
			return
		}
		if dialed {
			backoff = initialBackoff
		}
		l.logger.Warn("event feed disconnected", "error", err, "retry_in", backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// connect dials the feed and reads events until the connection fails. The
// returned bool reports whether the dial itself succeeded, so the caller can
// reset its backoff.
func (l *Listener) connect(ctx context.Context) (bool, error) {
	opts := &ws.DialOptions{}
	if l.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + l.token}}
	}

	conn, _, err := ws.Dial(ctx, l.url, opts)
	if err != nil {
		return false, err
	}
	defer conn.Close(ws.StatusNormalClosure, "")
	l.logger.Info("event feed connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return true, err
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			l.logger.Warn("undecodable event", "error", err)
			continue
		}
		if l.onEvent != nil {
			l.onEvent(msg)
		}
	}
}
