package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Ryfis/geo-mini/internal/status"
)

// ErrJoinTimeout is returned when the feed endpoint accepts the socket but
// never acknowledges the channel join.
var ErrJoinTimeout = errors.New("feed join timed out")

const (
	joinTimeout       = 10 * time.Second
	heartbeatInterval = 25 * time.Second
)

// Feed dials the backend's change-feed WebSocket endpoint and turns raw
// change frames into normalized ChangeEvents. One Dial call is one joined
// channel; it performs no reconnection — a dropped feed stays dropped until
// the owner opens a new one.
type Feed struct {
	wsURL  string
	apiKey string
	logger *zap.Logger
}

// NewFeed creates a feed dialer for the given backend URL and anon key.
func NewFeed(baseURL, apiKey string, logger *zap.Logger) *Feed {
	ws := strings.TrimRight(baseURL, "/")
	ws = strings.Replace(ws, "https://", "wss://", 1)
	ws = strings.Replace(ws, "http://", "ws://", 1)
	return &Feed{
		wsURL:  ws + "/realtime/v1/websocket?vsn=1.0.0&apikey=" + url.QueryEscape(apiKey),
		apiKey: apiKey,
		logger: logger,
	}
}

// phxFrame is the channel-multiplexing envelope used by the feed transport.
type phxFrame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

type changeFrame struct {
	Data changeRecord `json:"data"`
}

// Dial opens the socket, joins the channel with per-table change filters,
// and starts delivering events. It returns once the join is acknowledged.
// onState is invoked for transport-driven transitions only (Error, TimedOut,
// Closed); the caller owns Connecting/Connected.
func (f *Feed) Dial(ctx context.Context, channelKey string, tables []string, onEvent func(ChangeEvent), onState func(status.State)) (io.Closer, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial feed: %w", err)
	}

	if err := f.join(conn, channelKey, tables); err != nil {
		_ = conn.Close()
		return nil, err
	}

	fc := &feedConn{conn: conn, done: make(chan struct{})}
	go f.readLoop(fc, channelKey, onEvent, onState)
	go fc.heartbeatLoop()
	return fc, nil
}

func (f *Feed) join(conn *websocket.Conn, channelKey string, tables []string) error {
	type tableFilter struct {
		Event  string `json:"event"`
		Schema string `json:"schema"`
		Table  string `json:"table"`
	}
	filters := make([]tableFilter, 0, len(tables))
	for _, t := range tables {
		filters = append(filters, tableFilter{Event: "*", Schema: "public", Table: t})
	}
	payload, err := json.Marshal(map[string]any{
		"config": map[string]any{"postgres_changes": filters},
	})
	if err != nil {
		return err
	}
	frame := phxFrame{Topic: "realtime:" + channelKey, Event: "phx_join", Payload: payload, Ref: "1"}
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("join feed channel: %w", err)
	}

	// Wait for the join ack before handing the connection over.
	_ = conn.SetReadDeadline(time.Now().Add(joinTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	for {
		var reply phxFrame
		if err := conn.ReadJSON(&reply); err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return ErrJoinTimeout
			}
			return fmt.Errorf("await join ack: %w", err)
		}
		if reply.Event == "phx_reply" && reply.Ref == "1" {
			return nil
		}
		// Anything queued ahead of the ack (system notices) is skipped.
	}
}

func (f *Feed) readLoop(fc *feedConn, channelKey string, onEvent func(ChangeEvent), onState func(status.State)) {
	for {
		var frame phxFrame
		if err := fc.conn.ReadJSON(&frame); err != nil {
			onState(f.closeState(fc, err))
			return
		}
		switch frame.Event {
		case "postgres_changes":
			var cf changeFrame
			if err := json.Unmarshal(frame.Payload, &cf); err != nil {
				f.logger.Warn("dropping undecodable change frame",
					zap.String("channel", channelKey), zap.Error(err))
				continue
			}
			evt, err := Normalize(cf.Data, time.Now())
			if err != nil {
				f.logger.Warn("dropping change event",
					zap.String("channel", channelKey),
					zap.String("table", cf.Data.Table),
					zap.Error(err))
				continue
			}
			onEvent(evt)
		case "phx_error":
			onState(status.Error)
			_ = fc.Close()
			return
		case "phx_reply", "heartbeat", "system", "presence_state":
			// Transport chatter; nothing to fold.
		}
	}
}

// closeState maps a read error to the terminal state the owner should see.
func (f *Feed) closeState(fc *feedConn, err error) status.State {
	select {
	case <-fc.done:
		// Deliberate Close(); not a failure.
		return status.Closed
	default:
	}
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return status.TimedOut
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		return status.Closed
	default:
		f.logger.Warn("feed read failed", zap.Error(err))
		return status.Error
	}
}

// feedConn is one live joined channel. Close is idempotent.
type feedConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

func (c *feedConn) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	ref := 2
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteJSON(phxFrame{
				Topic: "phoenix", Event: "heartbeat",
				Payload: json.RawMessage(`{}`), Ref: fmt.Sprint(ref),
			})
			c.writeMu.Unlock()
			if err != nil {
				// The read loop will observe the broken socket and report it.
				return
			}
			ref++
		case <-c.done:
			return
		}
	}
}

func (c *feedConn) Close() error {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
	return nil
}
