package gamelink

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// CloseStatus carries the wire close code and reason a finished connection
// ended with.
type CloseStatus struct {
	Code   int
	Reason string
}

// ConnEvents are the callbacks a Conn feeds while it lives. OnClosed is
// invoked at most once, after the last OnFrame, and only for closures the
// session did not initiate itself.
type ConnEvents struct {
	OnFrame  func(data []byte)
	OnClosed func(status CloseStatus)
}

// Conn is one live physical connection.
type Conn interface {
	// Write sends one serialized frame.
	Write(ctx context.Context, data []byte) error
	// Close performs a graceful close with an application-level reason.
	Close(reason string) error
}

// Dialer opens physical connections. The production implementation is
// WebsocketDialer; tests inject fakes.
type Dialer interface {
	Dial(ctx context.Context, events ConnEvents) (Conn, error)
}

// WebsocketDialer dials a WebSocket endpoint using coder/websocket.
type WebsocketDialer struct {
	URL     string
	Headers http.Header
	Logger  *zap.Logger
}

// Dial opens the WebSocket connection and starts pumping inbound frames into
// events until the connection dies.
func (d *WebsocketDialer) Dial(ctx context.Context, events ConnEvents) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{
		HTTPHeader: d.Headers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", d.URL, err)
	}

	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	readCtx, cancel := context.WithCancel(context.Background())
	wc := &wsConn{conn: conn, logger: logger, cancel: cancel}
	go wc.readLoop(readCtx, events)

	return wc, nil
}

type wsConn struct {
	conn   *websocket.Conn
	logger *zap.Logger
	cancel context.CancelFunc
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Close performs a graceful close. The read loop is cancelled first so the
// local closure is not also reported through OnClosed.
func (c *wsConn) Close(reason string) error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, reason)
}

// readLoop pumps inbound frames until the connection dies, then reports how
// it ended.
func (c *wsConn) readLoop(ctx context.Context, events ConnEvents) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// Locally closed; the session already knows why.
				return
			}
			status := closeStatusFromError(err)
			c.logger.Debug("websocket read loop ended",
				zap.Int("code", status.Code),
				zap.String("reason", status.Reason))
			events.OnClosed(status)
			return
		}
		events.OnFrame(data)
	}
}

// closeStatusFromError extracts the close code and reason from a read error.
// A death with no close frame is reported as an abnormal closure.
func closeStatusFromError(err error) CloseStatus {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return CloseStatus{Code: int(ce.Code), Reason: ce.Reason}
	}
	return CloseStatus{Code: StatusAbnormalClosure}
}
