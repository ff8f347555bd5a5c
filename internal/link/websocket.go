package link

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jkaberg/smartstick/internal/netutil"
	"github.com/sirupsen/logrus"
)

const wsWriteTimeout = 5 * time.Second

// WSDialer connects to a simulator host's WebSocket endpoint.
type WSDialer struct {
	URL         string
	DialTimeout time.Duration
	Logger      *logrus.Logger
}

// Dial opens the WebSocket and starts its read pump.
func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}

	dialer := websocket.Dialer{
		NetDialContext:   netutil.NewDialContext(d.DialTimeout, d.Logger),
		HandshakeTimeout: d.DialTimeout,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = netutil.TLSConfig(u.Hostname(), d.Logger)
	}

	ws, resp, err := dialer.DialContext(ctx, d.URL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake with %s failed (HTTP %d): %w", u.Host, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", u.Host, err)
	}

	d.Logger.WithField("url", u.Redacted()).Debug("WebSocket link established")
	return newWSConn(ws, d.Logger), nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from a different origin during development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Upgrade turns an HTTP request into a server-side link connection.
func Upgrade(w http.ResponseWriter, r *http.Request, logger *logrus.Logger) (Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade failed: %w", err)
	}
	return newWSConn(ws, logger), nil
}

type wsConn struct {
	ws     *websocket.Conn
	logger *logrus.Logger
	q      *frameQueue
	wmu    sync.Mutex
	once   sync.Once
}

func newWSConn(ws *websocket.Conn, logger *logrus.Logger) *wsConn {
	c := &wsConn{ws: ws, logger: logger, q: newFrameQueue()}
	go c.readPump()
	return c
}

func (c *wsConn) readPump() {
	defer c.q.shutdown()
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if !c.q.isDone() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.WithError(err).Debug("WebSocket read ended")
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if !c.q.push(data) {
			return
		}
	}
}

func (c *wsConn) Send(ctx context.Context, frame []byte) error {
	if c.q.isDone() {
		return ErrClosed
	}
	deadline := time.Now().Add(wsWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("websocket write failed: %w", err)
	}
	return nil
}

func (c *wsConn) Frames() <-chan []byte { return c.q.ch }

func (c *wsConn) Done() <-chan struct{} { return c.q.done }

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		c.q.shutdown()
		c.wmu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.wmu.Unlock()
		err = c.ws.Close()
	})
	return err
}
