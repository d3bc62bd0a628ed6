package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultReadLimit     = 1 << 20
	closeGracePeriod     = time.Second
	keepaliveDeadlineMul = 3
)

// Options tune a WebSocket connection.
type Options struct {
	// WriteTimeout bounds each frame write; zero disables the deadline.
	WriteTimeout time.Duration
	// PingInterval enables transport keepalive pings. Reads fail once no
	// traffic or pong arrives for three intervals.
	PingInterval time.Duration
	// ReadLimit caps the size of one inbound frame.
	ReadLimit int64
}

type wsConn struct {
	ws   *websocket.Conn
	opts Options

	wmu       sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// Wrap adapts a gorilla connection to Conn and starts the keepalive loop when
// opts.PingInterval is set.
func Wrap(ws *websocket.Conn, opts Options) Conn {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	c := &wsConn{ws: ws, opts: opts, closed: make(chan struct{})}
	ws.SetReadLimit(opts.ReadLimit)
	if opts.PingInterval > 0 {
		c.extendReadDeadline()
		ws.SetPongHandler(func(string) error {
			c.extendReadDeadline()
			return nil
		})
		go c.keepalive()
	}
	return c
}

func (c *wsConn) extendReadDeadline() {
	_ = c.ws.SetReadDeadline(time.Now().Add(keepaliveDeadlineMul * c.opts.PingInterval))
}

func (c *wsConn) keepalive() {
	t := time.NewTicker(c.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-t.C:
			// WriteControl is safe to call concurrently with WriteMessage.
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.PingInterval)); err != nil {
				return
			}
		}
	}
}

// ReadFrame returns the next binary message. Text messages are skipped.
func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, wrapErr("read", err)
		}
		if c.opts.PingInterval > 0 {
			c.extendReadDeadline()
		}
		if mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteFrame(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	select {
	case <-c.closed:
		return &Error{Op: "write", Err: ErrClosed}
	default:
	}
	if c.opts.WriteTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	return wrapErr("write", c.ws.WriteMessage(websocket.BinaryMessage, b))
}

// Close sends a close control frame and releases the socket. It is safe to
// call more than once and concurrently with a pending write.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		err = c.ws.Close()
	})
	return wrapErr("close", err)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// bucface has no authentication; any origin may connect.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Upgrade turns an HTTP request into a framed connection.
func Upgrade(w http.ResponseWriter, r *http.Request, opts Options) (Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, wrapErr("upgrade", err)
	}
	return Wrap(ws, opts), nil
}

// Dial connects to a broker WebSocket endpoint such as ws://host:7070/v1/ws.
func Dial(ctx context.Context, url string, opts Options) (Conn, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %s)", err, resp.Status)
		}
		return nil, wrapErr("dial", err)
	}
	return Wrap(ws, opts), nil
}
