package transport

import (
	"errors"
	"io"
	"net"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by operations on a connection that has been closed.
var ErrClosed = errors.New("transport: connection closed")

// FrameReader is the read half of a connection.
type FrameReader interface {
	ReadFrame() ([]byte, error)
}

// FrameWriter is the write half of a connection.
type FrameWriter interface {
	WriteFrame(b []byte) error
	Close() error
}

// Conn is a duplex, message-framed connection. ReadFrame and WriteFrame may
// be called from different goroutines; each must have a single caller.
type Conn interface {
	FrameReader
	FrameWriter
}

// Split hands out the two halves of c. The reader and the writer are meant to
// be owned by different goroutines.
func Split(c Conn) (FrameReader, FrameWriter) {
	return c, c
}

// Error wraps a failure of the underlying transport.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "transport: " + e.Op + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// IsClosed reports whether err means the peer or the local side closed the
// connection, as opposed to a transient failure.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	var ce *websocket.CloseError
	return errors.As(err, &ce)
}
