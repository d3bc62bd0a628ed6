package transport

import "sync"

const pipeBuffer = 64

type pipeConn struct {
	in   <-chan []byte
	out  chan<- []byte
	done chan struct{}
	once *sync.Once
}

// Pipe returns two connected in-memory ends. Closing either end closes both.
// Each direction buffers a small number of frames.
func Pipe() (Conn, Conn) {
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	done := make(chan struct{})
	once := &sync.Once{}
	return &pipeConn{in: ba, out: ab, done: done, once: once},
		&pipeConn{in: ab, out: ba, done: done, once: once}
}

func (p *pipeConn) ReadFrame() ([]byte, error) {
	select {
	case <-p.done:
		return nil, &Error{Op: "read", Err: ErrClosed}
	default:
	}
	select {
	case b := <-p.in:
		return b, nil
	case <-p.done:
		return nil, &Error{Op: "read", Err: ErrClosed}
	}
}

func (p *pipeConn) WriteFrame(b []byte) error {
	select {
	case <-p.done:
		return &Error{Op: "write", Err: ErrClosed}
	default:
	}
	cp := append([]byte(nil), b...)
	select {
	case p.out <- cp:
		return nil
	case <-p.done:
		return &Error{Op: "write", Err: ErrClosed}
	}
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
