package session

import (
	"bytes"
	"context"
	"fmt"

	"github.com/PhiYerion/bucface/internal/protocol"
	"github.com/PhiYerion/bucface/internal/transport"
	logpkg "github.com/PhiYerion/bucface/pkg/log"
)

// DefaultVerifyPayload is the probe sent by Verify.
var DefaultVerifyPayload = []byte("echo\n")

// Status is the outcome of a verification that did not fail hard.
type Status int

const (
	// StatusSuccess means the broker echoed the probe.
	StatusSuccess Status = iota
	// StatusSoftError means a pong arrived with a different payload. The
	// connection is still usable.
	StatusSoftError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusSoftError:
		return "soft_error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// VerifyReason classifies a hard verification failure.
type VerifyReason int

const (
	// NoResponse means the stream ended before any pong arrived.
	NoResponse VerifyReason = iota
	// IO means the transport failed while sending or receiving.
	IO
)

// VerifyError is a hard verification failure; the connection is unusable.
type VerifyError struct {
	Reason VerifyReason
	Err    error
}

func (e *VerifyError) Error() string {
	switch e.Reason {
	case NoResponse:
		return "session: verify: no response: " + e.Err.Error()
	default:
		return "session: verify: io: " + e.Err.Error()
	}
}

func (e *VerifyError) Unwrap() error { return e.Err }

// Verify sends a Ping carrying payload over conn and waits for a Pong. Frames
// that are not pongs, or do not decode, are skipped. Cancelling ctx closes
// conn and yields a NoResponse failure. Verify does not retry.
func Verify(ctx context.Context, conn transport.Conn, payload []byte, logger logpkg.Logger) (Status, error) {
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	if payload == nil {
		payload = DefaultVerifyPayload
	}
	frame, err := protocol.Encode(protocol.Ping{Payload: payload})
	if err != nil {
		return StatusSuccess, &VerifyError{Reason: IO, Err: err}
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.WriteFrame(frame); err != nil {
		return StatusSuccess, &VerifyError{Reason: IO, Err: err}
	}
	for {
		b, err := conn.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return StatusSuccess, &VerifyError{Reason: NoResponse, Err: ctx.Err()}
			}
			if transport.IsClosed(err) {
				return StatusSuccess, &VerifyError{Reason: NoResponse, Err: err}
			}
			return StatusSuccess, &VerifyError{Reason: IO, Err: err}
		}
		resp, err := protocol.DecodeResponse(b)
		if err != nil {
			logger.Debug("skipping undecodable frame during verify", logpkg.Err(err))
			continue
		}
		pong, ok := resp.(protocol.Pong)
		if !ok {
			continue
		}
		if bytes.Equal(pong.Payload, payload) {
			return StatusSuccess, nil
		}
		logger.Warn("pong payload mismatch",
			logpkg.Str("want", string(payload)), logpkg.Str("got", string(pong.Payload)))
		return StatusSoftError, nil
	}
}
