package protocol

import (
	"fmt"
	"time"

	"github.com/ugorji/go/codec"
)

// handle is shared by all encoders and decoders; it is not mutated after init.
var handle = newHandle()

func newHandle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	// bin/str distinction of msgpack 2.0
	h.WriteExt = true
	h.RawToString = true
	return h
}

// frame is the on-wire shape shared by every message kind.
type frame struct {
	Kind    Kind   `codec:"k"`
	ID      uint64 `codec:"i,omitempty"`
	Author  string `codec:"a,omitempty"`
	Machine string `codec:"m,omitempty"`
	Body    string `codec:"b,omitempty"`
	Sec     int64  `codec:"s,omitempty"`
	Nsec    int64  `codec:"n,omitempty"`
	Code    string `codec:"c,omitempty"`
	Detail  string `codec:"d,omitempty"`
	Payload []byte `codec:"p,omitempty"`
}

// DecodeError reports a frame that could not be turned into a message.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return "protocol: decode: " + e.Reason + ": " + e.Err.Error()
	}
	return "protocol: decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode serializes a message into one frame.
func Encode(m Message) ([]byte, error) {
	var f frame
	switch v := m.(type) {
	case NewEvent:
		f = eventFrame(KindNewEvent, 0, v.Event)
	case GetEvent:
		f = frame{Kind: KindGetEvent, ID: v.ID}
	case GetSince:
		f = frame{Kind: KindGetSince, ID: v.ID}
	case Ping:
		f = frame{Kind: KindPing, Payload: v.Payload}
	case EventRecord:
		f = eventFrame(KindEventRecord, v.ID, v.Event)
	case Error:
		f = frame{Kind: KindError, Code: string(v.Code), Detail: v.Detail}
	case Pong:
		f = frame{Kind: KindPong, Payload: v.Payload}
	case Close:
		f = frame{Kind: KindClose, Payload: v.Reason}
	case nil:
		return nil, fmt.Errorf("protocol: encode: nil message")
	default:
		return nil, fmt.Errorf("protocol: encode: unsupported message %T", m)
	}
	var out []byte
	if err := codec.NewEncoderBytes(&out, handle).Encode(&f); err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", f.Kind, err)
	}
	return out, nil
}

func eventFrame(k Kind, id uint64, ev Event) frame {
	return frame{
		Kind:    k,
		ID:      id,
		Author:  ev.Author,
		Machine: ev.Machine,
		Body:    ev.Body,
		Sec:     ev.Timestamp.Unix(),
		Nsec:    int64(ev.Timestamp.Nanosecond()),
	}
}

// Decode parses one frame. Malformed input yields a *DecodeError.
func Decode(b []byte) (m Message, err error) {
	if len(b) == 0 {
		return nil, &DecodeError{Reason: "empty frame"}
	}
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, &DecodeError{Reason: fmt.Sprint("panic: ", r)}
		}
	}()

	var f frame
	if err := codec.NewDecoderBytes(b, handle).Decode(&f); err != nil {
		return nil, &DecodeError{Reason: "msgpack", Err: err}
	}
	switch f.Kind {
	case KindNewEvent:
		return NewEvent{Event: f.event()}, nil
	case KindGetEvent:
		return GetEvent{ID: f.ID}, nil
	case KindGetSince:
		return GetSince{ID: f.ID}, nil
	case KindPing:
		return Ping{Payload: nonEmpty(f.Payload)}, nil
	case KindEventRecord:
		return EventRecord{PersistedEvent{ID: f.ID, Event: f.event()}}, nil
	case KindError:
		return Error{Code: ErrorCode(f.Code), Detail: f.Detail}, nil
	case KindPong:
		return Pong{Payload: nonEmpty(f.Payload)}, nil
	case KindClose:
		return Close{Reason: nonEmpty(f.Payload)}, nil
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown kind %d", f.Kind)}
	}
}

// DecodeRequest decodes a frame that must hold a client request.
func DecodeRequest(b []byte) (Request, error) {
	m, err := Decode(b)
	if err != nil {
		return nil, err
	}
	req, ok := m.(Request)
	if !ok {
		return nil, &DecodeError{Reason: "expected request, got " + m.Kind().String()}
	}
	return req, nil
}

// DecodeResponse decodes a frame that must hold a broker response.
func DecodeResponse(b []byte) (Response, error) {
	m, err := Decode(b)
	if err != nil {
		return nil, err
	}
	resp, ok := m.(Response)
	if !ok {
		return nil, &DecodeError{Reason: "expected response, got " + m.Kind().String()}
	}
	return resp, nil
}

func (f frame) event() Event {
	return Event{
		Author:    f.Author,
		Machine:   f.Machine,
		Body:      f.Body,
		Timestamp: time.Unix(f.Sec, f.Nsec).UTC(),
	}
}

func nonEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
