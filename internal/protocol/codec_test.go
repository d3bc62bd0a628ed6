package protocol

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func genEvent(t *rapid.T) Event {
	return Event{
		Author:    rapid.String().Draw(t, "author"),
		Machine:   rapid.String().Draw(t, "machine"),
		Body:      rapid.String().Draw(t, "body"),
		Timestamp: time.Unix(rapid.Int64Range(-1<<34, 1<<34).Draw(t, "sec"), rapid.Int64Range(0, 999_999_999).Draw(t, "nsec")).UTC(),
	}
}

func genBytes(t *rapid.T, label string) []byte {
	b := rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, label)
	if len(b) == 0 {
		return nil
	}
	return b
}

func genMessage(t *rapid.T) Message {
	switch rapid.IntRange(0, 7).Draw(t, "shape") {
	case 0:
		return NewEvent{Event: genEvent(t)}
	case 1:
		return GetEvent{ID: rapid.Uint64().Draw(t, "id")}
	case 2:
		return GetSince{ID: rapid.Uint64().Draw(t, "id")}
	case 3:
		return Ping{Payload: genBytes(t, "payload")}
	case 4:
		return EventRecord{PersistedEvent{ID: rapid.Uint64().Draw(t, "id"), Event: genEvent(t)}}
	case 5:
		code := rapid.SampledFrom([]ErrorCode{CodeNotFound, CodeStore, CodeInvalid}).Draw(t, "code")
		return Error{Code: code, Detail: rapid.String().Draw(t, "detail")}
	case 6:
		return Pong{Payload: genBytes(t, "payload")}
	default:
		return Close{Reason: genBytes(t, "reason")}
	}
}

func TestRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := genMessage(t)
		b, err := Encode(m)
		if err != nil {
			t.Fatalf("encode %T: %v", m, err)
		}
		got, err := Decode(b)
		if err != nil {
			t.Fatalf("decode %T: %v", m, err)
		}
		if !reflect.DeepEqual(got, m) {
			t.Fatalf("round trip mismatch:\n got  %#v\n want %#v", got, m)
		}
	})
}

func TestRoundTripZeroTimestamp(t *testing.T) {
	m := NewEvent{Event: Event{Author: "alice", Machine: "m1", Body: "hello"}}
	b, err := Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ev := got.(NewEvent)
	if !ev.Timestamp.IsZero() || ev.Author != "alice" || ev.Body != "hello" {
		t.Fatalf("unexpected %#v", ev)
	}
}

func TestDecodeMalformed(t *testing.T) {
	valid, err := Encode(NewEvent{Event: Event{Author: "a", Machine: "m", Body: "b", Timestamp: time.Unix(1, 0)}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	unknown, err := Encode(GetEvent{ID: 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// rewrite the kind byte: fixmap header, fixstr "k", then positive fixint kind
	unknown = append([]byte(nil), unknown...)
	if unknown[1] != 0xa1 || unknown[2] != 'k' {
		t.Fatalf("unexpected frame layout % x", unknown)
	}
	unknown[3] = 0x7f

	cases := map[string][]byte{
		"empty":        nil,
		"garbage":      []byte("definitely not msgpack"),
		"truncated":    valid[:len(valid)/2],
		"nil":          {0xc0},
		"bare int":     {0x05},
		"unknown kind": unknown,
		"no kind":      {0x80},
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			m, err := Decode(b)
			if err == nil {
				t.Fatalf("expected error, got %#v", m)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected *DecodeError, got %T: %v", err, err)
			}
		})
	}
}

func TestDecodeNeverPanics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := rapid.SliceOfN(rapid.Byte(), 0, 128).Draw(t, "frame")
		m, err := Decode(b)
		if err == nil && m == nil {
			t.Fatalf("nil message without error")
		}
	})
}

func TestDecodeDirection(t *testing.T) {
	req, _ := Encode(Ping{Payload: []byte("echo\n")})
	resp, _ := Encode(Pong{Payload: []byte("echo\n")})

	if _, err := DecodeRequest(req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if _, err := DecodeResponse(resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	var de *DecodeError
	if _, err := DecodeRequest(resp); !errors.As(err, &de) {
		t.Fatalf("expected direction error, got %v", err)
	}
	if _, err := DecodeResponse(req); !errors.As(err, &de) {
		t.Fatalf("expected direction error, got %v", err)
	}
}

func TestEncodeRejectsNil(t *testing.T) {
	if _, err := Encode(nil); err == nil {
		t.Fatalf("expected error for nil message")
	}
}

func TestKindDirection(t *testing.T) {
	for _, m := range []Message{NewEvent{}, GetEvent{}, GetSince{}, Ping{}} {
		if !m.Kind().IsRequest() || m.Kind().IsResponse() {
			t.Fatalf("%s should be a request", m.Kind())
		}
	}
	for _, m := range []Message{EventRecord{}, Error{}, Pong{}, Close{}} {
		if !m.Kind().IsResponse() || m.Kind().IsRequest() {
			t.Fatalf("%s should be a response", m.Kind())
		}
	}
}
