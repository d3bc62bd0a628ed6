package protocol

import (
	"fmt"
	"time"
)

// Event is a submitted, unpersisted record.
type Event struct {
	Author    string
	Machine   string
	Body      string
	Timestamp time.Time
}

// Equal reports whether e and o carry the same fields and instant.
func (e Event) Equal(o Event) bool {
	return e.Author == o.Author && e.Machine == o.Machine && e.Body == o.Body && e.Timestamp.Equal(o.Timestamp)
}

// PersistedEvent is an Event plus its broker-assigned sequence id.
type PersistedEvent struct {
	ID uint64
	Event
}

func (e PersistedEvent) String() string {
	return fmt.Sprintf("#%d %s@%s %s: %s", e.ID, e.Author, e.Machine, e.Timestamp.Format(time.RFC3339), e.Body)
}

// Kind tags a frame with its message shape.
type Kind uint8

const (
	KindUnknown Kind = iota
	// requests
	KindNewEvent
	KindGetEvent
	KindGetSince
	KindPing
	// responses
	KindEventRecord
	KindError
	KindPong
	KindClose
)

func (k Kind) String() string {
	switch k {
	case KindNewEvent:
		return "new_event"
	case KindGetEvent:
		return "get_event"
	case KindGetSince:
		return "get_since"
	case KindPing:
		return "ping"
	case KindEventRecord:
		return "event_record"
	case KindError:
		return "error"
	case KindPong:
		return "pong"
	case KindClose:
		return "close"
	default:
		return "unknown"
	}
}

// IsRequest reports whether k is a client-to-broker kind.
func (k Kind) IsRequest() bool { return k >= KindNewEvent && k <= KindPing }

// IsResponse reports whether k is a broker-to-client kind.
func (k Kind) IsResponse() bool { return k >= KindEventRecord && k <= KindClose }

// Message is any frame payload.
type Message interface {
	Kind() Kind
}

// Request is a message sent by a client.
type Request interface {
	Message
	isRequest()
}

// Response is a message sent by the broker.
type Response interface {
	Message
	isResponse()
}

// NewEvent asks the broker to persist and broadcast an event.
type NewEvent struct{ Event }

// GetEvent asks for a single persisted event.
type GetEvent struct{ ID uint64 }

// GetSince asks for every persisted event with id >= ID.
type GetSince struct{ ID uint64 }

// Ping is an application-level liveness probe; the broker answers with Pong.
type Ping struct{ Payload []byte }

func (NewEvent) Kind() Kind { return KindNewEvent }
func (GetEvent) Kind() Kind { return KindGetEvent }
func (GetSince) Kind() Kind { return KindGetSince }
func (Ping) Kind() Kind     { return KindPing }

func (NewEvent) isRequest() {}
func (GetEvent) isRequest() {}
func (GetSince) isRequest() {}
func (Ping) isRequest()     {}

// ErrorCode classifies an Error response.
type ErrorCode string

const (
	CodeNotFound ErrorCode = "not_found"
	CodeStore    ErrorCode = "store"
	CodeInvalid  ErrorCode = "invalid"
)

// EventRecord carries one persisted event.
type EventRecord struct{ PersistedEvent }

// Error reports a failed request.
type Error struct {
	Code   ErrorCode
	Detail string
}

// Pong echoes a Ping payload.
type Pong struct{ Payload []byte }

// Close announces that the broker is going away.
type Close struct{ Reason []byte }

func (EventRecord) Kind() Kind { return KindEventRecord }
func (Error) Kind() Kind       { return KindError }
func (Pong) Kind() Kind        { return KindPong }
func (Close) Kind() Kind       { return KindClose }

func (EventRecord) isResponse() {}
func (Error) isResponse()       {}
func (Pong) isResponse()        {}
func (Close) isResponse()       {}

func (e Error) Error() string { return string(e.Code) + ": " + e.Detail }
