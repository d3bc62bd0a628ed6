// Package protocol defines the messages exchanged between bucface clients and
// the broker, and the binary codec that carries them.
//
// Requests and responses are closed sum types: every concrete message
// implements either Request or Response through an unexported marker method,
// so handlers dispatch with an exhaustive type switch. Adding a message kind
// means adding a type, a Kind constant and a case to the codec.
//
// Frames are msgpack maps tagged with a kind byte. One frame maps to one
// transport message; the codec does no stream framing of its own.
//
//	b, _ := protocol.Encode(protocol.GetSince{ID: 0})
//	req, err := protocol.DecodeRequest(b)
package protocol
