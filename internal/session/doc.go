// Package session is the client side of a bucface connection.
//
// A Session owns one verified connection and two goroutines. The sender
// drains the bounded outbound channel and writes each request, retrying a
// failed write a fixed number of times before reporting a SendFailure and
// moving on. The receiver reads frames, decodes responses onto the bounded
// inbound channel, and is the only place a closed connection is detected:
// when it exits, Inbound is closed and Done fires. Sessions do not reconnect;
// callers Dial again.
//
//	s, status, err := session.Dial(ctx, "ws://127.0.0.1:7070/v1/ws", session.DefaultOptions())
//	if err != nil { /* broker unreachable or unverified */ }
//	if status == session.StatusSoftError { /* usable, but the pong did not match */ }
//	defer s.Close()
//	_ = s.Send(ctx, protocol.GetSince{ID: 0})
//	for resp := range s.Inbound() {
//	    _ = resp
//	}
package session
