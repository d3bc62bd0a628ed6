// Package transport carries protocol frames between bucface clients and the
// broker. One WebSocket binary message is one frame. Pipe provides an
// in-memory pair with the same contract for tests.
package transport
