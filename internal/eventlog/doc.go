// Package eventlog is bucface's persistence gateway: a durable collection of
// events numbered 0, 1, 2, ... with no gaps, stored in Pebble.
//
// # Overview
//
// Keys are lexicographically ordered for efficient range scans:
//   - c/{collection}/m             (next id to assign)
//   - c/{collection}/e/{id_be8}    (entries)
//
// Values are framed as: varint headerLen | header | payload | crc32c(header|payload).
// The payload is the msgpack EventRecord frame the broker sends on the wire.
//
// API surface (internal)
//
//	l, _ := eventlog.Open(db, "events")
//	pe, _ := l.Insert(ctx, protocol.Event{Author: "alice", Machine: "m1", Body: "hello"})
//	got, _ := l.Lookup(pe.ID)
//
//	sc, _ := l.ScanSince(0)
//	for sc.Next() {
//	    _ = sc.Event()
//	}
//	_ = sc.Close()
//
// Insert serializes id assignment with the batch commit, so concurrent callers
// receive distinct consecutive ids and a failed commit leaves no hole.
package eventlog
