// Package runtime wires storage and config into a single-node bucface
// broker. It opens the Pebble store, the served event collection, and
// exposes a health check.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data/store", Fsync: pebblestore.FsyncModeAlways, Config: config.Default()})
//	defer rt.Close()
//	_ = rt.CheckHealth(context.Background())
//	pe, _ := rt.Log().Insert(context.Background(), protocol.Event{Author: "alice", Machine: "m1", Body: "hello"})
package runtime
