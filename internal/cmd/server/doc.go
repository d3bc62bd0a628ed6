// Package serverrun exposes the Run entrypoint used by the CLI to start the
// bucface broker: the Pebble store, the fan-out loop and the HTTP surface,
// with lifecycle and shutdown handled together.
//
// Example:
//
//	opts := serverrun.Options{DataDir: "./data", Addr: ":7070", Fsync: pebblestore.FsyncModeAlways, Config: config.Default()}
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, opts)
package serverrun
