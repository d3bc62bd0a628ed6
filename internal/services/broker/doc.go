// Package brokersvc is the bucface broker dispatcher.
//
// Every connection gets a reader loop (Serve) that decodes requests, runs them
// against the event store and publishes the responses onto one global queue.
// A single fan-out goroutine (Run) owns the registry of connection write
// halves and writes every queued response to every registered connection, so
// all clients observe broadcasts in the same order.
//
//	b := brokersvc.New(brokersvc.LogStore(rt.Log()), brokersvc.Options{Logger: logger})
//	go b.Run(ctx)
//	// per accepted connection
//	_ = b.Serve(ctx, conn)
package brokersvc
