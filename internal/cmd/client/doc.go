// Package client provides the event commands of the `bucface` CLI.
//
// Every command dials the broker's WebSocket endpoint, verifies it with a
// ping round trip and then works through a client session. Because the
// broker broadcasts every response to every connection, commands pick their
// own answers out of the shared stream.
//
// Usage
//
//	bucface submit "deploy finished"
//	bucface get 42
//	bucface since 100
//	bucface ping
//
//	# follow the feed, gap-free, reconnecting when the broker goes away
//	bucface tail --filter 'author == "alice"'
//	bucface tail --json --limit 10
//
// The broker address, author and machine come from the config file and the
// BUCFACE_URL, BUCFACE_AUTHOR and BUCFACE_MACHINE variables unless set by
// flag.
package client
