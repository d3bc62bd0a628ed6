package eventlog

import (
	"encoding/binary"
	"errors"
	"strings"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - c/{collection}/m             next id to assign (be8)
// - c/{collection}/e/{id_be8}    entries

var (
	collPrefix = []byte("c/")
	metaSuffix = []byte("/m")
	entrySeg   = []byte("/e/")
)

// ErrBadCollection rejects names that would break the key layout.
var ErrBadCollection = errors.New("eventlog: collection name must be non-empty and contain no '/'")

func validCollection(name string) bool {
	return name != "" && !strings.ContainsRune(name, '/')
}

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// KeyMeta builds the collection metadata key.
func KeyMeta(collection string) []byte {
	k := make([]byte, 0, len(collection)+8)
	k = append(k, collPrefix...)
	k = append(k, collection...)
	k = append(k, metaSuffix...)
	return k
}

// KeyEntryPrefix is shared by every entry key of a collection.
func KeyEntryPrefix(collection string) []byte {
	k := make([]byte, 0, len(collection)+16)
	k = append(k, collPrefix...)
	k = append(k, collection...)
	k = append(k, entrySeg...)
	return k
}

// KeyEntry builds the entry key with a big-endian id for proper ordering.
func KeyEntry(collection string, id uint64) []byte {
	return appendBE8(KeyEntryPrefix(collection), id)
}

func entryUpperBound(collection string) []byte {
	return append(KeyEntry(collection, ^uint64(0)), 0x00)
}

func idFromKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}
