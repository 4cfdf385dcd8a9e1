// Package cache provides the read-through/write-invalidate cache in front of
// the message store.
//
// # Backends
//
// Backend is a small string key-value port. RedisBackend talks to a Redis
// server through go-redis; MemoryBackend keeps entries in process and is used
// for single-node deployments and tests.
//
// # Layer
//
// Layer stores two kinds of entries as JSON:
//
//	users:except:<requesterId>     user list shown to a requester (300s)
//	messages:<sortedA>:<sortedB>   full conversation for a pair (120s)
//
// Entries are invalidated after every durable change and never edited in
// place. A racing reader may repopulate a stale entry between the store write
// and the invalidation; the TTL bounds how long that can last.
package cache
