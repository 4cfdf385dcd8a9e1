// Package store provides persistent storage for users and direct messages.
//
// # Architecture
//
// The package is interface-driven:
//
//   - MessageStore: create, fetch, list a two-party conversation, mark seen, mark deleted
//   - UserStore: the user population chats are drawn from
//   - Store: both of the above plus Ping and Close
//
// Three implementations satisfy Store:
//
//   - SQLiteStore: embedded database via modernc.org/sqlite (default)
//   - MongoStore: document store via the official mongo-driver
//   - MockStore: in-memory, used by tests across the module
//
// All three pass the same conformance suite (conformance_test.go).
//
// # Message lifecycle
//
// Messages are created unseen and not deleted. MarkSeen moves every unseen
// message in one direction of a conversation to seen with a single shared
// timestamp and returns a receipt per transitioned message. MarkDeleted is a
// conditional update: it only applies to a message sent by the caller that is
// not already deleted, and reports ErrNotFound otherwise. Deletion is logical;
// text and image stay in storage.
//
// # Timestamps
//
// SQLite stores timestamps as fixed-width UTC text so ORDER BY created_at is
// chronological. MongoStore truncates to milliseconds, the precision of BSON
// dates, so values read back compare equal to values written.
package store
