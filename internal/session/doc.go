// Package session tracks which users are online.
//
// A Registry maps a user ID to exactly one connection ID. Binding a user who
// is already bound replaces the old connection, so the most recent tab wins.
// Disconnect handlers should use UnbindConnection, which only removes the
// binding if it still belongs to the closing connection.
//
// The registry lives for the whole process and is never persisted. Every user
// is offline after a restart until they reconnect.
package session
