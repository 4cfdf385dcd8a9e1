// Package presence routes live chat events to connected websocket clients.
//
// # Connections
//
// Every socket is wrapped in a Connection with its own buffered outbound
// queue and a single writer goroutine, so events for one client are written
// in the order they were routed. A client that lets its queue fill up is
// disconnected with close code 4008.
//
// # Routing
//
// Router keeps every open Connection and uses a session.Registry to find the
// one bound to a user. Events for users who are not bound are dropped without
// error; the durable write that produced them has already happened.
//
// Outbound events:
//
//	getOnlineUsers   ["userId", ...]                 every connection, on connect/disconnect
//	new-message      message + fullName/profilePic   sender and receiver
//	message-seen     {receiverId, seenMessages}      original sender
//	message-deleted  {messageId, deletedAt}          sender and receiver
//	typing           {senderId}                      receiver
//	stop-typing      {senderId}                      receiver
//	error            {message}                       the connection that sent a bad frame
//
// Inbound frames are mark-messages-seen {senderId}, typing and stop-typing
// {senderId, receiverId}. A bound connection always types as its own user.
package presence
