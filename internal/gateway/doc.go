// Package gateway orchestrates the relay-gateway server components.
//
// # Overview
//
// The gateway package wires the store, the cache backend, the session
// registry, the presence router, and the conversation service behind one
// HTTP server. It owns their lifecycle.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)   // opens store and cache, fatal if unreachable
//	err = gw.Run(ctx)                     // blocks until ctx is canceled
//
// On shutdown the HTTP server stops accepting requests, every socket is
// closed with 1001 (going away), and the cache backend and store are closed.
// Errors from each step are collected and returned together.
//
// # HTTP API
//
// All API responses are JSON. Errors and bare acknowledgements use
// {"message": "..."}.
//
//	GET  /api/messages/users                        other users (404 when none)
//	GET  /api/messages/{id}                         conversation with {id}, marks it seen
//	POST /api/messages/send/{id}                    {text?, image?} -> 201
//	POST /api/messages/deleteMessageForEveryone/{id}
//	POST /api/auth/logout                           blacklists the token, clears the cookie
//	GET  /api/auth/check-auth
//	PUT  /api/auth/update-profile                   {profilePic}
//
// Everything but logout requires a token (accessToken cookie or Bearer header).
// /api/ is rate limited per client IP when ratelimit.requests_per_second is set.
//
// # Socket
//
//	GET /socket?userId=<id>
//
// A presented token decides the user; otherwise userId is trusted unless
// realtime.require_token is set. Without either the socket is anonymous: it
// receives online-user broadcasts but nothing addressed to a user.
//
// # Health
//
//	GET /health        liveness, always 200
//	GET /health/ready  200 when the store and cache both answer a ping
package gateway
