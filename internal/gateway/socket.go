// ABOUTME: Websocket endpoint binding client sockets to users for live events
// ABOUTME: Resolves identity from a token or the userId query, then runs the read loop

package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/relay-gateway/internal/auth"
	"github.com/2389/relay-gateway/internal/presence"
)

// maxFrameBytes caps one inbound client frame. Clients only send small
// control events; messages go through the HTTP API.
const maxFrameBytes = 64 << 10

// handleSocket handles GET /socket?userId=<id>.
func (g *Gateway) handleSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := g.socketIdentity(r)
	if err != nil {
		status, msg := auth.FailureResponse(err)
		if status == http.StatusInternalServerError {
			g.logger.Error("socket authentication backend failure", "error", err)
		}
		writeMessage(w, status, msg)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response
		g.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := presence.NewConnection(ws, userID, presence.ConnectionOptions{
		SendBuffer:   g.config.Realtime.SendBuffer,
		PingInterval: g.config.Realtime.PingInterval,
	})
	g.router.Connect(conn)
	defer g.router.Disconnect(conn)

	// Clients answer each ping; two missed intervals means the peer is gone
	readTimeout := 2 * g.config.Realtime.PingInterval
	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	ctx := r.Context()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				g.logger.Debug("socket read ended", "conn_id", conn.ID, "user_id", conn.UserID, "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
		g.router.HandleFrame(ctx, conn, data)
	}
}

// socketIdentity returns the user a new socket speaks for. A presented token
// must be valid and wins over the userId query parameter. Without a token the
// query parameter is trusted unless realtime.require_token is set; an empty
// result is an anonymous socket.
func (g *Gateway) socketIdentity(r *http.Request) (string, error) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	if token != "" {
		authCtx, err := g.auth.Authenticate(r.Context(), token)
		if err != nil {
			return "", err
		}
		return authCtx.UserID, nil
	}

	if g.config.Realtime.RequireToken {
		return "", auth.ErrMissingToken
	}
	return r.URL.Query().Get("userId"), nil
}
