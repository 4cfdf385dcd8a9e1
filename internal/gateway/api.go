// ABOUTME: HTTP API handlers for users, conversations, messages, and the auth session
// ABOUTME: Maps conversation service errors to status codes and {"message": ...} bodies

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/2389/relay-gateway/internal/auth"
	"github.com/2389/relay-gateway/internal/conversation"
	"github.com/2389/relay-gateway/internal/presence"
	"github.com/2389/relay-gateway/internal/store"
)

// maxJSONOverhead is added to the image limit to bound request bodies. Base64
// inflates the image by a third.
const maxJSONOverhead = 64 << 10

// SendMessageRequest is the JSON request body for POST /api/messages/send/{id}.
// Image is a data URI.
type SendMessageRequest struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

// SendMessageResponse is the JSON response for a sent message.
type SendMessageResponse struct {
	Message string                  `json:"message"`
	Payload presence.MessagePayload `json:"messagePayloadUpdatedWithSenderInfo"`
}

// UpdateProfileRequest is the JSON request body for PUT /api/auth/update-profile.
type UpdateProfileRequest struct {
	ProfilePic string `json:"profilePic"`
}

// UserResponse pairs a status message with a user.
type UserResponse struct {
	Message string      `json:"message"`
	User    *store.User `json:"user"`
}

// MessageResponse is the body of every error and bare acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// apiHandler routes /api/. Everything except logout requires authentication.
func (g *Gateway) apiHandler() http.Handler {
	protected := http.NewServeMux()
	protected.HandleFunc("GET /api/messages/users", g.handleListUsers)
	protected.HandleFunc("GET /api/messages/{id}", g.handleGetConversation)
	protected.HandleFunc("POST /api/messages/send/{id}", g.handleSendMessage)
	protected.HandleFunc("POST /api/messages/deleteMessageForEveryone/{id}", g.handleDeleteMessage)
	protected.HandleFunc("GET /api/auth/check-auth", g.handleCheckAuth)
	protected.HandleFunc("PUT /api/auth/update-profile", g.handleUpdateProfile)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/logout", g.handleLogout)
	mux.Handle("/api/", g.auth.Middleware(protected))
	return mux
}

// handleListUsers handles GET /api/messages/users.
func (g *Gateway) handleListUsers(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	users, err := g.conversation.ListOthers(r.Context(), authCtx.UserID)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// handleGetConversation handles GET /api/messages/{id} where id is the partner.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	msgs, err := g.conversation.FetchConversation(r.Context(), authCtx.UserID, r.PathValue("id"))
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// handleSendMessage handles POST /api/messages/send/{id} where id is the receiver.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req SendMessageRequest
	if err := g.decodeBody(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, bodyErrorMessage(err))
		return
	}

	payload, err := g.conversation.Send(r.Context(), conversation.SendRequest{
		SenderID:   authCtx.UserID,
		ReceiverID: r.PathValue("id"),
		Text:       req.Text,
		Image:      req.Image,
	})
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, SendMessageResponse{
		Message: "Message sent successfully",
		Payload: payload,
	})
}

// handleDeleteMessage handles POST /api/messages/deleteMessageForEveryone/{id}.
func (g *Gateway) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	if _, err := g.conversation.DeleteForEveryone(r.Context(), authCtx.UserID, r.PathValue("id")); err != nil {
		g.writeServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Message deleted for everyone")
}

// handleCheckAuth handles GET /api/auth/check-auth.
func (g *Gateway) handleCheckAuth(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	writeJSON(w, http.StatusOK, UserResponse{Message: "User is authenticated", User: authCtx.User})
}

// handleUpdateProfile handles PUT /api/auth/update-profile.
func (g *Gateway) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req UpdateProfileRequest
	if err := g.decodeBody(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, bodyErrorMessage(err))
		return
	}

	user, err := g.conversation.UpdateProfilePic(r.Context(), authCtx.UserID, req.ProfilePic)
	if err != nil {
		g.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{Message: "Profile picture updated successfully", User: user})
}

// handleLogout handles POST /api/auth/logout. The presented token, if any, is
// blacklisted for the rest of its lifetime and the cookie is cleared.
func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := auth.TokenFromRequest(r); token != "" {
		if err := g.blacklist.Revoke(r.Context(), token); err != nil {
			g.logger.Error("failed to blacklist token at logout", "error", err)
			writeMessage(w, http.StatusInternalServerError, "Logout failed. Please try again later.")
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   g.config.Auth.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	writeMessage(w, http.StatusOK, "Logout successful")
}

var errBodyTooLarge = errors.New("request body too large")

// decodeBody reads one JSON object from the request, bounded by the image limit.
func (g *Gateway) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	limit := g.config.Messages.MaxImageBytes*4/3 + maxJSONOverhead
	body := http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	return nil
}

func bodyErrorMessage(err error) string {
	if errors.Is(err, errBodyTooLarge) {
		return "Request body too large"
	}
	return "Invalid JSON body"
}

// serviceFailure maps a conversation service error to a status code and client message.
func serviceFailure(err error) (int, string) {
	switch {
	case errors.Is(err, conversation.ErrNoUsers):
		return http.StatusNotFound, "No users found"
	case errors.Is(err, conversation.ErrForbidden):
		return http.StatusForbidden, conversation.Message(err, "Forbidden")
	case errors.Is(err, conversation.ErrValidation),
		errors.Is(err, conversation.ErrNotFound),
		errors.Is(err, conversation.ErrPolicy):
		return http.StatusBadRequest, conversation.Message(err, "Bad request")
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func (g *Gateway) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := serviceFailure(err)
	if status == http.StatusInternalServerError {
		g.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeMessage(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageResponse{Message: msg})
}
