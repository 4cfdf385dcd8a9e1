// ABOUTME: HTTP middleware for JWT authentication on API and socket endpoints
// ABOUTME: Reads the token from the accessToken cookie or a Bearer header and loads the user

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/relay-gateway/internal/store"
)

// CookieName is the cookie carrying the access token.
const CookieName = "accessToken"

// Authentication failures beyond the token errors.
var (
	ErrMissingToken  = errors.New("missing token")
	ErrUnknownUser   = errors.New("user not found")
	ErrAccountLocked = errors.New("account locked")
)

// UserLookup defines what authentication needs from the user store
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// TokenFromRequest returns the access token from the cookie, falling back to
// the Authorization header. Returns "" when neither carries one.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		return ""
	}
	return token
}

// Authenticator turns a token into an AuthContext.
type Authenticator struct {
	users     UserLookup
	verifier  TokenVerifier
	blacklist *Blacklist
	logger    *slog.Logger
}

// NewAuthenticator creates an authenticator. blacklist may be nil to skip
// revocation checks.
func NewAuthenticator(users UserLookup, verifier TokenVerifier, blacklist *Blacklist, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		users:     users,
		verifier:  verifier,
		blacklist: blacklist,
		logger:    logger.With("component", "auth"),
	}
}

// Authenticate validates token and loads its user. Errors wrap ErrMissingToken,
// ErrRevokedToken, ErrInvalidToken, ErrExpiredToken, ErrMissingClaim,
// ErrUnknownUser or ErrAccountLocked; anything else is a backend failure.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*AuthContext, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	if a.blacklist != nil {
		revoked, err := a.blacklist.IsRevoked(ctx, token)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, ErrRevokedToken
		}
	}

	userID, err := a.verifier.Verify(token)
	if err != nil {
		return nil, err
	}

	user, err := a.users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.Locked {
		return nil, ErrAccountLocked
	}

	return &AuthContext{UserID: user.ID, User: user, Token: token}, nil
}

// Middleware rejects requests without a valid token and attaches the
// AuthContext to the rest.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx, err := a.Authenticate(r.Context(), TokenFromRequest(r))
		if err != nil {
			status, msg := FailureResponse(err)
			if status == http.StatusInternalServerError {
				a.logger.Error("authentication backend failure", "path", r.URL.Path, "error", err)
			}
			writeMessage(w, status, msg)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
	})
}

// FailureResponse maps an Authenticate error to a status code and client message.
func FailureResponse(err error) (int, string) {
	switch {
	case errors.Is(err, ErrMissingToken):
		return http.StatusUnauthorized, "Authentication required"
	case errors.Is(err, ErrRevokedToken):
		return http.StatusUnauthorized, "Token is blacklisted. Please log in again."
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrExpiredToken), errors.Is(err, ErrMissingClaim):
		return http.StatusUnauthorized, "Invalid authentication token"
	case errors.Is(err, ErrUnknownUser):
		return http.StatusNotFound, "User not found or deactivated"
	case errors.Is(err, ErrAccountLocked):
		return http.StatusForbidden, "Account is locked"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}
