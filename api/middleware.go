/*
middleware.go - Actor resolution and role guards

PURPOSE:
  Every /api request carries the caller's user ID in the X-User-ID header.
  The session layer in front of this service sets it after login.
  Authenticate resolves it to a donation.Actor and stores it in the request
  context; RequireRole rejects callers without one of the given roles.

RESPONSES:
  - 401: header missing, malformed, or unknown user
  - 403: account inactive, or role not allowed

SEE ALSO:
  - server.go: Where the guards are mounted
*/
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/warp/donation-ledger/donation"
)

// HeaderUserID names the header holding the authenticated user ID.
const HeaderUserID = "X-User-ID"

type ctxKey int

const actorKey ctxKey = iota

// WithActor returns a copy of ctx carrying a.
func WithActor(ctx context.Context, a donation.Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// ActorFrom returns the actor stored by Authenticate.
func ActorFrom(ctx context.Context) (donation.Actor, bool) {
	a, ok := ctx.Value(actorKey).(donation.Actor)
	return a, ok
}

// Authenticate resolves the X-User-ID header into an active actor.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "Missing "+HeaderUserID+" header", nil)
			return
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusUnauthorized, "Invalid "+HeaderUserID+" header", nil)
			return
		}

		u, err := h.Users.GetUser(r.Context(), donation.UserID(id))
		if errors.Is(err, donation.ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, "Unknown user", nil)
			return
		}
		if err != nil {
			h.log().Error("actor lookup failed", zap.Int64("user_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Internal server error", nil)
			return
		}
		if !u.Active() {
			writeError(w, http.StatusForbidden, "Account is inactive", nil)
			return
		}

		ctx := WithActor(r.Context(), donation.Actor{ID: u.ID, Role: u.Role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole allows the request through only for the given roles.
func RequireRole(roles ...donation.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a, ok := ActorFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "Not authenticated", nil)
				return
			}
			if !a.Can(roles...) {
				writeError(w, http.StatusForbidden, "Forbidden", donation.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
