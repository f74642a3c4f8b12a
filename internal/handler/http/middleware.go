package http

import (
	"net/http"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/hlog"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/auth"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// RequireIdentity reads the caller asserted by the gateway. Requests without
// a valid user id are rejected with 401.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.FromString(strings.TrimSpace(r.Header.Get(HeaderUserID)))
		if err != nil || userID == uuid.Nil {
			hlog.FromRequest(r).Warn().Str("path", r.URL.Path).Msg("Request without a valid user id")
			respondWithError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		role := auth.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole))))
		if role == "" {
			role = auth.RoleUser
		}
		if !role.Valid() {
			respondWithError(w, http.StatusUnauthorized, "Unknown role")
			return
		}

		ctx := auth.WithIdentity(r.Context(), auth.Identity{UserID: userID, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFrom(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}
