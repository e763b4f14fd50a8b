package auth

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Identity is the resolved caller attached to the request context by the
// authentication gate.
type Identity struct {
	UserID           uint
	Email            string
	Permissions      []string
	SessionRevokedAt int64
}

type contextKey string

const identityContextKey contextKey = "identity"

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	return identity, ok
}

// Middleware hosts the two independent gates: credential validation and
// permission checking. Passing one never implies the other.
type Middleware struct {
	sessions   *SessionManager
	repository Repository
	log        *zap.Logger
}

func NewMiddleware(sessions *SessionManager, repo Repository, log *zap.Logger) *Middleware {
	return &Middleware{
		sessions:   sessions,
		repository: repo,
		log:        log,
	}
}

// Authenticate validates the bearer credential per the session manager's
// contract and attaches the resolved identity to the request context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			writeError(w, m.log, Unauthorized("unauthorized"))
			return
		}

		claims, err := m.sessions.ValidateCredential(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			m.log.Warn("credential validation failed", zap.Error(err))
			writeError(w, m.log, err)
			return
		}

		identity := &Identity{
			UserID:           claims.UserID,
			Email:            claims.Email,
			Permissions:      claims.Permissions,
			SessionRevokedAt: claims.SessionRevokedAt,
		}
		ctx := context.WithValue(r.Context(), identityContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission checks that the user addressed by the {id} path parameter
// holds the given permission through any of its roles. The check targets
// the path-parameter user, not the authenticated caller.
func (m *Middleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
			if err != nil {
				writeError(w, m.log, Invalid("invalid user id"))
				return
			}

			permissions, err := m.repository.GetUserPermissions(uint(userID))
			if err != nil {
				writeError(w, m.log, err)
				return
			}

			for _, p := range permissions {
				if p == permission {
					next.ServeHTTP(w, r)
					return
				}
			}

			writeError(w, m.log, Forbidden("access denied, insufficient permission: "+permission))
		})
	}
}
