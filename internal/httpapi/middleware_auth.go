package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/factorial-io/scotty-sub002/internal/apierr"
	"github.com/factorial-io/scotty-sub002/internal/logging"
	"github.com/factorial-io/scotty-sub002/internal/model"
)

type principalKeyType struct{}

var principalKey principalKeyType

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header {
			writeError(w, apierr.New(apierr.Unauthenticated, "missing bearer authorization header"))
			return
		}

		principal, err := s.resolver.Resolve(token)
		if err != nil {
			writeError(w, apierr.As(err))
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		ctx = logging.WithPrincipal(ctx, principal.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(r *http.Request) (model.Principal, bool) {
	p, ok := r.Context().Value(principalKey).(model.Principal)
	return p, ok
}

// authorize checks the caller's permission against scope, writing a
// Forbidden response and returning false if denied.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, perm model.Permission, scope string) bool {
	principal, ok := principalFrom(r)
	if !ok {
		writeError(w, apierr.New(apierr.Unauthenticated, "no principal on request"))
		return false
	}
	if err := s.resolver.Authorize(principal, perm, scope); err != nil {
		writeError(w, apierr.As(err))
		return false
	}
	return true
}
