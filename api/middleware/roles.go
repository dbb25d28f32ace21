package middleware

import (
	"net/http"

	"github.com/tidecrate/storefront/api/responses"
	"github.com/tidecrate/storefront/pkg/enums"
	pkgerrors "github.com/tidecrate/storefront/pkg/errors"
	"github.com/tidecrate/storefront/pkg/logger"
)

// RequireRole admits principals holding one of roles. It must run after Auth;
// a request without a principal is unauthorized rather than forbidden.
func RequireRole(logg *logger.Logger, roles ...enums.AppRole) func(http.Handler) http.Handler {
	allowed := make(map[enums.AppRole]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			if _, ok := allowed[p.Role]; !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Newf(pkgerrors.CodeForbidden, "role %s may not use this route", p.Role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
