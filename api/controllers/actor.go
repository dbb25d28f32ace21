package controllers

import (
	"net/http"

	"github.com/tidecrate/storefront/api/middleware"
	"github.com/tidecrate/storefront/internal/lifecycle"
	pkgerrors "github.com/tidecrate/storefront/pkg/errors"
)

// actorFromRequest reads the authenticated user the Auth middleware stored.
func actorFromRequest(r *http.Request) (lifecycle.Actor, error) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		return lifecycle.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	if !p.Role.IsValid() {
		return lifecycle.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "role context missing")
	}
	return lifecycle.Actor{UserID: p.UserID, Role: p.Role}, nil
}
