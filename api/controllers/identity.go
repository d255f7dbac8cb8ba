package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/pharmacy-backend/api/middleware"
	"github.com/angelmondragon/pharmacy-backend/internal/orders"
	"github.com/angelmondragon/pharmacy-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pharmacy-backend/pkg/errors"
)

// UserID reads the authenticated user id from the request context.
func UserID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return id, nil
}

// URLParamUUID parses a required uuid path parameter.
func URLParamUUID(r *http.Request, name, label string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, label+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+label)
	}
	return id, nil
}

// Caller builds the order-level caller from the authenticated identity.
func Caller(r *http.Request) (orders.Caller, error) {
	userID, err := UserID(r)
	if err != nil {
		return orders.Caller{}, err
	}
	role := enums.ActorRole(middleware.RoleFromContext(r.Context()))
	if !role.IsValid() {
		return orders.Caller{}, pkgerrors.New(pkgerrors.CodeForbidden, "unknown role")
	}
	return orders.Caller{UserID: userID, Role: role}, nil
}
