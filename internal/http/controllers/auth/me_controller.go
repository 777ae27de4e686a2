// Package auth contiene los controllers de la sesión ya emitida.
package auth

import (
	"context"
	"net/http"

	"github.com/dropDatabas3/beout-auth/internal/auth"
	"github.com/dropDatabas3/beout-auth/internal/http/dto"
	httperrors "github.com/dropDatabas3/beout-auth/internal/http/errors"
	"github.com/dropDatabas3/beout-auth/internal/http/helpers"
	mw "github.com/dropDatabas3/beout-auth/internal/http/middlewares"
)

// UserSource devuelve el usuario de una sesión (login.Service lo implementa).
type UserSource interface {
	CurrentUser(ctx context.Context, userID string) (*auth.PublicUser, error)
}

// MeController maneja GET /auth/me.
type MeController struct {
	users UserSource
}

// NewMeController crea el controller.
func NewMeController(users UserSource) *MeController {
	return &MeController{users: users}
}

// Me requiere RequireSession antes en la cadena.
func (c *MeController) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := mw.GetUserID(ctx)
	if userID == "" {
		httperrors.WriteErrorCtx(ctx, w, httperrors.ErrTokenMissing)
		return
	}
	u, err := c.users.CurrentUser(ctx, userID)
	if err != nil {
		// Token válido pero el usuario ya no existe: para la app es una sesión inválida.
		appErr := httperrors.FromError(err)
		if appErr.HTTPStatus == http.StatusNotFound {
			appErr = httperrors.ErrTokenInvalid.WithCause(err)
		}
		httperrors.WriteErrorCtx(ctx, w, appErr)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.MeResponse{User: *u})
}
