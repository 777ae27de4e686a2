// Package audit emite eventos de auditoría de login. Hoy el sink es un logger
// zap dedicado ("audit"); los campos nunca incluyen tokens ni codes.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/beout-auth/internal/observability/logger"
)

// Eventos.
const (
	EventLoginSucceeded = "login.succeeded"
	EventLoginFailed    = "login.failed"
	EventAccountLinked  = "account.linked"
)

// Log escribe un evento estructurado con el request_id del contexto si existe.
func Log(ctx context.Context, event string, fields ...zap.Field) {
	base := []zap.Field{
		zap.String("event", event),
		zap.Time("ts", time.Now().UTC()),
	}
	logger.From(ctx).Named("audit").Info(event, append(base, fields...)...)
}
