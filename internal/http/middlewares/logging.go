package middlewares

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap/zapcore"

	"github.com/dropDatabas3/beout-auth/internal/http/helpers"
	"github.com/dropDatabas3/beout-auth/internal/observability/logger"
)

// accessLevel: 5xx error, 4xx warn, resto info.
func accessLevel(status int) zapcore.Level {
	switch {
	case status >= 500:
		return zapcore.ErrorLevel
	case status >= 400:
		return zapcore.WarnLevel
	}
	return zapcore.InfoLevel
}

// WithLogging deja en el context un logger con request_id, método, path e IP,
// y escribe una línea de acceso al terminar. La query no se loguea nunca
// (ahí viajan codes y states).
func WithLogging() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := GetRequestID(r.Context())
			if rid == "" {
				rid = w.Header().Get("X-Request-ID")
			}
			reqLog := logger.L().With(
				logger.RequestID(rid),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.ClientIP(helpers.ClientIP(r)),
			)

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			began := time.Now()
			next.ServeHTTP(ww, r.WithContext(logger.ToContext(r.Context(), reqLog)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if ce := reqLog.Check(accessLevel(status), "request"); ce != nil {
				ce.Write(
					logger.Status(status),
					logger.Bytes(ww.BytesWritten()),
					logger.Duration(time.Since(began)),
				)
			}
		})
	}
}
