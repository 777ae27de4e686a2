package http

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/beout-auth/internal/metrics"
)

// unmatchedRoute agrupa 404s y paths fuera del router para no explotar la cardinalidad.
const unmatchedRoute = "unmatched"

var (
	metricsOnce sync.Once
	metricsErr  error

	reqTotal    *prometheus.CounterVec
	reqDuration *prometheus.HistogramVec
	reqInflight prometheus.Gauge
)

// MetricsConfig agrupa lo necesario para exponer /metrics.
type MetricsConfig struct {
	Registry prometheus.Registerer
	// Pool de Postgres; nil con SQLite.
	Pool func() *pgxpool.Pool
}

// RegisterMetrics registra las métricas HTTP, las de dominio y, si hay pool,
// sus gauges. Devuelve el handler para /metrics.
func RegisterMetrics(cfg MetricsConfig) (http.Handler, error) {
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	metricsOnce.Do(func() {
		reqTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beout_http_requests_total",
			Help: "Requests HTTP por ruta y status.",
		}, []string{"method", "route", "status"})
		reqDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "beout_http_request_duration_seconds",
			Help:    "Latencia por ruta.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route"})
		reqInflight = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "beout_http_inflight_requests",
			Help: "Requests en curso.",
		})
		metricsErr = register(reg, reqTotal, reqDuration, reqInflight)
	})
	if metricsErr != nil {
		return nil, metricsErr
	}
	if err := metrics.Register(reg); err != nil {
		return nil, err
	}
	if cfg.Pool != nil {
		if err := register(reg, poolGauges(cfg.Pool)...); err != nil {
			return nil, err
		}
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(g, promhttp.HandlerOpts{}), nil
	}
	return promhttp.Handler(), nil
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// WithMetrics etiqueta cada request con el patrón de chi (/mobile/poll/{challenge}),
// así los challenges nunca terminan como label. No-op si RegisterMetrics no corrió.
func WithMetrics(next http.Handler) http.Handler {
	if reqTotal == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqInflight.Inc()
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}

		defer func() {
			reqInflight.Dec()
			route := routeLabel(r)
			status := sw.status
			if status == 0 {
				status = http.StatusOK
			}
			reqDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			reqTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		}()
		next.ServeHTTP(sw, r)
	})
}

func routeLabel(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return unmatchedRoute
	}
	if p := rctx.RoutePattern(); p != "" && p != "/*" {
		return p
	}
	return unmatchedRoute
}

func register(reg prometheus.Registerer, cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// poolGauges lee pool.Stat() en cada scrape.
func poolGauges(pool func() *pgxpool.Pool) []prometheus.Collector {
	stat := func(f func(*pgxpool.Stat) int32) func() float64 {
		return func() float64 {
			p := pool()
			if p == nil {
				return 0
			}
			return float64(f(p.Stat()))
		}
	}
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: "beout_pg_pool_acquired_conns", Help: "Conexiones en uso."},
			stat((*pgxpool.Stat).AcquiredConns)),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: "beout_pg_pool_idle_conns", Help: "Conexiones ociosas."},
			stat((*pgxpool.Stat).IdleConns)),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: "beout_pg_pool_total_conns", Help: "Conexiones abiertas."},
			stat((*pgxpool.Stat).TotalConns)),
	}
}
