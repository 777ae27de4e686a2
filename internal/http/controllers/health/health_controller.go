// Package health contiene el controller de liveness y readiness.
package health

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/dropDatabas3/beout-auth/internal/http/helpers"
	"github.com/dropDatabas3/beout-auth/internal/observability/logger"
)

// Pinger es cualquier dependencia que sabe reportar si responde.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapta una función a Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Response es el body de /readyz.
type Response struct {
	Status     string            `json:"status"`
	Version    string            `json:"version,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}

// Controller maneja /healthz y /readyz.
type Controller struct {
	checks  map[string]Pinger
	version string
	timeout time.Duration
}

// NewController crea el controller. checks se pinguean en /readyz (db, session_store, ...).
func NewController(version string, checks map[string]Pinger) *Controller {
	return &Controller{checks: checks, version: version, timeout: 2 * time.Second}
}

// Healthz es liveness: si el proceso responde, está vivo.
func (c *Controller) Healthz(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, Response{Status: "ok", Version: c.version})
}

// Readyz pinguea cada dependencia; cualquier falla es 503.
func (c *Controller) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
	defer cancel()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("HealthController.Readyz"))

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := Response{Status: "ready", Version: c.version, Components: map[string]string{}}
	for _, name := range names {
		if err := c.checks[name].Ping(ctx); err != nil {
			log.Warn("dependency not ready", logger.Component(name), logger.Err(err))
			resp.Components[name] = "down"
			resp.Status = "unavailable"
			continue
		}
		resp.Components[name] = "up"
	}

	status := http.StatusOK
	if resp.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	helpers.WriteJSON(w, status, resp)
}
