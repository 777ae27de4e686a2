package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Métricas de dominio. Viven en un paquete aparte para evitar ciclos entre
// sessionstore/login y la capa HTTP.

var (
	OAuthSessionEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beout_oauth_sessions_total",
		Help: "Eventos del session store de OAuth",
	}, []string{"event"}) // created|completed|failed|delivered|expired

	LoginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beout_logins_total",
		Help: "Logins por provider, flujo y resultado",
	}, []string{"provider", "flow", "result"}) // result: ok | <error code>

	IdentityOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beout_identity_resolutions_total",
		Help: "Resultados del resolver de identidad",
	}, []string{"outcome"}) // existing|linked|created

	ProviderExchangeLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "beout_provider_exchange_seconds",
		Help:    "Latencia del exchange de código contra el provider",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
)

// Register registra las métricas de dominio en reg (o el default si es nil).
// Duplicados se ignoran para que tests y binarios puedan llamarlo varias veces.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{OAuthSessionEvents, LoginsTotal, IdentityOutcomes, ProviderExchangeLatency} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

// SessionEvent incrementa el contador de eventos del session store.
func SessionEvent(event string) { OAuthSessionEvents.WithLabelValues(event).Inc() }

// Login registra el resultado de un login.
func Login(provider, flow, result string) {
	LoginsTotal.WithLabelValues(provider, flow, result).Inc()
}
