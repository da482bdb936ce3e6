package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Métricas del core de autorización. Package propio para evitar ciclos de
// import entre authn, overload y las capas HTTP.

var (
	AuthAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_attempts_total",
		Help: "Resoluciones de credenciales por tier y resultado",
	}, []string{"tier", "result"}) // result: ok | anonymous | invalid | not_found

	TokensIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tokens_issued_total",
		Help: "Tokens firmados por tipo",
	}, []string{"type"}) // type: access | refresh

	DispatchResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "overload_dispatch_total",
		Help: "Resultados del dispatcher de variantes por endpoint",
	}, []string{"endpoint", "result"}) // result: matched | no_match | internal

	CodeLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "verification_code_lookups_total",
		Help: "Lookups de códigos de verificación por tipo y resultado",
	}, []string{"code_type", "result"})

	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_ms",
		Help:    "Latencia de requests HTTP en milisegundos",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"method", "route", "status"})
)

// Register registra todas las métricas en el registry dado (default si nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		AuthAttempts, TokensIssued, DispatchResults, CodeLookups, RequestDuration,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
