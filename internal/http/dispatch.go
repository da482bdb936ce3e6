package http

import (
	"errors"
	"net/http"

	"github.com/dropDatabas3/multipass/internal/metrics"
	"github.com/dropDatabas3/multipass/internal/overload"
)

// dispatchEndpoint lee el body, deja que mutate inyecte params de la URL y
// despacha por el endpoint de variantes, con métricas por resultado.
func dispatchEndpoint(w http.ResponseWriter, r *http.Request, name string, ep *overload.Endpoint, okStatus int, mutate func(map[string]any)) {
	body, err := ReadBody(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if mutate != nil {
		mutate(body)
	}

	out, err := ep.Dispatch(r.Context(), overload.Request{
		Tier: tierOf(IdentityFrom(r.Context())),
		Body: body,
	})
	if err != nil {
		switch {
		case isMatchFailure(err):
			metrics.DispatchResults.WithLabelValues(name, "no_match").Inc()
		case errors.Is(err, overload.ErrTooManyOverloads), errors.Is(err, overload.ErrBadResponse):
			metrics.DispatchResults.WithLabelValues(name, "internal").Inc()
		default:
			metrics.DispatchResults.WithLabelValues(name, "handler_error").Inc()
		}
		WriteError(w, r, err)
		return
	}
	metrics.DispatchResults.WithLabelValues(name, "matched").Inc()
	WriteJSON(w, okStatus, out)
}

func isMatchFailure(err error) bool {
	_, ok := overload.IsMatchError(err)
	return ok
}
