package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/dropDatabas3/multipass/internal/observability/logger"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// WriteJSON serializa v con el status dado.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError mapea err al envelope estándar y lo escribe. Los internos se
// loguean acá; el resto ya trae contexto de la capa que los produjo.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	httpErr := mapError(err)
	if httpErr.Status >= http.StatusInternalServerError {
		logger.From(r.Context()).Error("request failed",
			logger.Method(r.Method), logger.Path(r.URL.Path), logger.Err(err))
	}
	WriteJSON(w, httpErr.Status, httpErr)
}

// ReadBody decodifica el body JSON a un map. Body vacío es un map vacío.
func ReadBody(r *http.Request) (map[string]any, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, ErrBadRequest.WithDetail("cannot read request body")
	}
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, ErrInvalidJSON
	}
	if body == nil {
		body = map[string]any{}
	}
	return body, nil
}
