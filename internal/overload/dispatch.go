package overload

import (
	"context"
	"fmt"

	"github.com/dropDatabas3/multipass/internal/observability/logger"
)

// MaxOverloads acota la fusión combinatoria de errores. Un endpoint real no
// necesita más variantes que esto; declararlas es un bug.
const MaxOverloads = 8

// Request es la entrada ya autenticada: el tier resuelto por el
// authenticator y el body decodificado.
type Request struct {
	Tier string
	Body map[string]any
}

// Handler ejecuta la variante elegida.
type Handler func(ctx context.Context, req Request) (map[string]any, error)

// Overload es una variante de un endpoint: discriminador, schema de entrada,
// schema de salida y handler.
type Overload struct {
	Key      string
	Request  Schema
	Response Schema
	Handler  Handler
}

// Endpoint es la lista ordenada de variantes. El orden de declaración decide
// entre múltiples matches.
type Endpoint struct {
	name      string
	overloads []Overload
}

func NewEndpoint(name string, ovs ...Overload) *Endpoint {
	return &Endpoint{name: name, overloads: ovs}
}

// Dispatch valida el request contra cada variante en orden. Ejecuta el
// handler de la PRIMERA que matchea y valida su salida contra el response
// schema de esa variante. Si ninguna matchea, fusiona las fallas en un único
// MatchError.
func (e *Endpoint) Dispatch(ctx context.Context, req Request) (map[string]any, error) {
	log := logger.From(ctx).With(logger.Layer("overload"), logger.Op(e.name))

	if len(e.overloads) > MaxOverloads {
		log.Error("endpoint declares too many variants",
			logger.Count(len(e.overloads)))
		return nil, ErrTooManyOverloads
	}

	var causes []*SchemaError
	for _, ov := range e.overloads {
		if serr := ov.Request.Validate(req.Tier, req.Body); serr != nil {
			causes = append(causes, serr)
			continue
		}
		out, err := ov.Handler(ctx, req)
		if err != nil {
			return nil, err
		}
		if serr := ov.Response.validateFields(out); serr != nil {
			log.Error("handler output failed its response schema",
				logger.Err(fmt.Errorf("variant %s: %w", ov.Key, serr)))
			return nil, fmt.Errorf("%w: variant %s", ErrBadResponse, ov.Key)
		}
		return out, nil
	}

	return nil, &MatchError{Endpoint: e.name, Causes: mergeCauses(causes)}
}
