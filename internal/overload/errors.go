package overload

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorKind discrimina las fallas de validación de un schema.
type ErrorKind string

const (
	ErrInsufficientTier ErrorKind = "insufficient_access_tier"
	ErrMissingField     ErrorKind = "missing_field"
	ErrWrongFieldKind   ErrorKind = "wrong_field_kind"
	ErrUnknownField     ErrorKind = "unknown_field"
)

// SchemaError es la falla de un overload contra un request concreto.
// Los campos poblados dependen del Kind.
type SchemaError struct {
	Kind  ErrorKind
	Field string
	Want  FieldKind

	// Solo para ErrInsufficientTier.
	RequestedTier   string
	AcceptableTiers []string
}

func (e *SchemaError) Error() string {
	switch e.Kind {
	case ErrInsufficientTier:
		return fmt.Sprintf("access tier %q not accepted (need one of: %s)",
			e.RequestedTier, strings.Join(e.AcceptableTiers, ", "))
	case ErrMissingField:
		return fmt.Sprintf("missing required field %q", e.Field)
	case ErrWrongFieldKind:
		return fmt.Sprintf("field %q must be a %s", e.Field, e.Want)
	case ErrUnknownField:
		return fmt.Sprintf("unknown field %q", e.Field)
	default:
		return string(e.Kind)
	}
}

// equal es igualdad estructural: dos errores idénticos colapsan a uno al
// fusionar.
func (e *SchemaError) equal(o *SchemaError) bool {
	if e.Kind != o.Kind || e.Field != o.Field || e.Want != o.Want ||
		e.RequestedTier != o.RequestedTier {
		return false
	}
	if len(e.AcceptableTiers) != len(o.AcceptableTiers) {
		return false
	}
	for i := range e.AcceptableTiers {
		if e.AcceptableTiers[i] != o.AcceptableTiers[i] {
			return false
		}
	}
	return true
}

func (e *SchemaError) clone() *SchemaError {
	c := *e
	c.AcceptableTiers = append([]string(nil), e.AcceptableTiers...)
	return &c
}

// MatchError es el error fusionado cuando ningún overload matchea. Causes
// queda reducido al conjunto mínimo equivalente.
type MatchError struct {
	Endpoint string
	Causes   []*SchemaError
}

func (e *MatchError) Error() string {
	msgs := make([]string, len(e.Causes))
	for i, c := range e.Causes {
		msgs[i] = c.Error()
	}
	sort.Strings(msgs)
	return fmt.Sprintf("%s: no variant matched: %s", e.Endpoint, strings.Join(msgs, "; "))
}

// IsMatchError extrae el error fusionado si lo hay.
func IsMatchError(err error) (*MatchError, bool) {
	var me *MatchError
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}

var (
	// ErrTooManyOverloads: la fusión es combinatoria y está acotada por
	// MaxOverloads; pasarse es un bug de declaración del endpoint.
	ErrTooManyOverloads = errors.New("overload: too many variants declared for endpoint")

	// ErrBadResponse: el handler produjo un body que no valida contra su
	// propio response schema. Bug del handler, opaco para el caller.
	ErrBadResponse = errors.New("overload: handler response failed schema validation")
)
