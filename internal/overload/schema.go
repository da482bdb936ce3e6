// Package overload implementa endpoints con N variantes mutuamente
// excluyentes de request/response. Cada variante declara un schema; el
// dispatcher valida el request contra todas, ejecuta la primera que matchea
// y, si ninguna matchea, fusiona las fallas en un único error accionable.
package overload

import "encoding/json"

// FieldKind es el tipo declarado de un campo del body.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindNumber FieldKind = "number"
	KindBool   FieldKind = "bool"
	KindObject FieldKind = "object"
	KindArray  FieldKind = "array"
)

// Field declara un campo esperado del body.
type Field struct {
	Name     string
	Kind     FieldKind
	Required bool
}

// Schema es un validador declarativo: tiers aceptados + forma del body.
// Tiers vacío acepta cualquier tier. Strict rechaza campos no declarados.
type Schema struct {
	Tiers  []string
	Fields []Field
	Strict bool
}

// Validate chequea tier y body contra el schema. Retorna la primera
// violación encontrada; el tier se chequea antes que los campos.
func (s Schema) Validate(tier string, body map[string]any) *SchemaError {
	if len(s.Tiers) > 0 && !contains(s.Tiers, tier) {
		return &SchemaError{
			Kind:            ErrInsufficientTier,
			RequestedTier:   tier,
			AcceptableTiers: append([]string(nil), s.Tiers...),
		}
	}
	return s.validateFields(body)
}

// validateFields chequea solo la forma del body. Los response schemas entran
// por acá directamente: el tier ya quedó resuelto al elegir el overload.
func (s Schema) validateFields(body map[string]any) *SchemaError {
	for _, f := range s.Fields {
		v, ok := body[f.Name]
		if !ok || v == nil {
			if f.Required {
				return &SchemaError{Kind: ErrMissingField, Field: f.Name}
			}
			continue
		}
		if !kindMatches(f.Kind, v) {
			return &SchemaError{Kind: ErrWrongFieldKind, Field: f.Name, Want: f.Kind}
		}
	}
	if s.Strict {
		declared := make(map[string]bool, len(s.Fields))
		for _, f := range s.Fields {
			declared[f.Name] = true
		}
		for name := range body {
			if !declared[name] {
				return &SchemaError{Kind: ErrUnknownField, Field: name}
			}
		}
	}
	return nil
}

// kindMatches acepta los tipos que produce encoding/json sobre map[string]any
// y los escalares de Go para responses construidos a mano.
func kindMatches(k FieldKind, v any) bool {
	switch k {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindNumber:
		switch v.(type) {
		case float64, float32, int, int64, int32, json.Number:
			return true
		}
		return false
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindObject:
		_, ok := v.(map[string]any)
		return ok
	case KindArray:
		switch v.(type) {
		case []any, []string, []map[string]any:
			return true
		}
		return false
	default:
		return false
	}
}

func contains(xs []string, x string) bool {
	for _, s := range xs {
		if s == x {
			return true
		}
	}
	return false
}
