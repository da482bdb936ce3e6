package overload

import "sort"

// kindPriority ordena qué errores suprimen a cuáles cuando conviven en el
// conjunto fusionado. Un error de campo es accionable; uno de tier solo dice
// "este overload no era para vos", así que los de campo lo suprimen.
func kindPriority(k ErrorKind) int {
	switch k {
	case ErrMissingField, ErrWrongFieldKind:
		return 3
	case ErrUnknownField:
		return 2
	case ErrInsufficientTier:
		return 1
	default:
		return 0
	}
}

// mergePair intenta fusionar dos errores en uno equivalente.
func mergePair(a, b *SchemaError) (*SchemaError, bool) {
	if a.equal(b) {
		return a.clone(), true
	}
	// Dos rechazos de tier para el MISMO tier pedido se unen en uno que
	// lista la unión de tiers aceptables.
	if a.Kind == ErrInsufficientTier && b.Kind == ErrInsufficientTier &&
		a.RequestedTier == b.RequestedTier {
		seen := map[string]bool{}
		var union []string
		for _, t := range append(append([]string(nil), a.AcceptableTiers...), b.AcceptableTiers...) {
			if !seen[t] {
				seen[t] = true
				union = append(union, t)
			}
		}
		sort.Strings(union)
		return &SchemaError{
			Kind:            ErrInsufficientTier,
			RequestedTier:   a.RequestedTier,
			AcceptableTiers: union,
		}, true
	}
	return nil, false
}

// mergeCauses reduce N fallas al conjunto mínimo equivalente: búsqueda por
// pares aplicada recursivamente hasta punto fijo, después supresión por
// prioridad de kind. El costo es superlineal en N; el caller acota N con
// MaxOverloads antes de llamar.
func mergeCauses(causes []*SchemaError) []*SchemaError {
	reduced := reducePairs(causes)

	max := 0
	for _, c := range reduced {
		if p := kindPriority(c.Kind); p > max {
			max = p
		}
	}
	var kept []*SchemaError
	for _, c := range reduced {
		if kindPriority(c.Kind) == max {
			kept = append(kept, c)
		}
	}
	return kept
}

func reducePairs(causes []*SchemaError) []*SchemaError {
	for i := 0; i < len(causes); i++ {
		for j := i + 1; j < len(causes); j++ {
			m, ok := mergePair(causes[i], causes[j])
			if !ok {
				continue
			}
			next := make([]*SchemaError, 0, len(causes)-1)
			next = append(next, causes[:i]...)
			next = append(next, m)
			next = append(next, causes[i+1:j]...)
			next = append(next, causes[j+1:]...)
			return reducePairs(next)
		}
	}
	return causes
}
