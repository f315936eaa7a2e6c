package query

import "context"

// Grouped is the accumulator's output: every value observed for a field
// across all continuation rounds, in arrival order. It is the sole input
// to a property's extraction function.
type Grouped map[string][]any

// First returns the first accumulated value for field.
func (g Grouped) First(field string) (any, bool) {
	values := g[field]
	if len(values) == 0 {
		return nil, false
	}
	return values[0], true
}

// Accumulate drains the walker, grouping its fragments by field name.
// Sequence-valued fragments are flattened into the field's accumulated
// sequence; scalar values are appended as single elements. A walker error
// discards the partial accumulation.
func Accumulate(ctx context.Context, w *Walker) (Grouped, error) {
	grouped := make(Grouped)
	for {
		frag, ok, err := w.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return grouped, nil
		}
		if list, isList := frag.Value.([]any); isList {
			grouped[frag.Field] = append(grouped[frag.Field], list...)
		} else {
			grouped[frag.Field] = append(grouped[frag.Field], frag.Value)
		}
	}
}
