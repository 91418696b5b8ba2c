package client

// Result holds the outcome of a batch in input order. Failed positions hold
// nil in Values and the item's error in Errors.
type Result struct {
	Values []any
	Errors []error
	Keys   []string // nil when the batch carried no keys

	single bool
}

// Len returns the number of items.
func (r *Result) Len() int { return len(r.Values) }

// List returns the values in input order.
func (r *Result) List() []any { return r.Values }

// Map returns key → value, or nil when the batch had no keys.
func (r *Result) Map() map[string]any {
	if r.Keys == nil {
		return nil
	}
	out := make(map[string]any, len(r.Keys))
	for i, k := range r.Keys {
		out[k] = r.Values[i]
	}
	return out
}

// Get returns the value for key.
func (r *Result) Get(key string) (any, bool) {
	for i, k := range r.Keys {
		if k == key {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Value returns the batch in its natural shape: the bare value for a single
// URL request, the keyed map when keys were given, otherwise the list.
func (r *Result) Value() any {
	switch {
	case r.single && len(r.Values) == 1:
		return r.Values[0]
	case r.Keys != nil:
		return r.Map()
	default:
		return r.Values
	}
}

// Failed returns the number of failed items.
func (r *Result) Failed() int {
	n := 0
	for _, err := range r.Errors {
		if err != nil {
			n++
		}
	}
	return n
}
