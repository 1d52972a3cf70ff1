// Package record implements the ordered field map that flows between
// transform steps. Field order is part of the record's identity: both
// execution paths must produce byte-identical JSON, so insertion order is
// tracked explicitly instead of relying on Go map iteration.
package record

// Record is an ordered mapping from field names to dynamically typed
// values: nil, bool, float64, string, []any, or *Record for nested
// mappings. A Record is owned exclusively by the step that produced it.
type Record struct {
	keys []string
	vals map[string]any
}

func New() *Record {
	return &Record{vals: make(map[string]any)}
}

func (r *Record) Len() int { return len(r.keys) }

// Keys returns the field names in insertion order. The slice is a copy.
func (r *Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

func (r *Record) Get(name string) (any, bool) {
	v, ok := r.vals[name]
	return v, ok
}

func (r *Record) Has(name string) bool {
	_, ok := r.vals[name]
	return ok
}

// Set writes a field. An existing field keeps its position; a new field is
// appended.
func (r *Record) Set(name string, v any) {
	if _, ok := r.vals[name]; !ok {
		r.keys = append(r.keys, name)
	}
	r.vals[name] = v
}

// Delete removes a field if present. Absent fields are a no-op.
func (r *Record) Delete(name string) {
	if _, ok := r.vals[name]; !ok {
		return
	}
	delete(r.vals, name)
	for i, k := range r.keys {
		if k == name {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			break
		}
	}
}

// Clone returns an isolated deep copy. No value in the copy aliases the
// original, so a step may mutate its copy freely.
func (r *Record) Clone() *Record {
	out := &Record{
		keys: make([]string, len(r.keys)),
		vals: make(map[string]any, len(r.vals)),
	}
	copy(out.keys, r.keys)
	for k, v := range r.vals {
		out.vals[k] = cloneValue(v)
	}
	return out
}

// CloneValue deep-copies a single record value.
func CloneValue(v any) any { return cloneValue(v) }

func cloneValue(v any) any {
	switch t := v.(type) {
	case *Record:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		// nil, bool, float64, string are value types
		return v
	}
}

// Equal compares two records by their serialized form, field order
// included.
func Equal(a, b *Record) bool {
	ab, aerr := a.MarshalJSON()
	bb, berr := b.MarshalJSON()
	if aerr != nil || berr != nil {
		return false
	}
	return string(ab) == string(bb)
}
