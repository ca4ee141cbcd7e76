// Package sets holds a tiny generic set used for name membership checks
// (configured selection keys, reserved output names). A map keyed by the
// element type is all it is; range works directly on it.
package sets

// Set is an unordered collection of unique comparable values.
type Set[T comparable] map[T]struct{}

// New builds a set from the given values.
func New[T comparable](vals ...T) Set[T] {
	s := make(Set[T], len(vals))
	for _, v := range vals {
		s[v] = struct{}{}
	}
	return s
}

// Add puts v into the set.
func (s Set[T]) Add(v T) { s[v] = struct{}{} }

// Has reports whether v is a member.
func (s Set[T]) Has(v T) bool {
	_, ok := s[v]
	return ok
}

// Delete drops v from the set if present.
func (s Set[T]) Delete(v T) { delete(s, v) }

// Clone copies the set; mutations of the copy do not affect the original.
func (s Set[T]) Clone() Set[T] {
	out := make(Set[T], len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}
