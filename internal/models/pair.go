package models

// Pair is an unordered pair of user ids stored in canonical order (A < B),
// so that {x, y} and {y, x} map to the same unique index entry.
type Pair struct {
	A string
	B string
}

// NewPair builds the canonical form of the pair {u1, u2}.
func NewPair(u1, u2 string) Pair {
	if u2 < u1 {
		u1, u2 = u2, u1
	}
	return Pair{A: u1, B: u2}
}

// Contains reports whether id is one of the two members.
func (p Pair) Contains(id string) bool {
	return id == p.A || id == p.B
}

// Other returns the member that is not id.
func (p Pair) Other(id string) string {
	if id == p.A {
		return p.B
	}
	return p.A
}
