package arb

// Relation is the logical relationship between two binary-event markets.
type Relation int

const (
	// Independent carries no constraint and is dropped when the polytope
	// is built.
	Independent Relation = iota
	// Implies encodes market i => market j, i.e. p_i <= p_j.
	Implies
	// Mutex encodes that markets i and j cannot both resolve YES: p_i + p_j <= 1.
	Mutex
	// ExactlyOne encodes a two-outcome partition: p_i + p_j = 1.
	ExactlyOne
)

// String returns the relation's name, used in test output and logging by callers.
func (r Relation) String() string {
	switch r {
	case Implies:
		return "IMPLIES"
	case Mutex:
		return "MUTEX"
	case ExactlyOne:
		return "EXACTLY_ONE"
	default:
		return "INDEPENDENT"
	}
}

// Dependency is a triple (i, j, R): market indices and the relation
// between them. Indices refer to positions in the price vector passed
// to Build, CheckFeasibility and Optimize.
type Dependency struct {
	I        int
	J        int
	Relation Relation
}
