package facematch

import "github.com/kozaktomas/facegate/internal/constants"

// Matcher compares a query descriptor against a gallery.
type Matcher struct {
	// Threshold is the largest distance still considered a match (inclusive).
	Threshold float64
	Policy    Policy
}

// NewMatcher creates a matcher. A non-positive threshold selects the default.
func NewMatcher(threshold float64, policy Policy) *Matcher {
	if threshold <= 0 {
		threshold = constants.DefaultMatchThreshold
	}
	if policy == "" {
		policy = PolicyFirstMatch
	}
	return &Matcher{Threshold: threshold, Policy: policy}
}

// Match resolves query to an identity. ok is false when the gallery is empty
// or no identity lies within the threshold.
func (m *Matcher) Match(query []float32, g Gallery) (Identity, float64, bool) {
	if g == nil {
		return Identity{}, 0, false
	}
	if m.Policy == PolicyClosest {
		return m.closest(query, g)
	}
	return m.first(query, g.Identities())
}

// IsDuplicate reports whether an enrollment candidate would match an existing identity.
func (m *Matcher) IsDuplicate(query []float32, g Gallery) bool {
	_, _, ok := m.Match(query, g)
	return ok
}

func (m *Matcher) first(query []float32, ids []Identity) (Identity, float64, bool) {
	for _, id := range ids {
		if d := EuclideanDistance(query, id.Descriptor); d <= m.Threshold {
			return id, d, true
		}
	}
	return Identity{}, 0, false
}

func (m *Matcher) closest(query []float32, g Gallery) (Identity, float64, bool) {
	if ns, ok := g.(NearestSearcher); ok {
		return ns.Nearest(query, m.Threshold)
	}

	var (
		best     Identity
		bestDist float64
		found    bool
	)
	for _, id := range g.Identities() {
		d := EuclideanDistance(query, id.Descriptor)
		if d > m.Threshold {
			continue
		}
		// strict less-than keeps the earlier identity on ties
		if !found || d < bestDist {
			best, bestDist, found = id, d, true
		}
	}
	return best, bestDist, found
}
