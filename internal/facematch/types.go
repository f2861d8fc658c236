// Package facematch resolves face descriptors against the enrolled identities.
// It is shared by the recognition and enrollment workflows so both apply the
// same distance metric, threshold and tie-break policy.
package facematch

// Identity is an enrolled person as seen by the matcher.
type Identity struct {
	Name       string
	Descriptor []float32
}

// Gallery is an ordered, read-only collection of identities.
// Iteration order is significant for PolicyFirstMatch.
type Gallery interface {
	Identities() []Identity
}

// NearestSearcher is implemented by galleries that carry a nearest-neighbour
// index. Nearest returns the closest identity at or below maxDist, with ties
// going to the earlier identity. The returned distance is the exact metric
// distance.
type NearestSearcher interface {
	Nearest(query []float32, maxDist float64) (Identity, float64, bool)
}

// Policy selects which identity wins when several are within the threshold.
type Policy string

const (
	// PolicyFirstMatch returns the first identity in gallery order within the threshold.
	PolicyFirstMatch Policy = "first"
	// PolicyClosest returns the identity with the smallest distance within the threshold.
	PolicyClosest Policy = "closest"
)

// ParsePolicy maps a config value to a Policy. Unknown values select PolicyFirstMatch.
func ParsePolicy(s string) Policy {
	if Policy(s) == PolicyClosest {
		return PolicyClosest
	}
	return PolicyFirstMatch
}
