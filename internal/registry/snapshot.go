package registry

import (
	"slices"
	"time"

	"github.com/kozaktomas/facegate/internal/constants"
	"github.com/kozaktomas/facegate/internal/facematch"
)

// Snapshot is an immutable, ordered view of the enrolled identities. A new
// snapshot is built by every successful reload and swapped in atomically.
type Snapshot struct {
	identities []facematch.Identity
	generation uint64
	builtAt    time.Time
	index      *hnswIndex
}

func newSnapshot(ids []facematch.Identity, generation uint64, indexThreshold int) *Snapshot {
	s := &Snapshot{
		identities: ids,
		generation: generation,
		builtAt:    time.Now(),
	}
	if indexThreshold > 0 && len(ids) >= indexThreshold {
		s.index = newHNSWIndex(ids)
	}
	return s
}

// Identities returns the identities in name order. The slice is shared and
// must not be modified.
func (s *Snapshot) Identities() []facematch.Identity {
	return s.identities
}

// Nearest returns the closest identity at or below maxDist. Large snapshots
// re-rank the HNSW candidates by exact distance and fall back to a linear scan
// when no candidate is within maxDist, so an index miss never turns a match
// into no match. A closer identity the graph did not surface can still lose to
// a candidate within maxDist. Ties go to the earlier identity.
func (s *Snapshot) Nearest(query []float32, maxDist float64) (facematch.Identity, float64, bool) {
	if s.index != nil {
		positions := s.index.candidates(query, constants.HNSWEfSearch)
		slices.Sort(positions)
		if id, d, ok := s.closestOf(query, maxDist, positions); ok {
			return id, d, true
		}
	}
	return s.closestOf(query, maxDist, nil)
}

// closestOf scans the identities at positions, or all identities when
// positions is nil, in snapshot order.
func (s *Snapshot) closestOf(query []float32, maxDist float64, positions []int) (facematch.Identity, float64, bool) {
	var (
		best     facematch.Identity
		bestDist float64
		found    bool
	)
	consider := func(id facematch.Identity) {
		d := facematch.EuclideanDistance(query, id.Descriptor)
		if d > maxDist {
			return
		}
		if !found || d < bestDist {
			best, bestDist, found = id, d, true
		}
	}
	if positions == nil {
		for _, id := range s.identities {
			consider(id)
		}
	} else {
		for _, pos := range positions {
			consider(s.identities[pos])
		}
	}
	return best, bestDist, found
}

// Len returns the number of identities.
func (s *Snapshot) Len() int {
	return len(s.identities)
}

// Names returns the identity names in snapshot order.
func (s *Snapshot) Names() []string {
	names := make([]string, len(s.identities))
	for i, id := range s.identities {
		names[i] = id.Name
	}
	return names
}

// Generation is incremented by every successful reload. The initial empty
// snapshot has generation 0.
func (s *Snapshot) Generation() uint64 {
	return s.generation
}

// BuiltAt returns when the snapshot was built.
func (s *Snapshot) BuiltAt() time.Time {
	return s.builtAt
}

// Indexed reports whether the snapshot carries an HNSW index.
func (s *Snapshot) Indexed() bool {
	return s.index != nil
}
