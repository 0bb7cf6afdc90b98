package coordinator

import (
	"sort"

	"github.com/streamio/streamcoordinator/pkg/core/failfast"
)

// candidate is one (node, tail) pair eligible for election.
type candidate struct {
	Node Node
	Tail Tail
}

// leaderComparator orders candidates so that the best candidate sorts
// first. Two versions exist so that old logs replay deterministically.
type leaderComparator interface {
	// less reports whether a should be preferred over b.
	less(a, b candidate) bool
}

// correctedComparator sorts by (epoch DESC, offset DESC); empty tails sort
// last. This is the comparator all new state must use.
type correctedComparator struct{}

func (correctedComparator) less(a, b candidate) bool {
	if a.Tail.Empty != b.Tail.Empty {
		return !a.Tail.Empty // non-empty beats empty
	}
	if a.Tail.Empty {
		return false // both empty: stable, neither preferred
	}
	if a.Tail.Epoch != b.Tail.Epoch {
		return a.Tail.Epoch > b.Tail.Epoch
	}
	return a.Tail.Offset > b.Tail.Offset
}

// legacyComparatorV0 reproduces the faulty v0 comparator, preserved only
// for deterministic replay of logs written under machine version 0: it
// compares offset before epoch, which can pick a stale-epoch candidate
// over a fresher one.
type legacyComparatorV0 struct{}

func (legacyComparatorV0) less(a, b candidate) bool {
	if a.Tail.Empty != b.Tail.Empty {
		return !a.Tail.Empty
	}
	if a.Tail.Empty {
		return false
	}
	if a.Tail.Offset != b.Tail.Offset {
		return a.Tail.Offset > b.Tail.Offset
	}
	return a.Tail.Epoch > b.Tail.Epoch
}

// comparatorForVersion selects the comparator to use for a given
// meta.MachineVersion, as described in the election comparator
// versioning design note.
func comparatorForVersion(machineVersion int) leaderComparator {
	if machineVersion == 0 {
		return legacyComparatorV0{}
	}
	return correctedComparator{}
}

// selectLeader picks the best candidate under the comparator for
// machineVersion. candidates must be non-empty.
func selectLeader(candidates []candidate, machineVersion int) Node {
	failfast.If(len(candidates) > 0, "selectLeader called with no candidates")
	cmp := comparatorForVersion(machineVersion)
	sorted := append([]candidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return cmp.less(sorted[i], sorted[j])
	})
	return sorted[0].Node
}
