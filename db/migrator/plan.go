package migrator

import (
	"fmt"
	"math"
	"slices"
)

// RollbackAll is a steps value that selects every executed unit.
const RollbackAll = math.MaxInt

// validate checks that every declared unit has a name and an apply body, and
// that names are unique.
func validate[H any](declared []Unit[H]) error {
	seen := make(map[string]struct{}, len(declared))
	for i, u := range declared {
		if u.Name == "" {
			return fmt.Errorf("unit at position %d has no name", i)
		}
		if u.Apply == nil {
			return fmt.Errorf("unit %s has no apply function", u.Name)
		}
		if _, ok := seen[u.Name]; ok {
			return DuplicateNameError{Name: u.Name}
		}
		seen[u.Name] = struct{}{}
	}

	return nil
}

// Pending returns the declared units that are not executed, in declared order.
func Pending[H any](declared []Unit[H], executed []string) []Unit[H] {
	done := nameSet(executed)
	pending := make([]Unit[H], 0, len(declared))
	for _, u := range declared {
		if _, ok := done[u.Name]; !ok {
			pending = append(pending, u)
		}
	}

	return pending
}

// RollbackCandidates returns the declared units that are executed, in reverse
// declared order, limited to steps units. A steps value of zero or less
// selects none; use RollbackAll to select all of them.
func RollbackCandidates[H any](declared []Unit[H], executed []string, steps int) []Unit[H] {
	if steps <= 0 {
		return []Unit[H]{}
	}

	done := nameSet(executed)
	candidates := make([]Unit[H], 0, len(executed))
	for _, u := range slices.Backward(declared) {
		if _, ok := done[u.Name]; ok {
			candidates = append(candidates, u)
		}
	}

	if steps < len(candidates) {
		candidates = candidates[:steps]
	}

	return candidates
}

func nameSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
