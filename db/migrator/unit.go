package migrator

import (
	"cmp"
	"context"
	"slices"
)

// Func is the body of a unit, run against an engine handle.
type Func[H any] func(ctx context.Context, h H) error

// Migration is a named schema change. It must not be modified once declared.
type Migration[H any] struct {
	ID       int
	Name     string
	Apply    Func[H]
	Rollback Func[H]
}

// Seeder is a named population of reference data. Seeders run in ascending
// Order, regardless of the position they were declared at. Rollback is
// optional.
type Seeder[H any] struct {
	Name     string
	Order    int
	Run      Func[H]
	Rollback Func[H]
}

// Unit is the normalized form of a migration or a seeder consumed by runners.
type Unit[H any] struct {
	Name     string
	Apply    Func[H]
	Rollback Func[H]
}

// MigrationUnits converts migrations into units, keeping the declared order.
func MigrationUnits[H any](migrations []Migration[H]) []Unit[H] {
	units := make([]Unit[H], len(migrations))
	for i, m := range migrations {
		units[i] = Unit[H]{Name: m.Name, Apply: m.Apply, Rollback: m.Rollback}
	}
	return units
}

// SeederUnits converts seeders into units sorted by ascending Order. Seeders
// sharing an Order keep their declared relative position.
func SeederUnits[H any](seeders []Seeder[H]) []Unit[H] {
	sorted := slices.Clone(seeders)
	slices.SortStableFunc(sorted, func(a, b Seeder[H]) int {
		return cmp.Compare(a.Order, b.Order)
	})

	units := make([]Unit[H], len(sorted))
	for i, s := range sorted {
		units[i] = Unit[H]{Name: s.Name, Apply: s.Run, Rollback: s.Rollback}
	}
	return units
}

// DuplicateOrders returns every Order value shared by more than one seeder,
// sorted ascending.
func DuplicateOrders[H any](seeders []Seeder[H]) []int {
	seen := make(map[int]int, len(seeders))
	for _, s := range seeders {
		seen[s.Order]++
	}

	dups := []int{}
	for order, n := range seen {
		if n > 1 {
			dups = append(dups, order)
		}
	}
	slices.Sort(dups)

	return dups
}
