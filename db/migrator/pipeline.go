package migrator

import (
	"context"
	"fmt"
)

// Engine identifies the storage engine a phase operates on.
type Engine string

// Supported engines, in the order their phases run.
const (
	EngineRelational Engine = "relational"
	EngineDocument   Engine = "document"
)

func (e Engine) rank() int {
	if e == EngineRelational {
		return 0
	}
	return 1
}

// Kind is the type of units a phase runs.
type Kind string

// Unit kinds. All migration phases run before any seeder phase.
const (
	KindMigration Kind = "migration"
	KindSeeder    Kind = "seeder"
)

func (k Kind) rank() int {
	if k == KindMigration {
		return 0
	}
	return 1
}

// Direction is the direction units are run in.
type Direction string

// Run directions.
const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

func (d Direction) past() string {
	if d == DirectionDown {
		return "rolled back"
	}
	return "applied"
}

// UnitState is the state of a single unit in a ledger.
type UnitState string

// Unit states reported by Status.
const (
	UnitApplied UnitState = "applied"
	UnitPending UnitState = "pending"
	// UnitUnknown is a ledger entry whose unit is no longer declared.
	UnitUnknown UnitState = "unknown"
)

// UnitStatus is the state of a single named unit.
type UnitStatus struct {
	Name  string
	State UnitState
}

// PhaseStatus summarizes the ledger of a phase against its declared units.
type PhaseStatus struct {
	Engine   Engine
	Kind     Kind
	Declared int
	Executed int
	Pending  int
	Unknown  int
	Units    []UnitStatus
}

// Phase is one step of a Pipeline: a runner bound to its declared units. The
// handle type of the runner is erased so phases of different engines can be
// kept in the same pipeline.
type Phase interface {
	Engine() Engine
	Kind() Kind
	// Atomic reports whether the phase's runner commits a unit and its ledger
	// entry atomically.
	Atomic() bool
	Initialize(ctx context.Context) error
	// Status compares the ledger with the declared units. A ledger that
	// doesn't exist yet is reported as empty.
	Status(ctx context.Context) (PhaseStatus, error)
	// Forward applies all pending units.
	Forward(ctx context.Context) ([]string, error)
	// Backward rolls back up to steps executed units. Zero or less rolls back
	// nothing; RollbackAll rolls back all of them.
	Backward(ctx context.Context, steps int) ([]string, error)
}

type phase[H any] struct {
	kind     Kind
	runner   Runner[H]
	declared []Unit[H]
}

// NewPhase binds runner to the declared units of the given kind.
//
//nolint:ireturn // Erases the handle type.
func NewPhase[H any](kind Kind, runner Runner[H], declared []Unit[H]) Phase {
	return &phase[H]{kind: kind, runner: runner, declared: declared}
}

func (p *phase[H]) Engine() Engine { return p.runner.Engine() }
func (p *phase[H]) Kind() Kind     { return p.kind }
func (p *phase[H]) Atomic() bool   { return p.runner.SupportsAtomicApply() }

func (p *phase[H]) Initialize(ctx context.Context) error {
	return p.runner.Initialize(ctx)
}

func (p *phase[H]) Forward(ctx context.Context) ([]string, error) {
	return p.runner.RunPending(ctx, p.declared)
}

func (p *phase[H]) Backward(ctx context.Context, steps int) ([]string, error) {
	return p.runner.Rollback(ctx, p.declared, steps)
}

func (p *phase[H]) Status(ctx context.Context) (PhaseStatus, error) {
	exists, err := p.runner.LedgerExists(ctx)
	if err != nil {
		return PhaseStatus{}, err
	}

	var executed []string
	if exists {
		if executed, err = p.runner.ExecutedNames(ctx); err != nil {
			return PhaseStatus{}, err
		}
	}

	st := PhaseStatus{
		Engine:   p.Engine(),
		Kind:     p.kind,
		Declared: len(p.declared),
		Executed: len(executed),
	}

	exec := nameSet(executed)
	decl := make(map[string]struct{}, len(p.declared))
	for _, u := range p.declared {
		decl[u.Name] = struct{}{}
		state := UnitPending
		if _, ok := exec[u.Name]; ok {
			state = UnitApplied
		} else {
			st.Pending++
		}
		st.Units = append(st.Units, UnitStatus{Name: u.Name, State: state})
	}
	for _, name := range executed {
		if _, ok := decl[name]; !ok {
			st.Unknown++
			st.Units = append(st.Units, UnitStatus{Name: name, State: UnitUnknown})
		}
	}

	return st, nil
}

// Pipeline is an ordered list of phases. Forward verbs walk it front to back,
// rollback verbs back to front.
type Pipeline []Phase

// NewPipeline returns a pipeline of the given phases. The phases must be
// ordered with all migration phases before seeder phases, and within each kind
// the relational phase before the document phase.
func NewPipeline(phases ...Phase) (Pipeline, error) {
	for i := 1; i < len(phases); i++ {
		prev, cur := phases[i-1], phases[i]
		if phaseRank(cur) <= phaseRank(prev) {
			return nil, fmt.Errorf("%s %s phase can't follow %s %s phase",
				cur.Engine(), cur.Kind(), prev.Engine(), prev.Kind())
		}
	}

	return Pipeline(phases), nil
}

func phaseRank(p Phase) int {
	return p.Kind().rank()*2 + p.Engine().rank()
}

// Of returns the phases of the given kind, in pipeline order.
func (p Pipeline) Of(kind Kind) Pipeline {
	var out Pipeline
	for _, ph := range p {
		if ph.Kind() == kind {
			out = append(out, ph)
		}
	}
	return out
}
