// Package plan provides the shared pending-action list every reconciler
// (table, column, choice, policy, relation, row delta-merge) builds during
// its diff phase and executes during its commit phase (spec §7
// "Reconcilers collect PlanErrors as error-kind pending actions and refuse
// to commit if any exist").
package plan

import (
	"context"
	"strings"

	"github.com/anguspalmer/servicenow/internal/apperr"
)

// Kind classifies a pending action.
type Kind int

const (
	Create Kind = iota
	Update
	Delete
	Error
)

func (k Kind) String() string {
	switch k {
	case Create:
		return "create"
	case Update:
		return "update"
	case Delete:
		return "delete"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Action is one pending change. Target names the thing being changed
// (column name, choice value, relationship key); Reason explains an Error
// action; Apply executes a Create/Update/Delete action and is nil for
// Error actions.
type Action struct {
	Kind   Kind
	Target string
	Reason string
	Apply  func(ctx context.Context) error
}

// Plan is an ordered list of pending actions for one reconciler run.
type Plan struct {
	Actions []Action
}

// Add appends an action.
func (p *Plan) Add(a Action) {
	p.Actions = append(p.Actions, a)
}

// Errors returns every Error-kind action.
func (p *Plan) Errors() []Action {
	var errs []Action
	for _, a := range p.Actions {
		if a.Kind == Error {
			errs = append(errs, a)
		}
	}
	return errs
}

// HasErrors reports whether the plan contains any Error actions.
func (p *Plan) HasErrors() bool {
	return len(p.Errors()) > 0
}

// Commit executes every non-Error action in plan order. It refuses to run
// at all if the plan contains any Error action, returning a single
// PlanError aggregating every blocking reason (spec §4.F.5 "errors abort
// the batch (reported collectively before any commit)").
func (p *Plan) Commit(ctx context.Context) error {
	if errs := p.Errors(); len(errs) > 0 {
		reasons := make([]string, len(errs))
		for i, e := range errs {
			reasons[i] = e.Target + ": " + e.Reason
		}
		return apperr.Planf("plan contains blocking errors", "count", len(errs), "reasons", strings.Join(reasons, "; "))
	}
	for _, a := range p.Actions {
		if a.Apply == nil {
			continue
		}
		if err := a.Apply(ctx); err != nil {
			return err
		}
	}
	return nil
}
