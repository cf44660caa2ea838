package experiment

import (
	"errors"
	"fmt"
	"time"
)

// Action is a lifecycle operation applied to an experiment.
type Action string

const (
	ActionStart Action = "start"
	ActionPause Action = "pause"
	ActionStop  Action = "stop"
)

// guard vets a transition before it is applied.
type guard func(exp *Experiment) error

type transition struct {
	to     Status
	guards []guard
}

// transitions is the full lifecycle:
//
//	draft --start--> running --pause--> paused --start--> running
//	{running, paused} --stop--> stopped
//
// Drafts can only start. Stopped is terminal.
var transitions = map[Status]map[Action]transition{
	StatusDraft: {
		ActionStart: {to: StatusRunning, guards: []guard{allocationReady}},
	},
	StatusRunning: {
		ActionPause: {to: StatusPaused},
		ActionStop:  {to: StatusStopped},
	},
	StatusPaused: {
		ActionStart: {to: StatusRunning, guards: []guard{allocationReady}},
		ActionStop:  {to: StatusStopped},
	},
}

// CanApply reports whether action is legal from the experiment's status,
// guards included.
func CanApply(exp *Experiment, action Action) bool {
	_, err := lookup(exp, action)
	return err == nil
}

func lookup(exp *Experiment, action Action) (transition, error) {
	t, ok := transitions[exp.Status][action]
	if !ok {
		return transition{}, &TransitionError{From: exp.Status, Action: action}
	}
	for _, g := range t.guards {
		if err := g(exp); err != nil {
			return transition{}, &TransitionError{From: exp.Status, Action: action, Reason: err}
		}
	}
	return t, nil
}

// apply moves exp through action, stamping lifecycle timestamps.
// exp is left untouched on error.
func apply(exp *Experiment, action Action, now time.Time) error {
	t, err := lookup(exp, action)
	if err != nil {
		return err
	}

	exp.Status = t.to
	exp.UpdatedAt = now
	switch t.to {
	case StatusRunning:
		if exp.StartedAt == nil {
			exp.StartedAt = &now
		}
	case StatusStopped:
		exp.StoppedAt = &now
	}
	return nil
}

func allocationReady(exp *Experiment) error {
	return validateDefinition(exp.Variants, exp.Allocation)
}

// validateDefinition checks variants and allocation together: control is
// declared, names are unique and non-empty, every allocated variant is
// declared, and shares are non-negative and sum to exactly 100.
func validateDefinition(variants []string, allocation map[string]int) error {
	if len(variants) == 0 {
		return errors.Join(ErrInvalidExperiment, errors.New("no variants declared"))
	}

	declared := make(map[string]struct{}, len(variants))
	for _, v := range variants {
		if v == "" {
			return errors.Join(ErrInvalidExperiment, errors.New("empty variant name"))
		}
		if v == UnknownVariant {
			return errors.Join(ErrInvalidExperiment, fmt.Errorf("variant name %q is reserved", v))
		}
		if _, dup := declared[v]; dup {
			return errors.Join(ErrInvalidExperiment, fmt.Errorf("duplicate variant %q", v))
		}
		declared[v] = struct{}{}
	}
	if _, ok := declared[ControlVariant]; !ok {
		return errors.Join(ErrInvalidExperiment, fmt.Errorf("variants must include %q", ControlVariant))
	}

	sum := 0
	for v, share := range allocation {
		if _, ok := declared[v]; !ok {
			return errors.Join(ErrInvalidExperiment, fmt.Errorf("allocation names undeclared variant %q", v))
		}
		if share < 0 || share > 100 {
			return errors.Join(ErrInvalidExperiment, fmt.Errorf("allocation for %q out of range: %d", v, share))
		}
		sum += share
	}
	if sum != 100 {
		return errors.Join(ErrInvalidExperiment, fmt.Errorf("allocation sums to %d, expected 100", sum))
	}
	return nil
}
