package httpapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/featurelab/pkg/experiment"
	"github.com/dmitrymomot/featurelab/pkg/logger"
	"github.com/dmitrymomot/featurelab/pkg/stats"
)

var errSnapshotNotFound = errors.New("no statistics snapshot computed yet")

type assignRequest struct {
	ExperimentID string `json:"-" path:"id"`
	UserID       string `json:"user_id"`
}

type assignment struct {
	ExperimentID string `json:"experiment_id"`
	UserID       string `json:"user_id"`
	Variant      string `json:"variant"`
}

// assign always answers with a usable variant. Unknown experiments and
// backend failures are logged and served as control; only a missing user id
// is the caller's error.
func (a *API) assign(ctx context.Context, req assignRequest) (response, error) {
	variant, err := a.engine.AssignVariant(ctx, req.ExperimentID, req.UserID)
	if err != nil {
		if errors.Is(err, experiment.ErrUserIDRequired) {
			return response{}, err
		}
		a.logger.WarnContext(ctx, "assignment degraded to control",
			logger.Component("httpapi"),
			logger.ExperimentID(req.ExperimentID),
			logger.UserID(req.UserID),
			logger.Error(err),
		)
		variant = experiment.ControlVariant
	}
	return ok(assignment{ExperimentID: req.ExperimentID, UserID: req.UserID, Variant: variant}), nil
}

type eventRequest struct {
	ExperimentID string            `json:"-" path:"id"`
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	EventType    string            `json:"event_type"`
	Value        float64           `json:"value"`
	SessionID    string            `json:"session_id"`
	Metadata     map[string]string `json:"metadata"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

func (a *API) recordEvent(ctx context.Context, req eventRequest) (response, error) {
	err := a.recorder.Record(ctx, experiment.Event{
		ID:           req.ID,
		ExperimentID: req.ExperimentID,
		UserID:       req.UserID,
		EventType:    req.EventType,
		Value:        req.Value,
		SessionID:    req.SessionID,
		Metadata:     req.Metadata,
		OccurredAt:   req.OccurredAt,
	})
	if err != nil {
		return response{}, err
	}
	return accepted(map[string]string{"status": "recorded"}), nil
}

type listExperimentsRequest struct {
	Statuses []string `query:"status"`
}

func (a *API) listExperiments(ctx context.Context, req listExperimentsRequest) (response, error) {
	statuses := make([]experiment.Status, 0, len(req.Statuses))
	for _, s := range req.Statuses {
		status := experiment.Status(s)
		if !status.Valid() {
			return response{}, fmt.Errorf("%w: unknown status %q", errBadRequest, s)
		}
		statuses = append(statuses, status)
	}
	exps, err := a.engine.List(ctx, statuses...)
	if err != nil {
		return response{}, err
	}
	return ok(exps), nil
}

func (a *API) createExperiment(ctx context.Context, req experiment.Spec) (response, error) {
	exp, err := a.engine.Create(ctx, req)
	if err != nil {
		return response{}, err
	}
	return created(exp), nil
}

type experimentRequest struct {
	ID string `json:"-" path:"id"`
}

func (a *API) getExperiment(ctx context.Context, req experimentRequest) (response, error) {
	exp, err := a.engine.Get(ctx, req.ID)
	if err != nil {
		return response{}, err
	}
	return ok(exp), nil
}

type allocationRequest struct {
	ID         string         `json:"-" path:"id"`
	Allocation map[string]int `json:"allocation"`
}

func (a *API) updateAllocation(ctx context.Context, req allocationRequest) (response, error) {
	exp, err := a.engine.UpdateAllocation(ctx, req.ID, req.Allocation)
	if err != nil {
		return response{}, err
	}
	return ok(exp), nil
}

func (a *API) transition(action experiment.Action) handlerFunc[experimentRequest] {
	apply := map[experiment.Action]func(context.Context, string) (*experiment.Experiment, error){
		experiment.ActionStart: a.engine.Start,
		experiment.ActionPause: a.engine.Pause,
		experiment.ActionStop:  a.engine.Stop,
	}[action]

	return func(ctx context.Context, req experimentRequest) (response, error) {
		exp, err := apply(ctx, req.ID)
		if err != nil {
			return response{}, err
		}
		return ok(exp), nil
	}
}

type statistics struct {
	ExperimentID   string               `json:"experiment_id"`
	Status         experiment.Status    `json:"status"`
	Variants       []stats.VariantStats `json:"variants"`
	WinningVariant string               `json:"winning_variant,omitempty"`
}

func (a *API) statistics(ctx context.Context, req experimentRequest) (response, error) {
	exp, err := a.engine.Get(ctx, req.ID)
	if err != nil {
		return response{}, err
	}
	results, err := a.analyzer.ComputeStatistics(ctx, req.ID)
	if err != nil {
		return response{}, err
	}
	return ok(statistics{
		ExperimentID:   exp.ID,
		Status:         exp.Status,
		Variants:       results,
		WinningVariant: exp.WinningVariant,
	}), nil
}

type winner struct {
	ExperimentID   string `json:"experiment_id"`
	Detected       bool   `json:"detected"`
	WinningVariant string `json:"winning_variant,omitempty"`
}

func (a *API) detectWinner(ctx context.Context, req experimentRequest) (response, error) {
	variant, found, err := a.analyzer.DetectWinner(ctx, req.ID)
	if err != nil {
		return response{}, err
	}
	return ok(winner{ExperimentID: req.ID, Detected: found, WinningVariant: variant}), nil
}

func (a *API) snapshot(_ context.Context, req experimentRequest) (response, error) {
	snap, found := a.refresher.Snapshot(req.ID)
	if !found {
		return response{}, errSnapshotNotFound
	}
	return ok(snap), nil
}
