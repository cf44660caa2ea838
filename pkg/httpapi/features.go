package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrymomot/featurelab/pkg/feature"
)

type evaluateRequest struct {
	UserID   string `path:"userID"`
	Feature  string `path:"name"`
	Eligible *bool  `query:"eligible"`
}

type evaluation struct {
	UserID  string         `json:"user_id"`
	Feature string         `json:"feature"`
	Enabled bool           `json:"enabled"`
	Variant string         `json:"variant,omitempty"`
	Source  feature.Source `json:"source"`
}

func (a *API) evaluate(ctx context.Context, req evaluateRequest) (response, error) {
	eligible := req.Eligible == nil || *req.Eligible
	res := a.evaluator.EvaluateEligible(ctx, req.UserID, req.Feature, eligible)
	return ok(evaluation{
		UserID:  req.UserID,
		Feature: req.Feature,
		Enabled: res.Enabled,
		Variant: res.Variant,
		Source:  res.Source,
	}), nil
}

type evaluateAllRequest struct {
	UserID string   `path:"userID"`
	Names  []string `query:"names"`
}

// evaluateAll evaluates the named features, or every known flag when no
// names are given.
func (a *API) evaluateAll(ctx context.Context, req evaluateAllRequest) (response, error) {
	names := req.Names
	if len(names) == 0 {
		flags, err := a.admin.Flags(ctx)
		if err != nil {
			return response{}, err
		}
		names = make([]string, 0, len(flags))
		for _, f := range flags {
			names = append(names, f.Name)
		}
	}
	return ok(a.evaluator.EvaluateAll(ctx, req.UserID, names...)), nil
}

func (a *API) listFlags(ctx context.Context, _ struct{}) (response, error) {
	flags, err := a.admin.Flags(ctx)
	if err != nil {
		return response{}, err
	}
	return ok(flags), nil
}

type flagRequest struct {
	Name string `json:"-" path:"name"`
}

func (a *API) getFlag(ctx context.Context, req flagRequest) (response, error) {
	flag, err := a.admin.Flag(ctx, req.Name)
	if err != nil {
		return response{}, err
	}
	return ok(flag), nil
}

type upsertFlagRequest struct {
	Name              string           `json:"-" path:"name"`
	Enabled           bool             `json:"enabled"`
	RolloutPercentage int              `json:"rollout_percentage"`
	Audience          feature.Audience `json:"audience"`
	Parent            string           `json:"parent"`
}

func (a *API) upsertFlag(ctx context.Context, req upsertFlagRequest) (response, error) {
	flag, err := a.admin.UpsertFlag(ctx, feature.Flag{
		Name:              req.Name,
		Enabled:           req.Enabled,
		RolloutPercentage: req.RolloutPercentage,
		Audience:          req.Audience,
		Parent:            req.Parent,
	})
	if err != nil {
		return response{}, err
	}
	return ok(flag), nil
}

func (a *API) deleteFlag(ctx context.Context, req flagRequest) (response, error) {
	if err := a.admin.DeleteFlag(ctx, req.Name); err != nil {
		return response{}, err
	}
	return noContent(), nil
}

type setEnabledRequest struct {
	Name    string `json:"-" path:"name"`
	Enabled *bool  `json:"enabled"`
}

func (a *API) setEnabled(ctx context.Context, req setEnabledRequest) (response, error) {
	if req.Enabled == nil {
		return response{}, fmt.Errorf("%w: enabled is required", errBadRequest)
	}
	if err := a.admin.SetEnabled(ctx, req.Name, *req.Enabled); err != nil {
		return response{}, err
	}
	return a.getFlag(ctx, flagRequest{Name: req.Name})
}

type setRolloutRequest struct {
	Name       string `json:"-" path:"name"`
	Percentage *int   `json:"percentage"`
}

func (a *API) setRollout(ctx context.Context, req setRolloutRequest) (response, error) {
	if req.Percentage == nil {
		return response{}, fmt.Errorf("%w: percentage is required", errBadRequest)
	}
	if err := a.admin.SetRollout(ctx, req.Name, *req.Percentage); err != nil {
		return response{}, err
	}
	return a.getFlag(ctx, flagRequest{Name: req.Name})
}

// toggleTree answers 207 with the report when some children failed.
func (a *API) toggleTree(ctx context.Context, req setEnabledRequest) (response, error) {
	if req.Enabled == nil {
		return response{}, fmt.Errorf("%w: enabled is required", errBadRequest)
	}
	report, err := a.admin.ToggleWithChildren(ctx, req.Name, *req.Enabled)
	if errors.Is(err, feature.ErrPartialFailure) && report != nil {
		return response{status: http.StatusMultiStatus, data: report}, nil
	}
	if err != nil {
		return response{}, err
	}
	return ok(report), nil
}

type overrideRequest struct {
	Feature string `json:"-" path:"name"`
	UserID  string `json:"-" path:"userID"`
	Enabled bool   `json:"enabled"`
	Variant string `json:"variant"`
}

func (a *API) setOverride(ctx context.Context, req overrideRequest) (response, error) {
	override := feature.Override{
		UserID:      req.UserID,
		FeatureName: req.Feature,
		Enabled:     req.Enabled,
		Variant:     req.Variant,
	}
	if err := a.admin.SetOverride(ctx, override); err != nil {
		return response{}, err
	}
	return ok(override), nil
}

func (a *API) removeOverride(ctx context.Context, req overrideRequest) (response, error) {
	if err := a.admin.RemoveOverride(ctx, req.UserID, req.Feature); err != nil {
		return response{}, err
	}
	return noContent(), nil
}
