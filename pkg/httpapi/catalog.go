package httpapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrymomot/featurelab/pkg/catalog"
)

var errDefinitionNotFound = errors.New("feature definition not found")

type catalogRequest struct {
	Category string `query:"category"`
}

func (a *API) listCatalog(_ context.Context, req catalogRequest) (response, error) {
	if req.Category == "" {
		return ok(a.catalog.All()), nil
	}
	category := catalog.Category(req.Category)
	if !category.Valid() {
		return response{}, fmt.Errorf("%w: unknown category %q", errBadRequest, req.Category)
	}
	return ok(a.catalog.ByCategory(category)), nil
}

type definition struct {
	catalog.Definition
	// Requires is the transitive closure of Dependencies.
	Requires []string `json:"requires,omitempty"`
}

func (a *API) getDefinition(_ context.Context, req flagRequest) (response, error) {
	def, found := a.catalog.Lookup(req.Name)
	if !found {
		return response{}, fmt.Errorf("%w: %q", errDefinitionNotFound, req.Name)
	}
	return ok(definition{Definition: def, Requires: a.catalog.DependenciesOf(req.Name)}), nil
}
