package catalog

import "errors"

var (
	// ErrInvalidDefinition indicates a malformed or inconsistent catalog.
	ErrInvalidDefinition = errors.New("invalid feature definition")

	// ErrDecodeCatalog indicates a catalog document that could not be parsed.
	ErrDecodeCatalog = errors.New("failed to decode feature catalog")
)
