// Package store provides PostgreSQL persistence for authored tools and
// query sessions, plus the fuzzy relevance ranker used by tool search.
package store

import "errors"

// Sentinel errors shared by the stores
var (
	// ErrNotFound indicates the requested row does not exist
	ErrNotFound = errors.New("not found")

	// ErrDuplicateName indicates a tool with the same name already exists
	ErrDuplicateName = errors.New("tool with this name already exists")
)
