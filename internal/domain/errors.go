package domain

import "errors"

var (
	// ErrNotFound is returned by platform lookups when an identifier resolves to nothing.
	ErrNotFound = errors.New("not found")
)
