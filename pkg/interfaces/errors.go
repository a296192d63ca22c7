package interfaces

import "errors"

// Store errors shared by every implementation of the store interfaces
var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("record was modified concurrently")
	ErrDuplicate       = errors.New("record violates a uniqueness constraint")
)
