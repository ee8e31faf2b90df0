package controller

import "errors"

// Domain errors for the controller package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, controller.ErrNotFound) {
//	    // handle unknown controller
//	}
var (
	// ErrNotFound is returned when a controller name is not in the registry.
	ErrNotFound = errors.New("controller: not found")

	// ErrInvalidName is returned when a stored controller has an empty name.
	ErrInvalidName = errors.New("controller: invalid name")

	// ErrCorruptSnapshot is returned when persisted state cannot be decoded.
	ErrCorruptSnapshot = errors.New("controller: corrupt snapshot")
)
