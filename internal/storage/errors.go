package storage

import "errors"

// ErrNotFound is returned when an artifact does not exist in the store
var ErrNotFound = errors.New("artifact not found")

// ErrInvalidName is returned for artifact names that are empty or contain a path
var ErrInvalidName = errors.New("invalid artifact name")
