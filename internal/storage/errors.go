package storage

import "errors"

// ErrNotFound is returned when a bucket has never been stored for a key.
var ErrNotFound = errors.New("not found")
