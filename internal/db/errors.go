package db

import "errors"

// ErrNotFound indicates the requested job does not exist.
// Use errors.Is() to check for it in calling code.
var ErrNotFound = errors.New("job not found")
