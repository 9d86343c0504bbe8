package pathing

import "errors"

// ErrEmptyPath is returned for an empty path string. It is always wrapped
// together with [schema.ErrInvalidPath].
var ErrEmptyPath = errors.New("empty path")
