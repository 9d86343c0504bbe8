package filesystem

import (
	"errors"
	"io/fs"

	"github.com/desertwitch/imgfs/internal/schema"
)

// The error taxonomy of the engine. Every error returned by a [Handler] is an
// [*fs.PathError] wrapping one of these (or an underlying storage error), so
// callers classify with [errors.Is].
var (
	ErrInvalidSize       = schema.ErrInvalidSize
	ErrCorruptFilesystem = schema.ErrCorruptFilesystem
	ErrNotFound          = schema.ErrNotFound
	ErrNotADirectory     = schema.ErrNotADirectory
	ErrIsADirectory      = schema.ErrIsADirectory
	ErrAlreadyExists     = schema.ErrAlreadyExists
	ErrNotEmpty          = schema.ErrNotEmpty
	ErrNoSpace           = schema.ErrNoSpace
	ErrInvalidInode      = schema.ErrInvalidInode
	ErrOutOfRange        = schema.ErrOutOfRange
	ErrNameTooLong       = schema.ErrNameTooLong
	ErrInvalidPath       = schema.ErrInvalidPath
	ErrFileTooLarge      = schema.ErrFileTooLarge
	ErrClosed            = schema.ErrClosed
)

func pathError(op, path string, err error) error {
	if err == nil {
		return nil
	}

	var pe *fs.PathError
	if errors.As(err, &pe) && pe.Op == op {
		return err
	}

	return &fs.PathError{Op: op, Path: path, Err: err}
}

func isNotFound(err error) bool {
	return errors.Is(err, schema.ErrNotFound)
}
