package monitoring

import (
	"errors"

	"github.com/desertwitch/imgfs/internal/schema"
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{schema.ErrNoSpace, "no_space"},
	{schema.ErrNotFound, "not_found"},
	{schema.ErrAlreadyExists, "already_exists"},
	{schema.ErrNotEmpty, "not_empty"},
	{schema.ErrNotADirectory, "not_a_directory"},
	{schema.ErrIsADirectory, "is_a_directory"},
	{schema.ErrInvalidPath, "invalid_path"},
	{schema.ErrNameTooLong, "name_too_long"},
	{schema.ErrFileTooLarge, "file_too_large"},
	{schema.ErrInvalidSize, "invalid_size"},
	{schema.ErrCorruptFilesystem, "corrupt"},
	{schema.ErrClosed, "closed"},
}

// ErrorKind returns a short label for the taxonomy error wrapped by err, or
// "other" when it wraps none.
func ErrorKind(err error) string {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}

	return "other"
}
