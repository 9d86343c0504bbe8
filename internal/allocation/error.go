package allocation

import (
	"errors"
)

var (
	// ErrBitmapRange is returned when a bit index lies outside of a
	// [Bitmap]'s tracked length.
	ErrBitmapRange = errors.New("bit index out of bitmap range")

	// ErrBitmapLength is returned when loaded bitmap bytes are too short for
	// the region they are supposed to track.
	ErrBitmapLength = errors.New("bitmap shorter than tracked region")
)
