package blockstore

import "errors"

var (
	// ErrBlockSize is an error that occurs when a block write is given a
	// buffer that does not match the device block size exactly.
	ErrBlockSize = errors.New("buffer does not match block size")

	// ErrLocked is an error that occurs when an image file is already held
	// open by another device (in this or another process).
	ErrLocked = errors.New("image is locked by another device")

	// ErrShortImage is an error that occurs when an image file holds fewer
	// bytes than a single block.
	ErrShortImage = errors.New("image is shorter than one block")
)
