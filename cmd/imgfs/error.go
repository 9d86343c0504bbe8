package main

import "errors"

var (
	// ErrMissingImage occurs when neither an image nor the HTTP API was
	// requested.
	ErrMissingImage = errors.New("no image given: use -image or -serve")

	// ErrNegativeSize occurs when the size given to -create is negative.
	ErrNegativeSize = errors.New("image size must not be negative")
)
