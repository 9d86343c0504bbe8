package images

import "errors"

var (
	// ErrInvalidName occurs when an image name fails validation.
	ErrInvalidName = errors.New("invalid image name")

	// ErrNotMounted occurs when an operation needs a mounted image, but the
	// named image is not mounted.
	ErrNotMounted = errors.New("image not mounted")

	// ErrInsufficientHostSpace occurs when the host filesystem holding the
	// image directory cannot fit a new image.
	ErrInsufficientHostSpace = errors.New("insufficient host space for image")

	// ErrRegistryClosed occurs when the registry is used after
	// [Registry.Close].
	ErrRegistryClosed = errors.New("registry closed")
)
