package server

import (
	"errors"
	"io/fs"
	"net/http"

	"github.com/desertwitch/imgfs/internal/blockstore"
	"github.com/desertwitch/imgfs/internal/filesystem"
	"github.com/desertwitch/imgfs/internal/images"
	"github.com/desertwitch/imgfs/internal/monitoring"
	"github.com/gin-gonic/gin"
)

var statusCodes = []struct {
	err    error
	status int
}{
	{filesystem.ErrNotFound, http.StatusNotFound},
	{filesystem.ErrAlreadyExists, http.StatusConflict},
	{fs.ErrExist, http.StatusConflict},
	{filesystem.ErrNotEmpty, http.StatusConflict},
	{images.ErrNotMounted, http.StatusConflict},
	{filesystem.ErrClosed, http.StatusConflict},
	{blockstore.ErrLocked, http.StatusConflict},
	{filesystem.ErrNotADirectory, http.StatusBadRequest},
	{filesystem.ErrIsADirectory, http.StatusBadRequest},
	{filesystem.ErrInvalidPath, http.StatusBadRequest},
	{filesystem.ErrNameTooLong, http.StatusBadRequest},
	{filesystem.ErrInvalidSize, http.StatusBadRequest},
	{images.ErrInvalidName, http.StatusBadRequest},
	{filesystem.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
	{filesystem.ErrNoSpace, http.StatusInsufficientStorage},
	{images.ErrInsufficientHostSpace, http.StatusInsufficientStorage},
	{filesystem.ErrCorruptFilesystem, http.StatusUnprocessableEntity},
	{images.ErrRegistryClosed, http.StatusServiceUnavailable},
}

// StatusCode returns the HTTP status code for an engine or registry error.
// Errors outside the taxonomy map to 500.
func StatusCode(err error) int {
	for _, s := range statusCodes {
		if errors.Is(err, s.err) {
			return s.status
		}
	}

	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(StatusCode(err), gin.H{
		"error": err.Error(),
		"kind":  monitoring.ErrorKind(err),
	})
}
