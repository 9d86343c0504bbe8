package server

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	"github.com/desertwitch/imgfs/internal/directory"
	"github.com/desertwitch/imgfs/internal/filesystem"
	"github.com/desertwitch/imgfs/internal/images"
	"github.com/desertwitch/imgfs/internal/monitoring"
	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
)

type imageRegistry interface {
	Create(name string, sizeMB int64) (*filesystem.Handler, error)
	Import(name string, src io.Reader) (*filesystem.Handler, error)
	Locate(name string) (string, error)
	Mount(name string) (*filesystem.Handler, error)
	Unmount(name string) error
	Get(name string) (*filesystem.Handler, error)
	List() ([]images.Info, error)
	Mounted() []string
	Delete(name string) error
	Stats() map[string]filesystem.Stats
}

// Handlers contains all HTTP handlers.
type Handlers struct {
	registry imageRegistry
	metrics  *monitoring.Metrics
}

// NewHandlers returns a pointer to a new handler set.
func NewHandlers(registry imageRegistry, metrics *monitoring.Metrics) *Handlers {
	return &Handlers{
		registry: registry,
		metrics:  metrics,
	}
}

type createImageRequest struct {
	Name   string `binding:"required" form:"name"`
	SizeMB int64  `form:"size_mb"`
}

type uploadRequest struct {
	Name string                `form:"name"`
	File *multipart.FileHeader `binding:"required" form:"file"`
}

type pathRequest struct {
	Path string `binding:"required" form:"path"`
}

type writeRequest struct {
	Path    string `binding:"required" form:"path"`
	Content string `form:"content"`
}

type truncateRequest struct {
	Path string `binding:"required" form:"path"`
	Size string `binding:"required" form:"size"`
}

type entryResponse struct {
	Name  string `json:"name"`
	Inode uint32 `json:"inode"`
	Type  string `json:"type"`
}

type infoResponse struct {
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	Inode      uint32    `json:"inode"`
	Type       string    `json:"type"`
	Size       uint64    `json:"size"`
	SizeHuman  string    `json:"sizeHuman"`
	BlockCount uint32    `json:"blockCount"`
	Created    time.Time `json:"created"`
	Modified   time.Time `json:"modified"`
	Accessed   time.Time `json:"accessed"`
}

// Health reports liveness and the mounted images.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"mounted": h.registry.Mounted(),
	})
}

// ListImages lists all images of the registry directory.
func (h *Handlers) ListImages(c *gin.Context) {
	infos, err := h.registry.List()
	if err != nil {
		abortWithError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"images": infos})
}

// CreateImage creates and mounts a new image.
func (h *Handlers) CreateImage(c *gin.Context) {
	var req createImageRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	fs, err := h.registry.Create(req.Name, req.SizeMB)
	h.metrics.RecordOperation("create", err)

	if err != nil {
		abortWithError(c, err)

		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"image": req.Name,
		"stats": fs.Stats(),
	})
}

// UploadImage stores an uploaded image file and mounts it. The image is
// named after the "name" field, or the uploaded file name when that is empty.
func (h *Handlers) UploadImage(c *gin.Context) {
	var req uploadRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	name := req.Name
	if name == "" {
		name = req.File.Filename
	}

	src, err := req.File.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}
	defer src.Close()

	fs, err := h.registry.Import(name, src)
	h.metrics.RecordOperation("import", err)

	if err != nil {
		abortWithError(c, err)

		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"image": name,
		"stats": fs.Stats(),
	})
}

// DownloadImage sends an image file. A mounted image is streamed through its
// handle, so the download never observes a half-applied operation.
func (h *Handlers) DownloadImage(c *gin.Context) {
	name := c.Param("name")

	path, err := h.registry.Locate(name)
	if err != nil {
		h.metrics.RecordOperation("download", err)
		abortWithError(c, err)

		return
	}

	filename := filepath.Base(path)

	fs, err := h.registry.Get(name)
	if err != nil {
		h.metrics.RecordOperation("download", nil)
		c.FileAttachment(path, filename)

		return
	}

	c.Header("Content-Type", "application/octet-stream")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Status(http.StatusOK)

	_, err = fs.Export(c.Writer)
	h.metrics.RecordOperation("download", err)

	if err != nil {
		_ = c.Error(err)
	}
}

// DeleteImage unmounts and removes an image.
func (h *Handlers) DeleteImage(c *gin.Context) {
	name := c.Param("name")

	err := h.registry.Delete(name)
	h.metrics.RecordOperation("delete", err)

	if err != nil {
		abortWithError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": name})
}

// MountImage mounts an existing image.
func (h *Handlers) MountImage(c *gin.Context) {
	name := c.Param("name")

	fs, err := h.registry.Mount(name)
	h.metrics.RecordOperation("mount", err)

	if err != nil {
		abortWithError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"image": name,
		"stats": fs.Stats(),
	})
}

// UnmountImage unmounts a mounted image.
func (h *Handlers) UnmountImage(c *gin.Context) {
	name := c.Param("name")

	err := h.registry.Unmount(name)
	h.metrics.RecordOperation("unmount", err)

	if err != nil {
		abortWithError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"unmounted": name})
}

// List lists a directory of a mounted image.
func (h *Handlers) List(c *gin.Context) {
	fs, ok := h.image(c)
	if !ok {
		return
	}

	p := c.DefaultQuery("path", "/")

	entries, err := fs.List(p)
	h.metrics.RecordOperation("ls", err)

	if err != nil {
		abortWithError(c, err)

		return
	}

	resp := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, toEntryResponse(e))
	}

	c.JSON(http.StatusOK, gin.H{
		"path":    p,
		"entries": resp,
	})
}

// Tree renders the hierarchy below a directory of a mounted image.
func (h *Handlers) Tree(c *gin.Context) {
	fs, ok := h.image(c)
	if !ok {
		return
	}

	p := c.DefaultQuery("path", "/")

	tree, err := fs.Tree(p)
	h.metrics.RecordOperation("tree", err)

	if err != nil {
		abortWithError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"path":  p,
		"lines": tree.Lines(),
	})
}

// Mkdir creates a directory in a mounted image.
func (h *Handlers) Mkdir(c *gin.Context) {
	h.createPath(c, "mkdir", func(fs *filesystem.Handler, p string) error {
		return fs.Mkdir(p)
	})
}

// Touch creates an empty file in a mounted image.
func (h *Handlers) Touch(c *gin.Context) {
	h.createPath(c, "touch", func(fs *filesystem.Handler, p string) error {
		return fs.Touch(p)
	})
}

func (h *Handlers) createPath(c *gin.Context, op string, fn func(*filesystem.Handler, string) error) {
	fs, ok := h.image(c)
	if !ok {
		return
	}

	var req pathRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	err := fn(fs, req.Path)
	h.metrics.RecordOperation(op, err)

	if err != nil {
		abortWithError(c, err)

		return
	}

	c.JSON(http.StatusCreated, gin.H{"created": req.Path})
}

// Write replaces the content of a file in a mounted image.
func (h *Handlers) Write(c *gin.Context) {
	fs, ok := h.image(c)
	if !ok {
		return
	}

	var req writeRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	err := fs.Write(req.Path, []byte(req.Content))
	h.metrics.RecordOperation("write", err)

	if err != nil {
		abortWithError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"path":  req.Path,
		"bytes": len(req.Content),
	})
}

// Truncate resizes a file in a mounted image. The size accepts units such as
// "8KiB" or "1MB".
func (h *Handlers) Truncate(c *gin.Context) {
	fs, ok := h.image(c)
	if !ok {
		return
	}

	var req truncateRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	size, err := humanize.ParseBytes(req.Size)
	if err != nil {
		abortWithError(c, fmt.Errorf("%w: %q", filesystem.ErrInvalidSize, req.Size))

		return
	}

	err = fs.Truncate(req.Path, size)
	h.metrics.RecordOperation("truncate", err)

	if err != nil {
		abortWithError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"path": req.Path,
		"size": size,
	})
}

// Read returns the raw content of a file in a mounted image.
func (h *Handlers) Read(c *gin.Context) {
	fs, ok := h.image(c)
	if !ok {
		return
	}

	data, err := fs.Read(c.Query("path"))
	h.metrics.RecordOperation("read", err)

	if err != nil {
		abortWithError(c, err)

		return
	}

	c.Data(http.StatusOK, "application/octet-stream", data)
}

// Remove deletes a file or an empty directory of a mounted image.
func (h *Handlers) Remove(c *gin.Context) {
	fs, ok := h.image(c)
	if !ok {
		return
	}

	p := c.Query("path")

	err := fs.Remove(p)
	h.metrics.RecordOperation("rm", err)

	if err != nil {
		abortWithError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": p})
}

// Info returns the metadata of a file or directory of a mounted image.
func (h *Handlers) Info(c *gin.Context) {
	fs, ok := h.image(c)
	if !ok {
		return
	}

	fi, err := fs.Info(c.Query("path"))
	h.metrics.RecordOperation("info", err)

	if err != nil {
		abortWithError(c, err)

		return
	}

	c.JSON(http.StatusOK, infoResponse{
		Path:       fi.Path,
		Name:       fi.Name,
		Inode:      fi.Inode,
		Type:       fi.Type.String(),
		Size:       fi.Size,
		SizeHuman:  humanize.IBytes(fi.Size),
		BlockCount: fi.BlockCount,
		Created:    fi.Created,
		Modified:   fi.Modified,
		Accessed:   fi.Accessed,
	})
}

// Stats returns the usage statistics of a mounted image.
func (h *Handlers) Stats(c *gin.Context) {
	fs, ok := h.image(c)
	if !ok {
		return
	}

	h.metrics.RecordOperation("stats", nil)

	c.JSON(http.StatusOK, fs.Stats())
}

// Check verifies the allocation invariants of a mounted image.
func (h *Handlers) Check(c *gin.Context) {
	fs, ok := h.image(c)
	if !ok {
		return
	}

	err := fs.Check()
	h.metrics.RecordOperation("check", err)

	if err != nil {
		abortWithError(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"consistent": true})
}

// Raw streams the image bytes, or their hex dump with ?format=hex.
func (h *Handlers) Raw(c *gin.Context) {
	fs, ok := h.image(c)
	if !ok {
		return
	}

	if c.Query("format") == "hex" {
		c.Header("Content-Type", "text/plain; charset=utf-8")
		c.Status(http.StatusOK)

		err := fs.Dump(c.Writer)
		h.metrics.RecordOperation("dump", err)

		if err != nil {
			_ = c.Error(err)
		}

		return
	}

	c.Header("Content-Type", "application/octet-stream")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", c.Param("name")))
	c.Status(http.StatusOK)

	_, err := fs.Export(c.Writer)
	h.metrics.RecordOperation("export", err)

	if err != nil {
		_ = c.Error(err)
	}
}

func (h *Handlers) image(c *gin.Context) (*filesystem.Handler, bool) {
	fs, err := h.registry.Get(c.Param("name"))
	if err != nil {
		abortWithError(c, err)

		return nil, false
	}

	return fs, true
}

func toEntryResponse(e directory.Entry) entryResponse {
	return entryResponse{
		Name:  e.Name,
		Inode: e.Inode,
		Type:  e.Type.String(),
	}
}
