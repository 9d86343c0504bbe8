package images

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/desertwitch/imgfs/internal/filesystem"
	"github.com/desertwitch/imgfs/internal/schema"
	"github.com/desertwitch/imgfs/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// statfsMock wraps the real Unix functions but fakes Statfs.
type statfsMock struct {
	schema.Unix
	mock.Mock
}

func (m *statfsMock) Statfs(path string, buf *unix.Statfs_t) error {
	args := m.Called(path, buf)

	return args.Error(0)
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	r, err := NewRegistry(&schema.OS{}, &schema.Unix{}, Options{
		Dir:           filepath.Join(t.TempDir(), "images"),
		MaxImageBytes: 8 * MiB,
		Filesystem:    filesystem.DefaultOptions(),
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = r.Close() })

	return r
}

// TestCreate_Success tests creating an image, which is mounted afterwards.
func TestCreate_Success(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)

	h, err := r.Create("disk", 1)
	require.NoError(t, err)

	require.NoError(t, h.Mkdir("/docs"))

	got, err := r.Get("disk.img")
	require.NoError(t, err)
	assert.Same(t, h, got)

	fi, err := os.Stat(filepath.Join(r.Dir(), "disk.img"))
	require.NoError(t, err)
	assert.Equal(t, int64(MiB), fi.Size())

	assert.Equal(t, []string{"disk.img"}, r.Mounted())
	assert.Contains(t, r.Stats(), "disk.img")
}

// TestCreate_Fail tests the rejected image names and sizes.
func TestCreate_Fail(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)

	_, err := r.Create("../escape", 1)
	require.ErrorIs(t, err, ErrInvalidName)
	require.ErrorIs(t, err, validation.ErrImageNameSeparator)

	_, err = r.Create("", 1)
	require.ErrorIs(t, err, ErrInvalidName)

	_, err = r.Create("zero", 0)
	require.ErrorIs(t, err, filesystem.ErrInvalidSize)

	_, err = r.Create("huge", 9)
	require.ErrorIs(t, err, filesystem.ErrInvalidSize)
	require.ErrorIs(t, err, validation.ErrImageSizeExceeded)

	_, err = r.Create("dup", 1)
	require.NoError(t, err)

	_, err = r.Create("dup", 1)
	require.ErrorIs(t, err, os.ErrExist)
}

// TestCreate_Fail_HostSpace tests that images larger than the free host
// space are refused.
func TestCreate_Fail_HostSpace(t *testing.T) {
	t.Parallel()

	unixOps := &statfsMock{}
	unixOps.On("Statfs", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			buf := args.Get(1).(*unix.Statfs_t) //nolint:forcetypeassert
			buf.Bsize = 4096
			buf.Blocks = 1024
			buf.Bavail = 16
		}).
		Return(nil)

	r, err := NewRegistry(&schema.OS{}, unixOps, Options{Dir: t.TempDir()})
	require.NoError(t, err)

	stats, err := r.HostStats()
	require.NoError(t, err)
	assert.Equal(t, uint64(4*MiB), stats.TotalSize)
	assert.Equal(t, uint64(64*1024), stats.FreeSpace)

	_, err = r.Create("disk", 1)
	require.ErrorIs(t, err, ErrInsufficientHostSpace)

	infos, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, infos)
}

// TestCreate_Fail_Statfs tests that host filesystem failures are returned.
func TestCreate_Fail_Statfs(t *testing.T) {
	t.Parallel()

	errStat := errors.New("statfs failed")

	unixOps := &statfsMock{}
	unixOps.On("Statfs", mock.Anything, mock.Anything).Return(errStat)

	r, err := NewRegistry(&schema.OS{}, unixOps, Options{Dir: t.TempDir()})
	require.NoError(t, err)

	_, err = r.Create("disk", 1)
	require.ErrorIs(t, err, errStat)
}

// TestMount_Success tests remounting an image after unmounting it, and that
// mounting twice returns the same handle.
func TestMount_Success(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)

	h, err := r.Create("disk", 1)
	require.NoError(t, err)
	require.NoError(t, h.Write("/f", []byte("kept")))

	require.NoError(t, r.Unmount("disk"))

	_, err = r.Get("disk")
	require.ErrorIs(t, err, ErrNotMounted)

	h, err = r.Mount("disk")
	require.NoError(t, err)

	again, err := r.Mount("disk.img")
	require.NoError(t, err)
	assert.Same(t, h, again)

	data, err := h.Read("/f")
	require.NoError(t, err)
	assert.Equal(t, []byte("kept"), data)
}

// TestMount_Fail tests mounting absent and corrupt images.
func TestMount_Fail(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)

	_, err := r.Mount("missing")
	require.ErrorIs(t, err, filesystem.ErrNotFound)

	require.NoError(t, os.WriteFile(filepath.Join(r.Dir(), "bad.img"), make([]byte, 8192), 0o600))

	_, err = r.Mount("bad")
	require.ErrorIs(t, err, filesystem.ErrCorruptFilesystem)

	require.ErrorIs(t, r.Unmount("missing"), ErrNotMounted)
}

// TestImport_Success tests importing the exported bytes of another image.
func TestImport_Success(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)

	src, err := r.Create("source", 1)
	require.NoError(t, err)
	require.NoError(t, src.Write("/f", []byte("copied")))

	var raw bytes.Buffer
	_, err = src.Export(&raw)
	require.NoError(t, err)

	h, err := r.Import("copy", &raw)
	require.NoError(t, err)

	got, err := r.Get("copy.img")
	require.NoError(t, err)
	assert.Same(t, h, got)

	data, err := h.Read("/f")
	require.NoError(t, err)
	assert.Equal(t, []byte("copied"), data)
	require.NoError(t, h.Check())

	path, err := r.Locate("copy")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(r.Dir(), "copy.img"), path)
}

// TestImport_Fail tests that rejected imports leave no image file behind.
func TestImport_Fail(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)

	_, err := r.Create("taken", 1)
	require.NoError(t, err)

	_, err = r.Import("taken", bytes.NewReader(make([]byte, MiB)))
	require.ErrorIs(t, err, fs.ErrExist)

	_, err = r.Import("../escape", bytes.NewReader(make([]byte, MiB)))
	require.ErrorIs(t, err, ErrInvalidName)

	_, err = r.Import("garbage", bytes.NewReader(bytes.Repeat([]byte("x"), 8192)))
	require.ErrorIs(t, err, filesystem.ErrCorruptFilesystem)

	_, err = r.Import("empty", bytes.NewReader(nil))
	require.ErrorIs(t, err, filesystem.ErrInvalidSize)

	_, err = r.Import("huge", bytes.NewReader(make([]byte, 8*MiB+1)))
	require.ErrorIs(t, err, filesystem.ErrInvalidSize)

	for _, name := range []string{"garbage", "empty", "huge"} {
		_, err = r.Locate(name)
		require.ErrorIs(t, err, filesystem.ErrNotFound, name)
	}

	infos, err := r.List()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "taken.img", infos[0].Name)
}

// TestList_Success tests listing image files with their mount state.
func TestList_Success(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)

	_, err := r.Create("b", 1)
	require.NoError(t, err)

	_, err = r.Create("a", 2)
	require.NoError(t, err)
	require.NoError(t, r.Unmount("a"))

	require.NoError(t, os.WriteFile(filepath.Join(r.Dir(), "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(r.Dir(), "sub.img"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(r.Dir(), ".img"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(r.Dir(), "..img"), []byte("x"), 0o600))

	infos, err := r.List()
	require.NoError(t, err)
	require.Len(t, infos, 2)

	assert.Equal(t, "a.img", infos[0].Name)
	assert.Equal(t, int64(2*MiB), infos[0].Size)
	assert.False(t, infos[0].Mounted)

	assert.Equal(t, "b.img", infos[1].Name)
	assert.True(t, infos[1].Mounted)
}

// TestDelete_Success tests that deleting unmounts and removes the image.
func TestDelete_Success(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)

	_, err := r.Create("disk", 1)
	require.NoError(t, err)

	require.NoError(t, r.Delete("disk"))

	_, err = r.Get("disk")
	require.ErrorIs(t, err, ErrNotMounted)

	_, err = os.Stat(filepath.Join(r.Dir(), "disk.img"))
	require.ErrorIs(t, err, os.ErrNotExist)

	require.ErrorIs(t, r.Delete("disk"), filesystem.ErrNotFound)
}

// TestClose_Success tests that closing unmounts everything and refuses
// further use.
func TestClose_Success(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)

	h, err := r.Create("disk", 1)
	require.NoError(t, err)

	require.NoError(t, r.Close())
	assert.Empty(t, r.Mounted())

	_, err = h.List("/")
	require.ErrorIs(t, err, filesystem.ErrClosed)

	_, err = r.Mount("disk")
	require.ErrorIs(t, err, ErrRegistryClosed)
}
