package blockstore

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/desertwitch/imgfs/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// unixMock is a [mock.Mock] implementation of the unixProvider.
type unixMock struct {
	mock.Mock
}

func (m *unixMock) Fdatasync(fd int) error {
	args := m.Called(fd)

	return args.Error(0)
}

func (m *unixMock) Flock(fd int, how int) error {
	args := m.Called(fd, how)

	return args.Error(0)
}

func newTestDevice(t *testing.T, blocks uint32, opts Options) *Device {
	t.Helper()

	dev, err := Create(&schema.OS{}, &schema.Unix{}, filepath.Join(t.TempDir(), "test.img"), blocks, opts)
	require.NoError(t, err)

	t.Cleanup(func() { _ = dev.Close() })

	return dev
}

// TestCreate_Success tests that a new image has the requested geometry and is
// zero-filled.
func TestCreate_Success(t *testing.T) {
	t.Parallel()

	dev := newTestDevice(t, 8, Options{BlockSize: 512})

	assert.Equal(t, 512, dev.BlockSize())
	assert.Equal(t, uint32(8), dev.BlockCount())

	buf, err := dev.ReadBlock(7)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 512), buf)
}

// TestCreate_Fail_Exists tests that creating over an existing image fails.
func TestCreate_Fail_Exists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.img")

	dev, err := Create(&schema.OS{}, &schema.Unix{}, path, 4, Options{BlockSize: 512})
	require.NoError(t, err)
	require.NoError(t, dev.Close())

	_, err = Create(&schema.OS{}, &schema.Unix{}, path, 4, Options{BlockSize: 512})
	require.Error(t, err)
}

// TestCreate_Fail_InvalidSize tests that zero blocks are rejected.
func TestCreate_Fail_InvalidSize(t *testing.T) {
	t.Parallel()

	_, err := Create(&schema.OS{}, &schema.Unix{}, filepath.Join(t.TempDir(), "x.img"), 0, Options{BlockSize: 512})
	require.ErrorIs(t, err, schema.ErrInvalidSize)
}

// TestReadWriteBlock_Success tests that a written block reads back.
func TestReadWriteBlock_Success(t *testing.T) {
	t.Parallel()

	dev := newTestDevice(t, 4, Options{BlockSize: 512})

	data := bytes.Repeat([]byte{0xAB}, 512)
	require.NoError(t, dev.WriteBlock(2, data))

	got, err := dev.ReadBlock(2)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	neighbour, err := dev.ReadBlock(1)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 512), neighbour)
}

// TestReadWriteBlock_Fail_OutOfRange tests index bounds on both directions.
func TestReadWriteBlock_Fail_OutOfRange(t *testing.T) {
	t.Parallel()

	dev := newTestDevice(t, 4, Options{BlockSize: 512})

	_, err := dev.ReadBlock(4)
	require.ErrorIs(t, err, schema.ErrOutOfRange)

	err = dev.WriteBlock(4, make([]byte, 512))
	require.ErrorIs(t, err, schema.ErrOutOfRange)
}

// TestWriteBlock_Fail_BlockSize tests that partial buffers are rejected.
func TestWriteBlock_Fail_BlockSize(t *testing.T) {
	t.Parallel()

	dev := newTestDevice(t, 4, Options{BlockSize: 512})

	err := dev.WriteBlock(0, make([]byte, 100))
	require.ErrorIs(t, err, ErrBlockSize)
}

// TestWriteBlock_SyncWrites tests that every write is flushed when syncing is
// enabled, and that flush errors are surfaced.
func TestWriteBlock_SyncWrites(t *testing.T) {
	t.Parallel()

	unixOps := new(unixMock)
	unixOps.On("Flock", mock.Anything, mock.Anything).Return(nil)
	unixOps.On("Fdatasync", mock.Anything).Return(nil).Once()
	unixOps.On("Fdatasync", mock.Anything).Return(errors.New("io failure")).Once()

	dev, err := Create(&schema.OS{}, unixOps, filepath.Join(t.TempDir(), "sync.img"), 2, Options{BlockSize: 512, SyncWrites: true})
	require.NoError(t, err)
	defer dev.Close()

	require.NoError(t, dev.WriteBlock(0, make([]byte, 512)))
	require.Error(t, dev.WriteBlock(1, make([]byte, 512)))

	unixOps.AssertExpectations(t)
}

// TestOpen_Fail_Locked tests that an image cannot be opened twice.
func TestOpen_Fail_Locked(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "locked.img")

	dev, err := Create(&schema.OS{}, &schema.Unix{}, path, 4, Options{BlockSize: 512})
	require.NoError(t, err)
	defer dev.Close()

	_, err = Open(&schema.OS{}, &schema.Unix{}, path, Options{BlockSize: 512})
	require.ErrorIs(t, err, ErrLocked)
}

// TestOpen_SetBlockSize tests reopening an image and switching block sizes.
func TestOpen_SetBlockSize(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reopen.img")

	dev, err := Create(&schema.OS{}, &schema.Unix{}, path, 4, Options{BlockSize: 4096})
	require.NoError(t, err)
	require.NoError(t, dev.WriteBlock(1, bytes.Repeat([]byte{1}, 4096)))
	require.NoError(t, dev.Close())

	dev, err = Open(&schema.OS{}, &schema.Unix{}, path, Options{BlockSize: 512})
	require.NoError(t, err)
	defer dev.Close()

	assert.Equal(t, uint32(32), dev.BlockCount())

	require.NoError(t, dev.SetBlockSize(4096))
	assert.Equal(t, uint32(4), dev.BlockCount())

	got, err := dev.ReadBlock(1)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{1}, 4096), got)
}

// TestWriteRaw_Success tests streaming the full image.
func TestWriteRaw_Success(t *testing.T) {
	t.Parallel()

	dev := newTestDevice(t, 3, Options{BlockSize: 512})
	require.NoError(t, dev.WriteBlock(0, bytes.Repeat([]byte{7}, 512)))

	var buf bytes.Buffer
	n, err := dev.WriteRaw(&buf)
	require.NoError(t, err)

	assert.Equal(t, int64(1536), n)
	assert.Equal(t, byte(7), buf.Bytes()[0])
	assert.Equal(t, byte(0), buf.Bytes()[1535])
}

// TestClose_Success tests that a closed device rejects I/O and tolerates a
// second close.
func TestClose_Success(t *testing.T) {
	t.Parallel()

	dev := newTestDevice(t, 2, Options{BlockSize: 512})

	require.NoError(t, dev.Close())
	require.NoError(t, dev.Close())

	_, err := dev.ReadBlock(0)
	require.ErrorIs(t, err, schema.ErrClosed)

	err = dev.WriteBlock(0, make([]byte, 512))
	require.ErrorIs(t, err, schema.ErrClosed)
}
