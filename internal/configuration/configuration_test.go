package configuration

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/desertwitch/imgfs/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"IMGFS_IMAGE_DIR",
	"IMGFS_MAX_IMAGE_SIZE",
	"IMGFS_BLOCK_SIZE",
	"IMGFS_BYTES_PER_INODE",
	"IMGFS_SYNC_WRITES",
	"IMGFS_LISTEN_ADDR",
	"IMGFS_LOG_LEVEL",
}

// clearEnv unsets all configuration variables for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()

	for _, key := range configKeys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

type filesMock struct {
	mock.Mock
}

func (m *filesMock) Read(filenames ...string) (map[string]string, error) {
	args := m.Called(filenames)

	return args.Get(0).(map[string]string), args.Error(1) //nolint:forcetypeassert
}

type envMock struct {
	mock.Mock
}

func (m *envMock) LookupEnv(key string) (string, bool) {
	args := m.Called(key)

	return args.String(0), args.Bool(1)
}

func (m *envMock) Setenv(key, value string) error {
	args := m.Called(key, value)

	return args.Error(0)
}

// TestLoad_Success_Defaults tests the configuration without any files or
// variables.
func TestLoad_Success_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := NewLoader(&GodotenvProvider{}, &OSEnv{}).Load()
	require.NoError(t, err)

	assert.Equal(t, "./images", cfg.ImageDir)
	assert.Equal(t, uint64(1<<30), cfg.MaxImageBytes)
	assert.Equal(t, 4096, cfg.BlockSize)
	assert.Equal(t, 16384, cfg.BytesPerInode)
	assert.True(t, cfg.SyncWrites)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, slog.LevelInfo, cfg.Level)
}

// TestLoad_Success_File tests that file values apply, and that existing
// variables take precedence over them.
func TestLoad_Success_File(t *testing.T) {
	clearEnv(t)

	file := filepath.Join(t.TempDir(), "imgfs.env")
	require.NoError(t, os.WriteFile(file, []byte(
		"IMGFS_BLOCK_SIZE=1024\n"+
			"IMGFS_MAX_IMAGE_SIZE=64MiB\n"+
			"IMGFS_LOG_LEVEL=error\n"+
			"IMGFS_SYNC_WRITES=false\n",
	), 0o600))

	t.Setenv("IMGFS_LOG_LEVEL", "debug")

	cfg, err := NewLoader(&GodotenvProvider{}, &OSEnv{}).Load(file)
	require.NoError(t, err)

	assert.Equal(t, 1024, cfg.BlockSize)
	assert.Equal(t, uint64(64<<20), cfg.MaxImageBytes)
	assert.False(t, cfg.SyncWrites)
	assert.Equal(t, slog.LevelDebug, cfg.Level)
}

// TestLoad_Fail_Invalid tests that invalid values are rejected.
func TestLoad_Fail_Invalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
		want  error
	}{
		{"IMGFS_BLOCK_SIZE", "1000", validation.ErrBlockSizeInvalid},
		{"IMGFS_BYTES_PER_INODE", "64", validation.ErrBytesPerInodeInvalid},
		{"IMGFS_MAX_IMAGE_SIZE", "lots", ErrInvalidMaxSize},
		{"IMGFS_LOG_LEVEL", "chatty", validation.ErrUnknownLogLevel},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := NewLoader(&GodotenvProvider{}, &OSEnv{}).Load()
			require.ErrorIs(t, err, tt.want)
		})
	}
}

// TestLoad_Fail_MissingFile tests that a missing configuration file fails.
func TestLoad_Fail_MissingFile(t *testing.T) {
	clearEnv(t)

	_, err := NewLoader(&GodotenvProvider{}, &OSEnv{}).Load(filepath.Join(t.TempDir(), "missing.env"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestLoad_Success_Merge tests that only absent variables are merged into
// the environment.
func TestLoad_Success_Merge(t *testing.T) {
	clearEnv(t)

	files := &filesMock{}
	files.On("Read", []string{"a.env"}).Return(map[string]string{
		"IMGFS_TEST_PRESENT": "file",
		"IMGFS_TEST_ABSENT":  "file",
	}, nil)

	env := &envMock{}
	env.On("LookupEnv", "IMGFS_TEST_PRESENT").Return("env", true)
	env.On("LookupEnv", "IMGFS_TEST_ABSENT").Return("", false)
	env.On("Setenv", "IMGFS_TEST_ABSENT", "file").Return(nil)

	_, err := NewLoader(files, env).Load("a.env")
	require.NoError(t, err)

	files.AssertExpectations(t)
	env.AssertExpectations(t)
	env.AssertNotCalled(t, "Setenv", "IMGFS_TEST_PRESENT", mock.Anything)
}

// TestLoad_Fail_Setenv tests that environment failures are propagated.
func TestLoad_Fail_Setenv(t *testing.T) {
	clearEnv(t)

	errSet := errors.New("setenv failed")

	files := &filesMock{}
	files.On("Read", mock.Anything).Return(map[string]string{"IMGFS_TEST_KEY": "v"}, nil)

	env := &envMock{}
	env.On("LookupEnv", "IMGFS_TEST_KEY").Return("", false)
	env.On("Setenv", "IMGFS_TEST_KEY", "v").Return(errSet)

	_, err := NewLoader(files, env).Load("b.env")
	require.ErrorIs(t, err, errSet)
}
