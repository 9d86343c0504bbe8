package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/desertwitch/imgfs/internal/configuration"
	"github.com/desertwitch/imgfs/internal/filesystem"
	"github.com/desertwitch/imgfs/internal/images"
	"github.com/desertwitch/imgfs/internal/queue"
	"github.com/desertwitch/imgfs/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) *App {
	t.Helper()

	registry, err := images.NewRegistry(&schema.OS{}, &schema.Unix{}, images.Options{
		Dir:           filepath.Join(t.TempDir(), "images"),
		MaxImageBytes: 8 * images.MiB,
		Filesystem:    filesystem.DefaultOptions(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.Close() })

	return NewApp(&configuration.Config{}, registry, newLogRouter(slog.LevelInfo))
}

// TestApp_Open_Success tests that an image is created and mounted again
// after unmounting.
func TestApp_Open_Success(t *testing.T) {
	t.Parallel()

	app := newTestApp(t)

	fs, err := app.Open("disk", 1)
	require.NoError(t, err)
	require.NoError(t, fs.Touch("/a"))

	require.NoError(t, app.registry.Unmount("disk"))

	fs, err = app.Open("disk", 0)
	require.NoError(t, err)

	fi, err := fs.Info("/a")
	require.NoError(t, err)
	assert.False(t, fi.IsDir())
}

// TestApp_Open_Fail tests mounting an image that does not exist.
func TestApp_Open_Fail(t *testing.T) {
	t.Parallel()

	app := newTestApp(t)

	_, err := app.Open("missing", 0)
	require.ErrorIs(t, err, filesystem.ErrNotFound)
}

// TestApp_RunScript_Success tests running a script file against an image.
func TestApp_RunScript_Success(t *testing.T) {
	t.Parallel()

	app := newTestApp(t)

	fs, err := app.Open("disk", 1)
	require.NoError(t, err)

	script := filepath.Join(t.TempDir(), "setup.txt")
	require.NoError(t, os.WriteFile(script, []byte(strings.Join([]string{
		"# create the docs",
		"mkdir /docs",
		"",
		"touch /docs/readme.txt",
		`write /docs/readme.txt "hello"`,
		"read /docs/readme.txt",
	}, "\n")), 0o600))

	var out bytes.Buffer
	require.NoError(t, app.RunScript(context.Background(), fs, script, &out))

	assert.Contains(t, out.String(), "imgfs> mkdir /docs\nCreated directory: /docs\n")
	assert.Contains(t, out.String(), "imgfs> read /docs/readme.txt\nhello\n")

	data, err := fs.Read("/docs/readme.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

// TestApp_RunScript_Fail tests that a failing command stops the script.
func TestApp_RunScript_Fail(t *testing.T) {
	t.Parallel()

	app := newTestApp(t)

	fs, err := app.Open("disk", 1)
	require.NoError(t, err)

	script := filepath.Join(t.TempDir(), "broken.txt")
	require.NoError(t, os.WriteFile(script, []byte("mkdir /a/b\nmkdir /c\n"), 0o600))

	var out bytes.Buffer
	err = app.RunScript(context.Background(), fs, script, &out)
	require.ErrorIs(t, err, queue.ErrJobsFailed)

	assert.Contains(t, out.String(), "Error: ")

	_, err = fs.Info("/c")
	require.ErrorIs(t, err, filesystem.ErrNotFound)

	err = app.RunScript(context.Background(), fs, filepath.Join(t.TempDir(), "none.txt"), &out)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestApp_RunShell_Success tests the line mode shell until a quit command.
func TestApp_RunShell_Success(t *testing.T) {
	t.Parallel()

	app := newTestApp(t)

	fs, err := app.Open("disk", 1)
	require.NoError(t, err)

	in := strings.NewReader("mkdir /docs\nbogus\nls /\nquit\nmkdir /never\n")

	var out bytes.Buffer
	require.NoError(t, app.RunShell(context.Background(), fs, in, &out))

	assert.Contains(t, out.String(), "Created directory: /docs")
	assert.Contains(t, out.String(), "Error: ")

	_, err = fs.Info("/never")
	require.ErrorIs(t, err, filesystem.ErrNotFound)
}

// TestLogRouter_AttachDetach tests that records reach exactly the attached
// sinks.
func TestLogRouter_AttachDetach(t *testing.T) {
	t.Parallel()

	router := newLogRouter(slog.LevelInfo)
	logger := slog.New(router).With("image", "disk.img")

	var first, second bytes.Buffer
	router.Attach(logTerminal, &first, true)

	logger.Info("one")
	logger.Debug("hidden")

	router.Attach(logUI, &second, true)
	router.Detach(logTerminal)
	assert.Equal(t, 1, router.Sinks())

	logger.Info("two")

	assert.Contains(t, first.String(), "one")
	assert.NotContains(t, first.String(), "hidden")
	assert.NotContains(t, first.String(), "two")
	assert.Contains(t, second.String(), "two")
	assert.Contains(t, second.String(), "image=disk.img")
}
