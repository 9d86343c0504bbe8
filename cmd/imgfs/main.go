package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/desertwitch/imgfs/internal/configuration"
	"github.com/desertwitch/imgfs/internal/filesystem"
	"github.com/desertwitch/imgfs/internal/images"
	"github.com/desertwitch/imgfs/internal/schema"
)

const (
	stackTraceBufMax = 1 << 24
)

//nolint:gochecknoglobals
var (
	ExitCode = 0
	Version  string

	configFile = flag.String("config", "", "read configuration from this .env file")
	serve      = flag.Bool("serve", false, "serve the HTTP API")
	imageName  = flag.String("image", "", "image to open")
	createMB   = flag.Int64("create", 0, "create the image with this size in MiB instead of mounting it")
	scriptFile = flag.String("script", "", "run the commands of this file against the image")
	uiEnabled  = flag.Bool("ui", false, "open the image in the interactive UI")
	cpuprofile = flag.String("cpuprofile", "", "write cpu profile to file")
	memprofile = flag.String("memprofile", "", "write memory profile to this file")
)

func setupLogging(level slog.Level) (*logRouter, *slog.LevelVar) {
	lvl := &slog.LevelVar{}
	lvl.Set(level)

	logs := newLogRouter(lvl)
	logs.Attach(logTerminal, os.Stderr, false)

	slog.SetDefault(slog.New(logs))

	return logs, lvl
}

func setupSignalHandlers(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-sigChan
		cancel()
	}()

	sigChan2 := make(chan os.Signal, 1)
	signal.Notify(sigChan2, syscall.SIGUSR1)
	go func() {
		for range sigChan2 {
			buf := make([]byte, stackTraceBufMax)
			stacklen := runtime.Stack(buf, true)
			os.Stderr.Write(buf[:stacklen])
		}
	}()
}

func loadConfig() (*configuration.Config, error) {
	loader := configuration.NewLoader(&configuration.GodotenvProvider{}, &configuration.OSEnv{})

	if *configFile != "" {
		return loader.Load(*configFile) //nolint:wrapcheck
	}

	return loader.Load() //nolint:wrapcheck
}

func run(ctx context.Context, cancel context.CancelFunc, app *App) error {
	var fs *filesystem.Handler

	if *imageName != "" {
		h, err := app.Open(*imageName, *createMB)
		if err != nil {
			return err
		}
		fs = h
	}

	switch {
	case *serve:
		return app.Serve(ctx)

	case fs == nil:
		return ErrMissingImage

	case *scriptFile != "":
		return app.RunScript(ctx, fs, *scriptFile, os.Stdout)

	case *uiEnabled:
		return app.LaunchUI(ctx, cancel, *imageName, fs)

	default:
		return app.RunShell(ctx, fs, os.Stdin, os.Stdout)
	}
}

func main() {
	defer func() {
		os.Exit(ExitCode)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	flag.Parse()
	logs, level := setupLogging(slog.LevelInfo)
	setupSignalHandlers(cancel)

	cpuProfiler := newCPUProfiler(ctx, *cpuprofile)
	defer cpuProfiler.Stop()

	allocProfiler := newAllocProfiler(ctx, *memprofile)
	defer allocProfiler.Stop()

	memObserver := newMemoryObserver(ctx)
	defer memObserver.Stop()

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("Failed to load configuration.", "err", err)
		ExitCode = 1

		return
	}
	level.Set(cfg.Level)

	if *createMB < 0 {
		slog.Error("Invalid image size.", "create", *createMB, "err", ErrNegativeSize)
		ExitCode = 1

		return
	}

	registry, err := images.NewRegistry(&schema.OS{}, &schema.Unix{}, images.Options{
		Dir:           cfg.ImageDir,
		MaxImageBytes: cfg.MaxImageBytes,
		Filesystem: filesystem.Options{
			BlockSize:     cfg.BlockSize,
			BytesPerInode: cfg.BytesPerInode,
			SyncWrites:    cfg.SyncWrites,
		},
	})
	if err != nil {
		slog.Error("Failed to establish image registry.", "err", err)
		ExitCode = 1

		return
	}

	defer func() {
		if err := registry.Close(); err != nil {
			slog.Error("Failed to close images.", "err", err)
			ExitCode = 1
		}
	}()

	slog.Debug("Starting.", "version", Version, "dir", registry.Dir())

	app := NewApp(cfg, registry, logs)

	if err := run(ctx, cancel, app); err != nil {
		slog.Error("Failed.", "err", err)
		ExitCode = 1
	}
}
