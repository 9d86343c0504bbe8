// Package shell implements the text command language used by the
// interactive UI, batch scripts and tests to drive a mounted image.
package shell

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/desertwitch/imgfs/internal/directory"
	"github.com/desertwitch/imgfs/internal/filesystem"
	"github.com/dustin/go-humanize"
)

type engine interface {
	List(p string) ([]directory.Entry, error)
	Read(p string) ([]byte, error)
	Write(p string, content []byte) error
	Truncate(p string, size uint64) error
	Mkdir(p string) error
	Touch(p string) error
	Remove(p string) error
	Tree(p string) (*directory.Node, error)
	Info(p string) (filesystem.FileInfo, error)
	Stats() filesystem.Stats
	Check() error
	Dump(w io.Writer) error
}

type command struct {
	usage   string
	help    string
	minArgs int
	run     func(fs engine, args []string) (string, error)
}

var commands = map[string]command{
	"ls":       {usage: "ls [path]", help: "List directory", run: runList},
	"tree":     {usage: "tree [path]", help: "Show directory tree", run: runTree},
	"mkdir":    {usage: "mkdir <path>", help: "Create directory", minArgs: 1, run: runMkdir},
	"touch":    {usage: "touch <path>", help: "Create empty file", minArgs: 1, run: runTouch},
	"write":    {usage: "write <path> <text>", help: "Write text to file", minArgs: 2, run: runWrite},
	"read":     {usage: "read <path>", help: "Read file content", minArgs: 1, run: runRead},
	"truncate": {usage: "truncate <path> <size>", help: "Set file size (e.g. 10KiB)", minArgs: 2, run: runTruncate},
	"rm":       {usage: "rm <path>", help: "Delete file or empty directory", minArgs: 1, run: runRemove},
	"info":     {usage: "info <path>", help: "Show file info", minArgs: 1, run: runInfo},
	"stats":    {usage: "stats", help: "Show filesystem statistics", run: runStats},
	"check":    {usage: "check", help: "Verify filesystem consistency", run: runCheck},
	"dump":     {usage: "dump", help: "Hex dump of the raw image", run: runDump},
}

func init() {
	commands["help"] = command{usage: "help", help: "Show available commands", run: runHelp}
}

// Execute runs one command line against fs and returns its output. Empty
// lines produce no output. The quit and exit commands return [ErrQuit].
func Execute(fs engine, line string) (string, error) {
	args, err := Tokenize(line)
	if err != nil {
		return "", err
	}

	if len(args) == 0 {
		return "", nil
	}

	name, args := args[0], args[1:]

	if name == "quit" || name == "exit" {
		return "", ErrQuit
	}

	cmd, ok := commands[name]
	if !ok {
		return "", fmt.Errorf("(shell) %w: %q, type 'help' for available commands", ErrUnknownCommand, name)
	}

	if len(args) < cmd.minArgs {
		return "", fmt.Errorf("(shell) %w: usage: %s", ErrMissingArguments, cmd.usage)
	}

	return cmd.run(fs, args)
}

func pathArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}

	return "/"
}

func runHelp(engine, []string) (string, error) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)

	lines := []string{"Commands:"}
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("  %-20s - %s", commands[name].usage, commands[name].help))
	}
	lines = append(lines, fmt.Sprintf("  %-20s - %s", "quit", "Exit"))

	return strings.Join(lines, "\n"), nil
}

func runList(fs engine, args []string) (string, error) {
	entries, err := fs.List(pathArg(args))
	if err != nil {
		return "", err
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			lines = append(lines, e.Name+"/")
		} else {
			lines = append(lines, e.Name)
		}
	}

	return strings.Join(lines, "\n"), nil
}

func runTree(fs engine, args []string) (string, error) {
	node, err := fs.Tree(pathArg(args))
	if err != nil {
		return "", err
	}

	return node.String(), nil
}

func runMkdir(fs engine, args []string) (string, error) {
	if err := fs.Mkdir(args[0]); err != nil {
		return "", err
	}

	return "Created directory: " + args[0], nil
}

func runTouch(fs engine, args []string) (string, error) {
	if err := fs.Touch(args[0]); err != nil {
		return "", err
	}

	return "Created file: " + args[0], nil
}

func runWrite(fs engine, args []string) (string, error) {
	text := strings.Join(args[1:], " ")

	if err := fs.Write(args[0], []byte(text)); err != nil {
		return "", err
	}

	return fmt.Sprintf("Wrote %s to file: %s", humanize.IBytes(uint64(len(text))), args[0]), nil
}

func runTruncate(fs engine, args []string) (string, error) {
	size, err := humanize.ParseBytes(args[1])
	if err != nil {
		return "", fmt.Errorf("(shell) %w: %w", filesystem.ErrInvalidSize, err)
	}

	if err := fs.Truncate(args[0], size); err != nil {
		return "", err
	}

	return fmt.Sprintf("Truncated %s to %s", args[0], humanize.IBytes(size)), nil
}

func runRead(fs engine, args []string) (string, error) {
	data, err := fs.Read(args[0])
	if err != nil {
		return "", err
	}

	return strings.ToValidUTF8(string(data), "\uFFFD"), nil
}

func runRemove(fs engine, args []string) (string, error) {
	if err := fs.Remove(args[0]); err != nil {
		return "", err
	}

	return "Deleted: " + args[0], nil
}

func runInfo(fs engine, args []string) (string, error) {
	fi, err := fs.Info(args[0])
	if err != nil {
		return "", err
	}

	lines := []string{
		"Path: " + fi.Path,
		"Type: " + fi.Type.String(),
		"Inode: " + humanize.Comma(int64(fi.Inode)),
		fmt.Sprintf("Size: %s (%s bytes)", humanize.IBytes(fi.Size), humanize.Comma(int64(fi.Size))), //nolint:gosec
		"Blocks: " + humanize.Comma(int64(fi.BlockCount)),
		"Created: " + formatTime(fi.Created),
		"Modified: " + formatTime(fi.Modified),
		"Accessed: " + formatTime(fi.Accessed),
	}

	return strings.Join(lines, "\n"), nil
}

func formatTime(t time.Time) string {
	return fmt.Sprintf("%s (%s)", t.Format(time.RFC3339), humanize.Time(t))
}

func runStats(fs engine, _ []string) (string, error) {
	return FormatStats(fs.Stats()), nil
}

// FormatStats renders usage statistics as human-readable lines.
func FormatStats(s filesystem.Stats) string {
	lines := []string{
		"Block size: " + humanize.IBytes(uint64(s.BlockSize)),
		"Total blocks: " + humanize.Comma(int64(s.TotalBlocks)),
		"Data blocks: " + humanize.Comma(int64(s.DataBlocks)),
		"Used blocks: " + humanize.Comma(int64(s.UsedBlocks)),
		"Free blocks: " + humanize.Comma(int64(s.FreeBlocks)),
		"Total inodes: " + humanize.Comma(int64(s.TotalInodes)),
		"Used inodes: " + humanize.Comma(int64(s.UsedInodes)),
		"Free inodes: " + humanize.Comma(int64(s.FreeInodes)),
		fmt.Sprintf("Space: %s used of %s, %s free",
			humanize.IBytes(s.UsedBytes), humanize.IBytes(s.TotalBytes), humanize.IBytes(s.FreeBytes)),
	}

	return strings.Join(lines, "\n")
}

func runCheck(fs engine, _ []string) (string, error) {
	if err := fs.Check(); err != nil {
		return "", err
	}

	return "Filesystem is consistent.", nil
}

func runDump(fs engine, _ []string) (string, error) {
	var sb strings.Builder

	if err := fs.Dump(&sb); err != nil {
		return "", err
	}

	return strings.TrimRight(sb.String(), "\n"), nil
}
