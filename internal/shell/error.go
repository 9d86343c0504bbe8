package shell

import "errors"

var (
	// ErrUnknownCommand occurs when a command line names no known command.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrMissingArguments occurs when a command is given fewer arguments than
	// it needs.
	ErrMissingArguments = errors.New("missing arguments")

	// ErrUnterminatedQuote occurs when a quoted argument is not closed.
	ErrUnterminatedQuote = errors.New("unterminated quote")

	// ErrQuit is returned for the quit and exit commands, to be handled by
	// the interactive caller.
	ErrQuit = errors.New("quit")
)
