package ui

import (
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// logBufferSize is the number of log lines held while the program is busy.
const logBufferSize = 1000

// LogMsg is a single log line. It is typed for identification as [tea.Msg]
// within a [tea.Program].
type LogMsg string

type teaProgramProvider interface {
	Send(msg tea.Msg)
}

// TeaLogWriter is an implementation of an [io.Writer], for use inside a
// [slog.Handler], that forwards each log line to a [tea.Program] as a
// [LogMsg], so logs appear inside the interface instead of corrupting it.
type TeaLogWriter struct {
	program  teaProgramProvider
	doneChan chan struct{}
	logChan  chan LogMsg
	stopOnce sync.Once
}

// NewTeaLogWriter returns a pointer to a new [TeaLogWriter] and starts its
// forwarding goroutine, which is ended with [TeaLogWriter.Stop].
func NewTeaLogWriter(program teaProgramProvider) *TeaLogWriter {
	wr := &TeaLogWriter{
		program:  program,
		doneChan: make(chan struct{}),
		logChan:  make(chan LogMsg, logBufferSize),
	}

	go wr.processLogs()

	return wr
}

// Stop ends the forwarding. Logs written afterwards are discarded. Calling
// Stop more than once is a no-op.
func (wr *TeaLogWriter) Stop() {
	wr.stopOnce.Do(func() {
		close(wr.doneChan)
	})
}

func (wr *TeaLogWriter) processLogs() {
	for {
		select {
		case <-wr.doneChan:
			return
		case msg := <-wr.logChan:
			select {
			case <-wr.doneChan:
				return
			default:
			}

			wr.program.Send(msg)
		}
	}
}

// Write queues p as one [LogMsg] without its trailing newline. It blocks
// while the buffer is full, unless the writer is stopped.
func (wr *TeaLogWriter) Write(p []byte) (int, error) {
	select {
	case <-wr.doneChan:
		return len(p), nil
	default:
	}

	msg := LogMsg(strings.TrimRight(string(p), "\n"))

	select {
	case <-wr.doneChan:
	case wr.logChan <- msg:
	}

	return len(p), nil
}
