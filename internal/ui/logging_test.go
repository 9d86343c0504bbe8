package ui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProgram is a fake implementation of teaProgramProvider. It collects all
// messages sent via its Send method.
type fakeProgram struct {
	msgs chan tea.Msg
}

func newFakeProgram() *fakeProgram {
	return &fakeProgram{
		msgs: make(chan tea.Msg, 100),
	}
}

func (fp *fakeProgram) Send(msg tea.Msg) {
	fp.msgs <- msg
}

// TestTeaLogWriter_Write_Table verifies that calls to Write send the expected
// messages, without trailing newlines.
func TestTeaLogWriter_Write_Table(t *testing.T) {
	t.Parallel()

	fp := newFakeProgram()
	writer := NewTeaLogWriter(fp)
	defer writer.Stop()

	testCases := []struct {
		name  string
		input string
		want  LogMsg
	}{
		{"Success_EmptyMessage", "", ""},
		{"Success_ShortMessage", "log\n", "log"},
		{"Success_NoNewline", "mounted image", "mounted image"},
		{"Success_UnicodeMessage", "image 日本.img mounted\n", "image 日本.img mounted"},
	}

	for _, tc := range testCases {
		n, err := writer.Write([]byte(tc.input))
		require.NoError(t, err)
		require.Equal(t, len(tc.input), n)

		select {
		case got := <-fp.msgs:
			assert.Equal(t, tc.want, got, tc.name)
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for log message in case: %s", tc.name)
		}
	}
}

// TestTeaLogWriter_Stop verifies that after Stop is called, subsequent Write
// calls do not block and send no messages.
func TestTeaLogWriter_Stop(t *testing.T) {
	t.Parallel()

	fp := newFakeProgram()
	writer := NewTeaLogWriter(fp)

	_, _ = writer.Write([]byte("first message"))

	select {
	case got := <-fp.msgs:
		assert.Equal(t, LogMsg("first message"), got)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for first message")
	}

	writer.Stop()
	writer.Stop()

	for range logBufferSize + 10 {
		_, _ = writer.Write([]byte("late message"))
	}

	select {
	case m := <-fp.msgs:
		t.Fatalf("unexpected message after stop: %v", m)
	case <-time.After(100 * time.Millisecond):
	}
}
