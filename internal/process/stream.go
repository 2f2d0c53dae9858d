package process

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/clive/pair/internal/model"
)

// TextStream yields assistant text incrementally. Next blocks until a
// fragment is available and returns a chunk with EOS set after the last
// fragment. After a final result (EOS or error) every further call returns
// the same result. Close releases the underlying resources and is safe to
// call more than once.
type TextStream interface {
	Next() (model.StreamChunk, error)
	Close() error
}

// StreamError is the terminal failure of a stream
type StreamError struct {
	ExitCode   int
	Diagnostic string
}

func (e *StreamError) Error() string {
	if e.Diagnostic == "" {
		return fmt.Sprintf("exit code %d", e.ExitCode)
	}
	return e.Diagnostic
}

// waitDelay bounds how long Wait waits for grandchildren holding stderr open
const waitDelay = 2 * time.Second

// CommandStream runs a shell command and streams its stdout
type CommandStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *syncBuffer

	buf     []byte
	pending []byte // incomplete UTF-8 sequence carried to the next read
	seq     int

	final     *model.StreamChunk
	finalErr  error
	waitOnce  sync.Once
	closeOnce sync.Once
}

// StartCommand starts command under `sh -c` in dir, writing input to its
// stdin and closing it. A start failure is reported by the first Next.
func StartCommand(ctx context.Context, dir, command, input string) *CommandStream {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(input)
	cmd.WaitDelay = waitDelay

	s := &CommandStream{
		cmd:    cmd,
		stderr: &syncBuffer{},
		buf:    make([]byte, 4096),
	}
	cmd.Stderr = s.stderr

	stdout, err := cmd.StdoutPipe()
	if err == nil {
		s.stdout = stdout
		err = cmd.Start()
	}
	if err != nil {
		s.fail(&StreamError{ExitCode: -1, Diagnostic: "failed to start: " + err.Error()})
		s.waitOnce.Do(func() {})
	}
	return s
}

// Next returns the next fragment of stdout
func (s *CommandStream) Next() (model.StreamChunk, error) {
	if s.final != nil || s.finalErr != nil {
		return s.result()
	}
	for {
		n, err := s.stdout.Read(s.buf)
		if n > 0 {
			data := append(s.pending, s.buf[:n]...)
			text, rest := splitComplete(data)
			s.pending = append([]byte(nil), rest...)
			if len(text) > 0 {
				return s.chunk(string(text)), nil
			}
		}
		if err != nil {
			if len(s.pending) > 0 {
				text := string(s.pending)
				s.pending = nil
				return s.chunk(text), nil
			}
			s.finish(err)
			return s.result()
		}
	}
}

func (s *CommandStream) chunk(text string) model.StreamChunk {
	s.seq++
	return model.StreamChunk{Seq: s.seq, Text: text}
}

// finish waits for the process and records the terminal result
func (s *CommandStream) finish(readErr error) {
	s.waitOnce.Do(func() {
		waitErr := s.cmd.Wait()
		code := 0
		if s.cmd.ProcessState != nil {
			code = s.cmd.ProcessState.ExitCode()
		} else if waitErr != nil {
			code = -1
		}
		if code != 0 {
			s.fail(&StreamError{ExitCode: code, Diagnostic: strings.TrimSpace(s.stderr.String())})
			return
		}
		if readErr != nil && readErr != io.EOF {
			s.fail(&StreamError{ExitCode: -1, Diagnostic: "read output: " + readErr.Error()})
			return
		}
		s.seq++
		s.final = &model.StreamChunk{Seq: s.seq, EOS: true}
	})
}

func (s *CommandStream) fail(err *StreamError) {
	s.finalErr = err
}

func (s *CommandStream) result() (model.StreamChunk, error) {
	if s.finalErr != nil {
		return model.StreamChunk{}, s.finalErr
	}
	return *s.final, nil
}

// Close kills the process if it is still running and waits for it
func (s *CommandStream) Close() error {
	s.closeOnce.Do(func() {
		s.waitOnce.Do(func() {
			if s.cmd.Process != nil {
				s.cmd.Process.Kill()
			}
			s.cmd.Wait()
			if s.final == nil && s.finalErr == nil {
				s.fail(&StreamError{ExitCode: -1, Diagnostic: "stream closed"})
			}
		})
	})
	return nil
}

// splitComplete splits b so that complete ends on a rune boundary. Invalid
// bytes are treated as complete.
func splitComplete(b []byte) (complete, rest []byte) {
	for i := len(b) - 1; i >= 0 && i > len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return b, nil
		}
		return b[:i], b[i:]
	}
	return b, nil
}

// syncBuffer is a bytes.Buffer safe for the exec copier and readers
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
