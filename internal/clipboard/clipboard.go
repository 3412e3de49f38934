// Package clipboard is the system clipboard collaborator. The engine only
// sees Writer; tests and --stdout swap in Memory and Stream.
package clipboard

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/atotto/clipboard"
)

// ErrUnavailable is returned when no clipboard backend can be reached.
var ErrUnavailable = errors.New("clipboard unavailable")

// Writer replaces the clipboard contents in one call.
type Writer interface {
	WriteAll(text string) error
}

// Checker is implemented by writers that can report availability up front.
type Checker interface {
	Available() error
}

var (
	_ Writer  = (*System)(nil)
	_ Checker = (*System)(nil)
	_ Writer  = (*Memory)(nil)
	_ Checker = (*Memory)(nil)
	_ Writer  = (*Stream)(nil)
)

// System writes to the platform clipboard (pbcopy, xclip/xsel/wl-copy,
// or the Windows API).
type System struct{}

// NewSystem returns the platform clipboard, or ErrUnavailable when the
// platform has no supported backend.
func NewSystem() (*System, error) {
	s := &System{}
	if err := s.Available(); err != nil {
		return nil, err
	}
	return s, nil
}

// Available reports whether a clipboard backend was found.
func (*System) Available() error {
	if clipboard.Unsupported {
		return fmt.Errorf("%w: no clipboard utility found", ErrUnavailable)
	}
	return nil
}

func (*System) WriteAll(text string) error {
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// Memory is an in-process clipboard.
type Memory struct {
	mu     sync.Mutex
	text   string
	writes int
	err    error
}

// NewMemory returns an empty in-process clipboard.
func NewMemory() *Memory {
	return &Memory{}
}

// FailWith makes every subsequent call return err.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *Memory) Available() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *Memory) WriteAll(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.text = text
	m.writes++
	return nil
}

func (m *Memory) ReadAll() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	return m.text, nil
}

// Writes returns how many times WriteAll succeeded.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Stream writes the payload to an io.Writer instead of a clipboard.
type Stream struct {
	w io.Writer
}

// NewStream returns a Writer that prints to w.
func NewStream(w io.Writer) *Stream {
	return &Stream{w: w}
}

func (s *Stream) WriteAll(text string) error {
	_, err := io.WriteString(s.w, text)
	return err
}
