package medium

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rndi/srt/pkg/protosock"
	"github.com/rndi/srt/pkg/uri"
)

// FileSource reads a file (or stdin) as a stream-oriented source. A regular
// file is always considered readable, so it registers in the OS-native poll
// namespace and stays ready until closed.
type FileSource struct {
	base
	f      *os.File
	desc   int
	eof    bool
	closed bool
	mu     sync.Mutex
}

// NewFileSource opens path for reading. A missing or unreadable file is a
// fatal construction failure.
func NewFileSource(loc uri.Location) (*FileSource, error) {
	f, err := os.Open(loc.Path)
	if err != nil {
		return nil, fmt.Errorf("%s: can't open file for reading: %w", loc.Path, err)
	}
	return &FileSource{base: base{loc: loc}, f: f, desc: protosock.NextSysDesc()}, nil
}

// NewConsoleSource reads from standard input.
func NewConsoleSource(loc uri.Location) *FileSource {
	return &FileSource{base: base{loc: loc}, f: os.Stdin, desc: protosock.NextSysDesc()}
}

func (s *FileSource) Read(chunk int) ([]byte, error) {
	buf := make([]byte, chunk)
	n, err := s.f.Read(buf)
	if n > 0 {
		if err == io.EOF {
			s.setEOF()
		}
		return buf[:n], nil
	}
	if err == io.EOF || err == nil {
		s.setEOF()
		return nil, io.EOF
	}
	return nil, fmt.Errorf("read %s: %w", s.loc.Path, err)
}

func (s *FileSource) setEOF() {
	s.mu.Lock()
	s.eof = true
	s.mu.Unlock()
}

func (s *FileSource) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *FileSource) End() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eof
}

func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.f == os.Stdin {
		return nil
	}
	return s.f.Close()
}

func (s *FileSource) SysSock() protosock.SysSock { return s }

// PollDesc, ReadReady and SetNotify implement protosock.SysSock.
func (s *FileSource) PollDesc() int { return s.desc }

func (s *FileSource) ReadReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *FileSource) SetNotify(func()) {}

// FileTarget writes a file (or stdout), created truncated. Writes are
// best-effort stream appends; a failed write marks the target broken.
type FileTarget struct {
	base
	f      *os.File
	broken bool
	closed bool
	mu     sync.Mutex
}

// NewFileTarget creates (or truncates) path for writing.
func NewFileTarget(loc uri.Location) (*FileTarget, error) {
	f, err := os.OpenFile(loc.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%s: can't open file for writing: %w", loc.Path, err)
	}
	return &FileTarget{base: base{loc: loc}, f: f}, nil
}

// NewConsoleTarget writes to standard output.
func NewConsoleTarget(loc uri.Location) *FileTarget {
	return &FileTarget{base: base{loc: loc}, f: os.Stdout}
}

func (t *FileTarget) Write(b []byte) error {
	if _, err := t.f.Write(b); err != nil {
		t.mu.Lock()
		t.broken = true
		t.mu.Unlock()
		return fmt.Errorf("write %s: %w", t.loc.Path, err)
	}
	return nil
}

func (t *FileTarget) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

func (t *FileTarget) Broken() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.broken
}

func (t *FileTarget) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.f == os.Stdout {
		return nil
	}
	return t.f.Close()
}
