//go:build windows

package medium

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/Microsoft/go-winio"

	"github.com/rndi/srt/pkg/protosock"
	"github.com/rndi/srt/pkg/uri"
)

// pipeSource serves one named-pipe client and relays its byte stream. Like
// the protocol listener, it accepts exactly one peer and then stops
// listening.
type pipeSource struct {
	base
	ln     net.Listener
	desc   int
	mu     sync.Mutex
	conn   net.Conn
	rxq    chan []byte
	eof    bool
	closed bool
	notify func()
}

func newPipeSource(loc uri.Location) (Source, error) {
	ln, err := winio.ListenPipe(`\\.\pipe\`+loc.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("pipe listen %s: %w", loc.Path, err)
	}
	s := &pipeSource{
		base: base{loc: loc},
		ln:   ln,
		desc: protosock.NextSysDesc(),
		rxq:  make(chan []byte, 128),
	}
	go s.serve()
	return s, nil
}

func (s *pipeSource) serve() {
	conn, err := s.ln.Accept()
	_ = s.ln.Close()
	if err != nil {
		s.mu.Lock()
		s.eof = true
		fn := s.notify
		s.mu.Unlock()
		if fn != nil {
			fn()
		}
		return
	}
	s.mu.Lock()
	s.conn = conn
	fn := s.notify
	s.mu.Unlock()
	if fn != nil {
		fn()
	}

	buf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			pkt := make([]byte, n)
			copy(pkt, buf[:n])
			select {
			case s.rxq <- pkt:
			default:
			}
			s.wake()
		}
		if err != nil {
			s.mu.Lock()
			s.eof = true
			s.mu.Unlock()
			s.wake()
			return
		}
	}
}

func (s *pipeSource) wake() {
	s.mu.Lock()
	fn := s.notify
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *pipeSource) Read(chunk int) ([]byte, error) {
	select {
	case pkt := <-s.rxq:
		if len(pkt) > chunk {
			pkt = pkt[:chunk]
		}
		return pkt, nil
	default:
	}
	s.mu.Lock()
	eof := s.eof
	s.mu.Unlock()
	if eof {
		return nil, io.EOF
	}
	return nil, ErrAgain
}

func (s *pipeSource) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *pipeSource) End() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eof
}

func (s *pipeSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()
	_ = s.ln.Close()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (s *pipeSource) SysSock() protosock.SysSock { return s }
func (s *pipeSource) PollDesc() int              { return s.desc }

func (s *pipeSource) ReadReady() bool {
	if len(s.rxq) > 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eof
}

func (s *pipeSource) SetNotify(fn func()) {
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
}

// pipeTarget dials a named pipe and streams bytes into it.
type pipeTarget struct {
	base
	conn   net.Conn
	mu     sync.Mutex
	broken bool
	closed bool
}

func newPipeTarget(loc uri.Location) (Target, error) {
	timeout := 5 * time.Second
	conn, err := winio.DialPipe(`\\.\pipe\`+loc.Path, &timeout)
	if err != nil {
		return nil, fmt.Errorf("pipe dial %s: %w", loc.Path, err)
	}
	return &pipeTarget{base: base{loc: loc}, conn: conn}, nil
}

func (t *pipeTarget) Write(b []byte) error {
	if _, err := t.conn.Write(b); err != nil {
		t.mu.Lock()
		t.broken = true
		t.mu.Unlock()
		return fmt.Errorf("pipe write: %w", err)
	}
	return nil
}

func (t *pipeTarget) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

func (t *pipeTarget) Broken() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.broken
}

func (t *pipeTarget) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.conn.Close()
}
