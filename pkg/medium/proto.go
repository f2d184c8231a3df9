package medium

import (
	"errors"

	"go.uber.org/zap"

	"github.com/rndi/srt/pkg/protosock"
	"github.com/rndi/srt/pkg/uri"
)

// ProtoSource reads messages from a protocol socket. Construction runs the
// full connection-manager sequence for the configured mode; in listener
// mode the actual peer arrives later through AcceptClient.
type ProtoSource struct {
	base
	conn *Connector
}

// NewProtoSource builds and opens a protocol-socket source.
func NewProtoSource(loc uri.Location, chunkSize int, verbose bool) (*ProtoSource, error) {
	c := NewConnector(zap.L(), false, chunkSize, verbose)
	if err := c.Configure(loc.Host, loc.Options); err != nil {
		return nil, err
	}
	if err := c.Open(loc.Host, loc.Port); err != nil {
		return nil, err
	}
	return &ProtoSource{base: base{loc: loc}, conn: c}, nil
}

// Read returns the next pending message, at most chunk bytes. ErrAgain when
// nothing is ready in non-blocking mode; io.EOF on clean peer shutdown.
func (s *ProtoSource) Read(chunk int) ([]byte, error) {
	sock := s.conn.Socket()
	if sock == nil {
		return nil, &protosock.SockError{Code: protosock.ENOCONN, Msg: "no connection", Op: "read"}
	}
	return sock.Recv(chunk)
}

func (s *ProtoSource) IsOpen() bool {
	return s.conn.Status() != protosock.StatusNonexist
}

// End always reports false: a protocol source signals end of stream through
// io.EOF from Read, not through a sticky flag.
func (s *ProtoSource) End() bool { return false }

func (s *ProtoSource) Close() error {
	s.conn.Close()
	return nil
}

// ProtoSocket returns the handle to poll: the active socket once connected,
// the listening one before that.
func (s *ProtoSource) ProtoSocket() *protosock.Socket {
	if sock := s.conn.Socket(); sock != nil {
		return sock
	}
	return s.conn.ListenerSocket()
}

// AcceptClient performs the listener handoff: one accept, listener closed.
// A pending-nothing race reports (false, nil); a hard accept failure is
// returned so the caller can abort.
func (s *ProtoSource) AcceptClient() (bool, error) {
	err := s.conn.AcceptOne()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, protosock.ErrAgain) {
		return false, nil
	}
	return false, err
}

// Connector exposes the connection manager for stats and tests.
func (s *ProtoSource) Connector() *Connector { return s.conn }

// ProtoTarget writes messages to a protocol socket. Each Write is one
// atomic message; a partial transmission is a failure.
type ProtoTarget struct {
	base
	conn *Connector
}

// NewProtoTarget builds and opens a protocol-socket target.
func NewProtoTarget(loc uri.Location, chunkSize int, verbose bool) (*ProtoTarget, error) {
	c := NewConnector(zap.L(), true, chunkSize, verbose)
	if err := c.Configure(loc.Host, loc.Options); err != nil {
		return nil, err
	}
	if err := c.Open(loc.Host, loc.Port); err != nil {
		return nil, err
	}
	return &ProtoTarget{base: base{loc: loc}, conn: c}, nil
}

func (t *ProtoTarget) Write(b []byte) error {
	sock := t.conn.Socket()
	if sock == nil {
		return &protosock.SockError{Code: protosock.ENOCONN, Msg: "no connection", Op: "write"}
	}
	return sock.Send(b)
}

func (t *ProtoTarget) IsOpen() bool {
	return t.conn.Status() != protosock.StatusNonexist
}

func (t *ProtoTarget) Broken() bool {
	switch t.conn.Status() {
	case protosock.StatusBroken, protosock.StatusClosed:
		return true
	}
	return false
}

func (t *ProtoTarget) Close() error {
	t.conn.Close()
	return nil
}

func (t *ProtoTarget) ProtoSocket() *protosock.Socket {
	if sock := t.conn.Socket(); sock != nil {
		return sock
	}
	return t.conn.ListenerSocket()
}

func (t *ProtoTarget) AcceptClient() (bool, error) {
	err := t.conn.AcceptOne()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, protosock.ErrAgain) {
		return false, nil
	}
	return false, err
}

func (t *ProtoTarget) Connector() *Connector { return t.conn }
