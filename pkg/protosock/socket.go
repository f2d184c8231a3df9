// Package protosock wraps the QUIC datagram engine behind the opaque socket
// API the relay is built against: create/bind/listen/connect/accept/send/recv
// primitives with explicit socket states and a process-wide last-error
// facility. The relay core never touches QUIC directly.
package protosock

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	// MaxLivePayloadSize is the live-mode payload ceiling: one message must
	// fit a single datagram frame.
	MaxLivePayloadSize = 1456

	// DefaultLivePayloadSize is the default live chunk (7 MPEG-TS packets).
	DefaultLivePayloadSize = 1316

	alpnBase = "livetx/1"
)

// SocketID identifies a protocol socket in the poll-registration namespace.
type SocketID int32

// InvalidSock is the null socket handle.
const InvalidSock SocketID = -1

var nextSockID atomic.Int32

// Status is the engine-visible connection state of a socket.
type Status int32

const (
	StatusNonexist Status = iota
	StatusOpened
	StatusListening
	StatusConnecting
	StatusConnected
	StatusBroken
	StatusClosed
)

func (st Status) String() string {
	switch st {
	case StatusNonexist:
		return "nonexist"
	case StatusOpened:
		return "opened"
	case StatusListening:
		return "listening"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusBroken:
		return "broken"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SockConfig carries the knobs the option table and the connection manager
// set before (Pre) or after (Post) connecting.
type SockConfig struct {
	PayloadSize int
	TransType   string // "live" or "file"
	Blocking    bool   // synchronous receive: blocking connect/accept/recv
	TSBPD       bool   // timestamp-based delivery pacing
	Rendezvous  bool
	StreamID    string
	ConnTimeout time.Duration
	RcvTimeout  time.Duration
	SndTimeout  time.Duration
	Latency     time.Duration
	MaxBandwidth int64
	MSS         int
	RecvBuf     int64
	SendBuf     int64
	Passphrase  string
}

// DefaultSockConfig returns the live-mode defaults.
func DefaultSockConfig() SockConfig {
	return SockConfig{
		PayloadSize: DefaultLivePayloadSize,
		TransType:   "live",
		TSBPD:       true,
	}
}

// Socket is one protocol socket handle. A socket is either a listener (after
// Listen) or a connection endpoint (after Connect or Accept), never both.
type Socket struct {
	id     SocketID
	status atomic.Int32
	// stateEvent is set on every status transition and consumed by the
	// poller, so transitions surface as one readiness event even when no
	// data is pending.
	stateEvent atomic.Bool
	eof        atomic.Bool

	cfg SockConfig
	ctr counters

	mu           sync.Mutex
	udp          *net.UDPConn
	tr           *quic.Transport
	ln           *quic.Listener
	conn         quic.Connection
	peerStreamID string

	pending chan quic.Connection
	recvQ   chan []byte

	notifyMu sync.Mutex
	notify   func()

	established time.Time
	ctx         context.Context
	cancel      context.CancelFunc
	closeOnce   sync.Once
}

// NewSocket creates an unconnected socket in the Opened state.
func NewSocket(cfg SockConfig) *Socket {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Socket{
		id:      SocketID(nextSockID.Add(1)),
		cfg:     cfg,
		pending: make(chan quic.Connection, 8),
		recvQ:   make(chan []byte, 128),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.status.Store(int32(StatusOpened))
	return s
}

func (s *Socket) ID() SocketID { return s.id }

// Status returns the socket's current connection state.
func (s *Socket) Status() Status { return Status(s.status.Load()) }

// Config returns a pointer to the socket configuration for the option-apply
// phases. Pre options must not be changed after the socket connects.
func (s *Socket) Config() *SockConfig { return &s.cfg }

func (s *Socket) setStatus(st Status) {
	s.status.Store(int32(st))
	s.stateEvent.Store(true)
	s.signalPoller()
}

func (s *Socket) setNotify(fn func()) {
	s.notifyMu.Lock()
	s.notify = fn
	s.notifyMu.Unlock()
}

func (s *Socket) signalPoller() {
	s.notifyMu.Lock()
	fn := s.notify
	s.notifyMu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *Socket) sockError(op string, code ErrCode, msg string) error {
	setLastError(code, msg)
	return &SockError{Code: code, Msg: msg, Op: op}
}

// Bind binds the socket's underlying datagram endpoint to adapter:port.
// An empty adapter means the wildcard address; a zero port asks the OS for
// an ephemeral one.
func (s *Socket) Bind(adapter string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bindLocked(adapter, port)
}

func (s *Socket) bindLocked(adapter string, port int) error {
	if s.udp != nil {
		return s.sockError("bind", EINVOP, "socket already bound")
	}
	laddr := &net.UDPAddr{Port: port}
	if adapter != "" {
		ip := net.ParseIP(adapter)
		if ip == nil {
			return s.sockError("bind", EINVPARAM, "invalid adapter address: "+adapter)
		}
		laddr.IP = ip
	}
	udp, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return s.sockError("bind", ESOCKFAIL, err.Error())
	}
	s.udp = udp
	s.tr = &quic.Transport{Conn: udp}
	return nil
}

// Listen starts accepting inbound connections. Accept is a separate step.
// Pending connections beyond the backlog are rejected.
func (s *Socket) Listen(backlog int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tr == nil {
		return s.sockError("listen", EINVOP, "listen on an unbound socket")
	}
	if s.ln != nil {
		return s.sockError("listen", EINVOP, "socket already listening")
	}
	tlsConf, err := serverTLSConfig(&s.cfg)
	if err != nil {
		return s.sockError("listen", ERESOURCE, err.Error())
	}
	ln, err := s.tr.Listen(tlsConf, s.quicConfig())
	if err != nil {
		return s.sockError("listen", ESOCKFAIL, err.Error())
	}
	s.ln = ln
	_ = backlog // pending queue capacity is fixed; backlog kept for contract symmetry
	s.setStatus(StatusListening)
	go s.acceptLoop(ln)
	return nil
}

func (s *Socket) acceptLoop(ln *quic.Listener) {
	for {
		c, err := ln.Accept(s.ctx)
		if err != nil {
			return
		}
		select {
		case s.pending <- c:
			s.signalPoller()
		default:
			_ = c.CloseWithError(1, "backlog full")
		}
	}
}

// Connect establishes an outbound connection to host:port. In non-blocking
// mode the call returns immediately with the socket in the Connecting state;
// the transition to Connected or Broken is reported through the poller. With
// the rendezvous flag set the socket simultaneously listens and dials on its
// bound endpoint and keeps whichever connection completes first.
func (s *Socket) Connect(host string, port int) error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return s.sockError("connect", EINVOP, "socket already connected")
	}
	if s.tr == nil {
		if err := s.bindLocked("", 0); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	tr := s.tr
	s.mu.Unlock()

	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return s.sockError("connect", ECONNSETUP, err.Error())
	}

	if s.cfg.Blocking {
		conn, err := s.dial(tr, raddr, host)
		if err != nil {
			return s.sockError("connect", ECONNSETUP, err.Error())
		}
		s.attachConn(conn, false)
		return nil
	}

	s.setStatus(StatusConnecting)
	go func() {
		conn, err := s.dial(tr, raddr, host)
		if err != nil {
			setLastError(ECONNSETUP, err.Error())
			s.setStatus(StatusBroken)
			return
		}
		s.attachConn(conn, false)
	}()
	return nil
}

// dial races an outbound handshake against an inbound one when rendezvous is
// requested, otherwise it just dials.
func (s *Socket) dial(tr *quic.Transport, raddr *net.UDPAddr, host string) (quic.Connection, error) {
	ctx := s.ctx
	if s.cfg.ConnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ConnTimeout)
		defer cancel()
	}

	tlsClient := clientTLSConfig(&s.cfg)
	if !s.cfg.Rendezvous {
		return tr.Dial(ctx, raddr, tlsClient, s.quicConfig())
	}

	tlsServer, err := serverTLSConfig(&s.cfg)
	if err != nil {
		return nil, err
	}
	ln, err := tr.Listen(tlsServer, s.quicConfig())
	if err != nil {
		return nil, err
	}
	defer func() { _ = ln.Close() }()

	raceCtx, raceCancel := context.WithCancel(ctx)
	defer raceCancel()

	type result struct {
		conn quic.Connection
		err  error
	}
	res := make(chan result, 2)
	go func() {
		c, err := tr.Dial(raceCtx, raddr, tlsClient, s.quicConfig())
		res <- result{c, err}
	}()
	go func() {
		c, err := ln.Accept(raceCtx)
		res <- result{c, err}
	}()

	first := <-res
	if first.err == nil {
		raceCancel()
		// Reap the losing attempt if it also completed.
		select {
		case second := <-res:
			if second.conn != nil {
				_ = second.conn.CloseWithError(0, "rendezvous duplicate")
			}
		default:
		}
		return first.conn, nil
	}
	second := <-res
	if second.err == nil {
		return second.conn, nil
	}
	return nil, first.err
}

// Accept takes one pending inbound connection and returns it as a new
// connected socket. Pre options set on the listener are inherited via the
// copied configuration and the listener's negotiated parameters; they are
// never reapplied. Ownership of the underlying datagram endpoint moves to
// the accepted socket; the listener retains only its accept queue.
// In non-blocking mode the caller must poll for readability first: with no
// pending connection Accept returns ErrAgain.
func (s *Socket) Accept() (*Socket, error) {
	if s.Status() != StatusListening {
		return nil, s.sockError("accept", EINVOP, "accept on a non-listening socket")
	}

	var c quic.Connection
	if s.cfg.Blocking {
		select {
		case c = <-s.pending:
		case <-s.ctx.Done():
			return nil, s.sockError("accept", ECONNFAIL, "socket closed while accepting")
		}
	} else {
		select {
		case c = <-s.pending:
		default:
			setLastError(EASYNCRCV, "no pending connection")
			return nil, ErrAgain
		}
	}

	child := NewSocket(s.cfg)
	s.mu.Lock()
	child.mu.Lock()
	child.udp, child.tr = s.udp, s.tr
	s.udp, s.tr = nil, nil
	child.mu.Unlock()
	s.mu.Unlock()

	child.attachConn(c, true)
	return child, nil
}

func (s *Socket) attachConn(c quic.Connection, inbound bool) {
	s.mu.Lock()
	s.conn = c
	s.established = time.Now()
	s.mu.Unlock()
	if !inbound && s.cfg.StreamID != "" {
		// Announce the requested stream before any payload flows.
		_ = c.SendDatagram(encodeStreamID(s.cfg.StreamID))
	}
	s.setStatus(StatusConnected)
	go s.recvLoop(c)
}

func (s *Socket) recvLoop(c quic.Connection) {
	for {
		pkt, err := c.ReceiveDatagram(s.ctx)
		if err != nil {
			if s.Status() == StatusClosed {
				return
			}
			var appErr *quic.ApplicationError
			if errors.As(err, &appErr) && appErr.Remote && appErr.ErrorCode == 0 {
				// Clean peer shutdown: end of stream, then broken state.
				s.eof.Store(true)
			} else {
				setLastError(ECONNLOST, err.Error())
			}
			s.setStatus(StatusBroken)
			// Wake blocking receivers; pending queue data stays readable.
			s.cancel()
			return
		}
		if sid, ok := decodeStreamID(pkt); ok {
			s.mu.Lock()
			s.peerStreamID = sid
			s.mu.Unlock()
			continue
		}
		s.ctr.dgramsRecv.Add(1)
		s.ctr.bytesRecv.Add(uint64(len(pkt)))
		select {
		case s.recvQ <- pkt:
		default:
			s.ctr.recvDropped.Add(1)
		}
		s.signalPoller()
	}
}

// Send transmits one message atomically. A message larger than the effective
// payload size fails without transmitting anything.
func (s *Socket) Send(b []byte) error {
	limit := s.cfg.PayloadSize
	if limit <= 0 || limit > MaxLivePayloadSize {
		limit = MaxLivePayloadSize
	}
	if len(b) > limit {
		return s.sockError("send", EINVPARAM,
			fmt.Sprintf("message of %d bytes exceeds payload size %d", len(b), limit))
	}
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		return s.sockError("send", ENOCONN, "socket is not connected")
	}
	if err := c.SendDatagram(b); err != nil {
		s.ctr.sendErrors.Add(1)
		s.setStatus(StatusBroken)
		return s.sockError("send", ECONNLOST, err.Error())
	}
	s.ctr.dgramsSent.Add(1)
	s.ctr.bytesSent.Add(uint64(len(b)))
	return nil
}

// Recv returns the next pending message, at most max bytes of it. Pending
// data is delivered even after the peer shut down; then io.EOF. In
// non-blocking mode ErrAgain reports that nothing is ready yet, which is not
// an error.
func (s *Socket) Recv(max int) ([]byte, error) {
	select {
	case pkt := <-s.recvQ:
		if len(pkt) > max {
			pkt = pkt[:max]
		}
		return pkt, nil
	default:
	}

	if s.eof.Load() {
		return nil, io.EOF
	}
	switch s.Status() {
	case StatusBroken, StatusClosed:
		return nil, s.sockError("recv", ECONNLOST, "connection is "+s.Status().String())
	case StatusConnected:
	default:
		return nil, s.sockError("recv", ENOCONN, "socket is not connected")
	}

	if !s.cfg.Blocking {
		setLastError(EASYNCRCV, "no data available")
		return nil, ErrAgain
	}

	var timeout <-chan time.Time
	if s.cfg.RcvTimeout > 0 {
		t := time.NewTimer(s.cfg.RcvTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case pkt := <-s.recvQ:
		if len(pkt) > max {
			pkt = pkt[:max]
		}
		return pkt, nil
	case <-timeout:
		setLastError(EASYNCRCV, "receive timed out")
		return nil, ErrAgain
	case <-s.ctx.Done():
		if s.eof.Load() {
			return nil, io.EOF
		}
		return nil, s.sockError("recv", ECONNLOST, "socket closed")
	}
}

// LocalPort reports the bound local port, zero when unbound.
func (s *Socket) LocalPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var addr net.Addr
	switch {
	case s.udp != nil:
		addr = s.udp.LocalAddr()
	case s.conn != nil:
		addr = s.conn.LocalAddr()
	default:
		return 0
	}
	if ua, ok := addr.(*net.UDPAddr); ok {
		return ua.Port
	}
	return 0
}

// StreamID returns the locally requested stream name, or the one announced
// by the peer on an accepted socket.
func (s *Socket) StreamID() string {
	if s.cfg.StreamID != "" {
		return s.cfg.StreamID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerStreamID
}

// readyForPoll is the level-triggered readiness probe used by the poller.
func (s *Socket) readyForPoll() bool {
	if s.stateEvent.Load() {
		return true
	}
	switch s.Status() {
	case StatusListening:
		return len(s.pending) > 0
	case StatusConnected:
		return len(s.recvQ) > 0 || s.eof.Load()
	case StatusBroken, StatusClosed:
		return true
	}
	return false
}

func (s *Socket) consumeStateEvent() { s.stateEvent.Store(false) }

// Close releases whatever the socket still owns. It is idempotent and safe
// on sockets whose handles were already closed or stolen.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		s.status.Store(int32(StatusClosed))
		s.cancel()
		s.mu.Lock()
		conn, ln, tr, udp := s.conn, s.ln, s.tr, s.udp
		s.conn, s.ln, s.tr, s.udp = nil, nil, nil, nil
		s.mu.Unlock()
		if conn != nil {
			_ = conn.CloseWithError(0, "")
		}
		if ln != nil {
			_ = ln.Close()
		}
		if tr != nil {
			_ = tr.Close()
		}
		if udp != nil {
			_ = udp.Close()
		}
		s.stateEvent.Store(true)
		s.signalPoller()
	})
	return nil
}

func (s *Socket) quicConfig() *quic.Config {
	conf := &quic.Config{
		EnableDatagrams: true,
		KeepAlivePeriod: 2 * time.Second,
	}
	if s.cfg.ConnTimeout > 0 {
		conf.HandshakeIdleTimeout = s.cfg.ConnTimeout
	}
	if s.cfg.Latency > 0 {
		// Latency bounds how long a silent link is considered alive.
		conf.MaxIdleTimeout = 4 * s.cfg.Latency
	}
	if s.cfg.RecvBuf > 0 {
		conf.InitialConnectionReceiveWindow = uint64(s.cfg.RecvBuf)
		conf.MaxConnectionReceiveWindow = uint64(s.cfg.RecvBuf)
	}
	return conf
}

// alpnFor derives the negotiated protocol label. A shared passphrase is mixed
// in, so endpoints with different passphrases fail the handshake instead of
// exchanging data.
func alpnFor(cfg *SockConfig) string {
	if cfg.Passphrase == "" {
		return alpnBase
	}
	sum := sha256.Sum256([]byte(cfg.Passphrase))
	return alpnBase + "+" + hex.EncodeToString(sum[:8])
}

func clientTLSConfig(cfg *SockConfig) *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true, // endpoints authenticate via shared passphrase, not PKI
		NextProtos:         []string{alpnFor(cfg)},
		MinVersion:         tls.VersionTLS13,
	}
}

func serverTLSConfig(cfg *SockConfig) (*tls.Config, error) {
	cert, err := selfSignedCert()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnFor(cfg)},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// selfSignedCert generates a short-lived certificate for the handshake.
func selfSignedCert() (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}

// Stream announcements ride a control datagram with a magic prefix that
// cannot start an MPEG-TS payload.
var sidMagic = []byte{0xF1, 0xD0, 'S', 'I', 'D'}

func encodeStreamID(id string) []byte {
	return append(append([]byte{}, sidMagic...), id...)
}

func decodeStreamID(pkt []byte) (string, bool) {
	if len(pkt) < len(sidMagic) {
		return "", false
	}
	for i, b := range sidMagic {
		if pkt[i] != b {
			return "", false
		}
	}
	return string(pkt[len(sidMagic):]), true
}
