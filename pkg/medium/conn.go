package medium

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rndi/srt/pkg/protosock"
)

const listenBacklog = 5

// Connector is the connection manager of a protocol-socket medium. It owns
// the socket-option configuration (pre-connect vs post-connect phases), the
// connection-mode selection (caller / listener / rendezvous) and the
// accept/steal-socket handoff. A connector holds at most one listening and
// one active handle; at most one of the pair is live at any time except
// transiently during accept.
type Connector struct {
	log *zap.Logger

	outputDirection bool
	verbose         bool

	mode         string
	blocking     bool
	timeout      time.Duration
	adapter      string
	outgoingPort int
	tsbpd        bool
	chunkSize    int
	options      map[string]string

	sock     *protosock.Socket // active/connected handle
	bindSock *protosock.Socket // listening handle
}

// NewConnector creates an unconfigured connector. chunkSize is the relay's
// configured read chunk; a non-default live-mode chunk is enforced as the
// payload size at configure time.
func NewConnector(log *zap.Logger, outputDirection bool, chunkSize int, verbose bool) *Connector {
	if log == nil {
		log = zap.L()
	}
	return &Connector{
		log:             log,
		outputDirection: outputDirection,
		verbose:         verbose,
		tsbpd:           true,
		chunkSize:       chunkSize,
		options:         map[string]string{},
	}
}

// Configure derives the connection mode and manager-level settings from the
// host and option map. Unrecognized keys pass through for the phase-tagged
// option table. The mode is fixed for the connector's lifetime.
func (c *Connector) Configure(host string, options map[string]string) error {
	par := make(map[string]string, len(options))
	for k, v := range options {
		par[k] = v
	}
	if c.verbose {
		for k, v := range par {
			c.log.Debug("parameter", zap.String("key", k), zap.String("value", v))
		}
	}

	c.mode = "default"
	if m, ok := par["mode"]; ok {
		c.mode = m
	}
	if c.mode == "default" {
		// Convention: an empty host means we wait, a given host means we call.
		if host == "" {
			c.mode = "listener"
		} else {
			c.mode = "caller"
		}
	}
	switch c.mode {
	case "client":
		c.mode = "caller"
	case "server":
		c.mode = "listener"
	}
	delete(par, "mode")

	if v, ok := par["timeout"]; ok {
		sec, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Field: "timeout", Value: v, Message: "not an integer"}
		}
		c.timeout = time.Duration(sec) * time.Second
		delete(par, "timeout")
	}

	if v, ok := par["adapter"]; ok {
		c.adapter = v
		delete(par, "adapter")
	} else if c.mode == "listener" {
		// The listener binds to the host part when no adapter is given.
		c.adapter = host
	}

	if v, ok := par["tsbpd"]; ok {
		if isFalseName(v) {
			c.tsbpd = false
		}
		delete(par, "tsbpd")
	}

	if v, ok := par["port"]; ok {
		p, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Field: "port", Value: v, Message: "not an integer"}
		}
		c.outgoingPort = p
		delete(par, "port")
	}

	// Default transfer type is live; a non-default live chunk must fit the
	// payload ceiling and is enforced through the payloadsize option.
	if par["transtype"] != "file" && c.chunkSize != 0 && c.chunkSize != protosock.DefaultLivePayloadSize {
		if c.chunkSize > protosock.MaxLivePayloadSize {
			return &ConfigError{
				Field: "chunk", Value: strconv.Itoa(c.chunkSize),
				Message: fmt.Sprintf("chunk size in live mode exceeds %d bytes; this is not supported", protosock.MaxLivePayloadSize),
			}
		}
		par["payloadsize"] = strconv.Itoa(c.chunkSize)
	}

	c.options = par
	return nil
}

func isFalseName(v string) bool {
	switch strings.ToLower(v) {
	case "no", "off", "false", "0":
		return true
	}
	return false
}

// Open establishes the medium per the configured mode. For listeners only
// the listening socket is prepared; accept is a separate step unless the
// connector is in blocking mode.
func (c *Connector) Open(host string, port int) error {
	c.log.Debug("opening protocol medium",
		zap.String("direction", c.direction()),
		zap.String("mode", c.mode),
		zap.Bool("blocking", c.blocking),
		zap.String("host", host),
		zap.Int("port", port))

	switch c.mode {
	case "caller":
		return c.OpenCaller(host, port)
	case "listener":
		if err := c.OpenListener(c.adapter, port, listenBacklog); err != nil {
			return err
		}
		if c.blocking {
			return c.AcceptOne()
		}
		return nil
	case "rendezvous":
		return c.OpenRendezvous(c.adapter, host, port)
	default:
		return &ConfigError{Field: "mode", Value: c.mode, Message: "invalid mode, use 'caller', 'listener' or 'rendezvous'"}
	}
}

func (c *Connector) direction() string {
	if c.outputDirection {
		return "target"
	}
	return "source"
}

// applyPreOptions sets the pre-connect state of the socket: the
// timestamp-delivery toggle, the synchronous-receive flag reflecting the
// blocking mode (this is how asynchronous connect is requested), then every
// option tagged Pre. Individual option failures are warnings, not errors.
func (c *Connector) applyPreOptions(s *protosock.Socket) error {
	cfg := s.Config()
	cfg.TSBPD = c.tsbpd
	cfg.Blocking = c.blocking
	if failures := protosock.ApplyOptionsPhase(cfg, protosock.PhasePre, c.options); len(failures) > 0 {
		c.log.Warn("failed to set options", zap.Strings("options", failures))
	}
	return nil
}

// applyPostOptions runs once right after a connection is established,
// whether by connect, accept or rendezvous: direction-appropriate sync flag
// and timeout, then every option tagged Post.
func (c *Connector) applyPostOptions(s *protosock.Socket) error {
	cfg := s.Config()
	if c.outputDirection {
		if c.timeout != 0 {
			cfg.SndTimeout = c.timeout
		}
	} else {
		if c.timeout != 0 {
			cfg.RcvTimeout = c.timeout
		}
	}
	cfg.Blocking = c.blocking
	if failures := protosock.ApplyOptionsPhase(cfg, protosock.PhasePost, c.options); len(failures) > 0 {
		c.log.Warn("failed to set options",
			zap.String("phase", "post"),
			zap.String("direction", c.direction()),
			zap.Strings("options", failures))
	}
	return nil
}

// OpenCaller creates a socket, applies pre options, optionally pins the
// outgoing local port, connects, and applies post options. Any failure
// closes the partially created socket before propagating.
func (c *Connector) OpenCaller(host string, port int) error {
	s := protosock.NewSocket(protosock.DefaultSockConfig())
	if err := c.applyPreOptions(s); err != nil {
		_ = s.Close()
		return c.reportError(err, "configure-pre")
	}
	if c.outgoingPort != 0 {
		c.log.Debug("setting outgoing port", zap.Int("port", c.outgoingPort))
		if err := s.Bind("", c.outgoingPort); err != nil {
			_ = s.Close()
			return c.reportError(err, "bind")
		}
	}
	c.log.Debug("connecting", zap.String("host", host), zap.Int("port", port))
	if err := s.Connect(host, port); err != nil {
		_ = s.Close()
		return c.reportError(err, "connect")
	}
	if err := c.applyPostOptions(s); err != nil {
		_ = s.Close()
		return c.reportError(err, "configure-post")
	}
	if c.outgoingPort == 0 {
		// Remember the auto-selected port so a reconnect reuses it.
		c.outgoingPort = s.LocalPort()
		c.log.Debug("extracted outgoing port", zap.Int("port", c.outgoingPort))
	}
	c.sock = s
	return nil
}

// OpenListener creates a socket, applies pre options, binds adapter:port
// and starts listening. Accepting is a separate, explicit step.
func (c *Connector) OpenListener(adapter string, port int, backlog int) error {
	s := protosock.NewSocket(protosock.DefaultSockConfig())
	if err := c.applyPreOptions(s); err != nil {
		_ = s.Close()
		return c.reportError(err, "configure-pre")
	}
	c.log.Debug("binding a server", zap.String("adapter", adapter), zap.Int("port", port))
	if err := s.Bind(adapter, port); err != nil {
		_ = s.Close()
		return c.reportError(err, "bind")
	}
	if err := s.Listen(backlog); err != nil {
		_ = s.Close()
		return c.reportError(err, "listen")
	}
	c.bindSock = s
	return nil
}

// AcceptOne takes exactly one inbound connection and closes the listener in
// the same operation: this manager intentionally serves one accepted peer
// per listener instance. Pre options set on the listener are already
// inherited by the accepted socket; only the post phase is applied here.
// In non-blocking mode the caller must poll for readability first; with no
// pending connection ErrAgain is returned.
func (c *Connector) AcceptOne() error {
	if c.bindSock == nil {
		return c.reportError(&protosock.SockError{Code: protosock.EINVOP, Msg: "no listening socket", Op: "accept"}, "accept")
	}
	c.log.Debug("accepting a client")
	child, err := c.bindSock.Accept()
	if errors.Is(err, protosock.ErrAgain) {
		return err
	}
	if err != nil {
		// The listener stays registered with the poller; the owner must
		// deregister it before Close releases the handle.
		return c.reportError(err, "accept")
	}

	// One client connection at a time, so close the listener.
	_ = c.bindSock.Close()
	c.bindSock = nil
	c.sock = child

	if err := c.applyPostOptions(child); err != nil {
		return c.reportError(err, "configure-post")
	}
	c.log.Debug("client connected", zap.String("streamid", child.StreamID()))
	return nil
}

// OpenRendezvous creates a socket with the rendezvous flag, applies pre
// options, binds adapter:port and connects symmetrically to host:port.
func (c *Connector) OpenRendezvous(adapter, host string, port int) error {
	s := protosock.NewSocket(protosock.DefaultSockConfig())
	s.Config().Rendezvous = true
	if err := c.applyPreOptions(s); err != nil {
		_ = s.Close()
		return c.reportError(err, "configure-pre")
	}
	c.log.Debug("binding a server", zap.String("adapter", adapter), zap.Int("port", port))
	if err := s.Bind(adapter, port); err != nil {
		_ = s.Close()
		return c.reportError(err, "bind")
	}
	c.log.Debug("connecting", zap.String("host", host), zap.Int("port", port))
	if err := s.Connect(host, port); err != nil {
		_ = s.Close()
		return c.reportError(err, "connect")
	}
	if err := c.applyPostOptions(s); err != nil {
		_ = s.Close()
		return c.reportError(err, "configure-post")
	}
	c.sock = s
	return nil
}

// StealFrom transfers ownership of other's connected socket into this
// connector, copying direction, blocking mode, timeout, delivery flag and
// option map. The source connector's handle is nulled: ownership moves, it
// is never shared.
func (c *Connector) StealFrom(other *Connector) {
	c.outputDirection = other.outputDirection
	c.blocking = other.blocking
	c.timeout = other.timeout
	c.tsbpd = other.tsbpd
	c.options = other.options
	c.bindSock = nil
	c.sock = other.sock
	other.sock = nil
}

// Socket returns the active handle, nil when not connected.
func (c *Connector) Socket() *protosock.Socket { return c.sock }

// ListenerSocket returns the listening handle, nil when not listening.
func (c *Connector) ListenerSocket() *protosock.Socket { return c.bindSock }

// Status reports the connection state, mapping released handles to Nonexist.
func (c *Connector) Status() protosock.Status {
	switch {
	case c.sock != nil:
		return c.sock.Status()
	case c.bindSock != nil:
		return c.bindSock.Status()
	default:
		return protosock.StatusNonexist
	}
}

// Mode returns the resolved connection mode.
func (c *Connector) Mode() string { return c.mode }

// OutgoingPort returns the pinned or auto-discovered local port.
func (c *Connector) OutgoingPort() int { return c.outgoingPort }

// SetBlocking switches the connector between blocking and non-blocking
// connect/accept/receive. Must be called before Open.
func (c *Connector) SetBlocking(v bool) { c.blocking = v }

// Close releases both handles. Idempotent; closing already-closed handles
// is a no-op.
func (c *Connector) Close() {
	if c.sock != nil {
		c.log.Debug("closing connection socket", zap.Int32("sock", int32(c.sock.ID())))
		_ = c.sock.Close()
		c.sock = nil
	}
	if c.bindSock != nil {
		c.log.Debug("closing listener socket", zap.Int32("sock", int32(c.bindSock.ID())))
		_ = c.bindSock.Close()
		c.bindSock = nil
	}
}

// reportError logs an engine failure (detailed on the informational stream
// when verbose, terse on the diagnostic stream otherwise), clears the
// engine's last-error state, and returns the wrapped error. The clear step
// is mandatory: without it stale error state leaks into the next operation.
func (c *Connector) reportError(err error, op string) error {
	last := protosock.LastError()
	var serr *protosock.SockError
	if !errors.As(err, &serr) {
		serr = &protosock.SockError{Code: last.Code, Msg: err.Error(), Op: op}
	}
	if c.verbose {
		c.log.Info("FAILURE",
			zap.String("op", op),
			zap.Int("code", int(serr.Code)),
			zap.String("message", serr.Msg))
	} else {
		fmt.Fprintf(os.Stderr, "\nERROR #%d: %s\n", serr.Code, serr.Msg)
	}
	protosock.ClearLastError()
	return serr
}
