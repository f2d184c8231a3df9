package medium

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"

	"github.com/rndi/srt/pkg/protosock"
	"github.com/rndi/srt/pkg/uri"
)

// udpOptions is the small fixed option table for the UDP media. There are
// no post options for UDP; everything applies at setup.
var udpOptions = []string{"iptos", "mcloop"}

// isMulticastIPv4 reports whether the address's first octet falls in the
// administratively scoped multicast range 224..239.
func isMulticastIPv4(ip net.IP) bool {
	ip4 := ip.To4()
	return ip4 != nil && ip4[0] >= 224 && ip4[0] <= 239
}

// udpCommon carries the state shared by the UDP source and target.
type udpCommon struct {
	base
	pc *ipv4.PacketConn
}

// applyUDPOptions configures multicast membership, TTLs and the fixed
// option table on the packet conn. Option failures are warnings, except the
// contradictory multicast request, which is fatal.
func applyUDPOptions(pc *ipv4.PacketConn, loc uri.Location, groupIP net.IP, join bool) error {
	if join {
		var ifi *net.Interface
		if adapter := loc.Options["adapter"]; adapter != "" {
			found, err := interfaceByAddr(adapter)
			if err != nil {
				return &ConfigError{Field: "adapter", Value: adapter, Message: err.Error()}
			}
			ifi = found
			zap.L().Debug("multicast home address", zap.String("adapter", adapter), zap.Int("port", loc.Port))
		} else {
			zap.L().Debug("multicast home address: any", zap.Int("port", loc.Port))
		}
		if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: groupIP}); err != nil {
			return fmt.Errorf("adding to multicast membership failed: %w", err)
		}
	}

	// "ttl" maps to both unicast and multicast TTL so the setting works for
	// either addressing mode.
	if v, ok := loc.Options["ttl"]; ok {
		ttl, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Field: "ttl", Value: v, Message: "not an integer"}
		}
		if err := pc.SetTTL(ttl); err != nil {
			zap.L().Warn("failed to set ttl (IP_TTL)", zap.Int("ttl", ttl), zap.Error(err))
		}
		if err := pc.SetMulticastTTL(ttl); err != nil {
			zap.L().Warn("failed to set ttl (IP_MULTICAST_TTL)", zap.Int("ttl", ttl), zap.Error(err))
		}
	}

	for _, name := range udpOptions {
		v, ok := loc.Options[name]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			zap.L().Warn("failed to set option", zap.String("option", name), zap.String("value", v))
			continue
		}
		var serr error
		switch name {
		case "iptos":
			serr = pc.SetTOS(n)
		case "mcloop":
			serr = pc.SetMulticastLoopback(n != 0)
		}
		if serr != nil {
			zap.L().Warn("failed to set option", zap.String("option", name), zap.Int("value", n), zap.Error(serr))
		}
	}
	return nil
}

// resolveGroup decides whether the location addresses a multicast group.
// Requesting multicast explicitly for a non-multicast address is an error.
func resolveGroup(loc uri.Location) (ip net.IP, multicast bool, err error) {
	ip = net.ParseIP(loc.Host)
	if ip == nil {
		addr, rerr := net.ResolveIPAddr("ip4", loc.Host)
		if rerr != nil {
			return nil, false, fmt.Errorf("can't resolve address %q: %w", loc.Host, rerr)
		}
		ip = addr.IP
	}
	_, explicit := loc.Options["multicast"]
	if explicit && !isMulticastIPv4(ip) {
		return nil, false, &ConfigError{
			Field: "multicast", Value: loc.Host,
			Message: "requested multicast for a non-multicast-type IP address",
		}
	}
	return ip, explicit || isMulticastIPv4(ip), nil
}

// interfaceByAddr finds the network interface carrying the given address.
func interfaceByAddr(addr string) (*net.Interface, error) {
	want := net.ParseIP(addr)
	if want == nil {
		return nil, fmt.Errorf("invalid adapter address %q", addr)
	}
	ifs, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifs {
		addrs, err := ifs[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipn, ok := a.(*net.IPNet); ok && ipn.IP.Equal(want) {
				return &ifs[i], nil
			}
		}
	}
	return nil, fmt.Errorf("no interface with address %q", addr)
}

// UDPSource receives datagrams bound to host:port, joining the multicast
// group when the address calls for it. Reads are non-blocking; a reader
// goroutine feeds the poll readiness queue.
type UDPSource struct {
	udpCommon
	conn   *net.UDPConn
	desc   int
	rxq    chan []byte
	mu     sync.Mutex
	eof    bool
	closed bool
	notify func()
}

func NewUDPSource(loc uri.Location) (*UDPSource, error) {
	groupIP, multicast, err := resolveGroup(loc)
	if err != nil {
		return nil, err
	}

	laddr := &net.UDPAddr{IP: groupIP, Port: loc.Port}
	if multicast {
		// Bind the port only; membership delivers the group traffic.
		laddr = &net.UDPAddr{Port: loc.Port}
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("binding address for UDP: %w", err)
	}

	s := &UDPSource{
		udpCommon: udpCommon{base: base{loc: loc}},
		conn:      conn,
		desc:      protosock.NextSysDesc(),
		rxq:       make(chan []byte, 128),
	}
	s.pc = ipv4.NewPacketConn(conn)
	if err := applyUDPOptions(s.pc, loc, groupIP, multicast); err != nil {
		_ = conn.Close()
		return nil, err
	}
	go s.readLoop()
	return s, nil
}

func (s *UDPSource) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			s.mu.Lock()
			if !s.closed {
				s.eof = true
			}
			fn := s.notify
			s.mu.Unlock()
			if fn != nil {
				fn()
			}
			return
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		s.mu.Lock()
		fn := s.notify
		s.mu.Unlock()
		select {
		case s.rxq <- pkt:
		default:
			// receiver not keeping up, drop
		}
		if fn != nil {
			fn()
		}
	}
}

func (s *UDPSource) Read(chunk int) ([]byte, error) {
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

func (s *UDPSource) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *UDPSource) End() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eof
}

func (s *UDPSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.conn.Close()
}

func (s *UDPSource) SysSock() protosock.SysSock { return s }

func (s *UDPSource) PollDesc() int { return s.desc }

func (s *UDPSource) ReadReady() bool {
	if len(s.rxq) > 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eof
}

func (s *UDPSource) SetNotify(fn func()) {
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
}

// UDPTarget sends datagrams to host:port.
type UDPTarget struct {
	udpCommon
	conn   *net.UDPConn
	mu     sync.Mutex
	closed bool
}

func NewUDPTarget(loc uri.Location) (*UDPTarget, error) {
	groupIP, multicast, err := resolveGroup(loc)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: groupIP, Port: loc.Port})
	if err != nil {
		return nil, fmt.Errorf("UDP target setup: %w", err)
	}
	// A target has no readiness to observe, so no poll descriptor.
	t := &UDPTarget{
		udpCommon: udpCommon{base: base{loc: loc}},
		conn:      conn,
	}
	t.pc = ipv4.NewPacketConn(conn)
	if err := applyUDPOptions(t.pc, loc, groupIP, multicast); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return t, nil
}

func (t *UDPTarget) Write(b []byte) error {
	if _, err := t.conn.Write(b); err != nil {
		return fmt.Errorf("UDP write: %w", err)
	}
	return nil
}

func (t *UDPTarget) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// Broken always reports false: datagram sends have no connection to lose.
func (t *UDPTarget) Broken() bool { return false }

func (t *UDPTarget) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.conn.Close()
}
