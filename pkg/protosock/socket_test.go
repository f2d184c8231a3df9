package protosock

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

func TestSendRequiresConnection(t *testing.T) {
	s := NewSocket(DefaultSockConfig())
	defer s.Close()
	err := s.Send([]byte("data"))
	var serr *SockError
	if !errors.As(err, &serr) || serr.Code != ENOCONN {
		t.Fatalf("err = %v, want ENOCONN", err)
	}
}

func TestSendEnforcesPayloadCeiling(t *testing.T) {
	s := NewSocket(DefaultSockConfig())
	defer s.Close()
	err := s.Send(make([]byte, MaxLivePayloadSize+1))
	var serr *SockError
	if !errors.As(err, &serr) || serr.Code != EINVPARAM {
		t.Fatalf("err = %v, want EINVPARAM", err)
	}
}

func TestListenRequiresBind(t *testing.T) {
	s := NewSocket(DefaultSockConfig())
	defer s.Close()
	if err := s.Listen(5); err == nil {
		t.Fatalf("listen on unbound socket succeeded")
	}
}

func TestAcceptOnNonListener(t *testing.T) {
	s := NewSocket(DefaultSockConfig())
	defer s.Close()
	if _, err := s.Accept(); err == nil {
		t.Fatalf("accept on non-listening socket succeeded")
	}
}

func TestStreamIDCodec(t *testing.T) {
	pkt := encodeStreamID("camera 1")
	sid, ok := decodeStreamID(pkt)
	if !ok || sid != "camera 1" {
		t.Fatalf("decoded %q ok=%v", sid, ok)
	}
	if _, ok := decodeStreamID([]byte{0x47, 0x00, 0x11}); ok {
		t.Fatalf("payload misread as stream announcement")
	}
	if _, ok := decodeStreamID(nil); ok {
		t.Fatalf("empty packet misread as stream announcement")
	}
}

func TestAlpnDependsOnPassphrase(t *testing.T) {
	open := DefaultSockConfig()
	locked := DefaultSockConfig()
	locked.Passphrase = "0123456789"
	other := DefaultSockConfig()
	other.Passphrase = "9876543210"
	if alpnFor(&open) == alpnFor(&locked) {
		t.Fatalf("passphrase does not change the negotiated protocol")
	}
	if alpnFor(&locked) == alpnFor(&other) {
		t.Fatalf("different passphrases negotiate the same protocol")
	}
	if alpnFor(&locked) != alpnFor(&locked) {
		t.Fatalf("label not deterministic")
	}
}

func TestSocketLoopback(t *testing.T) {
	lnCfg := DefaultSockConfig()
	lnCfg.Blocking = true
	ln := NewSocket(lnCfg)
	defer ln.Close()
	if err := ln.Bind("127.0.0.1", 0); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := ln.Listen(5); err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.LocalPort()
	if port == 0 {
		t.Fatalf("no local port after bind")
	}

	callerCfg := DefaultSockConfig()
	callerCfg.Blocking = true
	callerCfg.ConnTimeout = 5 * time.Second
	callerCfg.StreamID = "cam1"
	caller := NewSocket(callerCfg)
	defer caller.Close()

	connected := make(chan error, 1)
	go func() { connected <- caller.Connect("127.0.0.1", port) }()

	child, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer child.Close()
	if err := <-connected; err != nil {
		t.Fatalf("connect: %v", err)
	}
	if caller.Status() != StatusConnected || child.Status() != StatusConnected {
		t.Fatalf("states: caller=%v child=%v", caller.Status(), child.Status())
	}

	msg := []byte("live chunk 0001")
	if err := caller.Send(msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := child.Recv(1316)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("recv %q, want %q", got, msg)
	}

	reply := []byte("ack")
	if err := child.Send(reply); err != nil {
		t.Fatalf("reply send: %v", err)
	}
	got, err = caller.Recv(1316)
	if err != nil {
		t.Fatalf("reply recv: %v", err)
	}
	if !bytes.Equal(got, reply) {
		t.Fatalf("reply %q, want %q", got, reply)
	}

	// The caller announced its stream before any payload.
	deadline := time.After(2 * time.Second)
	for child.StreamID() != "cam1" {
		select {
		case <-deadline:
			t.Fatalf("stream announcement never arrived, got %q", child.StreamID())
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Peer shutdown surfaces as a clean end of stream.
	_ = child.Close()
	if _, err := caller.Recv(1316); !errors.Is(err, io.EOF) {
		t.Fatalf("after peer close: %v, want EOF", err)
	}

	st := caller.Stats()
	if st.DatagramsSent != 1 || st.DatagramsRecv != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestAcceptInheritsPreOptions(t *testing.T) {
	lnCfg := DefaultSockConfig()
	lnCfg.Blocking = true
	ln := NewSocket(lnCfg)
	defer ln.Close()
	if failures := ApplyOptionsPhase(ln.Config(), PhasePre, map[string]string{"payloadsize": "1000"}); len(failures) != 0 {
		t.Fatalf("pre options rejected: %v", failures)
	}
	if err := ln.Bind("127.0.0.1", 0); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := ln.Listen(1); err != nil {
		t.Fatalf("listen: %v", err)
	}

	callerCfg := DefaultSockConfig()
	callerCfg.Blocking = true
	callerCfg.ConnTimeout = 5 * time.Second
	caller := NewSocket(callerCfg)
	defer caller.Close()

	connected := make(chan error, 1)
	go func() { connected <- caller.Connect("127.0.0.1", ln.LocalPort()) }()

	child, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer child.Close()
	if err := <-connected; err != nil {
		t.Fatalf("connect: %v", err)
	}

	// The listener's pre-connect state carries over without reapplication.
	if got := child.Config().PayloadSize; got != 1000 {
		t.Fatalf("accepted payloadsize = %d, want 1000", got)
	}
	if err := child.Send(make([]byte, 1001)); err == nil {
		t.Fatalf("payload over the inherited ceiling accepted")
	}
	if err := child.Send(make([]byte, 1000)); err != nil {
		t.Fatalf("payload at the ceiling: %v", err)
	}
}

func TestStatsSafeDuringConnect(t *testing.T) {
	lnCfg := DefaultSockConfig()
	lnCfg.Blocking = true
	ln := NewSocket(lnCfg)
	defer ln.Close()
	if err := ln.Bind("127.0.0.1", 0); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := ln.Listen(1); err != nil {
		t.Fatalf("listen: %v", err)
	}

	callerCfg := DefaultSockConfig()
	callerCfg.Blocking = true
	callerCfg.ConnTimeout = 5 * time.Second
	caller := NewSocket(callerCfg)
	defer caller.Close()

	// Snapshot stats continuously while the connection is established.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = caller.Stats()
			}
		}
	}()

	connected := make(chan error, 1)
	go func() { connected <- caller.Connect("127.0.0.1", ln.LocalPort()) }()
	child, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer child.Close()
	if err := <-connected; err != nil {
		t.Fatalf("connect: %v", err)
	}
	close(stop)
	wg.Wait()

	if caller.Stats().Established.IsZero() {
		t.Fatalf("established time not recorded")
	}
}
