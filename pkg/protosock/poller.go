package protosock

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// SysSock is the registration contract for OS-native descriptors (files,
// UDP sockets) polled alongside protocol sockets in a parallel namespace.
type SysSock interface {
	// PollDesc returns a process-unique descriptor for this handle.
	PollDesc() int
	// ReadReady is the level-triggered readiness probe: pending data, end of
	// stream, or an error state all count as ready.
	ReadReady() bool
	// SetNotify installs (or clears, with nil) the poller wakeup hook.
	SetNotify(fn func())
}

var nextSysDesc atomic.Int64

// NextSysDesc allocates a descriptor for the OS-native namespace.
func NextSysDesc() int { return int(nextSysDesc.Add(1)) }

// Poller multiplexes readiness over protocol sockets and OS-native handles.
// Exactly one registration may exist per open handle; handles must be
// removed before they are closed or replaced.
type Poller struct {
	mu     sync.Mutex
	protos map[SocketID]*Socket
	sys    map[int]SysSock
	wake   chan struct{}
}

func NewPoller() *Poller {
	return &Poller{
		protos: make(map[SocketID]*Socket),
		sys:    make(map[int]SysSock),
		wake:   make(chan struct{}, 1),
	}
}

func (p *Poller) wakeup() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// AddProto registers a protocol socket, watching readable and error events.
func (p *Poller) AddProto(s *Socket) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.protos[s.ID()]; dup {
		return fmt.Errorf("poller: socket %d already registered", s.ID())
	}
	p.protos[s.ID()] = s
	s.setNotify(p.wakeup)
	return nil
}

// RemoveProto deregisters a protocol socket. Safe on unknown handles.
func (p *Poller) RemoveProto(id SocketID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.protos[id]; ok {
		s.setNotify(nil)
		delete(p.protos, id)
	}
}

// AddSys registers an OS-native handle.
func (p *Poller) AddSys(s SysSock) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.sys[s.PollDesc()]; dup {
		return fmt.Errorf("poller: descriptor %d already registered", s.PollDesc())
	}
	p.sys[s.PollDesc()] = s
	s.SetNotify(p.wakeup)
	return nil
}

// RemoveSys deregisters an OS-native handle. Safe on unknown descriptors.
func (p *Poller) RemoveSys(desc int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sys[desc]; ok {
		s.SetNotify(nil)
		delete(p.sys, desc)
	}
}

// Wait blocks up to timeout for any registered handle to become ready and
// returns the ready handles of both namespaces. It may return two empty
// slices on timeout; that is not an error. An early wakeup with nothing
// ready (a consumed edge) rescans once before giving up.
func (p *Poller) Wait(timeout time.Duration) (proto []SocketID, sys []int) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		proto, sys = p.scan()
		if len(proto) > 0 || len(sys) > 0 {
			return proto, sys
		}
		select {
		case <-p.wake:
		case <-deadline.C:
			return nil, nil
		}
	}
}

func (p *Poller) scan() (proto []SocketID, sys []int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, s := range p.protos {
		if s.readyForPoll() {
			s.consumeStateEvent()
			proto = append(proto, id)
		}
	}
	for desc, s := range p.sys {
		if s.ReadReady() {
			sys = append(sys, desc)
		}
	}
	return proto, sys
}
