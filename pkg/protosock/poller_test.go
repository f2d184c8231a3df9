package protosock

import (
	"sync"
	"testing"
	"time"
)

// fakeSys is a hand-driven OS-native handle for poller tests.
type fakeSys struct {
	desc   int
	mu     sync.Mutex
	ready  bool
	notify func()
}

func newFakeSys() *fakeSys { return &fakeSys{desc: NextSysDesc()} }

func (f *fakeSys) PollDesc() int { return f.desc }

func (f *fakeSys) ReadReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeSys) SetNotify(fn func()) {
	f.mu.Lock()
	f.notify = fn
	f.mu.Unlock()
}

func (f *fakeSys) setReady() {
	f.mu.Lock()
	f.ready = true
	fn := f.notify
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func TestPollerTimeoutEmpty(t *testing.T) {
	p := NewPoller()
	start := time.Now()
	proto, sys := p.Wait(30 * time.Millisecond)
	if len(proto) != 0 || len(sys) != 0 {
		t.Fatalf("readiness out of nowhere: %v %v", proto, sys)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("wait returned before the timeout")
	}
}

func TestPollerSysReadiness(t *testing.T) {
	p := NewPoller()
	f := newFakeSys()
	if err := p.AddSys(f); err != nil {
		t.Fatalf("add: %v", err)
	}
	f.setReady()
	proto, sys := p.Wait(time.Second)
	if len(proto) != 0 || len(sys) != 1 || sys[0] != f.desc {
		t.Fatalf("ready sets: proto=%v sys=%v", proto, sys)
	}
}

func TestPollerWakeDuringWait(t *testing.T) {
	p := NewPoller()
	f := newFakeSys()
	if err := p.AddSys(f); err != nil {
		t.Fatalf("add: %v", err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		f.setReady()
	}()
	start := time.Now()
	_, sys := p.Wait(2 * time.Second)
	if len(sys) != 1 {
		t.Fatalf("wakeup missed: %v", sys)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("wait did not return promptly on wakeup")
	}
}

func TestPollerDuplicateRegistration(t *testing.T) {
	p := NewPoller()
	f := newFakeSys()
	if err := p.AddSys(f); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := p.AddSys(f); err == nil {
		t.Fatalf("duplicate descriptor registration accepted")
	}
	p.RemoveSys(f.desc)
	if err := p.AddSys(f); err != nil {
		t.Fatalf("re-add after remove: %v", err)
	}
}

func TestPollerProtoStateEvent(t *testing.T) {
	p := NewPoller()
	s := NewSocket(DefaultSockConfig())
	if err := p.AddProto(s); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := p.AddProto(s); err == nil {
		t.Fatalf("duplicate socket registration accepted")
	}
	// A status transition must surface exactly one readiness event even
	// though no data is pending.
	s.setStatus(StatusBroken)
	proto, _ := p.Wait(time.Second)
	found := false
	for _, id := range proto {
		if id == s.ID() {
			found = true
		}
	}
	if !found {
		t.Fatalf("transition not reported: %v", proto)
	}
	p.RemoveProto(s.ID())
	_ = s.Close()
}
