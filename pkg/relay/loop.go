// Package relay implements the transfer engine: it creates the source and
// target media, tracks their connection state through the shared poller, and
// pumps chunks from one to the other until the stream ends or the run is
// interrupted.
package relay

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rndi/srt/pkg/medium"
	"github.com/rndi/srt/pkg/protosock"
)

const (
	// pollInterval bounds every wait so interrupt and timeout flags are
	// observed promptly even when nothing is ready.
	pollInterval = 100 * time.Millisecond

	// readBatch caps how many chunks are drained per readiness event, so a
	// fast source cannot starve state handling.
	readBatch = 10
)

var (
	// ErrTimedOut reports that the connection timeout expired before both
	// endpoints were established.
	ErrTimedOut = errors.New("relay: connection timed out")

	errEndOfStream = errors.New("relay: end of stream")
)

// Options carries the transfer settings for a Loop.
type Options struct {
	ChunkSize     int
	BWReport      int
	MaxRate       int64 // bytes per second, zero for unthrottled
	StatsReport   int
	StatsFormat   StatsFormat
	StatsOut      string
	Verbose       bool
	AutoReconnect bool
}

// Loop drives one source-to-target transfer.
type Loop struct {
	log  *zap.Logger
	opts Options

	// Constructors are injectable so tests can supply stub media.
	NewSource func(location string) (medium.Source, error)
	NewTarget func(location string) (medium.Target, error)

	interrupted *atomic.Bool
	timedOut    *atomic.Bool
	disarm      func()

	bw    *BandwidthGuard
	stats *StatsReporter
}

// New builds a Loop with the default medium factory.
func New(log *zap.Logger, opts Options) (*Loop, error) {
	fc := medium.FactoryConfig{
		ChunkSize: opts.ChunkSize,
		Verbose:   opts.Verbose,
		BWReport:  opts.BWReport,
	}
	stats, err := NewStatsReporter(log, opts.StatsReport, opts.StatsFormat, opts.StatsOut)
	if err != nil {
		return nil, err
	}
	bw := NewBandwidthGuard(log, opts.BWReport)
	bw.MaxRate = opts.MaxRate
	return &Loop{
		log:  log,
		opts: opts,
		NewSource: func(location string) (medium.Source, error) {
			return medium.CreateSource(fc, location)
		},
		NewTarget: func(location string) (medium.Target, error) {
			return medium.CreateTarget(fc, location)
		},
		bw:    bw,
		stats: stats,
	}, nil
}

// SetSignals wires the interrupt and timeout flags the command layer flips
// from its signal handler and alarm timer. disarm, if non-nil, cancels the
// timeout once both endpoints are connected.
func (l *Loop) SetSignals(interrupted, timedOut *atomic.Bool, disarm func()) {
	l.interrupted = interrupted
	l.timedOut = timedOut
	l.disarm = disarm
}

// endpoint tracks one medium's registration with the poller and its
// announced connection state.
type endpoint struct {
	sockID    protosock.SocketID
	sysDesc   int
	connected bool
}

// Run transfers from srcURI to tgtURI until end of stream, interrupt,
// timeout, or an unrecoverable error. A clean end of stream returns nil.
func (l *Loop) Run(srcURI, tgtURI string) error {
	defer l.stats.Close()

	src, err := l.NewSource(srcURI)
	if err != nil {
		return fmt.Errorf("source %s: %w", srcURI, err)
	}
	// src and tgt are rebound on reconnect, so close through the variable.
	defer func() { _ = src.Close() }()

	tgt, err := l.NewTarget(tgtURI)
	if err != nil {
		return fmt.Errorf("target %s: %w", tgtURI, err)
	}
	defer func() { _ = tgt.Close() }()

	poller := protosock.NewPoller()
	var se, te endpoint
	if err := registerSource(poller, src, &se); err != nil {
		return err
	}
	if err := registerTarget(poller, tgt, &te); err != nil {
		return err
	}
	l.logState(&se, &te)

	for {
		if l.interrupted != nil && l.interrupted.Load() {
			l.log.Info("interrupted, stopping")
			return nil
		}
		if l.timedOut != nil && l.timedOut.Load() {
			return ErrTimedOut
		}

		readyProto, readySys := poller.Wait(pollInterval)

		doRead := false
		for _, id := range readyProto {
			switch id {
			case se.sockID:
				read, err := l.handleSource(poller, &se, &te, &src, srcURI)
				if err != nil {
					return err
				}
				doRead = doRead || read
			case te.sockID:
				if err := l.handleTarget(poller, &se, &te, &tgt, tgtURI); err != nil {
					return err
				}
			default:
				return fmt.Errorf("relay: unexpected socket %d in event set", id)
			}
		}
		for _, d := range readySys {
			switch d {
			case se.sysDesc:
				doRead = true
			case te.sysDesc:
				// OS-native targets have no readiness to act on.
			default:
				return fmt.Errorf("relay: unexpected descriptor %d in event set", d)
			}
		}

		if !doRead {
			continue
		}
		if err := l.pump(src, tgt); err != nil {
			if errors.Is(err, errEndOfStream) {
				l.log.Info("end of stream, exiting")
				return nil
			}
			return err
		}
	}
}

func registerSource(p *protosock.Poller, src medium.Source, e *endpoint) error {
	e.sockID = protosock.InvalidSock
	e.sysDesc = -1
	if s := src.ProtoSocket(); s != nil {
		if err := p.AddProto(s); err != nil {
			return err
		}
		e.sockID = s.ID()
		e.connected = s.Status() == protosock.StatusConnected
		return nil
	}
	if ss := src.SysSock(); ss != nil {
		if err := p.AddSys(ss); err != nil {
			return err
		}
		e.sysDesc = ss.PollDesc()
	}
	// Non-socket media are born connected.
	e.connected = true
	return nil
}

func registerTarget(p *protosock.Poller, tgt medium.Target, e *endpoint) error {
	e.sockID = protosock.InvalidSock
	e.sysDesc = -1
	if s := tgt.ProtoSocket(); s != nil {
		if err := p.AddProto(s); err != nil {
			return err
		}
		e.sockID = s.ID()
		e.connected = s.Status() == protosock.StatusConnected
		return nil
	}
	if ss := tgt.SysSock(); ss != nil {
		if err := p.AddSys(ss); err != nil {
			return err
		}
		e.sysDesc = ss.PollDesc()
	}
	e.connected = true
	return nil
}

func deregister(p *protosock.Poller, e *endpoint) {
	if e.sockID != protosock.InvalidSock {
		p.RemoveProto(e.sockID)
	}
	if e.sysDesc >= 0 {
		p.RemoveSys(e.sysDesc)
	}
	e.sockID = protosock.InvalidSock
	e.sysDesc = -1
	e.connected = false
}

// logState announces connection transitions once and disarms the connect
// timeout when both endpoints are up.
func (l *Loop) logState(se, te *endpoint) {
	if se.connected && te.connected && l.disarm != nil {
		l.disarm()
		l.disarm = nil
	}
}

func (l *Loop) handleSource(p *protosock.Poller, se, te *endpoint, src *medium.Source, srcURI string) (bool, error) {
	s := *src
	sock := s.ProtoSocket()
	if sock == nil {
		return false, nil
	}
	switch sock.Status() {
	case protosock.StatusListening:
		ok, aerr := s.AcceptClient()
		if aerr != nil {
			// Hard accept failure: release the dead listener from the
			// poller before the medium closes it, then abort the run.
			deregister(p, se)
			_ = s.Close()
			return false, fmt.Errorf("source %s: accept: %w", srcURI, aerr)
		}
		if !ok {
			// Nothing pending after all; the accept races the poller.
			return false, nil
		}
		p.RemoveProto(se.sockID)
		accepted := s.ProtoSocket()
		if err := p.AddProto(accepted); err != nil {
			return false, err
		}
		se.sockID = accepted.ID()
		se.connected = true
		l.log.Info("source connected", zap.String("peer", srcURI),
			zap.String("streamid", accepted.StreamID()))
		l.logState(se, te)
		return true, nil

	case protosock.StatusConnected:
		if !se.connected {
			se.connected = true
			l.log.Info("source connected", zap.String("peer", srcURI))
			l.logState(se, te)
		}
		return true, nil

	case protosock.StatusBroken, protosock.StatusClosed, protosock.StatusNonexist:
		if se.connected {
			l.log.Warn("source disconnected", zap.String("peer", srcURI))
			se.connected = false
		}
		if !l.opts.AutoReconnect {
			return false, &protosock.SockError{Code: protosock.ECONNLOST, Msg: "source connection lost", Op: "relay"}
		}
		deregister(p, se)
		_ = s.Close()
		fresh, err := l.NewSource(srcURI)
		if err != nil {
			return false, fmt.Errorf("source %s: reconnect: %w", srcURI, err)
		}
		*src = fresh
		return false, registerSource(p, fresh, se)
	}
	return false, nil
}

func (l *Loop) handleTarget(p *protosock.Poller, se, te *endpoint, tgt *medium.Target, tgtURI string) error {
	t := *tgt
	sock := t.ProtoSocket()
	if sock == nil {
		return nil
	}
	switch sock.Status() {
	case protosock.StatusListening:
		ok, aerr := t.AcceptClient()
		if aerr != nil {
			deregister(p, te)
			_ = t.Close()
			return fmt.Errorf("target %s: accept: %w", tgtURI, aerr)
		}
		if !ok {
			return nil
		}
		p.RemoveProto(te.sockID)
		accepted := t.ProtoSocket()
		if err := p.AddProto(accepted); err != nil {
			return err
		}
		te.sockID = accepted.ID()
		te.connected = true
		l.log.Info("target connected", zap.String("peer", tgtURI),
			zap.String("streamid", accepted.StreamID()))
		l.logState(se, te)

	case protosock.StatusConnected:
		if !te.connected {
			te.connected = true
			l.log.Info("target connected", zap.String("peer", tgtURI))
			l.logState(se, te)
		}
		// A one-way relay still drains whatever the peer sends so pending
		// data cannot keep the poller hot.
		l.drainTarget(sock)

	case protosock.StatusBroken, protosock.StatusClosed, protosock.StatusNonexist:
		if te.connected {
			l.log.Warn("target disconnected", zap.String("peer", tgtURI))
			te.connected = false
		}
		if !l.opts.AutoReconnect {
			return &protosock.SockError{Code: protosock.ECONNLOST, Msg: "target connection lost", Op: "relay"}
		}
		deregister(p, te)
		_ = t.Close()
		fresh, err := l.NewTarget(tgtURI)
		if err != nil {
			return fmt.Errorf("target %s: reconnect: %w", tgtURI, err)
		}
		*tgt = fresh
		return registerTarget(p, fresh, te)
	}
	return nil
}

func (l *Loop) drainTarget(sock *protosock.Socket) {
	for {
		if _, err := sock.Recv(l.opts.ChunkSize); err != nil {
			return
		}
	}
}

// pump moves up to readBatch chunks from source to target. The batch ends
// early on a short or empty read so slow sources hand control back to the
// poller.
func (l *Loop) pump(src medium.Source, tgt medium.Target) error {
	for i := 0; i < readBatch; i++ {
		data, err := src.Read(l.opts.ChunkSize)
		switch {
		case errors.Is(err, medium.ErrAgain):
			return nil
		case errors.Is(err, io.EOF):
			return errEndOfStream
		case err != nil:
			var sockErr *protosock.SockError
			if errors.As(err, &sockErr) && l.opts.AutoReconnect && src.ProtoSocket() != nil {
				// The state machine picks the loss up on the next wait.
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if len(data) == 0 {
			return nil
		}

		l.bw.Account(len(data))
		l.stats.Account(src.ProtoSocket())
		if l.opts.Verbose {
			l.log.Debug("chunk", zap.Int("bytes", len(data)))
		}

		if tgt != nil && tgt.IsOpen() && !tgt.Broken() {
			if err := tgt.Write(data); err != nil {
				if l.opts.AutoReconnect && tgt.ProtoSocket() != nil {
					l.log.Warn("write failed, awaiting reconnect", zap.Error(err))
				} else {
					return fmt.Errorf("write: %w", err)
				}
			}
		}
		// No open target: the chunk is dropped so a live source never
		// backs up behind a missing receiver.

		if len(data) < l.opts.ChunkSize {
			return nil
		}
	}
	return nil
}
