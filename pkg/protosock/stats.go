package protosock

import (
	"sync/atomic"
	"time"
)

// counters holds per-socket transfer counters, updated lock-free from the
// send path and the receive loop.
type counters struct {
	dgramsSent  atomic.Uint64
	dgramsRecv  atomic.Uint64
	bytesSent   atomic.Uint64
	bytesRecv   atomic.Uint64
	recvDropped atomic.Uint64
	sendErrors  atomic.Uint64
}

// Stats is a point-in-time snapshot of a socket's transfer counters.
type Stats struct {
	Sock          SocketID  `json:"sock" cbor:"sock"`
	DatagramsSent uint64    `json:"dgrams_sent" cbor:"dgrams_sent"`
	DatagramsRecv uint64    `json:"dgrams_recv" cbor:"dgrams_recv"`
	BytesSent     uint64    `json:"bytes_sent" cbor:"bytes_sent"`
	BytesRecv     uint64    `json:"bytes_recv" cbor:"bytes_recv"`
	RecvDropped   uint64    `json:"recv_dropped" cbor:"recv_dropped"`
	SendErrors    uint64    `json:"send_errors" cbor:"send_errors"`
	StreamID      string    `json:"stream_id,omitempty" cbor:"stream_id,omitempty"`
	Established   time.Time `json:"established,omitempty" cbor:"established,omitempty"`
}

// Stats returns a snapshot of the socket's counters.
func (s *Socket) Stats() Stats {
	s.mu.Lock()
	established := s.established
	s.mu.Unlock()
	return Stats{
		Sock:          s.id,
		DatagramsSent: s.ctr.dgramsSent.Load(),
		DatagramsRecv: s.ctr.dgramsRecv.Load(),
		BytesSent:     s.ctr.bytesSent.Load(),
		BytesRecv:     s.ctr.bytesRecv.Load(),
		RecvDropped:   s.ctr.recvDropped.Load(),
		SendErrors:    s.ctr.sendErrors.Load(),
		StreamID:      s.StreamID(),
		Established:   established,
	}
}
