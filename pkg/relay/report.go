package relay

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/rndi/srt/pkg/protosock"
)

// BandwidthGuard accumulates transfer volume, reports the observed rate
// every Frequency successful reads, and throttles when a byte-rate limit is
// set. Frequency zero disables reporting, MaxRate zero disables throttling.
type BandwidthGuard struct {
	log       *zap.Logger
	Frequency int
	MaxRate   int64 // bytes per second

	started time.Time
	bytes   uint64
	reads   int
}

func NewBandwidthGuard(log *zap.Logger, frequency int) *BandwidthGuard {
	return &BandwidthGuard{log: log, Frequency: frequency, started: time.Now()}
}

// Account records one successful read, sleeps off any rate excess, and
// reports when the interval is due.
func (g *BandwidthGuard) Account(n int) {
	g.bytes += uint64(n)
	g.reads++
	g.throttle()
	if g.Frequency <= 0 || g.reads%g.Frequency != 0 {
		return
	}
	elapsed := time.Since(g.started)
	if elapsed <= 0 {
		return
	}
	mbps := float64(g.bytes) * 8 / elapsed.Seconds() / 1e6
	g.log.Info("transfer report",
		zap.Uint64("bytes", g.bytes),
		zap.Int("reads", g.reads),
		zap.Duration("elapsed", elapsed.Round(time.Millisecond)),
		zap.String("rate", fmt.Sprintf("%.3f Mbit/s", mbps)))
}

// throttle sleeps for the time the accumulated volume is ahead of the
// configured rate.
func (g *BandwidthGuard) throttle() {
	if g.MaxRate <= 0 {
		return
	}
	earned := time.Duration(float64(g.bytes) / float64(g.MaxRate) * float64(time.Second))
	if ahead := earned - time.Since(g.started); ahead > 0 {
		time.Sleep(ahead)
	}
}

// Total returns the accumulated byte count.
func (g *BandwidthGuard) Total() uint64 { return g.bytes }

// StatsFormat selects the wire shape of a statistics report.
type StatsFormat int

const (
	StatsConsole StatsFormat = iota
	StatsJSON
	StatsCBOR
)

// ParseStatsFormat maps the flag value onto a StatsFormat.
func ParseStatsFormat(s string) (StatsFormat, error) {
	switch s {
	case "", "console":
		return StatsConsole, nil
	case "json":
		return StatsJSON, nil
	case "cbor":
		return StatsCBOR, nil
	}
	return StatsConsole, fmt.Errorf("unknown stats format %q", s)
}

// StatsReporter periodically snapshots socket counters and writes them in
// the configured format. CBOR reports are hex-encoded per line so the
// output stays line-oriented regardless of format.
type StatsReporter struct {
	log       *zap.Logger
	Frequency int
	format    StatsFormat
	out       io.Writer
	closer    io.Closer
	reads     int
}

// NewStatsReporter builds a reporter writing to path, or standard output
// when path is empty.
func NewStatsReporter(log *zap.Logger, frequency int, format StatsFormat, path string) (*StatsReporter, error) {
	r := &StatsReporter{log: log, Frequency: frequency, format: format, out: os.Stdout}
	if path != "" {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("stats output %s: %w", path, err)
		}
		r.out = f
		r.closer = f
	}
	return r, nil
}

// Account records one successful read and emits a report when due. The
// socket may be nil when the polled medium is not socket-backed.
func (r *StatsReporter) Account(sock *protosock.Socket) {
	r.reads++
	if r.Frequency <= 0 || r.reads%r.Frequency != 0 || sock == nil {
		return
	}
	if err := r.emit(sock.Stats()); err != nil {
		r.log.Warn("stats report failed", zap.Error(err))
	}
}

func (r *StatsReporter) emit(st protosock.Stats) error {
	switch r.format {
	case StatsJSON:
		enc := json.NewEncoder(r.out)
		return enc.Encode(st)
	case StatsCBOR:
		raw, err := cbor.Marshal(st)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(r.out, hex.EncodeToString(raw))
		return err
	default:
		_, err := fmt.Fprintf(r.out,
			"sock=%d recv: %d pkts / %d bytes (dropped %d)  sent: %d pkts / %d bytes (errors %d)\n",
			st.Sock, st.DatagramsRecv, st.BytesRecv, st.RecvDropped,
			st.DatagramsSent, st.BytesSent, st.SendErrors)
		return err
	}
}

// Close releases the output file, if any.
func (r *StatsReporter) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
