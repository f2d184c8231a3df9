// Package medium provides the polymorphic Source/Target media the relay
// moves bytes between: files, the console, UDP datagram sockets, protocol
// sockets, and named pipes. Media are created by the factory from a location
// descriptor and retain it for dispatch decisions.
package medium

import (
	"fmt"

	"github.com/rndi/srt/pkg/protosock"
	"github.com/rndi/srt/pkg/uri"
)

// ErrAgain marks transient non-blocking unavailability: nothing is ready
// yet, which is not an error. It aliases the engine's sentinel so callers
// can test either layer with errors.Is.
var ErrAgain = protosock.ErrAgain

// Source is a bulk byte source.
type Source interface {
	// Read returns up to chunk pending bytes. A short result means end of
	// stream or a short underlying read; ErrAgain means nothing is ready in
	// non-blocking mode; io.EOF means a clean end of stream.
	Read(chunk int) ([]byte, error)
	IsOpen() bool
	End() bool
	Close() error

	// ProtoSocket returns the protocol socket to poll, nil for OS-native
	// media. At most one of ProtoSocket/SysSock is non-nil.
	ProtoSocket() *protosock.Socket
	SysSock() protosock.SysSock
	// AcceptClient performs the listener-to-connected handoff. false with a
	// nil error means nothing was pending; a non-nil error is a hard accept
	// failure the caller must treat as fatal.
	AcceptClient() (bool, error)
	Location() uri.Location
}

// Target is a bulk byte sink.
type Target interface {
	// Write transmits b. Message-oriented media send it atomically as one
	// unit and fail on partial transmission; stream-oriented media are
	// best-effort.
	Write(b []byte) error
	IsOpen() bool
	Broken() bool
	Close() error

	ProtoSocket() *protosock.Socket
	SysSock() protosock.SysSock
	AcceptClient() (bool, error)
	Location() uri.Location
}

// ConfigError is an eagerly detected configuration failure, fatal to the
// medium's construction.
type ConfigError struct {
	Field   string
	Value   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("config: %s=%q: %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// base supplies the defaults shared by every medium.
type base struct {
	loc uri.Location
}

func (b *base) Location() uri.Location              { return b.loc }
func (b *base) ProtoSocket() *protosock.Socket      { return nil }
func (b *base) SysSock() protosock.SysSock          { return nil }
func (b *base) AcceptClient() (bool, error)         { return false, nil }
