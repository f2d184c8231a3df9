package medium

import (
	"errors"
	"fmt"

	"github.com/rndi/srt/pkg/uri"
)

// ErrUnsupported is returned when no medium backs the location's scheme.
// Callers treat it as fatal.
var ErrUnsupported = errors.New("medium: unsupported type")

// FactoryConfig carries the relay settings the factory threads into each
// medium at construction time.
type FactoryConfig struct {
	ChunkSize int
	Verbose   bool
	// BWReport is relevant only to reject the console target combination
	// that would mix report text into the data stream.
	BWReport int
}

// checkPort rejects privileged and unset ports on socket schemes.
func checkPort(loc uri.Location) error {
	if loc.Port <= 1024 {
		return &ConfigError{
			Field: "port", Value: fmt.Sprint(loc.Port),
			Message: "port value invalid, must be >1024",
		}
	}
	return nil
}

// CreateSource instantiates the source medium for the location string.
func CreateSource(cfg FactoryConfig, location string) (Source, error) {
	loc, err := uri.Parse(location)
	if err != nil {
		return nil, err
	}
	switch loc.Scheme {
	case uri.SchemeFile:
		if loc.IsConsole() {
			return NewConsoleSource(loc), nil
		}
		return NewFileSource(loc)
	case uri.SchemeQUIC:
		if err := checkPort(loc); err != nil {
			return nil, err
		}
		return NewProtoSource(loc, cfg.ChunkSize, cfg.Verbose)
	case uri.SchemeUDP:
		if err := checkPort(loc); err != nil {
			return nil, err
		}
		return NewUDPSource(loc)
	case uri.SchemePipe:
		return newPipeSource(loc)
	default:
		return nil, ErrUnsupported
	}
}

// CreateTarget instantiates the target medium for the location string.
func CreateTarget(cfg FactoryConfig, location string) (Target, error) {
	loc, err := uri.Parse(location)
	if err != nil {
		return nil, err
	}
	switch loc.Scheme {
	case uri.SchemeFile:
		if loc.IsConsole() {
			if cfg.Verbose || cfg.BWReport > 0 {
				// Console output plus narration would interleave data and text.
				return nil, &ConfigError{
					Field:   "target",
					Value:   "file://con",
					Message: "console target with verbose or report output would mix data and text info",
				}
			}
			return NewConsoleTarget(loc), nil
		}
		return NewFileTarget(loc)
	case uri.SchemeQUIC:
		if err := checkPort(loc); err != nil {
			return nil, err
		}
		return NewProtoTarget(loc, cfg.ChunkSize, cfg.Verbose)
	case uri.SchemeUDP:
		if err := checkPort(loc); err != nil {
			return nil, err
		}
		return NewUDPTarget(loc)
	case uri.SchemePipe:
		return newPipeTarget(loc)
	default:
		return nil, ErrUnsupported
	}
}
