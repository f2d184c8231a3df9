// Package uri parses media location descriptors of the form
// scheme://host:port?opt1=val1&opt2=val2 used to select and configure
// a relay medium.
package uri

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Scheme identifies the medium family a location refers to.
type Scheme int

const (
	SchemeUnknown Scheme = iota
	SchemeFile
	SchemeQUIC
	SchemeUDP
	SchemePipe
)

func (s Scheme) String() string {
	switch s {
	case SchemeFile:
		return "file"
	case SchemeQUIC:
		return "quic"
	case SchemeUDP:
		return "udp"
	case SchemePipe:
		return "pipe"
	default:
		return "unknown"
	}
}

// Location is a parsed media descriptor. Every medium retains its Location
// so downstream code can dispatch on the scheme (poll registration, logging).
type Location struct {
	Scheme  Scheme
	Host    string
	Port    int
	Path    string            // file and pipe locations
	Options map[string]string // query options, single value per key
}

// IsConsole reports whether a file location designates the console
// (file://con or file://console).
func (l Location) IsConsole() bool {
	if l.Scheme != SchemeFile {
		return false
	}
	h := strings.ToLower(l.Host)
	return h == "con" || h == "console"
}

func (l Location) String() string {
	switch l.Scheme {
	case SchemeFile, SchemePipe:
		return l.Scheme.String() + "://" + l.Path
	default:
		return fmt.Sprintf("%s://%s:%d", l.Scheme, l.Host, l.Port)
	}
}

// Parse parses a location string. A string without a scheme is treated as a
// plain file path. Options are taken from the query part; repeated keys keep
// the first value.
func Parse(s string) (Location, error) {
	if s == "" {
		return Location{}, fmt.Errorf("uri: empty location")
	}
	if !strings.Contains(s, "://") {
		return Location{Scheme: SchemeFile, Path: s, Options: map[string]string{}}, nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return Location{}, fmt.Errorf("uri: parse %q: %w", s, err)
	}

	loc := Location{Options: map[string]string{}}
	switch strings.ToLower(u.Scheme) {
	case "file":
		loc.Scheme = SchemeFile
	case "quic", "srt":
		// "srt" is accepted as a compatibility alias for the protocol scheme.
		loc.Scheme = SchemeQUIC
	case "udp":
		loc.Scheme = SchemeUDP
	case "pipe":
		loc.Scheme = SchemePipe
	default:
		loc.Scheme = SchemeUnknown
	}

	for k, vs := range u.Query() {
		if len(vs) > 0 {
			loc.Options[k] = vs[0]
		}
	}

	switch loc.Scheme {
	case SchemeFile:
		loc.Host = u.Host
		loc.Path = u.Host + u.Path
		if loc.IsConsole() {
			loc.Path = ""
		}
	case SchemePipe:
		loc.Path = u.Host + u.Path
	default:
		loc.Host = u.Hostname()
		if p := u.Port(); p != "" {
			port, err := strconv.Atoi(p)
			if err != nil {
				return Location{}, fmt.Errorf("uri: invalid port %q in %q", p, s)
			}
			loc.Port = port
		}
	}
	return loc, nil
}
