package protosock

import (
	"strconv"
	"time"
)

// Phase tags when an option may be applied. Pre options must be set before
// connecting; set on a listening socket they are inherited by every accepted
// socket and are never reapplied to a connected one. Post options can be
// changed at any time on a connected socket and are applied once right after
// the handshake completes.
type Phase int

const (
	PhasePre Phase = iota + 1
	PhasePost
)

// OptType is the value type an option expects.
type OptType int

const (
	OptInt OptType = iota
	OptInt64
	OptBool
	OptString
)

// Option is one entry of the generic socket option table.
type Option struct {
	Name  string
	Phase Phase
	Type  OptType
	Apply func(c *SockConfig, v string) bool
}

func intOpt(set func(c *SockConfig, n int)) func(*SockConfig, string) bool {
	return func(c *SockConfig, v string) bool {
		n, err := strconv.Atoi(v)
		if err != nil {
			return false
		}
		set(c, n)
		return true
	}
}

func int64Opt(set func(c *SockConfig, n int64)) func(*SockConfig, string) bool {
	return func(c *SockConfig, v string) bool {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return false
		}
		set(c, n)
		return true
	}
}

// SockOptions is the generic option table. Unrecognized location options pass
// through the connection manager untouched and are matched against this table
// at the pre- or post-configuration phase.
var SockOptions = []Option{
	{"payloadsize", PhasePre, OptInt, intOpt(func(c *SockConfig, n int) { c.PayloadSize = n })},
	{"streamid", PhasePre, OptString, func(c *SockConfig, v string) bool { c.StreamID = v; return true }},
	{"conntimeo", PhasePre, OptInt, intOpt(func(c *SockConfig, n int) { c.ConnTimeout = time.Duration(n) * time.Millisecond })},
	{"latency", PhasePre, OptInt, intOpt(func(c *SockConfig, n int) { c.Latency = time.Duration(n) * time.Millisecond })},
	{"mss", PhasePre, OptInt, intOpt(func(c *SockConfig, n int) { c.MSS = n })},
	{"rcvbuf", PhasePre, OptInt64, int64Opt(func(c *SockConfig, n int64) { c.RecvBuf = n })},
	{"sndbuf", PhasePre, OptInt64, int64Opt(func(c *SockConfig, n int64) { c.SendBuf = n })},
	{"passphrase", PhasePre, OptString, func(c *SockConfig, v string) bool {
		// The engine requires 10..79 characters when encryption is requested.
		if len(v) > 0 && (len(v) < 10 || len(v) > 79) {
			return false
		}
		c.Passphrase = v
		return true
	}},
	{"transtype", PhasePre, OptString, func(c *SockConfig, v string) bool {
		if v != "live" && v != "file" {
			return false
		}
		c.TransType = v
		return true
	}},
	{"rcvtimeo", PhasePost, OptInt, intOpt(func(c *SockConfig, n int) { c.RcvTimeout = time.Duration(n) * time.Millisecond })},
	{"sndtimeo", PhasePost, OptInt, intOpt(func(c *SockConfig, n int) { c.SndTimeout = time.Duration(n) * time.Millisecond })},
	{"maxbw", PhasePost, OptInt64, int64Opt(func(c *SockConfig, n int64) { c.MaxBandwidth = n })},
}

// ApplyOptionsPhase applies every table entry of the given phase present in
// opts to the socket configuration. Individual failures are collected and
// returned, not fatal: the caller reports them as warnings.
func ApplyOptionsPhase(c *SockConfig, phase Phase, opts map[string]string) (failures []string) {
	for _, o := range SockOptions {
		if o.Phase != phase {
			continue
		}
		v, ok := opts[o.Name]
		if !ok {
			continue
		}
		if !o.Apply(c, v) {
			failures = append(failures, o.Name)
		}
	}
	return failures
}
