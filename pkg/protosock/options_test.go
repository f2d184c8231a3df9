package protosock

import (
	"testing"
	"time"
)

func TestApplyPreOptions(t *testing.T) {
	cfg := DefaultSockConfig()
	opts := map[string]string{
		"payloadsize": "1316",
		"streamid":    "cam1",
		"latency":     "120",
		"conntimeo":   "3000",
	}
	failures := ApplyOptionsPhase(&cfg, PhasePre, opts)
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}
	if cfg.PayloadSize != 1316 || cfg.StreamID != "cam1" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Latency != 120*time.Millisecond || cfg.ConnTimeout != 3*time.Second {
		t.Fatalf("durations: latency=%v conntimeo=%v", cfg.Latency, cfg.ConnTimeout)
	}
}

func TestApplyPhaseSeparation(t *testing.T) {
	cfg := DefaultSockConfig()
	opts := map[string]string{
		"payloadsize": "1000", // pre
		"maxbw":       "40000000", // post
	}
	ApplyOptionsPhase(&cfg, PhasePre, opts)
	if cfg.MaxBandwidth != 0 {
		t.Fatalf("post option applied in pre phase")
	}
	ApplyOptionsPhase(&cfg, PhasePost, opts)
	if cfg.MaxBandwidth != 40000000 {
		t.Fatalf("maxbw = %d", cfg.MaxBandwidth)
	}
}

func TestPassphraseLength(t *testing.T) {
	cfg := DefaultSockConfig()
	if f := ApplyOptionsPhase(&cfg, PhasePre, map[string]string{"passphrase": "short"}); len(f) != 1 {
		t.Fatalf("5-char passphrase accepted")
	}
	if f := ApplyOptionsPhase(&cfg, PhasePre, map[string]string{"passphrase": "long enough secret"}); len(f) != 0 {
		t.Fatalf("valid passphrase rejected: %v", f)
	}
	if cfg.Passphrase != "long enough secret" {
		t.Fatalf("passphrase not stored")
	}
}

func TestTransTypeValidation(t *testing.T) {
	cfg := DefaultSockConfig()
	if f := ApplyOptionsPhase(&cfg, PhasePre, map[string]string{"transtype": "datagram"}); len(f) != 1 {
		t.Fatalf("bogus transtype accepted")
	}
	if f := ApplyOptionsPhase(&cfg, PhasePre, map[string]string{"transtype": "file"}); len(f) != 0 {
		t.Fatalf("file transtype rejected: %v", f)
	}
}

func TestNonIntegerValueFails(t *testing.T) {
	cfg := DefaultSockConfig()
	f := ApplyOptionsPhase(&cfg, PhasePre, map[string]string{"payloadsize": "big"})
	if len(f) != 1 || f[0] != "payloadsize" {
		t.Fatalf("failures = %v", f)
	}
}

func TestLastErrorLifecycle(t *testing.T) {
	ClearLastError()
	setLastError(ECONNREJ, "rejected")
	if got := LastError(); got.Code != ECONNREJ {
		t.Fatalf("last error = %+v", got)
	}
	ClearLastError()
	if got := LastError(); got.Code != ENone {
		t.Fatalf("error state not cleared: %+v", got)
	}
}
