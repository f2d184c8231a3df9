package medium

import (
	"errors"
	"testing"
)

func TestCreateSourceRejectsPrivilegedPort(t *testing.T) {
	_, err := CreateSource(FactoryConfig{ChunkSize: 1316}, "quic://:1024")
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
	if cerr.Field != "port" {
		t.Fatalf("field = %q", cerr.Field)
	}
	if _, err := CreateSource(FactoryConfig{ChunkSize: 1316}, "udp://:80"); err == nil {
		t.Fatalf("privileged UDP port accepted")
	}
}

func TestCreateUnsupportedScheme(t *testing.T) {
	if _, err := CreateSource(FactoryConfig{}, "gopher://host:7070"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
	if _, err := CreateTarget(FactoryConfig{}, "gopher://host:7070"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestConsoleTargetRejectsMixedOutput(t *testing.T) {
	if _, err := CreateTarget(FactoryConfig{Verbose: true}, "file://con"); err == nil {
		t.Fatalf("console target with verbose accepted")
	}
	if _, err := CreateTarget(FactoryConfig{BWReport: 100}, "file://con"); err == nil {
		t.Fatalf("console target with bandwidth report accepted")
	}
	tgt, err := CreateTarget(FactoryConfig{}, "file://con")
	if err != nil {
		t.Fatalf("plain console target: %v", err)
	}
	if !tgt.IsOpen() {
		t.Fatalf("console target not open")
	}
}

func TestCreateConsoleSource(t *testing.T) {
	src, err := CreateSource(FactoryConfig{Verbose: true}, "file://con")
	if err != nil {
		t.Fatalf("console source: %v", err)
	}
	if src.ProtoSocket() != nil {
		t.Fatalf("console source claims a protocol socket")
	}
	if src.SysSock() == nil {
		t.Fatalf("console source missing system handle")
	}
}

func TestCreateFileTargetBadPath(t *testing.T) {
	if _, err := CreateTarget(FactoryConfig{}, "file:///no/such/dir/out.ts"); err == nil {
		t.Fatalf("unwritable path accepted")
	}
}
