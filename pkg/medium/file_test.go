package medium

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rndi/srt/pkg/uri"
)

func TestFileRoundtrip(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.ts")
	out := filepath.Join(dir, "out.ts")

	payload := bytes.Repeat([]byte("0123456789abcdef"), 300) // 4800 bytes
	if err := os.WriteFile(in, payload, 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	src, err := NewFileSource(uri.Location{Scheme: uri.SchemeFile, Path: in})
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	tgt, err := NewFileTarget(uri.Location{Scheme: uri.SchemeFile, Path: out})
	if err != nil {
		t.Fatalf("target: %v", err)
	}

	for {
		data, err := src.Read(1316)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if err := tgt.Write(data); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if !src.End() {
		t.Fatalf("source did not reach end of stream")
	}
	if err := src.Close(); err != nil {
		t.Fatalf("close source: %v", err)
	}
	if err := tgt.Close(); err != nil {
		t.Fatalf("close target: %v", err)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("output differs: %d bytes vs %d", len(got), len(payload))
	}
}

func TestFileSourceShortFinalRead(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "short.bin")
	if err := os.WriteFile(in, make([]byte, 2000), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	src, err := NewFileSource(uri.Location{Scheme: uri.SchemeFile, Path: in})
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	defer src.Close()

	first, err := src.Read(1316)
	if err != nil || len(first) != 1316 {
		t.Fatalf("first read: %d bytes, err %v", len(first), err)
	}
	second, err := src.Read(1316)
	if err != nil || len(second) != 684 {
		t.Fatalf("second read: %d bytes, err %v", len(second), err)
	}
	if _, err := src.Read(1316); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestFileCloseIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	src, err := NewFileSource(uri.Location{Scheme: uri.SchemeFile, Path: path})
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if src.IsOpen() {
		t.Fatalf("closed source reports open")
	}

	tgt, err := NewFileTarget(uri.Location{Scheme: uri.SchemeFile, Path: filepath.Join(dir, "g.bin")})
	if err != nil {
		t.Fatalf("target: %v", err)
	}
	if err := tgt.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := tgt.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestFileTargetBrokenOnWriteFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.bin")
	tgt, err := NewFileTarget(uri.Location{Scheme: uri.SchemeFile, Path: path})
	if err != nil {
		t.Fatalf("target: %v", err)
	}
	_ = tgt.f.Close() // force the next write to fail
	if err := tgt.Write([]byte("data")); err == nil {
		t.Fatalf("write on closed file succeeded")
	}
	if !tgt.Broken() {
		t.Fatalf("failed write did not mark the target broken")
	}
}
