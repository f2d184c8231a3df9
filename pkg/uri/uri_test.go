package uri

import "testing"

func TestParseProtoURI(t *testing.T) {
	loc, err := Parse("srt://remote.example.com:5001?mode=caller&latency=120")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if loc.Scheme != SchemeQUIC {
		t.Fatalf("scheme = %v, want quic", loc.Scheme)
	}
	if loc.Host != "remote.example.com" || loc.Port != 5001 {
		t.Fatalf("endpoint = %s:%d", loc.Host, loc.Port)
	}
	if loc.Options["mode"] != "caller" || loc.Options["latency"] != "120" {
		t.Fatalf("options = %#v", loc.Options)
	}
}

func TestParseListenerForm(t *testing.T) {
	loc, err := Parse("quic://:5001")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if loc.Host != "" || loc.Port != 5001 {
		t.Fatalf("endpoint = %q:%d, want empty host", loc.Host, loc.Port)
	}
}

func TestParseConsole(t *testing.T) {
	for _, s := range []string{"file://con", "file://console"} {
		loc, err := Parse(s)
		if err != nil {
			t.Fatalf("parse %s: %v", s, err)
		}
		if !loc.IsConsole() {
			t.Fatalf("%s not recognized as console", s)
		}
	}
	loc, err := Parse("file:///tmp/stream.ts")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if loc.IsConsole() {
		t.Fatalf("file path misread as console")
	}
	if loc.Path != "/tmp/stream.ts" {
		t.Fatalf("path = %q", loc.Path)
	}
}

func TestParseBareFilePath(t *testing.T) {
	loc, err := Parse("stream.ts")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if loc.Scheme != SchemeFile || loc.Path != "stream.ts" {
		t.Fatalf("loc = %#v", loc)
	}
}

func TestParseUDPMulticast(t *testing.T) {
	loc, err := Parse("udp://239.255.1.1:5000?ttl=3&iptos=184")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if loc.Scheme != SchemeUDP || loc.Host != "239.255.1.1" || loc.Port != 5000 {
		t.Fatalf("loc = %#v", loc)
	}
	if loc.Options["ttl"] != "3" {
		t.Fatalf("ttl option lost: %#v", loc.Options)
	}
}

func TestParseRejectsEmptyAndBadPort(t *testing.T) {
	if _, err := Parse(""); err == nil {
		t.Fatalf("empty location accepted")
	}
	if _, err := Parse("udp://host:badport"); err == nil {
		t.Fatalf("non-numeric port accepted")
	}
}

func TestUnknownScheme(t *testing.T) {
	loc, err := Parse("gopher://host:70")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if loc.Scheme != SchemeUnknown {
		t.Fatalf("scheme = %v, want unknown", loc.Scheme)
	}
}
