package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/rndi/srt/pkg/config"
)

// Options holds the CLI values that are not part of the transfer config.
type Options struct {
	ConfigPath string
	LogFile    string
	Source     string
	Target     string
	ShowHelp   bool
}

// ParseFlags parses args, overlays explicitly set flags onto cfg, and
// returns the remaining CLI options. Flag values win over the config file
// only when the flag was actually given.
func ParseFlags(args []string, cfg *config.Config) (Options, error) {
	var opts Options
	fs := flag.NewFlagSet("livetx", flag.ContinueOnError)

	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.StringVar(&opts.LogFile, "logfile", "", "Write logs to this file instead of stderr")

	fs.IntVarP(&cfg.TimeoutSec, "timeout", "t", cfg.TimeoutSec, "Connection timeout in seconds (0 = none)")
	fs.IntVarP(&cfg.ChunkSize, "chunk", "c", cfg.ChunkSize, "Single reading operation buffer size")
	fs.IntVarP(&cfg.BWReport, "bw-report", "r", cfg.BWReport, "Bandwidth report frequency in reads (0 = off)")
	fs.Int64Var(&cfg.MaxRate, "maxbw", cfg.MaxRate, "Throttle the transfer to this many bytes per second (0 = off)")
	fs.IntVarP(&cfg.StatsReport, "stats-report", "s", cfg.StatsReport, "Statistics report frequency in reads (0 = off)")
	fs.StringVar(&cfg.StatsFormat, "stats-format", cfg.StatsFormat, "Statistics format: console, json, or cbor")
	fs.StringVar(&cfg.StatsOut, "stats-out", cfg.StatsOut, "Write statistics to this file instead of stdout")
	fs.BoolVarP(&cfg.Quiet, "quiet", "q", cfg.Quiet, "Suppress periodic status output")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Per-transfer debug output")
	fs.BoolVarP(&cfg.AutoReconnect, "auto-reconnect", "a", cfg.AutoReconnect, "Re-establish lost connections")
	fs.BoolVarP(&opts.ShowHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.ShowHelp {
		printUsage(fs)
		return opts, nil
	}

	rest := fs.Args()
	if len(rest) != 2 {
		printUsage(fs)
		return opts, fmt.Errorf("expected 2 arguments (source and target URI), got %d", len(rest))
	}
	opts.Source = rest[0]
	opts.Target = rest[1]
	return opts, nil
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprint(os.Stderr, `livetx – live stream relay

Usage:
  livetx [options] <input-uri> <output-uri>

URIs:
  file://con                          Console (stdin/stdout)
  file:///path/to/file                File
  udp://host:port?ttl=N&iptos=N       UDP unicast or multicast
  srt://host:port?mode=caller|listener|rendezvous&latency=N&passphrase=...
                                      Protocol socket
  pipe://name                         Named pipe (Windows)

Options:
`)
	fs.PrintDefaults()
	fmt.Fprint(os.Stderr, `
Examples:
  livetx udp://:5000 srt://remote:5001           Ingest UDP, send out
  livetx srt://:5001 udp://239.1.1.1:5000?ttl=3  Receive, multicast out
  livetx file://con srt://remote:5001 < in.ts    Pipe a file through
`)
}
