// Command blekbd-send writes a line of text to the keyboard daemon's
// pipe, optionally waiting for the readiness flag first.
//
// Exit codes: 0 text written, 1 daemon not ready, 2 usage error.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/iprlabs/blekbd/internal/config"
	"github.com/iprlabs/blekbd/internal/fifo"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: /etc/blekbd/config.yaml)")
	wait := flag.Duration("wait", 10*time.Second, "how long to wait for the daemon to be ready")
	noWait := flag.Bool("no-wait", false, "write immediately without checking readiness")
	noNewline := flag.Bool("n", false, "do not append a trailing newline")
	debug := flag.Bool("debug", false, "trace readiness and write steps on stderr")
	flag.Parse()

	trace := func(format string, args ...interface{}) {
		if *debug {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		}
	}

	if flag.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <text...>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	if *noWait {
		trace("skipping readiness check")
	} else {
		trace("waiting up to %s for %s", *wait, cfg.ReadyFlag)
		if !fifo.WaitForFlag(cfg.ReadyFlag, *wait) {
			fmt.Fprintf(os.Stderr, "keyboard not ready after %s (no host subscribed?)\n", *wait)
			os.Exit(1)
		}
		trace("keyboard ready")
	}

	text := strings.Join(flag.Args(), " ")
	if !*noNewline {
		text += "\n"
	}

	// Opens for write only; blocks until the daemon has the read end
	// open, which it always does once running.
	f, err := os.OpenFile(cfg.FIFOPath, os.O_WRONLY, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", cfg.FIFOPath, err)
		os.Exit(1)
	}
	defer f.Close()

	if _, err := f.WriteString(text); err != nil {
		fmt.Fprintf(os.Stderr, "write: %v\n", err)
		os.Exit(1)
	}
	trace("wrote %d bytes to %s", len(text), cfg.FIFOPath)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		return config.Load(defaultPath)
	}
	return config.Default(), nil
}
