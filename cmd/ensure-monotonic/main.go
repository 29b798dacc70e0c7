// Command ensure-monotonic replays a dump of packed 32-byte ring records
// (§3, §9) and reports the worst per-tid ordering violation the registry's
// ts1 monotonicity check (§4.4) would have recorded, without attaching to
// a live kernel ring.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ocx/mina-debugger/internal/event"
	"github.com/ocx/mina-debugger/internal/registry"
)

func main() {
	path := flag.String("in", "", "path to a raw dump of concatenated 32-byte+payload ring records")
	flag.Parse()
	if *path == "" {
		fmt.Fprintln(os.Stderr, "usage: ensure-monotonic -in <dump>")
		os.Exit(2)
	}

	b, err := os.ReadFile(*path)
	if err != nil {
		slog.Error("ensure-monotonic: read dump", "err", err)
		os.Exit(1)
	}

	reg := registry.New(readOrigin(), nil, slog.Default())

	count := 0
	for len(b) >= event.RecordSize {
		size := int32(binary.LittleEndian.Uint32(b[28:32]))
		payloadLen := 0
		if size > 0 {
			payloadLen = int(size)
		}
		recordLen := event.RecordSize + payloadLen
		if recordLen > len(b) {
			break
		}
		se, perr := event.FromRBSlice(b[:recordLen])
		b = b[recordLen:]
		if perr != nil {
			slog.Warn("ensure-monotonic: parse error, skipping record", "err", perr)
			continue
		}
		if se != nil {
			reg.Apply(se)
			count++
		}
	}

	tid, worst := reg.WorstUnordered()
	fmt.Printf("replayed %d events, worst out-of-order magnitude: %d (tid %d)\n", count, worst, tid)
}

func readOrigin() time.Time {
	t, err := registry.BootTime(func() (string, error) {
		b, err := os.ReadFile("/proc/stat")
		if err != nil {
			return "", err
		}
		for _, line := range splitLines(string(b)) {
			if len(line) > 6 && line[:6] == "btime " {
				return line, nil
			}
		}
		return "", fmt.Errorf("no btime line")
	})
	if err != nil {
		return time.Time{}
	}
	return t
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
