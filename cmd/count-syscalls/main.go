// Command count-syscalls summarises a raw ring-buffer dump by tag
// frequency (§3, §9), independent of the address/port filtering FromRBSlice
// applies — useful for sanity-checking what the kernel probe actually
// submitted before C3's demux logic discards anything.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/ocx/mina-debugger/internal/event"
)

func main() {
	path := flag.String("in", "", "path to a raw dump of concatenated 32-byte+payload ring records")
	flag.Parse()
	if *path == "" {
		fmt.Fprintln(os.Stderr, "usage: count-syscalls -in <dump>")
		os.Exit(2)
	}

	b, err := os.ReadFile(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "count-syscalls: read dump:", err)
		os.Exit(1)
	}

	counts := make(map[event.Tag]int)
	total := 0
	for len(b) >= event.RecordSize {
		ev, err := event.FromBytes(b[:event.RecordSize])
		if err != nil {
			break
		}
		counts[ev.Tag]++
		total++

		recordLen := event.RecordSize + ev.PayloadLen()
		if recordLen > len(b) {
			break
		}
		b = b[recordLen:]
	}

	tags := make([]event.Tag, 0, len(counts))
	for t := range counts {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return counts[tags[i]] > counts[tags[j]] })

	fmt.Printf("%d records\n", total)
	for _, t := range tags {
		fmt.Printf("  %-12s %d\n", t.String(), counts[t])
	}
}
