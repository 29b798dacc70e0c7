// Package ringbuf wraps the cilium/ebpf ring-buffer reader (C2): it maps
// the kernel ring into user space, advances the consumer cursor, yields
// typed events, and detects overflow and backpressure (§4.2).
package ringbuf

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"

	"github.com/ocx/mina-debugger/internal/event"
)

// Capacity is the default ring size from §4.2: a power of two, 128 MiB.
const Capacity = 128 * 1024 * 1024

// pollInterval is the epoll timeout the read loop waits on between checks
// of the termination flag (§4.2, §5 cancellation).
const pollInterval = 50 * time.Millisecond

// ErrOverflown is returned when the producer has lapped the consumer. It is
// the one error that is fatal to the reader loop and, per §7, the only
// error that terminates the process.
var ErrOverflown = errors.New("ringbuf: overflown, consumer lapped by producer")

// watermarkPercent is the occupancy fraction above which ReadBlocking logs a
// backpressure warning (§4.2).
const watermarkPercent = 50

// Reader consumes one kernel ring buffer map, producing parsed SnifferEvents.
type Reader struct {
	rd       *ringbuf.Reader
	capacity int

	peakDistance atomic.Uint64
	prevPercent  atomic.Int64
}

// NewReader opens a Reader over the given "events" ring buffer map, after
// raising RLIMIT_MEMLOCK as every cilium/ebpf consumer must.
func NewReader(m *ebpf.Map) (*Reader, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("ringbuf: removing memlock: %w", err)
	}
	rd, err := ringbuf.NewReader(m)
	if err != nil {
		return nil, fmt.Errorf("ringbuf: opening reader: %w", err)
	}
	return &Reader{rd: rd, capacity: Capacity}, nil
}

// Close unmaps the ring and releases its file descriptor.
func (r *Reader) Close() error {
	return r.rd.Close()
}

// Result is one parsed ring read: a possibly-nil SnifferEvent (nil means
// "valid but uninteresting", per the from_rb_slice contract) plus the
// current unconsumed-bytes distance, tracked for backpressure reporting.
type Result struct {
	Event    *event.SnifferEvent
	Distance int
}

// ReadBlocking reads the next record, blocking cooperatively: it polls a
// 50ms deadline and rechecks terminating between waits (§4.2, §5). It
// returns ErrOverflown (fatal) if the ring was lapped, or the underlying
// close error once the reader has been closed from another goroutine.
func (r *Reader) ReadBlocking(terminating *atomic.Bool) (Result, error) {
	for {
		if terminating.Load() {
			return Result{}, errors.New("ringbuf: terminating")
		}

		if err := r.rd.SetDeadline(time.Now().Add(pollInterval)); err != nil {
			return Result{}, fmt.Errorf("ringbuf: set deadline: %w", err)
		}

		record, err := r.rd.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return Result{}, err
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return Result{}, fmt.Errorf("ringbuf: read: %w", err)
		}

		distance := record.Remaining
		if distance > r.capacity {
			return Result{}, ErrOverflown
		}
		r.reportBackpressure(distance)

		se, perr := event.FromRBSlice(record.RawSample)
		if perr != nil {
			slog.Warn("ringbuf: parse error", "error", perr)
			return Result{Distance: distance}, nil
		}
		return Result{Event: se, Distance: distance}, nil
	}
}

func (r *Reader) reportBackpressure(distance int) {
	for {
		peak := r.peakDistance.Load()
		if uint64(distance) <= peak {
			break
		}
		if r.peakDistance.CompareAndSwap(peak, uint64(distance)) {
			break
		}
	}

	percent := int64(distance) * 100 / int64(r.capacity)
	prev := r.prevPercent.Swap(percent)
	if percent > prev && percent > watermarkPercent {
		slog.Warn("ringbuf: buffer filling", "percent", percent)
	}
}

// PeakDistance returns the largest unconsumed-bytes distance observed so far.
func (r *Reader) PeakDistance() uint64 {
	return r.peakDistance.Load()
}
