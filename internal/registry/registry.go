// Package registry implements the connection registry and correlator (C4,
// half of C9): it joins typed SnifferEvents to per-connection pipeline
// state, tracks pending outgoing connects, detects fd reuse, maintains
// per-tid ordering statistics, and maps event timestamps to wall time.
package registry

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ocx/mina-debugger/internal/event"
)

// ConnectionID identifies a live connection the way §3 defines it.
type ConnectionID struct {
	PID uint32
	FD  uint32
}

// Key identifies one (pid, fd) pair regardless of connection state.
type Key struct {
	PID uint32
	FD  uint32
}

// lagWarnThreshold is the 60s jump in the user-space consumption lag that
// triggers a "better time" warning (§4.4).
const lagWarnThreshold = 60 * time.Second

// Pipeline is the per-connection decryption/framing state machine (C5-C7).
// Implemented by *pipeline.Pipeline; kept as an interface here so the
// registry does not import the pipeline package (tests supply a fake).
type Pipeline interface {
	OnData(incoming bool, b []byte)
	Close()
}

// PipelineFactory constructs a fresh per-connection pipeline for a newly
// established connection.
type PipelineFactory func(id ConnectionID, addr net.Addr, incoming bool) Pipeline

// Connection is one live (pid, fd)'s registry entry.
type Connection struct {
	ID       ConnectionID
	Addr     net.Addr
	Incoming bool
	Opened   time.Time
	Pipeline Pipeline
}

// IPCReaderKey identifies one (pid, direction) IPC accumulator.
type IPCReaderKey struct {
	PID      uint32
	Incoming bool
}

// Registry is the C4/C9 owner: single-writer, driven entirely by the ring
// reader's goroutine. It is not safe for concurrent use from multiple
// goroutines by design (§5: "single-writer design... eliminates
// cross-connection locking").
type Registry struct {
	mu sync.Mutex // guards Apps only, per §5 "guarded by a per-field short-lived lock"

	apps map[uint32]string

	pendingOut map[Key]net.Addr
	conns      map[Key]*Connection

	lastTsPerTid map[uint32]uint64
	maxUnordered map[uint32]uint64

	timeOrigin time.Time
	maxLag     time.Duration

	ipcBlacklist map[IPCReaderKey]struct{}

	newPipeline PipelineFactory

	log *slog.Logger
}

// New constructs an empty Registry. timeOrigin should be the kernel boot
// time (/proc/stat's btime); if zero, it is synthesised from the first
// event's Ts1 the first time Apply observes one.
func New(timeOrigin time.Time, newPipeline PipelineFactory, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		apps:         make(map[uint32]string),
		pendingOut:   make(map[Key]net.Addr),
		conns:        make(map[Key]*Connection),
		lastTsPerTid: make(map[uint32]uint64),
		maxUnordered: make(map[uint32]uint64),
		ipcBlacklist: make(map[IPCReaderKey]struct{}),
		timeOrigin:   timeOrigin,
		newPipeline:  newPipeline,
		log:          log,
	}
}

// WallTime maps a raw monotonic-nanoseconds timestamp to wall time (§4.4).
func (r *Registry) WallTime(ts1 uint64) time.Time {
	return r.timeOrigin.Add(time.Duration(ts1))
}

// BetterTime computes the lag-compensated "now" the way §4.4 specifies:
// now - (monotonic_now - Duration(ts1)). monotonicNow is the caller's
// CLOCK_MONOTONIC reading at consumption time, supplied so this function
// stays pure and testable.
func (r *Registry) BetterTime(ts1 uint64, monotonicNow, wallNow time.Time) time.Time {
	lag := monotonicNow.Sub(time.Unix(0, int64(ts1)))
	if lag > r.maxLag+lagWarnThreshold {
		r.log.Warn("consumption lag increased sharply", "lag", lag, "previous_max", r.maxLag)
	}
	if lag > r.maxLag {
		r.maxLag = lag
	}
	return wallNow.Add(-lag)
}

// checkOrdering asserts ts1 >= the last ts1 seen for tid (§4.4, §5): it
// never reorders, only logs and tracks the worst violation magnitude.
func (r *Registry) checkOrdering(tid uint32, ts1 uint64) {
	last, ok := r.lastTsPerTid[tid]
	if ok && ts1 < last {
		magnitude := last - ts1
		if magnitude > r.maxUnordered[tid] {
			r.maxUnordered[tid] = magnitude
		}
		r.log.Warn("out-of-order timestamp", "tid", tid, "magnitude", magnitude)
	}
	if !ok || ts1 > last {
		r.lastTsPerTid[tid] = ts1
	}
}

// MaxUnordered reports the worst out-of-order magnitude recorded for tid.
func (r *Registry) MaxUnordered(tid uint32) uint64 { return r.maxUnordered[tid] }

// WorstUnordered reports the single worst out-of-order magnitude recorded
// across every tid seen so far, and which tid it was, for replay tooling
// that doesn't know the tid space up front.
func (r *Registry) WorstUnordered() (tid uint32, magnitude uint64) {
	for t, mag := range r.maxUnordered {
		if mag > magnitude {
			tid, magnitude = t, mag
		}
	}
	return tid, magnitude
}

// Alias returns the alias recorded for pid, if any.
func (r *Registry) Alias(pid uint32) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.apps[pid]
	return a, ok
}

// Apply dispatches one SnifferEvent into registry state (C9's core loop).
func (r *Registry) Apply(ev *event.SnifferEvent) {
	if r.timeOrigin.IsZero() {
		r.timeOrigin = time.Now().Add(-time.Duration(ev.Ts1))
	}
	r.checkOrdering(ev.TID, ev.Ts1)

	switch v := ev.Variant.(type) {
	case event.NewApp:
		r.mu.Lock()
		r.apps[ev.PID] = v.Alias
		r.mu.Unlock()
		r.log.Info("new app", "pid", ev.PID, "alias", v.Alias)

	case event.Bind:
		r.log.Debug("bind", "pid", ev.PID, "addr", v.Addr)

	case event.OutgoingConnection:
		r.pendingOut[Key{ev.PID, ev.FD}] = v.Addr

	case event.GetSockOpt:
		r.applyGetSockOpt(ev, v)

	case event.IncomingConnection:
		r.accept(ev, v.Addr)

	case event.Disconnected:
		r.disconnect(Key{ev.PID, ev.FD})

	case event.IncomingData:
		r.routeData(ev.PID, ev.FD, true, v.Bytes)

	case event.OutgoingData:
		r.routeData(ev.PID, ev.FD, false, v.Bytes)

	case event.Random:
		r.log.Debug("randomness observed", "pid", ev.PID, "len", len(v.Bytes))

	case event.Error:
		r.log.Warn("kernel-side error", "pid", ev.PID, "fd", ev.FD, "tag", v.DataTag, "code", v.Code)
		// An I/O error implies the socket is gone; synthesize a Close.
		if v.DataTag == event.TagRead || v.DataTag == event.TagWrite {
			r.disconnect(Key{ev.PID, ev.FD})
		}
	}
}

func (r *Registry) applyGetSockOpt(ev *event.SnifferEvent, v event.GetSockOpt) {
	key := Key{ev.PID, ev.FD}
	addr, pending := r.pendingOut[key]
	if !pending {
		return
	}
	delete(r.pendingOut, key)

	isZero := len(v.Value) > 0
	for _, b := range v.Value {
		if b != 0 {
			isZero = false
			break
		}
	}
	if !isZero {
		r.log.Debug("outgoing connect failed", "pid", ev.PID, "fd", ev.FD)
		return
	}
	r.establish(ConnectionID{PID: ev.PID, FD: ev.FD}, addr, false)
}

func (r *Registry) accept(ev *event.SnifferEvent, addr net.Addr) {
	key := Key{ev.PID, ev.FD}
	if _, exists := r.conns[key]; exists {
		r.log.Debug("fd reuse on accept", "pid", ev.PID, "fd", ev.FD)
		r.disconnect(key)
	}
	r.establish(ConnectionID{PID: ev.PID, FD: ev.FD}, addr, true)
}

func (r *Registry) establish(id ConnectionID, addr net.Addr, incoming bool) {
	key := Key{id.PID, id.FD}
	var pipeline Pipeline
	if r.newPipeline != nil {
		pipeline = r.newPipeline(id, addr, incoming)
	}
	r.conns[key] = &Connection{
		ID:       id,
		Addr:     addr,
		Incoming: incoming,
		Opened:   time.Now(),
		Pipeline: pipeline,
	}
	r.log.Info("connection established", "pid", id.PID, "fd", id.FD, "addr", addr, "incoming", incoming)
}

func (r *Registry) disconnect(key Key) {
	c, ok := r.conns[key]
	if !ok {
		r.log.Debug("disconnect for unknown connection", "pid", key.PID, "fd", key.FD)
		return
	}
	if c.Pipeline != nil {
		c.Pipeline.Close()
	}
	delete(r.conns, key)
}

func (r *Registry) routeData(pid, fd uint32, incoming bool, b []byte) {
	if fd == 0 || fd == 1 || fd == 2 {
		// IPC side-channel routing happens in the caller (C9 wires the ipc
		// reader directly); the registry only owns network connections.
		return
	}
	key := Key{pid, fd}
	c, ok := r.conns[key]
	if !ok {
		r.log.Warn("data for unknown connection", "pid", pid, "fd", fd)
		return
	}
	if c.Pipeline == nil {
		return
	}
	c.Pipeline.OnData(incoming, b)
}

// Connection looks up the live connection for (pid, fd), if any.
func (r *Registry) Connection(pid, fd uint32) (*Connection, bool) {
	c, ok := r.conns[Key{pid, fd}]
	return c, ok
}

// IsBlacklisted reports whether the IPC pair has been blacklisted (§4.8).
func (r *Registry) IsBlacklisted(key IPCReaderKey) bool {
	_, ok := r.ipcBlacklist[key]
	return ok
}

// Blacklist marks an IPC pair as unparseable; it is never un-blacklisted.
func (r *Registry) Blacklist(key IPCReaderKey) {
	r.ipcBlacklist[key] = struct{}{}
	r.log.Warn("ipc pair blacklisted", "pid", key.PID, "incoming", key.Incoming)
}

// BootTime reads /proc/stat's btime line for the kernel boot time, used as
// the registry's time_origin (§4.4). It is a best-effort lookup: callers
// that cannot read /proc/stat should fall back to synthesising the origin
// from the first event, which Apply does automatically when timeOrigin is
// the zero value.
func BootTime(readLine func() (string, error)) (time.Time, error) {
	line, err := readLine()
	if err != nil {
		return time.Time{}, fmt.Errorf("registry: read /proc/stat: %w", err)
	}
	var secs int64
	if _, err := fmt.Sscanf(line, "btime %d", &secs); err != nil {
		return time.Time{}, fmt.Errorf("registry: parse btime: %w", err)
	}
	return time.Unix(secs, 0), nil
}
