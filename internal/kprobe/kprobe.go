// Package kprobe attaches the kernel tracing program (C1) and implements
// its process-selection contract in user space terms: tracking which pids
// are "followed" and mapping BPF_ALIAS/argv0 matches to process aliases,
// grounded on the teacher's cmd/probe attachment sequence.
package kprobe

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"

	"github.com/ocx/mina-debugger/internal/bpfprog"
)

// aliasEnvPrefix and helperArgvPrefix are the fixed literals the probe (and
// this user-space mirror of its matching contract) compares against (§4.1).
const (
	aliasEnvPrefix   = "BPF_ALIAS"
	helperArgvPrefix = "coda-libp2p_helper"
)

// Attachment owns every kernel link created for the recorder program; Close
// detaches all of them and releases the loaded objects.
type Attachment struct {
	objs  bpfprog.RecorderObjects
	links []link.Link
	log   *slog.Logger
}

// Attach loads the recorder program and hooks every tracepoint/kprobe it
// declares. On any failure it unwinds everything already attached.
func Attach(log *slog.Logger) (*Attachment, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("kprobe: remove memlock: %w", err)
	}

	a := &Attachment{log: log}
	if err := bpfprog.LoadRecorderObjects(&a.objs, nil); err != nil {
		return nil, fmt.Errorf("kprobe: load objects: %w", err)
	}

	hooks := []struct {
		name  string
		prog  func() (link.Link, error)
	}{
		{"sys_enter_read", func() (link.Link, error) { return link.Tracepoint("syscalls", "sys_enter_read", a.objs.HandleSysEnterRead, nil) }},
		{"sys_exit_read", func() (link.Link, error) { return link.Tracepoint("syscalls", "sys_exit_read", a.objs.HandleSysExitRead, nil) }},
		{"sys_enter_write", func() (link.Link, error) { return link.Tracepoint("syscalls", "sys_enter_write", a.objs.HandleSysEnterWrite, nil) }},
		{"sys_exit_write", func() (link.Link, error) { return link.Tracepoint("syscalls", "sys_exit_write", a.objs.HandleSysExitWrite, nil) }},
		{"sys_enter_execve", func() (link.Link, error) { return link.Tracepoint("syscalls", "sys_enter_execve", a.objs.HandleSysEnterExecve, nil) }},
		{"sys_enter_connect", func() (link.Link, error) { return link.Tracepoint("syscalls", "sys_enter_connect", a.objs.HandleSysEnterConnect, nil) }},
		{"sys_exit_connect", func() (link.Link, error) { return link.Tracepoint("syscalls", "sys_exit_connect", a.objs.HandleSysExitConnect, nil) }},
		{"sys_enter_accept4", func() (link.Link, error) { return link.Tracepoint("syscalls", "sys_enter_accept4", a.objs.HandleSysEnterAccept4, nil) }},
		{"sys_exit_accept4", func() (link.Link, error) { return link.Tracepoint("syscalls", "sys_exit_accept4", a.objs.HandleSysExitAccept4, nil) }},
		{"sys_enter_getsockopt", func() (link.Link, error) { return link.Tracepoint("syscalls", "sys_enter_getsockopt", a.objs.HandleSysEnterGetSockOpt, nil) }},
		{"sys_exit_getsockopt", func() (link.Link, error) { return link.Tracepoint("syscalls", "sys_exit_getsockopt", a.objs.HandleSysExitGetSockOpt, nil) }},
		{"sys_enter_close", func() (link.Link, error) { return link.Tracepoint("syscalls", "sys_enter_close", a.objs.HandleSysEnterClose, nil) }},
		{"sys_enter_getrandom", func() (link.Link, error) { return link.Tracepoint("syscalls", "sys_enter_getrandom", a.objs.HandleSysEnterGetRandom, nil) }},
	}

	for _, h := range hooks {
		l, err := h.prog()
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("kprobe: attach %s: %w", h.name, err)
		}
		a.links = append(a.links, l)
		log.Info("kernel hook attached", "tracepoint", h.name)
	}

	return a, nil
}

// Objects exposes the loaded programs and maps, e.g. for wiring a
// ringbuf.Reader over the "events" map.
func (a *Attachment) Objects() *bpfprog.RecorderObjects { return &a.objs }

// Close detaches every hook and releases the loaded program/map objects.
func (a *Attachment) Close() error {
	var firstErr error
	for _, l := range a.links {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.links = nil
	if err := a.objs.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// MatchesAliasContract reports whether an observed execve's argv0 and
// environment satisfy the process-selection contract of §4.1: argv0 begins
// with helperArgvPrefix and some environment entry's key begins with
// aliasEnvPrefix. It returns the matched alias value.
//
// The kernel-side probe performs the equivalent check with fixed, unrolled
// byte comparisons (loops over variable-length strings are disallowed by
// the verifier); this pure-Go mirror is what this repo's own process
// launcher and tests use to reason about the same contract in user space.
func MatchesAliasContract(argv0 string, env []string) (alias string, ok bool) {
	if !strings.HasPrefix(argv0, helperArgvPrefix) {
		return "", false
	}
	for _, kv := range env {
		key, value, found := strings.Cut(kv, "=")
		if !found {
			continue
		}
		if strings.HasPrefix(key, aliasEnvPrefix) {
			return value, true
		}
	}
	return "", false
}

// FollowTable tracks which pids are followed (the map<pid, 0xFFFFFFFF>
// contract of §4.1), implemented as plain Go state since this side only
// mirrors the kernel table for user-space bookkeeping (e.g. deciding
// whether to log an unrecognised pid's data events).
type FollowTable struct {
	followed map[uint32]struct{}
}

// NewFollowTable constructs an empty table.
func NewFollowTable() *FollowTable {
	return &FollowTable{followed: make(map[uint32]struct{})}
}

// Follow marks pid as followed.
func (t *FollowTable) Follow(pid uint32) { t.followed[pid] = struct{}{} }

// IsFollowed reports whether pid has been marked followed.
func (t *FollowTable) IsFollowed(pid uint32) bool {
	_, ok := t.followed[pid]
	return ok
}

// Unfollow removes pid from the table.
func (t *FollowTable) Unfollow(pid uint32) { delete(t.followed, pid) }
