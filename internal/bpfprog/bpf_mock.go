// Package bpfprog holds the embedded kernel program (recorder.c) and the
// Go bindings bpf2go would generate from it.
//
// This file is a placeholder for that generated code: in a real build,
// `go generate` with bpf2go compiles recorder.c and emits recorder_bpfel.go
// (or _bpfeb.go on big-endian targets) defining RecorderObjects with real
// ebpf.Program/ebpf.Map fields and a LoadRecorderObjects function backed by
// an embedded ELF. It is committed here, mirroring the teacher's
// cmd/probe/bpf_mock.go, so the rest of the tree compiles via static
// analysis without a working clang/llvm-strip toolchain on hand.
package bpfprog

import "github.com/cilium/ebpf"

// RecorderObjects is the set of compiled programs and maps recorder.c
// declares.
type RecorderObjects struct {
	RecorderPrograms
	RecorderMaps
}

func (o *RecorderObjects) Close() error {
	if err := o.RecorderPrograms.Close(); err != nil {
		return err
	}
	return o.RecorderMaps.Close()
}

// RecorderPrograms are the individually attachable programs.
type RecorderPrograms struct {
	HandleSysEnterRead  *ebpf.Program `ebpf:"handle_sys_enter_read"`
	HandleSysExitRead   *ebpf.Program `ebpf:"handle_sys_exit_read"`
	HandleSysEnterWrite *ebpf.Program `ebpf:"handle_sys_enter_write"`
	HandleSysExitWrite  *ebpf.Program `ebpf:"handle_sys_exit_write"`
	HandleSysEnterExecve *ebpf.Program `ebpf:"handle_sys_enter_execve"`
	HandleSysEnterConnect *ebpf.Program `ebpf:"handle_sys_enter_connect"`
	HandleSysExitConnect  *ebpf.Program `ebpf:"handle_sys_exit_connect"`
	HandleSysEnterAccept4 *ebpf.Program `ebpf:"handle_sys_enter_accept4"`
	HandleSysExitAccept4  *ebpf.Program `ebpf:"handle_sys_exit_accept4"`
	HandleSysEnterGetSockOpt *ebpf.Program `ebpf:"handle_sys_enter_getsockopt"`
	HandleSysExitGetSockOpt  *ebpf.Program `ebpf:"handle_sys_exit_getsockopt"`
	HandleSysEnterClose      *ebpf.Program `ebpf:"handle_sys_enter_close"`
	HandleSysEnterGetRandom  *ebpf.Program `ebpf:"handle_sys_enter_getrandom"`
}

func (p *RecorderPrograms) Close() error { return nil }

// RecorderMaps are the maps recorder.c declares (§4.1).
type RecorderMaps struct {
	Events        *ebpf.Map `ebpf:"events"`
	ThreadParams  *ebpf.Map `ebpf:"thread_params"`
	FollowedPids  *ebpf.Map `ebpf:"followed_pids"`
	SocketTable   *ebpf.Map `ebpf:"socket_table"`
}

func (m *RecorderMaps) Close() error { return nil }

// LoadRecorderObjects would load the compiled ELF from an embedded byte
// slice produced by bpf2go; the mock always succeeds with zero-value
// objects so callers exercise the attachment and teardown logic.
func LoadRecorderObjects(obj *RecorderObjects, opts *ebpf.CollectionOptions) error {
	return nil
}
