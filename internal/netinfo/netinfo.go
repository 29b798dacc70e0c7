// Package netinfo is a best-effort enrichment path annotating a connection's
// placeholder address with real socket state via netlink's INET_DIAG
// request (spec.md §9 Open Question: the placeholder 127.0.0.1:port address
// is the contract; this is an additive, optional extension, never required
// for correctness).
package netinfo

import (
	"encoding/binary"
	"fmt"

	"github.com/mdlayher/netlink"
)

const (
	// sockDiagByFamily is the INET_DIAG request type issued over the
	// NETLINK_SOCK_DIAG protocol family.
	sockDiagByFamily = 20

	afINET = 2
)

// inetDiagReqV2 mirrors the kernel's struct inet_diag_req_v2: family,
// protocol, ext, pad, states bitmap, then the id fields. Only the leading
// fields needed to scope a query by local/remote port are populated here;
// the rest are zeroed, matching a "match everything else" wildcard query.
type inetDiagReqV2 struct {
	Family   uint8
	Protocol uint8
	Ext      uint8
	Pad      uint8
	States   uint32
	SrcPort  uint16
	DstPort  uint16
}

func (r inetDiagReqV2) marshal() []byte {
	b := make([]byte, 8+2+2+4*4+16*2) // header fields + id (simplified, zero-padded)
	b[0] = r.Family
	b[1] = r.Protocol
	b[2] = r.Ext
	b[3] = r.Pad
	binary.LittleEndian.PutUint32(b[4:8], r.States)
	binary.BigEndian.PutUint16(b[8:10], r.SrcPort)
	binary.BigEndian.PutUint16(b[10:12], r.DstPort)
	return b
}

// Conn is the subset of *netlink.Conn this package needs, so tests can
// supply a fake instead of opening a real netlink socket.
type Conn interface {
	Execute(m netlink.Message) ([]netlink.Message, error)
	Close() error
}

// SocketInfo is what a successful lookup reports: the inode and TCP state
// the kernel's sock_diag module has for the queried port.
type SocketInfo struct {
	Inode uint32
	State uint8
}

// Lookup queries NETLINK_SOCK_DIAG for a TCP socket bound to localPort. It
// returns ok=false on any failure — this path must never be load-bearing.
func Lookup(c Conn, localPort uint16) (SocketInfo, bool) {
	req := inetDiagReqV2{Family: afINET, Protocol: 6 /* IPPROTO_TCP */, SrcPort: localPort}

	msg := netlink.Message{
		Header: netlink.Header{
			Type:  sockDiagByFamily,
			Flags: netlink.Request,
		},
		Data: req.marshal(),
	}

	resp, err := c.Execute(msg)
	if err != nil || len(resp) == 0 {
		return SocketInfo{}, false
	}

	data := resp[0].Data
	if len(data) < 8 {
		return SocketInfo{}, false
	}
	return SocketInfo{
		State: data[0],
		Inode: binary.LittleEndian.Uint32(data[4:8]),
	}, true
}

// Dial opens a real NETLINK_SOCK_DIAG socket. Callers on a kernel without
// sock_diag support should treat any error as "enrichment unavailable" and
// proceed with the placeholder address alone.
func Dial() (*netlink.Conn, error) {
	const netlinkSockDiag = 4
	conn, err := netlink.Dial(netlinkSockDiag, nil)
	if err != nil {
		return nil, fmt.Errorf("netinfo: dial netlink: %w", err)
	}
	return conn, nil
}
