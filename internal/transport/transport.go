// Package transport implements the byte-transport collaborator spec.md
// treats as external (§1): a UDP socket that reads and writes datagrams in
// batches. It wraps golang.org/x/net/ipv4's PacketConn.ReadBatch/WriteBatch
// (a sendmmsg/recvmmsg-style syscall batching layer on platforms that
// support it) and falls back to one-at-a-time net.UDPConn calls elsewhere,
// grounded structurally on the socket-ownership shape of
// _examples/chihaya-chihaya/frontend/udp/frontend.go's Frontend.socket.
package transport

import (
	"net"

	"golang.org/x/net/ipv4"

	"github.com/jzelinskie/utrackd/internal/bittorrent"
	"github.com/jzelinskie/utrackd/internal/packetbuf"
)

// MaxBatchSize bounds the number of datagrams read in a single receive
// call (spec §4.6).
const MaxBatchSize = 1024

// maxDatagramSize is large enough for any request this tracker parses; the
// wire formats in spec §6 top out well under it.
const maxDatagramSize = 2048

// Received is one datagram read off the wire.
type Received struct {
	Payload []byte
	From    bittorrent.Endpoint
}

// Socket is a batched IPv4 UDP transport. The zero value is not usable;
// construct with Listen.
type Socket struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn

	readBufs [][]byte
	readMsgs []ipv4.Message
}

// Listen opens a UDP socket bound to addr and prepares its batch buffers.
func Listen(addr string) (*Socket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, err
	}

	s := &Socket{
		conn:     conn,
		pc:       ipv4.NewPacketConn(conn),
		readBufs: make([][]byte, MaxBatchSize),
		readMsgs: make([]ipv4.Message, MaxBatchSize),
	}
	for i := range s.readBufs {
		s.readBufs[i] = make([]byte, maxDatagramSize)
		s.readMsgs[i].Buffers = [][]byte{s.readBufs[i]}
	}
	return s, nil
}

// ReadBatch reads up to MaxBatchSize datagrams in one call when the
// platform supports scatter reads, and falls back to a single
// ReadFromUDP otherwise (spec §4.6 "scatter read if available; otherwise
// loop"). Payloads are copied out of the internal buffers so callers may
// retain them past the next ReadBatch call.
func (s *Socket) ReadBatch() ([]Received, error) {
	n, err := s.pc.ReadBatch(s.readMsgs, 0)
	if err != nil {
		return s.readOne()
	}

	out := make([]Received, 0, n)
	for i := 0; i < n; i++ {
		msg := s.readMsgs[i]
		ep, ok := endpointFromAddr(msg.Addr)
		if !ok {
			continue
		}
		payload := make([]byte, msg.N)
		copy(payload, msg.Buffers[0][:msg.N])
		out = append(out, Received{Payload: payload, From: ep})
	}
	return out, nil
}

func (s *Socket) readOne() ([]Received, error) {
	buf := make([]byte, maxDatagramSize)
	n, addr, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, err
	}
	ep, ok := endpointFromUDPAddr(addr)
	if !ok {
		return nil, nil
	}
	return []Received{{Payload: buf[:n], From: ep}}, nil
}

// WriteBatch implements packetbuf.Transport, satisfying a Buffer's Flush.
func (s *Socket) WriteBatch(datagrams []packetbuf.Datagram) (int, error) {
	if len(datagrams) == 0 {
		return 0, nil
	}

	msgs := make([]ipv4.Message, len(datagrams))
	for i, d := range datagrams {
		msgs[i] = ipv4.Message{
			Buffers: d.Iovecs,
			Addr:    udpAddrFromEndpoint(d.Dest),
		}
	}

	n, err := s.pc.WriteBatch(msgs, 0)
	if err != nil {
		return s.writeOneAtATime(datagrams)
	}
	return n, nil
}

func (s *Socket) writeOneAtATime(datagrams []packetbuf.Datagram) (int, error) {
	sent := 0
	for _, d := range datagrams {
		buf := make([]byte, 0, d.Len())
		for _, iov := range d.Iovecs {
			buf = append(buf, iov...)
		}
		if _, err := s.conn.WriteToUDP(buf, udpAddrFromEndpoint(d.Dest)); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// Close closes the underlying socket. Any goroutine blocked in ReadBatch
// returns with an error, which the receive thread treats as its shutdown
// signal (spec §5).
func (s *Socket) Close() error {
	return s.conn.Close()
}

func endpointFromAddr(addr net.Addr) (bittorrent.Endpoint, bool) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return bittorrent.Endpoint{}, false
	}
	return endpointFromUDPAddr(udpAddr)
}

func endpointFromUDPAddr(addr *net.UDPAddr) (bittorrent.Endpoint, bool) {
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return bittorrent.Endpoint{}, false
	}
	var ep bittorrent.Endpoint
	copy(ep.IP[:], ip4)
	ep.Port = uint16(addr.Port)
	return ep, true
}

func udpAddrFromEndpoint(ep bittorrent.Endpoint) *net.UDPAddr {
	ip := make(net.IP, 4)
	copy(ip, ep.IP[:])
	return &net.UDPAddr{IP: ip, Port: int(ep.Port)}
}
