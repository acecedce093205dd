// Package packetbuf implements the thread-local outbound datagram
// accumulator described in spec §4.3: a gather-vector buffer that coalesces
// response payloads for a single batched transport write.
//
// A Buffer is never shared: the receive thread and each announce worker own
// one apiece (spec §3, §5), so no locking is needed here. Grounded on the
// pooled-slice shape of
// _examples/chihaya-chihaya/frontend/udp/bytepool/bytepool.go, restructured
// around gather-vectors so a response header and its peer-list body can be
// appended without being copied together first.
package packetbuf

import "github.com/jzelinskie/utrackd/internal/bittorrent"

// Datagram is one outbound UDP payload, expressed as a gather-vector of
// byte slices to avoid concatenating a header and body before send.
type Datagram struct {
	Iovecs [][]byte
	Dest   bittorrent.Endpoint
}

// Len returns the total encoded length of the datagram across all iovecs.
func (d Datagram) Len() int {
	n := 0
	for _, b := range d.Iovecs {
		n += len(b)
	}
	return n
}

// Transport is the batch-send collaborator a Buffer flushes to. It is
// satisfied by internal/transport's socket wrapper; spec.md treats the
// underlying socket as an external collaborator (§1), so this package only
// depends on the interface.
type Transport interface {
	WriteBatch(datagrams []Datagram) (n int, err error)
}

// defaultThreshold is the number of accumulated datagrams past which
// Append reports the buffer full, matching the receive thread's batch size
// of up to 1024 datagrams per read (spec §4.6).
const defaultThreshold = 1024

// Buffer accumulates outbound datagrams for one owner (a receive thread or
// an announce worker) between flushes. The zero value is not usable;
// construct with New.
type Buffer struct {
	datagrams []Datagram
	threshold int
}

// New allocates an empty Buffer that reports itself full once it holds
// threshold datagrams. A threshold of 0 uses defaultThreshold.
func New(threshold int) *Buffer {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Buffer{threshold: threshold}
}

// Append adds a datagram bound for dest, built from iovecs, to the buffer.
// It reports full once the buffer holds threshold datagrams, so the caller
// may choose to Flush mid-batch (spec §4.3). Order of appends bound for the
// same destination is preserved; there is no ordering guarantee across
// destinations.
func (b *Buffer) Append(dest bittorrent.Endpoint, iovecs ...[]byte) (full bool) {
	b.datagrams = append(b.datagrams, Datagram{Iovecs: iovecs, Dest: dest})
	return len(b.datagrams) >= b.threshold
}

// Len reports the number of datagrams currently accumulated.
func (b *Buffer) Len() int {
	return len(b.datagrams)
}

// Bytes reports the total encoded size of every datagram currently
// accumulated, for callers that track bytes_out at flush time (spec §4.7).
func (b *Buffer) Bytes() int {
	n := 0
	for _, d := range b.datagrams {
		n += d.Len()
	}
	return n
}

// Flush hands all accumulated datagrams to t in one call and clears the
// buffer for reuse, regardless of whether the write succeeds. Transport
// send failures are transport-defined and are not surfaced to clients
// (spec §7); the caller decides whether to log the returned error.
func (b *Buffer) Flush(t Transport) error {
	if len(b.datagrams) == 0 {
		return nil
	}
	_, err := t.WriteBatch(b.datagrams)
	b.datagrams = b.datagrams[:0]
	return err
}
