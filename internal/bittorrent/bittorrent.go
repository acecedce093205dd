// Package bittorrent implements the wire-level data types shared by the
// receiver, worker and swarm packages: info-hashes, peer IDs, endpoints and
// the announce/scrape request and response shapes described by BEP 15.
//
// The core only ever speaks IPv4 (see spec §9, "IPv6: not supported by the
// core"), so Endpoint is a fixed 4-byte address plus a 2-byte port rather
// than a variable-length net.IP.
package bittorrent

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// InfoHash is the opaque 20-byte SHA-1 identifier of a torrent.
type InfoHash [20]byte

// InfoHashFromBytes creates an InfoHash from a byte slice. It panics if b is
// not 20 bytes long.
func InfoHashFromBytes(b []byte) InfoHash {
	if len(b) != 20 {
		panic("infohash must be 20 bytes")
	}
	var ih InfoHash
	copy(ih[:], b)
	return ih
}

// String implements fmt.Stringer, returning the base16 encoded InfoHash.
func (i InfoHash) String() string {
	return hex.EncodeToString(i[:])
}

// PeerID is the opaque 20-byte client-chosen peer identifier.
type PeerID [20]byte

// PeerIDFromBytes creates a PeerID from a byte slice. It panics if b is not
// 20 bytes long.
func PeerIDFromBytes(b []byte) PeerID {
	if len(b) != 20 {
		panic("peer ID must be 20 bytes")
	}
	var id PeerID
	copy(id[:], b)
	return id
}

// String implements fmt.Stringer, returning a string of hex encoded bytes.
func (p PeerID) String() string {
	return hex.EncodeToString(p[:])
}

// Endpoint is a 4-byte IPv4 address and a 2-byte port. IP holds the address
// bytes as they appear on the wire; Port holds the numeric port value, which
// Bytes encodes in network byte order.
type Endpoint struct {
	IP   [4]byte
	Port uint16
}

// Bytes returns the 6-byte compact representation of the endpoint: 4-byte
// IPv4 address followed by the 2-byte big-endian port.
func (e Endpoint) Bytes() [6]byte {
	var b [6]byte
	copy(b[:4], e.IP[:])
	binary.BigEndian.PutUint16(b[4:], e.Port)
	return b
}

// String implements fmt.Stringer.
func (e Endpoint) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", e.IP[0], e.IP[1], e.IP[2], e.IP[3], e.Port)
}

// Event represents an event reported by a BitTorrent client in an announce.
type Event uint8

// Events described by BEP 15.
const (
	None Event = iota
	Completed
	Started
	Stopped
)

// String implements fmt.Stringer for an Event.
func (e Event) String() string {
	switch e {
	case None:
		return "none"
	case Completed:
		return "completed"
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ClientError represents an error that is the client's fault: malformed or
// disallowed requests. It exists separately from other errors so that
// callers can decide never to reflect it back onto the wire (see spec §7).
type ClientError string

// Error implements the error interface for ClientError.
func (c ClientError) Error() string { return string(c) }

// AnnounceRequest is the parsed, sanitized form of an announce datagram.
type AnnounceRequest struct {
	InfoHash   InfoHash
	PeerID     PeerID
	Endpoint   Endpoint
	Downloaded uint64
	Left       uint64
	Uploaded   uint64
	Event      Event
	NumWant    int32
}

// ScrapeRequest is the parsed form of a scrape datagram. The core supports
// exactly one info-hash per request (spec §9 Open Question); any additional
// hashes in the client's request are silently dropped by the parser.
type ScrapeRequest struct {
	InfoHash InfoHash
}

// AnnounceResponse is the tracker's reply to an AnnounceRequest.
type AnnounceResponse struct {
	Interval  uint32
	Leechers  uint32
	Seeders   uint32
	PeerBytes []byte // 6 bytes per peer, concatenated
}

// ScrapeResponse is the tracker's reply to a ScrapeRequest.
type ScrapeResponse struct {
	Seeders   uint32
	Completed uint32
	Leechers  uint32
}
