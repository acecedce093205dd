package connid

import (
	"encoding/binary"

	"github.com/dgryski/go-siphash"

	"github.com/jzelinskie/utrackd/internal/bittorrent"
)

// digest computes siphash64(endpoint_bytes, key), where endpoint_bytes is
// the concatenation of the 4-byte source IPv4 address and 2-byte source
// port in their on-wire order (spec §4.2).
func digest(ep bittorrent.Endpoint, key Key) uint64 {
	var buf [6]byte
	copy(buf[:4], ep.IP[:])
	binary.BigEndian.PutUint16(buf[4:], ep.Port)

	k0 := binary.LittleEndian.Uint64(key[0:8])
	k1 := binary.LittleEndian.Uint64(key[8:16])
	return siphash.Hash(k0, k1, buf[:])
}

// Oracle derives and verifies connection-ID cookies for client endpoints,
// backed by a KeyRotator.
type Oracle struct {
	keys *KeyRotator
}

// NewOracle creates an Oracle backed by keys.
func NewOracle(keys *KeyRotator) *Oracle {
	return &Oracle{keys: keys}
}

// Generate derives a connection-ID cookie for ep under the current key.
func (o *Oracle) Generate(ep bittorrent.Endpoint) uint64 {
	current, _ := o.keys.Current()
	return digest(ep, current)
}

// Verify reports whether id is a valid connection-ID cookie for ep, under
// either the current or the previous key. Accepting both keys gives a
// cookie issued just before a rotation a full extra rotation period of
// validity (spec §3, §4.1).
//
// The || short-circuits rather than evaluating both digests unconditionally,
// so the current-key check can leak timing information about whether id
// matched on the first branch. Cookie forgery isn't in this tracker's threat
// model (spec §4.1 scopes timing side-channels out), so this is left as is.
func (o *Oracle) Verify(id uint64, ep bittorrent.Endpoint) bool {
	current, previous := o.keys.Current()
	return id == digest(ep, current) || id == digest(ep, previous)
}
