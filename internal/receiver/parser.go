package receiver

import (
	"encoding/binary"

	"github.com/jzelinskie/utrackd/internal/bittorrent"
)

// Minimum datagram sizes for each request kind (spec §4.6, §7). The 98-byte
// announce floor (rather than the 100-byte size BEP 15 names) tolerates
// clients that omit the optional extension field, per
// original_source/receive_thread.cpp and spec §9's open question.
const (
	minAnnounceSize = 98
	minScrapeSize   = 36
)

// eventIDs maps the wire event ID to an Event, matching BEP 15's ordering.
var eventIDs = [...]bittorrent.Event{
	bittorrent.None,
	bittorrent.Completed,
	bittorrent.Started,
	bittorrent.Stopped,
}

var errMalformedEvent = bittorrent.ClientError("malformed event ID")

// parseAnnounce decodes an announce request already known to be at least
// minAnnounceSize bytes, per the wire layout of spec §6. The peer's port is
// always the request's declared port field. from is the datagram's actual
// source endpoint, used for the peer's IP unless allowAlternateIP permits a
// non-zero client-declared IP to override it (spec §4.6).
func parseAnnounce(buf []byte, from bittorrent.Endpoint, allowAlternateIP bool) (bittorrent.AnnounceRequest, error) {
	eventID := binary.BigEndian.Uint32(buf[80:84])
	if eventID >= uint32(len(eventIDs)) {
		return bittorrent.AnnounceRequest{}, errMalformedEvent
	}

	ep := from
	ep.Port = binary.BigEndian.Uint16(buf[96:98])

	declaredIP := buf[84:88]
	if allowAlternateIP && !isZeroIP(declaredIP) {
		copy(ep.IP[:], declaredIP)
	}

	return bittorrent.AnnounceRequest{
		InfoHash:   bittorrent.InfoHashFromBytes(buf[16:36]),
		PeerID:     bittorrent.PeerIDFromBytes(buf[36:56]),
		Endpoint:   ep,
		Downloaded: binary.BigEndian.Uint64(buf[56:64]),
		Left:       binary.BigEndian.Uint64(buf[64:72]),
		Uploaded:   binary.BigEndian.Uint64(buf[72:80]),
		Event:      eventIDs[eventID],
		NumWant:    int32(binary.BigEndian.Uint32(buf[92:96])),
	}, nil
}

func isZeroIP(b []byte) bool {
	return b[0] == 0 && b[1] == 0 && b[2] == 0 && b[3] == 0
}

// parseScrape decodes a scrape request already known to be at least
// minScrapeSize bytes. Only the first info-hash of a multi-hash request is
// honored; the rest are silently dropped (spec §9's open question).
func parseScrape(buf []byte) bittorrent.ScrapeRequest {
	return bittorrent.ScrapeRequest{InfoHash: bittorrent.InfoHashFromBytes(buf[16:36])}
}
