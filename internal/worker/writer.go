package worker

import "encoding/binary"

// Action IDs on the wire (spec §6).
const (
	actionConnect  uint32 = 0
	actionAnnounce uint32 = 1
	actionScrape   uint32 = 2
)

// announceHeaderSize is the fixed 20-byte prefix of an announce response,
// before the 6-bytes-per-peer body (spec §6).
const announceHeaderSize = 20

// scrapeResponseSize is the fixed size of a scrape response: an 8-byte
// header plus one 12-byte per-hash stats block (spec §6, single-hash only).
const scrapeResponseSize = 20

// encodeAnnounceHeader builds the fixed portion of an announce response.
// The peer-list body is appended separately as its own iovec (spec §4.3,
// §4.5 step 5) so it never needs to be copied alongside the header.
func encodeAnnounceHeader(txID uint32, interval, leechers, seeds uint32) []byte {
	buf := make([]byte, announceHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], actionAnnounce)
	binary.BigEndian.PutUint32(buf[4:8], txID)
	binary.BigEndian.PutUint32(buf[8:12], interval)
	binary.BigEndian.PutUint32(buf[12:16], leechers)
	binary.BigEndian.PutUint32(buf[16:20], seeds)
	return buf
}

// encodeScrapeResponse builds a complete scrape response body.
func encodeScrapeResponse(txID uint32, seeds, completed, leechers uint32) []byte {
	buf := make([]byte, scrapeResponseSize)
	binary.BigEndian.PutUint32(buf[0:4], actionScrape)
	binary.BigEndian.PutUint32(buf[4:8], txID)
	binary.BigEndian.PutUint32(buf[8:12], seeds)
	binary.BigEndian.PutUint32(buf[12:16], completed)
	binary.BigEndian.PutUint32(buf[16:20], leechers)
	return buf
}
