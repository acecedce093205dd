// Package receiver implements the receive thread of spec §4.6: it reads
// batches of datagrams off the transport, validates and parses each one,
// and shards announce and scrape messages out to announce workers.
//
// Grounded on the parse-then-dispatch shape of
// _examples/chihaya-chihaya/frontend/udp/frontend.go's handleRequest and
// parser.go, restructured around batching (one receive call, one packet
// buffer flush, one post per worker per cycle) instead of one goroutine per
// datagram, per spec §4.6 and §9.
package receiver

import (
	"encoding/binary"

	"github.com/dgryski/go-siphash"
	"github.com/pkg/errors"

	"github.com/jzelinskie/utrackd/internal/bittorrent"
	"github.com/jzelinskie/utrackd/internal/connid"
	"github.com/jzelinskie/utrackd/internal/counters"
	"github.com/jzelinskie/utrackd/internal/packetbuf"
	"github.com/jzelinskie/utrackd/internal/transport"
	"github.com/jzelinskie/utrackd/internal/worker"
	"github.com/jzelinskie/utrackd/pkg/log"
)

// Action IDs on the wire (spec §6).
const (
	actionConnect  uint32 = 0
	actionAnnounce uint32 = 1
	actionScrape   uint32 = 2
)

// connectMagic is the BitTorrent UDP tracker protocol's fixed initial
// connection ID (spec §4.6, §6).
const connectMagic uint64 = 0x41727101980

// fixedSeedKeyLo/Hi seed the announce worker-sharding hash. Unlike the
// connection-ID oracle's keys this key is fixed for the process lifetime:
// a swarm's worker assignment must never change once messages have been
// posted for it (spec §4.6).
const (
	fixedSeedKeyLo uint64 = 0x9ae16a3b2f90404f
	fixedSeedKeyHi uint64 = 0xc949d7c7509e6557
)

// Config configures a Receiver at construction.
type Config struct {
	Socket           *transport.Socket
	Oracle           *connid.Oracle
	Workers          []*worker.Worker
	Counters         *counters.Counters
	AllowAlternateIP bool
}

// Receiver is the single receive thread: it owns no mutable state beyond
// its local parsing and packet buffers (spec §3). Run must be called by
// exactly one goroutine.
type Receiver struct {
	socket           *transport.Socket
	oracle           *connid.Oracle
	workers          []*worker.Worker
	ctrs             *counters.Counters
	allowAlternateIP bool

	buf     *packetbuf.Buffer
	pending []worker.Batch // one slot per worker, reused across cycles
}

// New constructs a Receiver ready for Run.
func New(cfg Config) (*Receiver, error) {
	if len(cfg.Workers) == 0 {
		return nil, errors.Wrap(errNoWorkers, "receiver.New")
	}
	return &Receiver{
		socket:           cfg.Socket,
		oracle:           cfg.Oracle,
		workers:          cfg.Workers,
		ctrs:             cfg.Counters,
		allowAlternateIP: cfg.AllowAlternateIP,
		buf:              packetbuf.New(0),
		pending:          make([]worker.Batch, len(cfg.Workers)),
	}, nil
}

// Run reads and dispatches datagrams until the socket is closed, at which
// point ReadBatch returns an error and Run returns nil: a closed socket is
// this receiver's ordinary shutdown signal (spec §5).
func (r *Receiver) Run() error {
	for {
		received, err := r.socket.ReadBatch()
		if err != nil {
			return nil
		}
		if len(received) == 0 {
			continue
		}

		for _, d := range received {
			r.incomingPacket(d.Payload, d.From)
		}

		r.postPending()

		if n := r.buf.Bytes(); n > 0 {
			r.ctrs.AddBytesOut(uint32(n))
		}
		if err := r.buf.Flush(r.socket); err != nil {
			log.Debug("receiver: flush failed", log.Fields{"err": err.Error()})
		}
	}
}

// postPending hands each worker's accumulated batch to it in one call,
// amortizing lock acquisition across a full read cycle (spec §4.6).
func (r *Receiver) postPending() {
	for i, batch := range r.pending {
		if len(batch) == 0 {
			continue
		}
		r.workers[i].PostAnnounces(batch)
		r.pending[i] = nil
	}
}

// incomingPacket validates and dispatches one datagram (spec §4.6).
func (r *Receiver) incomingPacket(buf []byte, from bittorrent.Endpoint) {
	r.ctrs.AddBytesIn(uint32(len(buf)))

	if len(buf) < 16 {
		// Too short for any header; treated as noise, not an error.
		return
	}

	action := binary.BigEndian.Uint32(buf[8:12])
	txID := binary.BigEndian.Uint32(buf[12:16])

	switch action {
	case actionConnect:
		r.handleConnect(buf, from, txID)
	case actionAnnounce:
		r.handleAnnounce(buf, from, txID)
	case actionScrape:
		r.handleScrape(buf, from, txID)
	default:
		r.ctrs.IncErrors()
	}
}

func (r *Receiver) handleConnect(buf []byte, from bittorrent.Endpoint, txID uint32) {
	connID := binary.BigEndian.Uint64(buf[0:8])
	if connID != connectMagic {
		r.ctrs.IncErrors()
		return
	}

	cookie := r.oracle.Generate(from)

	resp := make([]byte, 16)
	binary.BigEndian.PutUint32(resp[0:4], actionConnect)
	binary.BigEndian.PutUint32(resp[4:8], txID)
	binary.BigEndian.PutUint64(resp[8:16], cookie)
	r.buf.Append(from, resp)

	r.ctrs.IncConnects()
}

func (r *Receiver) handleAnnounce(buf []byte, from bittorrent.Endpoint, txID uint32) {
	connID := binary.BigEndian.Uint64(buf[0:8])
	if !r.oracle.Verify(connID, from) {
		r.ctrs.IncErrors()
		return
	}
	if len(buf) < minAnnounceSize {
		r.ctrs.IncErrors()
		return
	}

	req, err := parseAnnounce(buf, from, r.allowAlternateIP)
	if err != nil {
		r.ctrs.IncErrors()
		return
	}

	idx := announceWorkerIndex(req.InfoHash, len(r.workers))
	r.pending[idx] = append(r.pending[idx], worker.Message{
		Kind:          worker.KindAnnounce,
		TransactionID: txID,
		From:          from,
		Announce:      req,
	})
}

func (r *Receiver) handleScrape(buf []byte, from bittorrent.Endpoint, txID uint32) {
	connID := binary.BigEndian.Uint64(buf[0:8])
	if !r.oracle.Verify(connID, from) {
		r.ctrs.IncErrors()
		return
	}
	if len(buf) < minScrapeSize {
		r.ctrs.IncErrors()
		return
	}

	req := parseScrape(buf)

	idx := scrapeWorkerIndex(req.InfoHash, len(r.workers))
	r.pending[idx] = append(r.pending[idx], worker.Message{
		Kind:          worker.KindScrape,
		TransactionID: txID,
		From:          from,
		Scrape:        req,
	})
}

// announceWorkerIndex hashes info-hash to a worker via siphash, so an
// adversary crafting colliding info-hashes cannot overload one worker
// (spec §4.6).
func announceWorkerIndex(ih bittorrent.InfoHash, numWorkers int) int {
	h := siphash.Hash(fixedSeedKeyLo, fixedSeedKeyHi, ih[:])
	return int(h % uint64(numWorkers))
}

// scrapeWorkerIndex uses a cheaper, lower-quality mapping: scrape volume is
// small and any worker can answer (spec §4.6).
func scrapeWorkerIndex(ih bittorrent.InfoHash, numWorkers int) int {
	return int(ih[0]) % numWorkers
}

var errNoWorkers = errors.New("receiver: no announce workers configured")
