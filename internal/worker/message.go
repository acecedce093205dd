package worker

import "github.com/jzelinskie/utrackd/internal/bittorrent"

// Kind distinguishes the two request shapes an announce worker handles.
// Nothing else ever reaches a worker; the receive thread filters everything
// else (spec §4.5 step 5).
type Kind uint8

// The two message kinds a worker's queue ever carries.
const (
	KindAnnounce Kind = iota
	KindScrape
)

// Message is the internal, already-validated form of one client request,
// tagged by Kind and carrying only the fields the corresponding branch
// needs (spec §3, "Announce message (internal)").
type Message struct {
	Kind          Kind
	TransactionID uint32
	From          bittorrent.Endpoint // where the response is sent
	Announce      bittorrent.AnnounceRequest
	Scrape        bittorrent.ScrapeRequest
}

// Batch is the unit the receive thread posts to a worker: every message
// produced by one receive loop iteration destined for that worker.
type Batch []Message
