// Package worker implements the announce worker described in spec §4.5: it
// owns a disjoint shard of the swarm table, drains a bounded queue of
// messages posted by the receive thread, and periodically prunes stale
// peers from its shard.
//
// Grounded structurally on the queue-plus-condvar shape implied by
// _examples/chihaya-chihaya/pkg/stop's goroutine lifecycle pattern; the
// swarm-sharding and first-insert-wakeup design has no direct analogue in
// the teacher (chihaya's memory store uses one shared, locked map) and
// instead follows original_source/announce_thread.cpp.
package worker

import (
	"sync"
	"time"

	"github.com/jzelinskie/utrackd/internal/bittorrent"
	"github.com/jzelinskie/utrackd/internal/counters"
	"github.com/jzelinskie/utrackd/internal/packetbuf"
	"github.com/jzelinskie/utrackd/internal/swarm"
	"github.com/jzelinskie/utrackd/pkg/log"
	"github.com/jzelinskie/utrackd/pkg/xorshift"
)

const (
	// defaultPruneInterval is the prune cadence used when Config.PruneInterval
	// is unset (spec §4.5 step 4).
	defaultPruneInterval = 10 * time.Second

	// pruneChunk bounds per-tick pruning work.
	pruneChunk = 20

	// baseAnnounceInterval and announceIntervalSpan implement the
	// "1680 + uniform[0, 240] seconds" jitter of spec §4.5.
	baseAnnounceInterval = 1680
	announceIntervalSpan = 241 // Intn(241) yields 0..240 inclusive

	defaultNumWant = 50
	defaultMaxNumWant = 200
)

// Config configures a Worker at construction time.
type Config struct {
	ID           int
	MaxQueueSize int // announce_queue_size: bound on total queued messages
	PeerTimeout  time.Duration

	// PruneInterval overrides the prune cadence. Zero uses
	// defaultPruneInterval (spec §4.5 step 4).
	PruneInterval time.Duration

	// DefaultNumWant and MaxNumWant bound the peer count of announce
	// responses (spec §4.4): a request with num_want <= 0 gets
	// DefaultNumWant; a request above MaxNumWant is clamped to it. Zero
	// values fall back to the spec's suggested defaults (50 and 200).
	DefaultNumWant int
	MaxNumWant     int

	Transport packetbuf.Transport
	Counters  *counters.Counters

	// Seed0 and Seed1 seed this worker's xorshift.XORShift128Plus. Callers
	// draw them from crypto/rand once at worker startup (spec §4.5, "the
	// RNG is per-worker and unseeded-from-OS at worker start").
	Seed0, Seed1 uint64
}

// Worker owns a disjoint shard of the swarm table and drains a bounded
// queue of announce/scrape messages posted by the receive thread. Only
// PostAnnounces is safe to call from another goroutine; Run must be called
// by exactly one goroutine, and only once.
type Worker struct {
	id int

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []Batch
	queueSize int
	quit      bool

	maxQueueSize   int
	peerTimeout    time.Duration
	pruneInterval  time.Duration
	defaultNumWant int
	maxNumWant     int
	nextPrune      time.Time

	swarms map[bittorrent.InfoHash]*swarm.Swarm
	order  []bittorrent.InfoHash // insertion order; round-robin prune cursor walks this
	cursor int

	rng   *xorshift.XORShift128Plus
	buf   *packetbuf.Buffer
	trans packetbuf.Transport
	ctrs  *counters.Counters

	done chan struct{}
}

// New constructs a Worker ready for Run.
func New(cfg Config) *Worker {
	defaultNW := cfg.DefaultNumWant
	if defaultNW <= 0 {
		defaultNW = defaultNumWant
	}
	maxNW := cfg.MaxNumWant
	if maxNW <= 0 {
		maxNW = defaultMaxNumWant
	}
	pruneEvery := cfg.PruneInterval
	if pruneEvery <= 0 {
		pruneEvery = defaultPruneInterval
	}

	w := &Worker{
		id:             cfg.ID,
		maxQueueSize:   cfg.MaxQueueSize,
		peerTimeout:    cfg.PeerTimeout,
		pruneInterval:  pruneEvery,
		defaultNumWant: defaultNW,
		maxNumWant:     maxNW,
		nextPrune:      time.Now().Add(pruneEvery),
		swarms:         make(map[bittorrent.InfoHash]*swarm.Swarm),
		rng:            xorshift.New(cfg.Seed0, cfg.Seed1),
		buf:            packetbuf.New(0),
		trans:          cfg.Transport,
		ctrs:           cfg.Counters,
		done:           make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// ID returns this worker's index, for logging.
func (w *Worker) ID() int { return w.id }

// PostAnnounces enqueues batch for this worker, dropping the whole batch
// and counting it against dropped_announces if the queue is at capacity
// (spec §4.5 "post_announces"). It never blocks.
func (w *Worker) PostAnnounces(batch Batch) {
	if len(batch) == 0 {
		return
	}

	w.mu.Lock()
	if w.queueSize >= w.maxQueueSize {
		w.mu.Unlock()
		w.ctrs.AddDroppedAnnounces(uint32(len(batch)))
		return
	}

	wasEmpty := len(w.queue) == 0
	w.queue = append(w.queue, batch)
	w.queueSize += len(batch)
	if wasEmpty {
		// First-insert-only signal: a worker already awake with pending
		// work will see this batch on its next queue swap regardless
		// (spec §4.5, §9).
		w.cond.Signal()
	}
	w.mu.Unlock()
}

// Run drains the queue until Stop is called, pruning stale peers on a
// fixed cadence even when idle. It returns once queued work has been
// dropped and the worker has exited (spec §5 shutdown semantics).
func (w *Worker) Run() {
	defer close(w.done)

	for {
		batches, quitting := w.waitForWork()
		if quitting {
			return
		}

		now := time.Now()
		if !now.Before(w.nextPrune) {
			w.nextPrune = now.Add(w.pruneInterval)
			w.pruneTick(now)
		}

		for _, batch := range batches {
			for _, m := range batch {
				w.handle(now, m)
			}
		}

		if n := w.buf.Bytes(); n > 0 {
			w.ctrs.AddBytesOut(uint32(n))
		}
		if err := w.buf.Flush(w.trans); err != nil {
			log.Debug("worker: flush failed", log.Fields{"worker": w.id, "err": err.Error()})
		}
	}
}

// waitForWork blocks until there is a batch to drain, the prune deadline
// arrives, or Stop is called. On quit it reports quitting=true without
// draining whatever remains queued (spec §5: "drop any queued work and
// return").
func (w *Worker) waitForWork() (batches []Batch, quitting bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for len(w.queue) == 0 && !w.quit {
		wait := time.Until(w.nextPrune)
		if wait <= 0 {
			break
		}

		// sync.Cond has no timed wait; a one-shot timer broadcasting on
		// the same lock stands in for the prune deadline.
		timer := time.AfterFunc(wait, func() {
			w.mu.Lock()
			w.cond.Broadcast()
			w.mu.Unlock()
		})
		w.cond.Wait()
		timer.Stop()
	}

	if w.quit {
		return nil, true
	}

	batches = w.queue
	w.queue = nil
	w.queueSize = 0
	return batches, false
}

// Stop signals the worker to exit and blocks until it has (spec §5).
func (w *Worker) Stop() {
	w.mu.Lock()
	w.quit = true
	w.cond.Broadcast()
	w.mu.Unlock()
	<-w.done
}

func (w *Worker) handle(now time.Time, m Message) {
	switch m.Kind {
	case KindAnnounce:
		w.handleAnnounce(now, m)
	case KindScrape:
		w.handleScrape(m)
	}
}

func (w *Worker) handleAnnounce(now time.Time, m Message) {
	s := w.getOrCreateSwarm(m.Announce.InfoHash)

	numWant := int(m.Announce.NumWant)
	if numWant <= 0 {
		numWant = w.defaultNumWant
	} else if numWant > w.maxNumWant {
		numWant = w.maxNumWant
	}

	peerBytes, leechers, seeds := s.Announce(now, swarm.AnnounceParams{
		PeerID:   m.Announce.PeerID,
		Endpoint: m.Announce.Endpoint,
		Left:     m.Announce.Left,
		Event:    m.Announce.Event,
		NumWant:  numWant,
	})

	interval := uint32(baseAnnounceInterval + w.rng.Intn(announceIntervalSpan))
	header := encodeAnnounceHeader(m.TransactionID, interval, uint32(leechers), uint32(seeds))
	w.buf.Append(m.From, header, peerBytes)

	w.ctrs.IncAnnounces()
}

func (w *Worker) handleScrape(m Message) {
	var seeds, completed, leechers uint32
	if s, ok := w.swarms[m.Scrape.InfoHash]; ok {
		seeds, completed, leechers = s.Scrape()
	}

	body := encodeScrapeResponse(m.TransactionID, seeds, completed, leechers)
	w.buf.Append(m.From, body)

	w.ctrs.IncScrapes()
}

// getOrCreateSwarm looks up the swarm for ih, creating and recording it in
// the round-robin prune order if this is the first announce to it (spec
// §3, "A swarm is created on first announce to that info-hash"). Empty
// swarms are retained rather than destroyed, per spec §3's explicit
// allowance, to keep the prune cursor's traversal order stable.
func (w *Worker) getOrCreateSwarm(ih bittorrent.InfoHash) *swarm.Swarm {
	if s, ok := w.swarms[ih]; ok {
		return s
	}
	s := swarm.New(w.rng)
	w.swarms[ih] = s
	w.order = append(w.order, ih)
	return s
}

// pruneTick runs purge_stale on up to pruneChunk swarms starting at the
// round-robin cursor, wrapping at the end of the shard (spec §4.5 step 4).
func (w *Worker) pruneTick(now time.Time) {
	total := len(w.order)
	if total == 0 {
		return
	}

	n := pruneChunk
	if n > total {
		n = total
	}

	for i := 0; i < n; i++ {
		ih := w.order[w.cursor]
		if s, ok := w.swarms[ih]; ok {
			s.PurgeStale(now, w.peerTimeout)
		}
		w.cursor = (w.cursor + 1) % total
	}
}
