// Package swarm implements the per-info-hash peer table (spec §3, §4.4).
//
// A Swarm is never shared across announce workers: each worker owns a
// disjoint shard of the swarm table exclusively, so a Swarm itself needs no
// internal locking (spec §5, §9). Grounded on the map-of-peers shape of
// _examples/chihaya-chihaya/storage/memory/peer_store.go, but restructured
// around a slice-backed peer set with an auxiliary index map, so that a peer
// is removed in O(1) via swap-and-pop. Sampling copies the peer indices and
// runs a partial Fisher-Yates shuffle over the copy; see Swarm.sample.
package swarm

import (
	"time"

	"github.com/jzelinskie/utrackd/internal/bittorrent"
	"github.com/jzelinskie/utrackd/pkg/xorshift"
)

// entry is a single peer's state within a swarm.
type entry struct {
	peerID   bittorrent.PeerID
	endpoint bittorrent.Endpoint
	lastSeen time.Time
	isSeed   bool
}

// Swarm is the peer set for a single torrent (info-hash). The zero value is
// not usable; construct with New.
type Swarm struct {
	peers     []entry                    // dense storage, order irrelevant
	index     map[bittorrent.PeerID]int  // peerID -> position in peers
	seeds     int
	leechers  int
	completed uint32
	rng       *xorshift.XORShift128Plus
}

// New allocates an empty Swarm whose peer sampling draws from rng. Callers
// pass their own per-worker xorshift.XORShift128Plus (spec §4.5): all swarms
// of one worker share that worker's RNG, and no RNG is shared across workers.
func New(rng *xorshift.XORShift128Plus) *Swarm {
	return &Swarm{index: make(map[bittorrent.PeerID]int), rng: rng}
}

// Seeds returns the current seed count.
func (s *Swarm) Seeds() int { return s.seeds }

// Leechers returns the current leecher count.
func (s *Swarm) Leechers() int { return s.leechers }

// Len returns the number of peers currently tracked.
func (s *Swarm) Len() int { return len(s.peers) }

// swapRemove removes the peer at index i in O(1) by swapping it with the
// last entry and truncating, then fixes up the moved peer's index.
func (s *Swarm) swapRemove(i int) {
	last := len(s.peers) - 1
	removed := s.peers[i]
	if removed.isSeed {
		s.seeds--
	} else {
		s.leechers--
	}

	if i != last {
		s.peers[i] = s.peers[last]
		s.index[s.peers[i].peerID] = i
	}
	s.peers = s.peers[:last]
	delete(s.index, removed.peerID)
}

// AnnounceParams carries the fields of an announce request the swarm needs
// to update its peer table and build a response.
type AnnounceParams struct {
	PeerID   bittorrent.PeerID
	Endpoint bittorrent.Endpoint
	Left     uint64
	Event    bittorrent.Event
	NumWant  int
}

// Announce upserts the announcing peer (or removes it, on a stopped event),
// then samples up to NumWant other peers uniformly at random without
// replacement, excluding the announcer itself (spec §4.4 steps 1-4).
//
// It returns the compact 6-bytes-per-peer response body along with the
// swarm's post-update leecher and seed counts.
func (s *Swarm) Announce(now time.Time, p AnnounceParams) (peerBytes []byte, leechers, seeds int) {
	isSeed := p.Left == 0

	if p.Event == bittorrent.Stopped {
		if i, ok := s.index[p.PeerID]; ok {
			s.swapRemove(i)
		}
	} else if i, ok := s.index[p.PeerID]; ok {
		wasSeed := s.peers[i].isSeed
		s.peers[i].endpoint = p.Endpoint
		s.peers[i].lastSeen = now
		s.peers[i].isSeed = isSeed
		if !wasSeed && isSeed {
			s.leechers--
			s.seeds++
			s.completed++
		} else if wasSeed && !isSeed {
			// A seed re-announcing as a leecher is not a normal BitTorrent
			// state transition, but the table stays consistent either way.
			s.seeds--
			s.leechers++
		}
	} else {
		s.index[p.PeerID] = len(s.peers)
		s.peers = append(s.peers, entry{
			peerID:   p.PeerID,
			endpoint: p.Endpoint,
			lastSeen: now,
			isSeed:   isSeed,
		})
		if isSeed {
			s.seeds++
		} else {
			s.leechers++
		}
	}

	numWant := p.NumWant
	if numWant <= 0 {
		numWant = 50
	}

	peerBytes = s.sample(numWant, p.PeerID)

	return peerBytes, s.leechers, s.seeds
}

// sample selects up to numWant peers uniformly at random without
// replacement, excluding excludePeerID, and encodes each as 6 bytes.
//
// It first copies the index of every peer except the announcer into a
// working slice, which costs O(|swarm|) per call. It then runs a partial
// Fisher-Yates shuffle over that slice, swapping each chosen index to the
// front so no peer can be picked twice; the shuffle itself takes O(numWant)
// steps rather than a full shuffle of the swarm.
func (s *Swarm) sample(numWant int, excludePeerID bittorrent.PeerID) []byte {
	n := len(s.peers)
	if n == 0 {
		return nil
	}

	// working holds indices into s.peers, minus the announcer's own slot.
	working := make([]int, 0, n)
	for i, e := range s.peers {
		if e.peerID == excludePeerID {
			continue
		}
		working = append(working, i)
	}
	if len(working) == 0 {
		return nil
	}
	if numWant > len(working) {
		numWant = len(working)
	}

	out := make([]byte, 0, numWant*6)
	last := len(working) - 1
	for i := 0; i < numWant; i++ {
		j := i + s.rngIntn(last-i+1)
		working[i], working[j] = working[j], working[i]
		b := s.peers[working[i]].endpoint.Bytes()
		out = append(out, b[:]...)
	}
	return out
}

func (s *Swarm) rngIntn(n int) int {
	return s.rng.Intn(n)
}

// Scrape returns the swarm's seed, completed and leecher counts (spec
// §4.4).
func (s *Swarm) Scrape() (seeds, completed, leechers uint32) {
	return uint32(s.seeds), s.completed, uint32(s.leechers)
}

// PurgeStale removes every peer whose last announce is older than
// timeout, relative to now (spec §4.4).
func (s *Swarm) PurgeStale(now time.Time, timeout time.Duration) {
	cutoff := now.Add(-timeout)
	for i := 0; i < len(s.peers); {
		if s.peers[i].lastSeen.Before(cutoff) {
			s.swapRemove(i)
			continue // swapRemove moved a new peer into position i
		}
		i++
	}
}
