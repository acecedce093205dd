package swarm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jzelinskie/utrackd/internal/bittorrent"
	"github.com/jzelinskie/utrackd/pkg/xorshift"
)

func testRNG() *xorshift.XORShift128Plus {
	return xorshift.New(1, 2)
}

func peerID(b byte) bittorrent.PeerID {
	var id bittorrent.PeerID
	for i := range id {
		id[i] = b
	}
	return id
}

func endpoint(a, b, c, d byte, port uint16) bittorrent.Endpoint {
	return bittorrent.Endpoint{IP: [4]byte{a, b, c, d}, Port: port}
}

func TestAnnounceNewLeecher(t *testing.T) {
	s := New(testRNG())
	now := time.Now()

	peers, leechers, seeds := s.Announce(now, AnnounceParams{
		PeerID:   peerID(0xAA),
		Endpoint: endpoint(1, 2, 3, 4, 1000),
		Left:     1000,
		Event:    bittorrent.Started,
		NumWant:  50,
	})

	require.Empty(t, peers)
	require.Equal(t, 1, leechers)
	require.Equal(t, 0, seeds)
	require.Equal(t, 1, s.Len())
}

func TestAnnounceSeedSeesLeecher(t *testing.T) {
	s := New(testRNG())
	now := time.Now()

	_, _, _ = s.Announce(now, AnnounceParams{
		PeerID:   peerID(0xAA),
		Endpoint: endpoint(1, 2, 3, 4, 1000),
		Left:     1000,
		Event:    bittorrent.Started,
		NumWant:  50,
	})

	peers, leechers, seeds := s.Announce(now, AnnounceParams{
		PeerID:   peerID(0xBB),
		Endpoint: endpoint(5, 6, 7, 8, 2000),
		Left:     0,
		Event:    bittorrent.Started,
		NumWant:  50,
	})

	require.Equal(t, 1, leechers)
	require.Equal(t, 1, seeds)
	require.Equal(t, []byte{1, 2, 3, 4, 0x03, 0xE8}, peers)
}

func TestAnnounceExcludesSelf(t *testing.T) {
	s := New(testRNG())
	now := time.Now()

	id := peerID(0xAA)
	_, _, _ = s.Announce(now, AnnounceParams{
		PeerID:   id,
		Endpoint: endpoint(1, 2, 3, 4, 1000),
		Left:     1000,
		Event:    bittorrent.Started,
		NumWant:  50,
	})

	peers, _, _ := s.Announce(now, AnnounceParams{
		PeerID:   id,
		Endpoint: endpoint(1, 2, 3, 4, 1000),
		Left:     1000,
		Event:    bittorrent.None,
		NumWant:  50,
	})

	require.Empty(t, peers)
}

func TestAnnounceStoppedRemovesPeer(t *testing.T) {
	s := New(testRNG())
	now := time.Now()

	id := peerID(0xAA)
	_, _, _ = s.Announce(now, AnnounceParams{
		PeerID:   id,
		Endpoint: endpoint(1, 2, 3, 4, 1000),
		Left:     1000,
		Event:    bittorrent.Started,
		NumWant:  50,
	})
	require.Equal(t, 1, s.Len())

	_, leechers, seeds := s.Announce(now, AnnounceParams{
		PeerID:   id,
		Endpoint: endpoint(1, 2, 3, 4, 1000),
		Left:     1000,
		Event:    bittorrent.Stopped,
		NumWant:  50,
	})

	require.Equal(t, 0, s.Len())
	require.Equal(t, 0, leechers)
	require.Equal(t, 0, seeds)
}

func TestAnnounceIdempotent(t *testing.T) {
	s := New(testRNG())
	now := time.Now()

	params := AnnounceParams{
		PeerID:   peerID(0xAA),
		Endpoint: endpoint(1, 2, 3, 4, 1000),
		Left:     0,
		Event:    bittorrent.None,
		NumWant:  50,
	}

	_, l1, se1 := s.Announce(now, params)
	_, l2, se2 := s.Announce(now, params)

	require.Equal(t, l1, l2)
	require.Equal(t, se1, se2)
	require.Equal(t, 1, s.Len())
}

func TestLeecherGraduatesToSeedIncrementsCompleted(t *testing.T) {
	s := New(testRNG())
	now := time.Now()
	id := peerID(0xAA)

	_, _, _ = s.Announce(now, AnnounceParams{
		PeerID:   id,
		Endpoint: endpoint(1, 2, 3, 4, 1000),
		Left:     1000,
		Event:    bittorrent.Started,
		NumWant:  50,
	})

	_, _, _ = s.Announce(now, AnnounceParams{
		PeerID:   id,
		Endpoint: endpoint(1, 2, 3, 4, 1000),
		Left:     0,
		Event:    bittorrent.Completed,
		NumWant:  50,
	})

	_, completed, _ := s.Scrape()
	require.Equal(t, uint32(1), completed)
}

func TestSampleBoundedByNumWantAndSwarmSize(t *testing.T) {
	s := New(testRNG())
	now := time.Now()

	for i := 0; i < 5; i++ {
		_, _, _ = s.Announce(now, AnnounceParams{
			PeerID:   peerID(byte(i)),
			Endpoint: endpoint(10, 0, 0, byte(i), uint16(1000+i)),
			Left:     1000,
			Event:    bittorrent.Started,
			NumWant:  0,
		})
	}

	peers, _, _ := s.Announce(now, AnnounceParams{
		PeerID:   peerID(0xFF),
		Endpoint: endpoint(1, 1, 1, 1, 1),
		Left:     1000,
		Event:    bittorrent.Started,
		NumWant:  2,
	})
	require.Len(t, peers, 2*6)
}

func TestPurgeStaleRemovesOldPeers(t *testing.T) {
	s := New(testRNG())
	base := time.Now()

	_, _, _ = s.Announce(base, AnnounceParams{
		PeerID:   peerID(0xAA),
		Endpoint: endpoint(1, 2, 3, 4, 1000),
		Left:     0,
		Event:    bittorrent.Started,
		NumWant:  50,
	})

	s.PurgeStale(base.Add(31*time.Minute), 30*time.Minute)

	require.Equal(t, 0, s.Len())
	seeds, completed, leechers := s.Scrape()
	require.Zero(t, seeds)
	require.Zero(t, completed)
	require.Zero(t, leechers)
}

func TestInvariantSeedsPlusLeechersEqualsLen(t *testing.T) {
	s := New(testRNG())
	now := time.Now()

	for i := 0; i < 10; i++ {
		left := uint64(1000)
		if i%2 == 0 {
			left = 0
		}
		_, _, _ = s.Announce(now, AnnounceParams{
			PeerID:   peerID(byte(i)),
			Endpoint: endpoint(10, 0, 0, byte(i), uint16(2000+i)),
			Left:     left,
			Event:    bittorrent.Started,
			NumWant:  50,
		})
	}

	require.Equal(t, s.Len(), s.Seeds()+s.Leechers())
}
