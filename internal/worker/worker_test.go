package worker

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jzelinskie/utrackd/internal/bittorrent"
	"github.com/jzelinskie/utrackd/internal/counters"
	"github.com/jzelinskie/utrackd/internal/packetbuf"
)

type recordingTransport struct {
	mu    sync.Mutex
	sent  []packetbuf.Datagram
	flush chan struct{}
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{flush: make(chan struct{}, 16)}
}

func (r *recordingTransport) WriteBatch(datagrams []packetbuf.Datagram) (int, error) {
	r.mu.Lock()
	r.sent = append(r.sent, datagrams...)
	r.mu.Unlock()
	r.flush <- struct{}{}
	return len(datagrams), nil
}

func (r *recordingTransport) Sent() []packetbuf.Datagram {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]packetbuf.Datagram(nil), r.sent...)
}

func newTestWorker(tr packetbuf.Transport) *Worker {
	return New(Config{
		ID:           0,
		MaxQueueSize: 128,
		PeerTimeout:  30 * time.Minute,
		Transport:    tr,
		Counters:     counters.New(),
		Seed0:        1,
		Seed1:        2,
	})
}

func infoHash(b byte) bittorrent.InfoHash {
	var ih bittorrent.InfoHash
	for i := range ih {
		ih[i] = b
	}
	return ih
}

func peerID(b byte) bittorrent.PeerID {
	var id bittorrent.PeerID
	for i := range id {
		id[i] = b
	}
	return id
}

func TestAnnounceProducesResponse(t *testing.T) {
	tr := newRecordingTransport()
	w := newTestWorker(tr)
	go w.Run()
	defer w.Stop()

	w.PostAnnounces(Batch{{
		Kind:          KindAnnounce,
		TransactionID: 0xDEADBEEF,
		From:          bittorrent.Endpoint{IP: [4]byte{10, 0, 0, 1}, Port: 6881},
		Announce: bittorrent.AnnounceRequest{
			InfoHash: infoHash(0x01),
			PeerID:   peerID(0xAA),
			Endpoint: bittorrent.Endpoint{IP: [4]byte{10, 0, 0, 1}, Port: 6881},
			Left:     0,
			Event:    bittorrent.Started,
			NumWant:  50,
		},
	}})

	select {
	case <-tr.flush:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for worker to flush")
	}

	sent := tr.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, 2, len(sent[0].Iovecs), "announce response is a 2-slice gather: header + peer list")
	require.Empty(t, sent[0].Iovecs[1], "lone announcer sees no peers")
}

func TestScrapeUnknownSwarmReturnsZeroes(t *testing.T) {
	tr := newRecordingTransport()
	w := newTestWorker(tr)
	go w.Run()
	defer w.Stop()

	w.PostAnnounces(Batch{{
		Kind:          KindScrape,
		TransactionID: 1,
		From:          bittorrent.Endpoint{IP: [4]byte{10, 0, 0, 2}, Port: 1},
		Scrape:        bittorrent.ScrapeRequest{InfoHash: infoHash(0x02)},
	}})

	select {
	case <-tr.flush:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for worker to flush")
	}

	sent := tr.Sent()
	require.Len(t, sent, 1)
	body := sent[0].Iovecs[0]
	require.Len(t, body, scrapeResponseSize)
}

func TestPostAnnouncesDropsWholeBatchOnOverflow(t *testing.T) {
	tr := newRecordingTransport()
	ctrs := counters.New()
	w := New(Config{
		ID:           0,
		MaxQueueSize: 2,
		PeerTimeout:  time.Minute,
		Transport:    tr,
		Counters:     ctrs,
		Seed0:        1,
		Seed1:        2,
	})

	// Fill the queue without a running Run loop draining it.
	w.PostAnnounces(Batch{{Kind: KindScrape}, {Kind: KindScrape}})
	w.PostAnnounces(Batch{{Kind: KindScrape}})

	require.Equal(t, uint32(1), ctrs.Snapshot().DroppedAnnounces)
}

func TestStopMakesIdleRunReturn(t *testing.T) {
	tr := newRecordingTransport()
	w := newTestWorker(tr)

	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()

	w.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after Stop")
	}
}

func TestPruneRemovesStalePeerAcrossTick(t *testing.T) {
	tr := newRecordingTransport()
	w := New(Config{
		ID:            0,
		MaxQueueSize:  128,
		PeerTimeout:   10 * time.Millisecond,
		PruneInterval: 10 * time.Millisecond,
		Transport:     tr,
		Counters:      counters.New(),
		Seed0:         1,
		Seed1:         2,
	})
	w.nextPrune = time.Now()

	go w.Run()
	defer w.Stop()

	w.PostAnnounces(Batch{{
		Kind:          KindAnnounce,
		TransactionID: 1,
		From:          bittorrent.Endpoint{IP: [4]byte{10, 0, 0, 1}, Port: 1},
		Announce: bittorrent.AnnounceRequest{
			InfoHash: infoHash(0x03),
			PeerID:   peerID(0xBB),
			Endpoint: bittorrent.Endpoint{IP: [4]byte{10, 0, 0, 1}, Port: 1},
			Left:     0,
			Event:    bittorrent.Started,
			NumWant:  50,
		},
	}})

	select {
	case <-tr.flush:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first flush")
	}

	time.Sleep(20 * time.Millisecond)

	w.PostAnnounces(Batch{{
		Kind:          KindScrape,
		TransactionID: 2,
		From:          bittorrent.Endpoint{IP: [4]byte{10, 0, 0, 2}, Port: 1},
		Scrape:        bittorrent.ScrapeRequest{InfoHash: infoHash(0x03)},
	}})

	select {
	case <-tr.flush:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second flush")
	}

	sent := tr.Sent()
	last := sent[len(sent)-1]
	body := last.Iovecs[0]
	require.EqualValues(t, 0, binary.BigEndian.Uint32(body[8:12]), "seeds field must be zero after purge")
}
