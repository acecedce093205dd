// utrackd implements a minimal, high-throughput UDP BitTorrent tracker
// (BEP 15): connect, announce and scrape, backed by an in-memory swarm
// index sharded across a fixed pool of announce workers.
//
// This file is the scheduler wiring of spec §2.8: it owns startup and
// shutdown sequencing for the receive thread, the announce workers and the
// key rotator, grounded on the Frontend startup/shutdown shape of
// _examples/chihaya-chihaya/frontend/udp/frontend.go, and on
// pkg/stop.Group for ordered shutdown.
package utrackd

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/pkg/errors"

	"github.com/jzelinskie/utrackd/internal/connid"
	"github.com/jzelinskie/utrackd/internal/counters"
	"github.com/jzelinskie/utrackd/internal/receiver"
	"github.com/jzelinskie/utrackd/internal/transport"
	"github.com/jzelinskie/utrackd/internal/worker"
	"github.com/jzelinskie/utrackd/pkg/log"
	"github.com/jzelinskie/utrackd/pkg/stop"
)

// Config holds every startup parameter for a Tracker (spec §6
// "Environment").
type Config struct {
	Addr                string        `yaml:"addr"`
	Workers             int           `yaml:"workers"`
	AnnounceQueueSize   int           `yaml:"announce_queue_size"`
	PeerTimeout         time.Duration `yaml:"peer_timeout"`
	PruneInterval       time.Duration `yaml:"prune_interval"`
	KeyRotationInterval time.Duration `yaml:"key_rotation_interval"`
	AllowAlternateIP    bool          `yaml:"allow_alternate_ip"`
	DefaultNumWant      int           `yaml:"default_num_want"`
	MaxNumWant          int           `yaml:"max_num_want"`
}

// LogFields renders the config as logrus fields, implementing
// log.Fielder.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"addr":                cfg.Addr,
		"workers":             cfg.Workers,
		"announceQueueSize":   cfg.AnnounceQueueSize,
		"peerTimeout":         cfg.PeerTimeout,
		"pruneInterval":       cfg.PruneInterval,
		"keyRotationInterval": cfg.KeyRotationInterval,
		"allowAlternateIP":    cfg.AllowAlternateIP,
	}
}

const defaultAnnounceQueueSize = 4096

// Tracker wires together the socket, the key rotator, the announce
// workers and the receive thread, and manages their startup and shutdown
// order.
type Tracker struct {
	socket *transport.Socket
	keys   *connid.KeyRotator

	workers  []*worker.Worker
	receiver *receiver.Receiver
	counters *counters.Counters

	recvDone chan error
}

// New opens the tracker's socket and starts its key rotator, announce
// workers and receive thread. The returned Tracker is already serving
// traffic.
func New(cfg Config) (*Tracker, error) {
	if cfg.Workers <= 0 {
		return nil, errors.New("utrackd: Workers must be positive")
	}

	announceQueueSize := cfg.AnnounceQueueSize
	if announceQueueSize <= 0 {
		announceQueueSize = defaultAnnounceQueueSize
	}

	socket, err := transport.Listen(cfg.Addr)
	if err != nil {
		return nil, errors.Wrap(err, "utrackd: opening socket")
	}

	keys, err := connid.NewKeyRotator(cfg.KeyRotationInterval)
	if err != nil {
		socket.Close()
		return nil, errors.Wrap(err, "utrackd: starting key rotator")
	}

	ctrs := counters.New()

	workers := make([]*worker.Worker, cfg.Workers)
	for i := range workers {
		seed0, seed1, err := randomSeed()
		if err != nil {
			keys.Stop()
			socket.Close()
			return nil, errors.Wrap(err, "utrackd: seeding worker RNG")
		}
		workers[i] = worker.New(worker.Config{
			ID:             i,
			MaxQueueSize:   announceQueueSize,
			PeerTimeout:    cfg.PeerTimeout,
			PruneInterval:  cfg.PruneInterval,
			DefaultNumWant: cfg.DefaultNumWant,
			MaxNumWant:     cfg.MaxNumWant,
			Transport:      socket,
			Counters:       ctrs,
			Seed0:          seed0,
			Seed1:          seed1,
		})
	}

	recv, err := receiver.New(receiver.Config{
		Socket:           socket,
		Oracle:           connid.NewOracle(keys),
		Workers:          workers,
		Counters:         ctrs,
		AllowAlternateIP: cfg.AllowAlternateIP,
	})
	if err != nil {
		keys.Stop()
		socket.Close()
		return nil, err
	}

	t := &Tracker{
		socket:   socket,
		keys:     keys,
		workers:  workers,
		receiver: recv,
		counters: ctrs,
		recvDone: make(chan error, 1),
	}

	for _, w := range workers {
		go w.Run()
	}
	go func() {
		t.recvDone <- t.receiver.Run()
	}()

	log.Info("utrackd: started", cfg)

	return t, nil
}

// Counters exposes the tracker's process-wide event counters to a stats
// exporter outside the core (spec §4.7).
func (t *Tracker) Counters() *counters.Counters {
	return t.counters
}

// Stop shuts the tracker down in the order spec §5 requires: close the
// socket, join the receive thread, then signal and join the workers. The
// key rotator is stopped alongside the workers, since nothing in spec §5
// orders it relative to them.
func (t *Tracker) Stop() []error {
	group := stop.NewGroup()
	group.AddFunc(t.closeSocketAndJoinReceiver)
	group.AddFunc(t.stopKeyRotator)
	group.AddFunc(t.stopWorkers)

	errs := group.StopSequential()
	log.Info("utrackd: stopped", log.Fields{"errors": len(errs)})
	return errs
}

func (t *Tracker) closeSocketAndJoinReceiver() stop.Result {
	ch := make(stop.Channel)
	go func() {
		closeErr := t.socket.Close()
		recvErr := <-t.recvDone

		var errs []error
		if closeErr != nil {
			errs = append(errs, closeErr)
		}
		if recvErr != nil {
			errs = append(errs, recvErr)
		}
		ch.Done(errs...)
	}()
	return ch.Result()
}

func (t *Tracker) stopKeyRotator() stop.Result {
	ch := make(stop.Channel)
	go func() {
		t.keys.Stop()
		ch.Done()
	}()
	return ch.Result()
}

func (t *Tracker) stopWorkers() stop.Result {
	ch := make(stop.Channel)
	go func() {
		for _, w := range t.workers {
			w.Stop()
		}
		ch.Done()
	}()
	return ch.Result()
}

func randomSeed() (uint64, uint64, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, 0, err
	}
	return binary.LittleEndian.Uint64(b[0:8]), binary.LittleEndian.Uint64(b[8:16]), nil
}
