package utrackd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsZeroWorkers(t *testing.T) {
	_, err := New(Config{Addr: "127.0.0.1:0", Workers: 0})
	require.Error(t, err)
}

func TestNewListensAndStopsCleanly(t *testing.T) {
	tr, err := New(Config{
		Addr:                "127.0.0.1:0",
		Workers:             2,
		PeerTimeout:         time.Minute,
		KeyRotationInterval: time.Hour,
	})
	require.NoError(t, err)
	require.NotNil(t, tr.Counters())

	errs := tr.Stop()
	require.Empty(t, errs)
}

func TestStopReturnsPromptlyWithoutErrors(t *testing.T) {
	tr, err := New(Config{
		Addr:                "127.0.0.1:0",
		Workers:             1,
		PeerTimeout:         time.Minute,
		KeyRotationInterval: time.Hour,
	})
	require.NoError(t, err)

	done := make(chan []error, 1)
	go func() { done <- tr.Stop() }()

	select {
	case errs := <-done:
		require.Empty(t, errs)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
