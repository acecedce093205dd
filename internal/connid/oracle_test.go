package connid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jzelinskie/utrackd/internal/bittorrent"
)

func testEndpoint() bittorrent.Endpoint {
	return bittorrent.Endpoint{IP: [4]byte{10, 0, 0, 1}, Port: 6881}
}

func TestGenerateVerifyRoundTrip(t *testing.T) {
	kr, err := NewKeyRotator(time.Hour)
	require.NoError(t, err)
	defer kr.Stop()

	o := NewOracle(kr)
	ep := testEndpoint()

	id := o.Generate(ep)
	require.True(t, o.Verify(id, ep))
}

func TestVerifyRejectsWrongEndpoint(t *testing.T) {
	kr, err := NewKeyRotator(time.Hour)
	require.NoError(t, err)
	defer kr.Stop()

	o := NewOracle(kr)
	id := o.Generate(testEndpoint())

	other := bittorrent.Endpoint{IP: [4]byte{10, 0, 0, 2}, Port: 6881}
	require.False(t, o.Verify(id, other))
}

func TestVerifyAcceptsPreviousKeyAcrossOneRotation(t *testing.T) {
	kr, err := NewKeyRotator(24 * time.Hour)
	require.NoError(t, err)
	defer kr.Stop()

	o := NewOracle(kr)
	ep := testEndpoint()
	id := o.Generate(ep)

	cur, _ := kr.Current()
	fresh, err := randomKey()
	require.NoError(t, err)
	kr.snapshot.Store(&keyPair{current: fresh, previous: cur})

	require.True(t, o.Verify(id, ep))
}

func TestVerifyRejectsAfterTwoRotations(t *testing.T) {
	kr, err := NewKeyRotator(24 * time.Hour)
	require.NoError(t, err)
	defer kr.Stop()

	o := NewOracle(kr)
	ep := testEndpoint()
	id := o.Generate(ep)

	for i := 0; i < 2; i++ {
		cur, _ := kr.Current()
		fresh, err := randomKey()
		require.NoError(t, err)
		kr.snapshot.Store(&keyPair{current: fresh, previous: cur})
	}

	require.False(t, o.Verify(id, ep))
}
