package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jzelinskie/utrackd/internal/packetbuf"
)

func TestWriteBatchThenReadBatchRoundTrip(t *testing.T) {
	server, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	client, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	serverAddr := server.conn.LocalAddr().(*net.UDPAddr)
	ep, ok := endpointFromUDPAddr(serverAddr)
	require.True(t, ok)

	n, err := client.WriteBatch([]packetbuf.Datagram{
		{Iovecs: [][]byte{{0x01, 0x02}, {0x03}}, Dest: ep},
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	received, err := server.ReadBatch()
	require.NoError(t, err)
	require.Len(t, received, 1)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, received[0].Payload)
}

func TestCloseUnblocksReadBatch(t *testing.T) {
	s, err := Listen("127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.ReadBatch()
		done <- err
	}()

	require.NoError(t, s.Close())
	require.Error(t, <-done)
}
