package peerlink

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	hello := Hello{
		Identity: Identity{Hostname: "peer-a.example", Port: 18600, TCPPort: 15600, UDPPort: 14600, IsTrusted: true},
		Peers: []GossipPeer{
			{Hostname: "peer-b.example", Port: 18601, TCPPort: 15601, UDPPort: 14601},
		},
	}

	require.NoError(t, writeJSONFrame(&buf, hello))

	var got Hello
	require.NoError(t, readJSONFrame(&buf, &got))
	assert.Equal(t, hello, got)
}

func TestFrame_RejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	// fabricate a length prefix declaring more than maxFrameSize, with no
	// payload following it.
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})

	_, err := readFrame(&buf)
	assert.Error(t, err)
}

func TestFrame_MultipleFramesInSequence(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeJSONFrame(&buf, heartbeat{Seq: 1}))
	require.NoError(t, writeJSONFrame(&buf, heartbeat{Seq: 2}))

	var hb1, hb2 heartbeat
	require.NoError(t, readJSONFrame(&buf, &hb1))
	require.NoError(t, readJSONFrame(&buf, &hb2))
	assert.Equal(t, int64(1), hb1.Seq)
	assert.Equal(t, int64(2), hb2.Seq)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "DIALING", Dialing.String())
	assert.Equal(t, "OPEN", Open.String())
	assert.Equal(t, "CLOSED", Closed.String())
}
