package peerlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lra/nelson.cli/global"
)

func newTestList(t *testing.T, cfg Config) *PeerList {
	t.Helper()
	cfg.Temporary = true
	pl, err := New(global.NewDefault(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pl.Close() })
	return pl
}

// Cold start against an empty store with a single default peer.
func TestLoad_ColdStartWithDefaults(t *testing.T) {
	pl := newTestList(t, Config{})

	require.NoError(t, pl.Load([]string{"node-a.example/18600/15600/14600"}))

	all := pl.All()
	require.Len(t, all, 1)
	d := all[0].Data()
	assert.Equal(t, "node-a.example", d.Hostname)
	assert.True(t, d.IsTrusted)
	assert.Equal(t, 1.0, d.Weight)
}

func TestLoad_Idempotent(t *testing.T) {
	pl := newTestList(t, Config{})
	defaults := []string{"node-a.example/18600/15600/14600"}

	require.NoError(t, pl.Load(defaults))
	require.NoError(t, pl.Load(defaults))

	assert.Len(t, pl.All(), 1)
}

// Two adds of the same hostname under multiPort=false merge into one peer
// keeping the higher weight; a later lower weight never lowers it.
func TestAdd_SameHostnameKeepsHigherWeight(t *testing.T) {
	pl := newTestList(t, Config{MultiPort: false})

	_, err := pl.Add("peer-a.example", 18600, 15600, 14600, false, 0.3)
	require.NoError(t, err)
	_, err = pl.Add("peer-a.example", 18600, 15600, 14600, false, 0.7)
	require.NoError(t, err)

	found := pl.FindByAddress("peer-a.example", 18600)
	require.Len(t, found, 1)
	assert.Equal(t, 0.7, found[0].Weight())

	// a lower weight must not push the stored weight back down
	_, err = pl.Add("peer-a.example", 18600, 15600, 14600, false, 0.1)
	require.NoError(t, err)
	found = pl.FindByAddress("peer-a.example", 18600)
	require.Len(t, found, 1)
	assert.Equal(t, 0.7, found[0].Weight())
}

// After Add returns, FindByAddress yields a peer with those ports.
func TestAdd_FindByAddressReflectsPorts(t *testing.T) {
	pl := newTestList(t, Config{})

	_, err := pl.Add("peer-b.example", 18600, 15600, 14600, false, 1.0)
	require.NoError(t, err)

	found := pl.FindByAddress("peer-b.example", 18600)
	require.Len(t, found, 1)
	d := found[0].Data()
	assert.Equal(t, 15600, d.TCPPort)
	assert.Equal(t, 14600, d.UDPPort)
}

// Add with multiPort=true keeps distinct peers per port instead of merging.
func TestAdd_MultiPortKeepsDistinctPeers(t *testing.T) {
	pl := newTestList(t, Config{MultiPort: true})

	_, err := pl.Add("peer-c.example", 18601, 15601, 14601, false, 1.0)
	require.NoError(t, err)
	_, err = pl.Add("peer-c.example", 18602, 15602, 14602, false, 1.0)
	require.NoError(t, err)

	assert.Len(t, pl.All(), 2)
}

// An out-of-range port must not mutate anything.
func TestAdd_RejectsInvalidPort(t *testing.T) {
	pl := newTestList(t, Config{})

	_, err := pl.Add("peer-d.example", 70000, 15600, 14600, false, 1.0)
	assert.Error(t, err)
	assert.Empty(t, pl.All())
}

// cleanAddress is idempotent.
func TestCleanAddress_Idempotent(t *testing.T) {
	cases := []string{"::ffff:10.0.0.1", "example.com", "127.0.0.1", "8.8.8.8", "localhost"}
	for _, c := range cases {
		once := cleanAddress(c)
		twice := cleanAddress(once)
		assert.Equal(t, once, twice, "cleanAddress(%q) not idempotent", c)
	}
}

// Mapped-v4 prefixes are stripped, private ranges collapse to localhost,
// public addresses and names pass through.
func TestCleanAddress_Boundaries(t *testing.T) {
	assert.Equal(t, "localhost", cleanAddress("::ffff:10.0.0.1"))
	assert.Equal(t, "example.com", cleanAddress("example.com"))
	assert.Equal(t, "localhost", cleanAddress("127.0.0.1"))
	assert.Equal(t, "localhost", cleanAddress("192.168.1.5"))
	assert.Equal(t, "8.8.8.8", cleanAddress("8.8.8.8"))
}

// Clear wipes both the store and the in-memory index.
func TestClear_WipesStoreAndMemory(t *testing.T) {
	pl := newTestList(t, Config{})
	_, err := pl.Add("peer-e.example", 18600, 15600, 14600, false, 1.0)
	require.NoError(t, err)
	require.Len(t, pl.All(), 1)

	require.NoError(t, pl.Clear())
	assert.Empty(t, pl.All())
}

// Remove deletes a single peer without disturbing the rest.
func TestRemove_SinglePeer(t *testing.T) {
	pl := newTestList(t, Config{})
	p, err := pl.Add("peer-g.example", 18600, 15600, 14600, false, 1.0)
	require.NoError(t, err)
	_, err = pl.Add("peer-h.example", 18600, 15600, 14600, false, 1.0)
	require.NoError(t, err)

	require.NoError(t, pl.Remove(p))
	assert.Len(t, pl.All(), 1)
	assert.Empty(t, pl.FindByAddress("peer-g.example", 18600))
	assert.Len(t, pl.FindByAddress("peer-h.example", 18600), 1)
}

// MarkConnected resets tried, bumps connected, and stamps dateLastConnected.
func TestMarkConnected(t *testing.T) {
	pl := newTestList(t, Config{})
	p, err := pl.Add("peer-f.example", 18600, 15600, 14600, false, 1.0)
	require.NoError(t, err)
	require.NoError(t, pl.IncrementTried(p))
	require.NoError(t, pl.IncrementTried(p))
	assert.Equal(t, 2, p.Data().Tried)

	require.NoError(t, pl.MarkConnected(p, false))
	d := p.Data()
	assert.Equal(t, 0, d.Tried)
	assert.Equal(t, 1, d.Connected)
	assert.False(t, d.DateLastConnected.IsZero())
}
