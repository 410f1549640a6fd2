package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct{}

func (fakeSource) Ready() bool      { return true }
func (fakeSource) IRIHealthy() bool { return true }
func (fakeSource) TotalPeers() int  { return 2 }
func (fakeSource) AllPeers() []PeerView {
	return []PeerView{{Hostname: "peer-a.example", Port: 18600}}
}
func (fakeSource) ConnectedPeers() []PeerView {
	return []PeerView{{Hostname: "peer-a.example", Port: 18600}}
}
func (fakeSource) Stats() []StatBucket {
	return []StatBucket{{Window: "1h", FirstSeen: 1, LastActive: 2}}
}
func (fakeSource) Heart() HeartView           { return HeartView{Personality: "abc123"} }
func (fakeSource) ConfigEcho() map[string]any { return map[string]any{"targetLinks": 8} }

func newTestServer() *Server {
	return New("127.0.0.1", 0, fakeSource{})
}

func TestHandleRoot_ReturnsStatusSummary(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	s.mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body rootResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Ready)
	assert.True(t, body.IRIHealthy)
	assert.Equal(t, 2, body.TotalPeers)
	assert.Equal(t, "abc123", body.Heart.Personality)
}

func TestHandlePeers_ReturnsAllPeers(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/peers", nil)
	w := httptest.NewRecorder()

	s.mux.ServeHTTP(w, req)

	var peers []PeerView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &peers))
	require.Len(t, peers, 1)
	assert.Equal(t, "peer-a.example", peers[0].Hostname)
}

func TestHandlePeerStats_ReturnsBuckets(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/peer-stats", nil)
	w := httptest.NewRecorder()

	s.mux.ServeHTTP(w, req)

	var buckets []StatBucket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &buckets))
	require.Len(t, buckets, 1)
	assert.Equal(t, "1h", buckets[0].Window)
}

func TestCORS_PreflightRepliesOK(t *testing.T) {
	s := New("127.0.0.1", 0, fakeSource{})
	req := httptest.NewRequest(http.MethodOptions, "/peers", nil)
	w := httptest.NewRecorder()

	s.http.Handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
