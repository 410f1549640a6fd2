// Package statusapi is the daemon's read-only status HTTP surface. The
// link-management core (package node) never imports net/http; it only
// implements the Source interface defined here.
package statusapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PeerView is the read-only projection of a Peer exposed over /peers and
// the "connectedPeers" field of /.
type PeerView struct {
	Hostname          string    `json:"hostname"`
	IP                string    `json:"ip,omitempty"`
	Port              int       `json:"port"`
	TCPPort           int       `json:"tcpPort"`
	UDPPort           int       `json:"udpPort"`
	IsTrusted         bool      `json:"isTrusted"`
	Weight            float64   `json:"weight"`
	DateCreated       time.Time `json:"dateCreated"`
	DateLastConnected time.Time `json:"dateLastConnected,omitempty"`
	Connected         int       `json:"connected"`
	Tried             int       `json:"tried"`
}

// StatBucket is one row of /peer-stats.
type StatBucket struct {
	Window     string `json:"window"`
	FirstSeen  int    `json:"firstSeen"`
	LastActive int    `json:"lastActive"`
}

// HeartView is the scheduler snapshot embedded in /.
type HeartView struct {
	Personality  string    `json:"personality"`
	CurrentCycle int64     `json:"currentCycle"`
	CurrentEpoch int64     `json:"currentEpoch"`
	StartDate    time.Time `json:"startDate"`
	LastBeat     time.Time `json:"lastBeat"`
	LastCycle    time.Time `json:"lastCycle"`
	LastEpoch    time.Time `json:"lastEpoch"`
}

// Source is implemented by node.Node. Keeping it an interface, rather than
// importing package node, is what lets the core stay free of net/http.
type Source interface {
	Ready() bool
	IRIHealthy() bool
	TotalPeers() int
	AllPeers() []PeerView
	ConnectedPeers() []PeerView
	Stats() []StatBucket
	Heart() HeartView
	ConfigEcho() map[string]any
}

// Server is the net/http server answering the status endpoints.
type Server struct {
	src  Source
	http *http.Server
	mux  *http.ServeMux
}

func New(hostname string, port int, src Source) *Server {
	mux := http.NewServeMux()
	s := &Server{
		src: src,
		mux: mux,
		http: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", hostname, port),
			Handler: withCORS(mux),
		},
	}
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/peers", s.handlePeers)
	mux.HandleFunc("/peer-stats", s.handlePeerStats)
	mux.Handle("/metrics", promhttp.Handler())
	return s
}

func (s *Server) ListenAndServe() error { return s.http.ListenAndServe() }

func (s *Server) Close() error { return s.http.Close() }

// withCORS applies a permissive CORS policy: "*" for origin, methods and
// headers, OPTIONS replied with 200.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type rootResponse struct {
	Ready          bool           `json:"ready"`
	IRIHealthy     bool           `json:"iriHealthy"`
	TotalPeers     int            `json:"totalPeers"`
	ConnectedPeers []PeerView     `json:"connectedPeers"`
	Config         map[string]any `json:"config"`
	Heart          HeartView      `json:"heart"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, rootResponse{
		Ready:          s.src.Ready(),
		IRIHealthy:     s.src.IRIHealthy(),
		TotalPeers:     s.src.TotalPeers(),
		ConnectedPeers: s.src.ConnectedPeers(),
		Config:         s.src.ConfigEcho(),
		Heart:          s.src.Heart(),
	})
}

func (s *Server) handlePeers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.src.AllPeers())
}

func (s *Server) handlePeerStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.src.Stats())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
