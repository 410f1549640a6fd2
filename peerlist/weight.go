package peerlist

import (
	"math/rand"
	"time"

	"github.com/lra/nelson.cli/peer"
)

// WeightedPeer is one entry of a getWeighted result: the sampled Peer and its
// ratio relative to the pool's maximum weight.
type WeightedPeer struct {
	Peer  *peer.Peer
	Ratio float64
}

// getPeerWeight computes the sampling weight for one peer.
//   - master mode rewards long-standing peers regardless of stored weight
//   - normal mode amplifies trusted/high-weight peers and ages in all peers
func getPeerWeight(p *peer.Peer, isMaster bool, now time.Time) float64 {
	d := p.Data()
	if isMaster {
		if d.DateLastConnected.IsZero() {
			return 1
		}
		w := d.DateLastConnected.Sub(d.DateCreated).Seconds()
		return maxFloat(1, w)
	}
	secondsSinceCreated := now.Sub(d.DateCreated).Seconds()
	return maxFloat(1, secondsSinceCreated*d.Weight)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// weightedEntry pairs a peer with its precomputed weight so that picking and
// removing an entry drops both together, with no second index lookup into
// the source slice.
type weightedEntry struct {
	p *peer.Peer
	w float64
}

// getWeighted performs weighted sampling without replacement over source,
// n times, or until source is exhausted if n<=0 or n>=len(source); n==0
// means "all".
func getWeighted(source []*peer.Peer, n int, isMaster bool) []WeightedPeer {
	now := time.Now()

	pool := make([]weightedEntry, len(source))
	weightsMax := 0.0
	for i, p := range source {
		w := getPeerWeight(p, isMaster, now)
		pool[i] = weightedEntry{p: p, w: w}
		if w > weightsMax {
			weightsMax = w
		}
	}

	if n <= 0 || n > len(pool) {
		n = len(pool)
	}

	ret := make([]WeightedPeer, 0, n)
	for i := 0; i < n && len(pool) > 0; i++ {
		idx := pickWeightedIndex(pool)
		picked := pool[idx]
		pool = append(pool[:idx], pool[idx+1:]...)

		ratio := 1.0
		if weightsMax > 0 {
			ratio = picked.w / weightsMax
		}
		ret = append(ret, WeightedPeer{Peer: picked.p, Ratio: ratio})
	}

	// trusted peers always appear fully-weighted to the caller
	for i := range ret {
		if ret[i].Peer.IsTrusted() {
			ret[i].Ratio = 1.0
		}
	}
	return ret
}

// pickWeightedIndex implements fitness-proportionate (roulette-wheel)
// selection over pool's weights via cumulative-weight inversion.
func pickWeightedIndex(pool []weightedEntry) int {
	total := 0.0
	for _, e := range pool {
		total += e.w
	}
	if total <= 0 {
		return rand.Intn(len(pool))
	}
	r := rand.Float64() * total
	cum := 0.0
	for i, e := range pool {
		cum += e.w
		if r < cum {
			return i
		}
	}
	return len(pool) - 1
}
