package peerlist

import "time"

// Bucket is one row of the /peer-stats response.
type Bucket struct {
	Window      string `json:"window"`
	FirstSeen   int    `json:"firstSeen"`
	LastActive  int    `json:"lastActive"`
}

var statWindows = []struct {
	name string
	d    time.Duration
}{
	{"1h", time.Hour},
	{"4h", 4 * time.Hour},
	{"12h", 12 * time.Hour},
	{"24h", 24 * time.Hour},
	{"7d", 7 * 24 * time.Hour},
}

// Stats computes, for each reporting window, how many peers were first seen
// (DateCreated) and how many were last active (DateLastConnected) within
// that window of now.
func (pl *PeerList) Stats() []Bucket {
	all := pl.All()
	now := time.Now()

	ret := make([]Bucket, len(statWindows))
	for i, w := range statWindows {
		cutoff := now.Add(-w.d)
		b := Bucket{Window: w.name}
		for _, p := range all {
			d := p.Data()
			if d.DateCreated.After(cutoff) {
				b.FirstSeen++
			}
			if !d.DateLastConnected.IsZero() && d.DateLastConnected.After(cutoff) {
				b.LastActive++
			}
		}
		ret[i] = b
	}
	return ret
}
