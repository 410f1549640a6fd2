// Package iriclient talks to the local ledger process ("IRI") via its JSON
// RPC. Every operation is explicit request/response with a caller-supplied
// context and a conservative default timeout.
package iriclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/lra/nelson.cli/global"
	"github.com/lra/nelson.cli/peer"
	"go.uber.org/atomic"
)

const (
	Name     = "iriclient"
	TraceTag = Name

	startupPollInterval = 5 * time.Second
	healthTickInterval  = 15 * time.Second
	defaultRPCTimeout   = 10 * time.Second
)

type (
	environment interface {
		global.NodeGlobal
	}

	// HealthCallback is notified every time the health ticker runs.
	// neighborIPs is non-nil only on a successful (healthy) tick.
	HealthCallback func(healthy bool, neighborIPs []string)

	Config struct {
		Hostname string
		Port     int
		Timeout  time.Duration // 0 means defaultRPCTimeout
	}

	Client struct {
		environment
		cfg        Config
		httpClient *http.Client

		mutex           sync.RWMutex
		staticNeighbors map[string]struct{} // by resolved IP or hostname
		isHealthy       atomic.Bool
		started         atomic.Bool
		onHealth        HealthCallback

		stopOnce sync.Once
		stopChan chan struct{}
	}

	rpcNeighbor struct {
		Address        string `json:"address"`
		ConnectionType string `json:"connectionType"`
	}

	getNeighborsResponse struct {
		Neighbors []rpcNeighbor `json:"neighbors"`
	}

	addNeighborsResponse struct {
		AddedNeighbors int `json:"addedNeighbors"`
	}

	removeNeighborsResponse struct {
		RemovedNeighbors int `json:"removedNeighbors"`
	}
)

func New(env environment, cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultRPCTimeout
	}
	return &Client{
		environment:     env,
		cfg:             cfg,
		httpClient:      &http.Client{Timeout: cfg.Timeout},
		staticNeighbors: make(map[string]struct{}),
		onHealth:        func(bool, []string) {},
		stopChan:        make(chan struct{}),
	}
}

func (c *Client) OnHealthChange(fn HealthCallback) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.onHealth = fn
}

// Start polls getNeighbors every 5s until the first successful response,
// records the current ledger neighbors as static, marks healthy, then begins
// a 15s health ticker. Start blocks until that first success or ctx is done.
func (c *Client) Start(ctx context.Context) error {
	c.MarkWorkProcessStarted(Name)

	ticker := time.NewTicker(startupPollInterval)
	defer ticker.Stop()

	for {
		neighbors, err := c.getNeighbors(ctx)
		if err == nil {
			c._recordStatic(neighbors)
			c.started.Store(true)
			c.isHealthy.Store(true)
			c._notifyHealth(true, neighborIPs(neighbors))
			go c.healthLoop(ctx)
			return nil
		}
		c.Log().Warnf("[iriclient] startup poll failed: %v", err)

		select {
		case <-ctx.Done():
			c.MarkWorkProcessStopped(Name)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		c.MarkWorkProcessStopped(Name)
	})
}

func (c *Client) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case <-ticker.C:
			neighbors, err := c.getNeighbors(ctx)
			if err != nil {
				c.isHealthy.Store(false)
				c._notifyHealth(false, nil)
				continue
			}
			c.isHealthy.Store(true)
			c._notifyHealth(true, neighborIPs(neighbors))
		}
	}
}

func (c *Client) IsHealthy() bool { return c.isHealthy.Load() }

func (c *Client) _notifyHealth(healthy bool, ips []string) {
	c.mutex.RLock()
	fn := c.onHealth
	c.mutex.RUnlock()
	fn(healthy, ips)
}

func (c *Client) _recordStatic(neighbors []rpcNeighbor) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for _, n := range neighbors {
		host, _, _ := net.SplitHostPort(n.Address)
		if host == "" {
			host = n.Address
		}
		c.staticNeighbors[host] = struct{}{}
		if ips, err := net.LookupIP(host); err == nil {
			for _, ip := range ips {
				c.staticNeighbors[ip.String()] = struct{}{}
			}
		}
	}
}

// IsStaticNeighbor tests membership against the cached static set by IP or
// hostname. The static set is written once on Start and read-only afterward.
func (c *Client) IsStaticNeighbor(p *peer.Peer) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	d := p.Data()
	if _, ok := c.staticNeighbors[d.Hostname]; ok {
		return true
	}
	_, ok := c.staticNeighbors[d.IP]
	return ok
}

func neighborIPs(neighbors []rpcNeighbor) []string {
	ret := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		host, _, _ := net.SplitHostPort(n.Address)
		if host == "" {
			host = n.Address
		}
		ret = append(ret, host)
	}
	return ret
}

func (c *Client) getNeighbors(ctx context.Context) ([]rpcNeighbor, error) {
	var resp getNeighborsResponse
	if err := c.call(ctx, "getNeighbors", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Neighbors, nil
}

// AddNeighbors translates peers to UDP URIs and issues addNeighbors. Rejects
// if the client has never reached a healthy state.
func (c *Client) AddNeighbors(ctx context.Context, peers []*peer.Peer) (int, error) {
	if !c.started.Load() {
		return 0, fmt.Errorf("iriclient: not available")
	}
	uris := make([]string, 0, len(peers))
	for _, p := range peers {
		uris = append(uris, p.GetUDPURI())
	}
	var resp addNeighborsResponse
	if err := c.call(ctx, "addNeighbors", map[string]any{"uris": uris}, &resp); err != nil {
		return 0, err
	}
	return resp.AddedNeighbors, nil
}

// RemoveNeighbors translates peers to UDP URIs and issues removeNeighbors,
// silently filtering out any peer that is a static neighbor.
func (c *Client) RemoveNeighbors(ctx context.Context, peers []*peer.Peer) (int, error) {
	if !c.started.Load() {
		return 0, fmt.Errorf("iriclient: not available")
	}
	uris := make([]string, 0, len(peers))
	for _, p := range peers {
		if c.IsStaticNeighbor(p) {
			c.Log().Warnf("[iriclient] refusing to remove static neighbor %s", p.Hostname())
			continue
		}
		uris = append(uris, p.GetUDPURI())
	}
	if len(uris) == 0 {
		return 0, nil
	}
	var resp removeNeighborsResponse
	if err := c.call(ctx, "removeNeighbors", map[string]any{"uris": uris}, &resp); err != nil {
		return 0, err
	}
	return resp.RemovedNeighbors, nil
}

// UpdateNeighbors fetches the current ledger neighbor set, removes all of
// them (even static ones, unless preserveStatic is set) then adds peers.
// Atomicity is not guaranteed across the two RPCs.
func (c *Client) UpdateNeighbors(ctx context.Context, peers []*peer.Peer, preserveStatic bool) error {
	current, err := c.getNeighbors(ctx)
	if err != nil {
		return err
	}
	toRemove := make([]string, 0, len(current))
	for _, n := range current {
		host, _, _ := net.SplitHostPort(n.Address)
		if host == "" {
			host = n.Address
		}
		if preserveStatic && c._isStaticHost(host) {
			continue
		}
		toRemove = append(toRemove, "udp://"+n.Address)
	}
	if len(toRemove) > 0 {
		var resp removeNeighborsResponse
		if err := c.call(ctx, "removeNeighbors", map[string]any{"uris": toRemove}, &resp); err != nil {
			return err
		}
	}
	_, err = c.AddNeighbors(ctx, peers)
	return err
}

// RemoveAllNeighbors fetches current neighbors and removes all except static.
func (c *Client) RemoveAllNeighbors(ctx context.Context) error {
	current, err := c.getNeighbors(ctx)
	if err != nil {
		return err
	}
	toRemove := make([]string, 0, len(current))
	for _, n := range current {
		host, _, _ := net.SplitHostPort(n.Address)
		if host == "" {
			host = n.Address
		}
		if c._isStaticHost(host) {
			continue
		}
		toRemove = append(toRemove, "udp://"+n.Address)
	}
	if len(toRemove) == 0 {
		return nil
	}
	var resp removeNeighborsResponse
	return c.call(ctx, "removeNeighbors", map[string]any{"uris": toRemove}, &resp)
}

func (c *Client) _isStaticHost(host string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	_, ok := c.staticNeighbors[host]
	return ok
}

func (c *Client) call(ctx context.Context, command string, params map[string]any, out any) error {
	body := map[string]any{"command": command}
	for k, v := range params {
		body[k] = v
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s:%d", c.cfg.Hostname, c.cfg.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("iriclient: %s: %w", command, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("iriclient: %s: HTTP %d", command, resp.StatusCode)
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("iriclient: %s: decode: %w", command, err)
	}
	return nil
}
