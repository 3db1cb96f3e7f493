package mqtt

import (
	"sync"
	"time"
	"weak"
)

// Pool is a fingerprint-keyed cache of
// Clients so that two calls with the same effective ConnectionSettings
// (same broker URL including its user name, protocol version, keep-alive
// and retry parameters)
// share one underlying connection and session instead of opening a
// second one. Entries are held by weak.Pointer, so a Client that no
// caller references any longer is free to be collected; Pool only ever
// extends a Client's lifetime while something else is already keeping
// it alive.
//
// A Pool also drives every live pooled Client's retry/keep-alive
// bookkeeping from a single shared ticker rather than one goroutine
// timer per client.
type Pool struct {
	mu      sync.Mutex
	clients map[string]weak.Pointer[Client]

	ticking    bool
	closed     bool
	tickStop   chan struct{}
	tickPeriod time.Duration
}

// NewPool returns an empty Pool. tickPeriod sets the cadence of the
// shared tick loop; callers with no preference should pass 0, which
// defaults to roughly 60Hz.
func NewPool(tickPeriod time.Duration) *Pool {
	if tickPeriod <= 0 {
		tickPeriod = 16 * time.Millisecond
	}
	return &Pool{
		clients:    make(map[string]weak.Pointer[Client]),
		tickStop:   make(chan struct{}),
		tickPeriod: tickPeriod,
	}
}

// GetOrCreate returns the pooled Client for settings' fingerprint,
// creating one if none exists or the previous one has been collected.
// The returned Client is pool-driven: its Machine relies on this Pool's
// shared ticker rather than running its own.
func (p *Pool) GetOrCreate(opts ...Option) (*Client, error) {
	settings := NewConnectionSettings(opts...)
	pu, err := parseURL(settings.URL)
	if err != nil {
		return nil, err
	}
	fp := pu.fingerprint(settings)

	p.mu.Lock()
	if ref, ok := p.clients[fp]; ok {
		if c := ref.Value(); c != nil {
			p.mu.Unlock()
			return c, nil
		}
	}
	p.mu.Unlock()

	c, err := newClient(settings, true)
	if err != nil {
		return nil, err
	}
	c.pool = p

	p.mu.Lock()
	p.clients[fp] = weak.Make(c)
	if !p.ticking && !p.closed {
		p.ticking = true
		go p.tickLoop()
	}
	p.mu.Unlock()
	return c, nil
}

// Release evicts the pooled entry for fingerprint, if one exists. Unlike
// the weak-reference map's passive garbage collection, Release is an
// explicit, idempotent eviction called once a Client finishes
// disconnecting: a caller that disconnects and never reconnects that
// Client shouldn't have to wait on a GC cycle before a later GetOrCreate
// with the same settings constructs a fresh one instead of handing back
// the disconnected instance.
func (p *Pool) Release(fingerprint string) {
	p.mu.Lock()
	delete(p.clients, fingerprint)
	p.mu.Unlock()
}

// Len reports the number of fingerprints with a live (not yet
// collected) Client. It also prunes dead entries as a side effect.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked()
	return len(p.clients)
}

func (p *Pool) pruneLocked() {
	for fp, ref := range p.clients {
		if ref.Value() == nil {
			delete(p.clients, fp)
		}
	}
}

// tickLoop calls Tick on every live pooled Client's Machine at
// p.tickPeriod. It exits on its own once the last pooled Client has
// been released or collected; GetOrCreate starts a fresh loop when the
// next Client arrives. Close stops it for good.
func (p *Pool) tickLoop() {
	ticker := time.NewTicker(p.tickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-p.tickStop:
			p.mu.Lock()
			p.ticking = false
			p.mu.Unlock()
			return
		case now := <-ticker.C:
			p.mu.Lock()
			p.pruneLocked()
			if len(p.clients) == 0 {
				p.ticking = false
				p.mu.Unlock()
				return
			}
			clients := make([]*Client, 0, len(p.clients))
			for _, ref := range p.clients {
				if c := ref.Value(); c != nil {
					clients = append(clients, c)
				}
			}
			p.mu.Unlock()

			for _, c := range clients {
				if err := c.machine.Tick(now); err != nil {
					c.machine.Abort()
				}
			}
		}
	}
}

// Close stops the Pool's shared ticker permanently; a closed Pool never
// restarts it. It does not disconnect or otherwise affect Clients
// already handed out; callers remain responsible for calling Disconnect
// on any Client they obtained.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.tickStop)
	}
}
