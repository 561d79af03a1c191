package transport

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Reconnection backoff bounds.
const (
	minReconnectBackoff = time.Second
	maxReconnectBackoff = 60 * time.Second
	backoffJitter        = 0.25
)

// maxShardBindRetries bounds how many times a shard-targeted dial is retried
// when the server reports back a different shard than the one local-port
// steering asked for, before the slot is accepted as misbound.
const maxShardBindRetries = 3

// ConnPool is the per-node connection set: one connection per shard when the
// node reports more than one shard, otherwise a single plain connection.
// Shard-targeted connections dial the node's regular address and steer the
// shard by local port; the advertised shard-aware port is not dialed. A
// broken connection is replaced in place by a reconnect loop with
// exponential backoff; callers never see a nil *Conn for a live shard slot
// disappear mid-use, only a failure on their next request against it.
type ConnPool struct {
	addr string
	cfg  ConnConfig

	mu        sync.RWMutex
	conns     []*Conn
	layout    ShardLayout
	closed    bool
	// nonStrict is set once any shard slot had to accept a connection whose
	// actual Shard() didn't match the slot it was dialed for, after
	// exhausting maxShardBindRetries. Conn(token) routing stays shard-first
	// regardless, but callers that care (metrics, diagnostics) can check
	// NonStrict to know the pool may be misrouting some tokens.
	nonStrict bool
}

// dialAndHandshake opens one connection to addr, steering it to si's shard
// when the node is shard-aware, and completes the handshake before
// returning it ready for use.
func dialAndHandshake(ctx context.Context, addr string, si ShardInfo, cfg ConnConfig) (*Conn, error) {
	var conn *Conn
	var err error
	if si.NrShards > 1 {
		conn, err = OpenShardConn(addr, si, cfg)
	} else {
		conn, err = OpenConn(addr, nil, cfg)
	}
	if err != nil {
		return nil, err
	}
	if err := conn.Handshake(ctx, cfg); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// dialAndHandshakeVerified is dialAndHandshake for a shard-targeted dial,
// additionally checking that the server actually bound the connection to
// si.Shard: local-port steering relies on the server hashing the connection's
// source port into a shard, and a port grabbed by another process in between
// can still land on the wrong shard. It retries up to maxShardBindRetries
// times; if every attempt still misbinds, it accepts the last connection
// anyway and reports ok=false so the caller can mark the pool non-strict
// rather than leave the slot permanently empty.
func dialAndHandshakeVerified(ctx context.Context, addr string, si ShardInfo, cfg ConnConfig) (conn *Conn, ok bool, err error) {
	if si.NrShards <= 1 {
		conn, err = dialAndHandshake(ctx, addr, si, cfg)
		return conn, err == nil, err
	}

	for attempt := 0; attempt < maxShardBindRetries; attempt++ {
		conn, err = dialAndHandshake(ctx, addr, si, cfg)
		if err != nil {
			return nil, false, err
		}
		if conn.Shard() == si.Shard {
			return conn, true, nil
		}
		DefaultLogger.Printf("transport: connection to %s bound to shard %d, wanted %d (attempt %d/%d)",
			addr, conn.Shard(), si.Shard, attempt+1, maxShardBindRetries)
		conn.Close()
	}

	conn, err = dialAndHandshake(ctx, addr, si, cfg)
	if err != nil {
		return nil, false, err
	}
	return conn, conn.Shard() == si.Shard, nil
}

// NewConnPool opens the initial connection to discover the node's shard
// layout, then fills in the rest of the per-shard slots. A shard slot that
// fails to connect during construction is left nil; LeastBusyConn skips nil
// slots and the pool's reconnect loop does not retry slots that were never
// successfully opened until a later refresh recreates the pool.
func NewConnPool(ctx context.Context, addr string, cfg ConnConfig) (*ConnPool, error) {
	first, err := dialAndHandshake(ctx, addr, ShardInfo{}, cfg)
	if err != nil {
		return nil, err
	}
	layout := first.ShardLayout()

	p := &ConnPool{addr: addr, cfg: cfg, layout: layout}

	if !layout.IsShardAware() {
		p.conns = []*Conn{first}
		first.OnFatal(p.reconnectFunc(0))
		return p, nil
	}

	p.conns = make([]*Conn, layout.NrShards)
	firstShard := first.Shard()
	p.conns[firstShard] = first
	first.OnFatal(p.reconnectFunc(int(firstShard)))

	for shard := uint16(0); shard < layout.NrShards; shard++ {
		if p.conns[shard] != nil {
			continue
		}
		conn, ok, err := dialAndHandshakeVerified(ctx, addr, ShardInfo{NrShards: layout.NrShards, Shard: shard}, cfg)
		if err != nil {
			continue
		}
		if !ok {
			p.nonStrict = true
		}
		p.conns[shard] = conn
		conn.OnFatal(p.reconnectFunc(int(shard)))
	}
	return p, nil
}

// NonStrict reports whether any shard slot ever had to accept a connection
// that didn't bind to the shard it was dialed for.
func (p *ConnPool) NonStrict() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.nonStrict
}

// reconnectFunc returns the OnFatal callback for the connection occupying
// slot: once the socket breaks it empties the slot, so Conn and hasShardConn
// stop handing out the broken connection, and replaces it via exponential
// backoff.
func (p *ConnPool) reconnectFunc(slot int) func(error) {
	return func(error) {
		p.mu.Lock()
		if slot < len(p.conns) {
			p.conns[slot] = nil
		}
		p.mu.Unlock()
		go p.reconnect(slot)
	}
}

func (p *ConnPool) reconnect(slot int) {
	backoff := minReconnectBackoff
	for {
		p.mu.RLock()
		closed := p.closed
		layout := p.layout
		p.mu.RUnlock()
		if closed {
			return
		}

		var conn *Conn
		var ok bool
		var err error
		if layout.IsShardAware() {
			si := ShardInfo{NrShards: layout.NrShards, Shard: uint16(slot)}
			conn, ok, err = dialAndHandshakeVerified(context.Background(), p.addr, si, p.cfg)
		} else {
			conn, err = dialAndHandshake(context.Background(), p.addr, ShardInfo{}, p.cfg)
			ok = err == nil
		}
		if err == nil {
			conn.OnFatal(p.reconnectFunc(slot))

			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				conn.Close()
				return
			}
			if !ok {
				p.nonStrict = true
			}
			p.conns[slot] = conn
			p.mu.Unlock()
			Metrics.reconnectsTotal.Inc()
			return
		}

		jitter := 1 + (rand.Float64()*2-1)*backoffJitter
		time.Sleep(time.Duration(float64(backoff) * jitter))

		backoff *= 2
		if backoff > maxReconnectBackoff {
			backoff = maxReconnectBackoff
		}
	}
}

// LeastBusyConn returns the connection in the pool with the fewest
// in-flight requests, for callers that have no token to route by: used for
// non-token-aware statements and control-plane requests.
func (p *ConnPool) LeastBusyConn() (*Conn, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var best *Conn
	var bestLoad int32 = -1
	for _, c := range p.conns {
		if c == nil {
			continue
		}
		if load := c.InFlight(); bestLoad < 0 || load < bestLoad {
			best, bestLoad = c, load
		}
	}
	if best == nil {
		return nil, fmt.Errorf("transport: no connections available in pool to %s", p.addr)
	}
	return best, nil
}

// Conn returns the connection owning token's shard, falling back to the
// least-busy connection when the node is not shard-aware or that shard's
// slot is currently down.
func (p *ConnPool) Conn(token Token) (*Conn, error) {
	p.mu.RLock()
	layout := p.layout
	var c *Conn
	if layout.IsShardAware() {
		c = p.conns[layout.ShardFor(token)]
	}
	p.mu.RUnlock()

	if c != nil {
		return c, nil
	}
	return p.LeastBusyConn()
}

// hasShardConn reports whether the connection owning token's shard is
// currently live, without LeastBusyConn's fallback: used by ShardAwarePolicy
// to tell a node that would serve a token-aware query shard-exact apart from
// one that would silently hand it to an unrelated shard.
func (p *ConnPool) hasShardConn(token Token) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.layout.IsShardAware() {
		return true
	}
	return p.conns[p.layout.ShardFor(token)] != nil
}

// Close tears down every connection in the pool and stops further
// reconnection attempts.
func (p *ConnPool) Close() {
	p.mu.Lock()
	p.closed = true
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()

	for _, c := range conns {
		if c != nil {
			c.Close()
		}
	}
}
