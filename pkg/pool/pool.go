// Package pool provides a bounded pool of BaseX sessions for concurrent use.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/xqlabs/basex-go/pkg/client"
)

// ErrPoolClosed is returned by Get after Close.
var ErrPoolClosed = errors.New("basex: pool closed")

const (
	// DefaultMaxSessions bounds concurrent sessions when the config leaves
	// MaxSessions zero.
	DefaultMaxSessions = 8
	// DefaultIdleTimeout discards idle sessions older than this.
	DefaultIdleTimeout = 5 * time.Minute
)

// Config configures a pool.
type Config struct {
	Options     client.Options
	MaxSessions int
	IdleTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	return c
}

type idleSession struct {
	session *client.Session
	since   time.Time
}

// Pool hands out sessions up to a fixed limit, reusing idle ones. Sessions
// themselves are single-goroutine objects; the pool is what makes the
// driver safe to share.
type Pool struct {
	cfg Config
	sem *semaphore.Weighted

	mu     sync.Mutex
	idle   []idleSession
	closed bool

	acquires atomic.Int64
	dials    atomic.Int64
	reuses   atomic.Int64
	discards atomic.Int64
	inUse    atomic.Int64

	mAcquires metric.Int64Counter
	mDials    metric.Int64Counter
	mDiscards metric.Int64Counter
	mInUse    metric.Int64UpDownCounter
}

// New creates a pool. No connection is made until the first Get.
func New(cfg Config) (*Pool, error) {
	cfg = cfg.withDefaults()
	p := &Pool{
		cfg: cfg,
		sem: semaphore.NewWeighted(int64(cfg.MaxSessions)),
	}

	meter := otel.Meter("github.com/xqlabs/basex-go/pkg/pool")
	var err error
	if p.mAcquires, err = meter.Int64Counter("basex.pool.acquires",
		metric.WithDescription("Sessions handed out by the pool")); err != nil {
		return nil, err
	}
	if p.mDials, err = meter.Int64Counter("basex.pool.dials",
		metric.WithDescription("New sessions dialed")); err != nil {
		return nil, err
	}
	if p.mDiscards, err = meter.Int64Counter("basex.pool.discards",
		metric.WithDescription("Sessions discarded instead of reused")); err != nil {
		return nil, err
	}
	if p.mInUse, err = meter.Int64UpDownCounter("basex.pool.in_use",
		metric.WithDescription("Sessions currently checked out")); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns a session, blocking while MaxSessions are checked out. The
// caller must return it with Put.
func (p *Pool) Get(ctx context.Context) (*client.Session, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	if s := p.takeIdle(); s != nil {
		p.reuses.Add(1)
		p.checkout(ctx)
		return s, nil
	}

	p.mu.Lock()
	opts := p.cfg.Options
	p.mu.Unlock()

	s, err := client.Dial(ctx, opts)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	p.dials.Add(1)
	p.mDials.Add(ctx, 1)
	p.checkout(ctx)
	return s, nil
}

func (p *Pool) checkout(ctx context.Context) {
	p.acquires.Add(1)
	p.inUse.Add(1)
	p.mAcquires.Add(ctx, 1)
	p.mInUse.Add(ctx, 1)
}

// takeIdle pops the most recently used live session, discarding expired
// ones along the way.
func (p *Pool) takeIdle() *client.Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-p.cfg.IdleTimeout)
	for len(p.idle) > 0 {
		last := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if last.since.Before(cutoff) || last.session.Closed() {
			p.discard(last.session)
			continue
		}
		return last.session
	}
	return nil
}

// Put returns a session to the pool. Pass the error of the last operation:
// sessions that saw transport errors (or belong to a closed pool) are
// discarded rather than reused.
func (p *Pool) Put(s *client.Session, opErr error) {
	p.inUse.Add(-1)
	p.mInUse.Add(context.Background(), -1)
	defer p.sem.Release(1)

	if s == nil {
		return
	}

	// Server-reported errors leave the session healthy.
	var serverErr *client.ServerError
	poisoned := opErr != nil && !errors.As(opErr, &serverErr)

	p.mu.Lock()
	defer p.mu.Unlock()
	if poisoned || s.Closed() || p.closed {
		p.discard(s)
		return
	}
	p.idle = append(p.idle, idleSession{session: s, since: time.Now()})
}

// discard closes a session outside the reuse path. Caller holds p.mu.
func (p *Pool) discard(s *client.Session) {
	p.discards.Add(1)
	p.mDiscards.Add(context.Background(), 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Close(ctx)
}

// Recycle applies new dial options and closes idle sessions, so future Gets
// connect with the new settings. Checked-out sessions keep their old
// connection until they come back and age out.
func (p *Pool) Recycle(opts client.Options) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.cfg.Options = opts
	for _, is := range p.idle {
		p.discard(is.session)
	}
	p.idle = nil
}

// Close rejects further Gets and closes idle sessions. Checked-out sessions
// are discarded as they come back.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, is := range p.idle {
		p.discard(is.session)
	}
	p.idle = nil
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Acquires int64
	Dials    int64
	Reuses   int64
	Discards int64
	InUse    int64
	Idle     int
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	idle := len(p.idle)
	p.mu.Unlock()
	return Stats{
		Acquires: p.acquires.Load(),
		Dials:    p.dials.Load(),
		Reuses:   p.reuses.Load(),
		Discards: p.discards.Load(),
		InUse:    p.inUse.Load(),
		Idle:     idle,
	}
}
