package recordx

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/letmevibethatforyou/recordx/internal/metrics"
)

// Pool defaults, used for any PoolConfig field left at its zero value.
const (
	DefaultURL         = "http://localhost:9200"
	DefaultPoolSize    = 5
	DefaultPoolTimeout = 5 * time.Second
)

// PoolConfig configures a connection pool.
type PoolConfig struct {
	// URL is passed to the Dialer for every new handle.
	URL string

	// Size is the maximum number of handles.
	Size int

	// Timeout bounds both checkout waits and the drain performed when the
	// pool is replaced or closed.
	Timeout time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Size <= 0 {
		c.Size = DefaultPoolSize
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultPoolTimeout
	}
	return c
}

// PoolOption configures a ConnectionPool.
type PoolOption interface {
	apply(*ConnectionPool)
}

// poolOptionFunc is a function that implements PoolOption.
type poolOptionFunc func(*ConnectionPool)

func (f poolOptionFunc) apply(p *ConnectionPool) {
	f(p)
}

// WithPoolLogger sets the logger used for establish and shutdown events.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return poolOptionFunc(func(p *ConnectionPool) {
		p.logger = l
	})
}

// WithPoolConfig sets the configuration used when the pool is established
// lazily, without an explicit call to Establish.
func WithPoolConfig(cfg PoolConfig) PoolOption {
	return poolOptionFunc(func(p *ConnectionPool) {
		p.cfg = cfg
	})
}

// PoolStats is a snapshot of pool occupancy.
type PoolStats struct {
	Size    int
	Created int
	Idle    int
}

// ConnectionPool owns a bounded set of Client handles and lends them out for
// the duration of a single scoped operation. It is safe for concurrent use.
//
// The pool is created lazily on first use. Establish replaces it; new
// checkouts block while the previous pool drains.
type ConnectionPool struct {
	dial   Dialer
	logger *slog.Logger

	mu     sync.RWMutex
	cfg    PoolConfig
	active *pool
}

// NewConnectionPool creates a pool that opens handles with dial.
func NewConnectionPool(dial Dialer, opts ...PoolOption) *ConnectionPool {
	cp := &ConnectionPool{
		dial:   dial,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt.apply(cp)
	}
	return cp
}

// Establish replaces the active pool with one built from cfg. The previous
// pool, if any, is shut down first: idle handles are closed and outstanding
// ones are waited for, bounded by the previous pool's timeout. Checkouts
// block until the replacement completes.
func (cp *ConnectionPool) Establish(ctx context.Context, cfg PoolConfig) {
	cfg = cfg.withDefaults()

	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.active != nil {
		cp.shutdownLocked(ctx, cp.active)
	}

	cp.cfg = cfg
	cp.active = newPool(cfg, cp.dial)
	cp.logger.DebugContext(ctx, "connection pool established",
		"url", cfg.URL, "size", cfg.Size, "timeout", cfg.Timeout)
}

// Close shuts the active pool down. A later checkout re-establishes it with
// the last configuration.
func (cp *ConnectionPool) Close(ctx context.Context) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.active != nil {
		cp.shutdownLocked(ctx, cp.active)
		cp.active = nil
	}
}

func (cp *ConnectionPool) shutdownLocked(ctx context.Context, p *pool) {
	outstanding := p.shutdown(ctx)
	if outstanding > 0 {
		cp.logger.WarnContext(ctx, "connection pool drain timed out; remaining handles close on release",
			"url", p.cfg.URL, "outstanding", outstanding)
		return
	}
	cp.logger.DebugContext(ctx, "connection pool shut down", "url", p.cfg.URL)
}

// Config returns the configuration of the active pool, or the one that will
// be used when the pool is next established.
func (cp *ConnectionPool) Config() PoolConfig {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	if cp.active != nil {
		return cp.active.cfg
	}
	return cp.cfg.withDefaults()
}

// Stats returns a snapshot of the active pool.
func (cp *ConnectionPool) Stats() PoolStats {
	cp.mu.RLock()
	p := cp.active
	cp.mu.RUnlock()
	if p == nil {
		return PoolStats{Size: cp.Config().Size}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{Size: p.cfg.Size, Created: p.created, Idle: len(p.free)}
}

func (cp *ConnectionPool) current() *pool {
	cp.mu.RLock()
	p := cp.active
	cp.mu.RUnlock()
	if p != nil {
		return p
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.active == nil {
		cp.cfg = cp.cfg.withDefaults()
		cp.active = newPool(cp.cfg, cp.dial)
	}
	return cp.active
}

type handleKey struct {
	pool *ConnectionPool
}

// WithConnection checks out a handle, calls fn with it and releases it on
// every exit path. A handle already held by ctx for this pool is reused, so
// nested calls never hold more than one handle.
func (cp *ConnectionPool) WithConnection(ctx context.Context, fn func(context.Context, Client) error) error {
	if c, ok := ctx.Value(handleKey{cp}).(Client); ok {
		return fn(ctx, c)
	}

	p, c, err := cp.checkout(ctx)
	if err != nil {
		return err
	}
	defer p.release(c)

	return fn(context.WithValue(ctx, handleKey{cp}, c), c)
}

// WithIndex is WithConnection scoped to an index.
func (cp *ConnectionPool) WithIndex(ctx context.Context, index string, fn func(context.Context, Index) error) error {
	return cp.WithConnection(ctx, func(ctx context.Context, c Client) error {
		return fn(ctx, c.Index(index))
	})
}

// WithType is WithConnection scoped to an index/type path.
func (cp *ConnectionPool) WithType(ctx context.Context, index, typ string, fn func(context.Context, Type) error) error {
	return cp.WithConnection(ctx, func(ctx context.Context, c Client) error {
		return fn(ctx, c.Index(index).Type(typ))
	})
}

// checkout retries once when it raced with a pool replacement.
func (cp *ConnectionPool) checkout(ctx context.Context) (*pool, Client, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		p := cp.current()
		c, err := p.checkout(ctx)
		if err == nil {
			return p, c, nil
		}
		lastErr = err
		if !errors.Is(err, ErrPoolClosed) {
			break
		}
	}
	return nil, nil, lastErr
}

// pool hands out handles from free and dials new ones while slots has a
// token. A failed dial returns its token, waking a blocked requester.
type pool struct {
	cfg   PoolConfig
	dial  Dialer
	free  chan Client
	slots chan struct{}
	done  chan struct{}

	mu      sync.Mutex
	created int
	closed  bool
	drained bool
}

func newPool(cfg PoolConfig, dial Dialer) *pool {
	p := &pool{
		cfg:   cfg,
		dial:  dial,
		free:  make(chan Client, cfg.Size),
		slots: make(chan struct{}, cfg.Size),
		done:  make(chan struct{}),
	}
	for i := 0; i < cfg.Size; i++ {
		p.slots <- struct{}{}
	}
	return p
}

func (p *pool) checkout(ctx context.Context) (Client, error) {
	start := time.Now()

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		metrics.PoolCheckoutsTotal.WithLabelValues("error").Inc()
		return nil, ErrPoolClosed
	}

	select {
	case c := <-p.free:
		return p.checkedOut(c, start), nil
	default:
	}
	select {
	case <-p.slots:
		return p.dialSlot(ctx, start)
	default:
	}

	timer := time.NewTimer(p.cfg.Timeout)
	defer timer.Stop()

	select {
	case c := <-p.free:
		return p.checkedOut(c, start), nil
	case <-p.slots:
		return p.dialSlot(ctx, start)
	case <-timer.C:
		metrics.PoolCheckoutsTotal.WithLabelValues("timeout").Inc()
		return nil, errors.Wrapf(ErrPoolTimeout, "waited %s for one of %d handles", p.cfg.Timeout, p.cfg.Size)
	case <-p.done:
		metrics.PoolCheckoutsTotal.WithLabelValues("error").Inc()
		return nil, ErrPoolClosed
	case <-ctx.Done():
		metrics.PoolCheckoutsTotal.WithLabelValues("canceled").Inc()
		return nil, ctx.Err()
	}
}

// dialSlot opens a handle with a slot token already taken. The token goes
// back to slots when the dial fails or the pool has been closed.
func (p *pool) dialSlot(ctx context.Context, start time.Time) (Client, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.slots <- struct{}{}
		metrics.PoolCheckoutsTotal.WithLabelValues("error").Inc()
		return nil, ErrPoolClosed
	}
	p.created++
	p.mu.Unlock()

	c, err := p.dial(ctx, p.cfg.URL)
	if err != nil {
		p.mu.Lock()
		p.created--
		p.mu.Unlock()
		p.slots <- struct{}{}
		metrics.PoolCheckoutsTotal.WithLabelValues("error").Inc()
		return nil, errors.Wrapf(err, "dial %s", p.cfg.URL)
	}
	return p.checkedOut(c, start), nil
}

func (p *pool) checkedOut(c Client, start time.Time) Client {
	metrics.PoolCheckoutsTotal.WithLabelValues("ok").Inc()
	metrics.PoolCheckoutWait.Observe(time.Since(start).Seconds())
	metrics.PoolHandlesInUse.Inc()
	return c
}

// release never blocks: free has room for every handle the pool created.
func (p *pool) release(c Client) {
	metrics.PoolHandlesInUse.Dec()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drained {
		p.created--
		closeHandle(c)
		return
	}
	p.free <- c
}

// shutdown closes every handle, waiting for outstanding ones until the pool
// timeout or ctx expires. It returns the number of handles still checked out.
func (p *pool) shutdown(ctx context.Context) int {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	p.mu.Unlock()

	timer := time.NewTimer(p.cfg.Timeout)
	defer timer.Stop()

	for {
		p.mu.Lock()
		if p.created == 0 {
			p.drained = true
			p.mu.Unlock()
			return 0
		}
		p.mu.Unlock()

		select {
		case c := <-p.free:
			p.mu.Lock()
			p.created--
			p.mu.Unlock()
			closeHandle(c)
		case <-timer.C:
			return p.abandon()
		case <-ctx.Done():
			return p.abandon()
		}
	}
}

// abandon stops waiting: idle handles are closed now, outstanding ones when
// they are released.
func (p *pool) abandon() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drained = true
	for {
		select {
		case c := <-p.free:
			p.created--
			closeHandle(c)
		default:
			return p.created
		}
	}
}

func closeHandle(c Client) {
	if closer, ok := c.(io.Closer); ok {
		_ = closer.Close()
	}
}
