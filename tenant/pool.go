package tenant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"bitbucket.org/mmdatafocus/pos_sync/config"
	"bitbucket.org/mmdatafocus/pos_sync/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

var ErrPoolClosed = errors.New("tenant pool is shut down")

const DefaultPoolSize = 10

// publicKey is the singleflight key for the public client. Schema names are
// never blank so it cannot collide.
const publicKey = ""

// Pool is the only owner of database clients. Schema-scoped clients are kept
// in a strict LRU; the least recently used one is disconnected
// asynchronously when the pool grows past its size.
type Pool struct {
	connector Connector
	tctx      *Context
	logger    *logrus.Logger
	metrics   *metrics.Metrics

	cache *lru.Cache[string, Client]
	group singleflight.Group
	wg    sync.WaitGroup

	closed atomic.Bool

	mu     sync.Mutex
	public Client
}

// NewPool returns a pool holding at most maxSize schema clients. maxSize <= 0
// uses DefaultPoolSize. m may be nil.
func NewPool(connector Connector, tctx *Context, maxSize int, logger *logrus.Logger, m *metrics.Metrics) (*Pool, error) {
	if maxSize <= 0 {
		maxSize = DefaultPoolSize
	}
	if tctx == nil {
		tctx = NewContext()
	}
	if logger == nil {
		logger = config.GetLogger()
	}
	p := &Pool{
		connector: connector,
		tctx:      tctx,
		logger:    logger,
		metrics:   m,
	}
	cache, err := lru.NewWithEvict[string, Client](maxSize, p.onEvict)
	if err != nil {
		return nil, err
	}
	p.cache = cache
	return p, nil
}

// Client returns the client for schema. A blank schema returns the public
// client. Concurrent first use of one schema connects once.
func (p *Pool) Client(ctx context.Context, schema string) (Client, error) {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		return p.publicClient(ctx)
	}
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	if c, ok := p.cache.Get(schema); ok {
		return c, nil
	}

	v, err, _ := p.group.Do(schema, func() (any, error) {
		if c, ok := p.cache.Get(schema); ok {
			return c, nil
		}
		c, err := p.connector.Connect(ctx, schema)
		if err != nil {
			return nil, err
		}

		if p.closed.Load() {
			p.disconnectAsync(schema, c)
			return nil, ErrPoolClosed
		}
		p.cache.Add(schema, c)
		if p.closed.Load() {
			// Lost a race with Shutdown's purge; Remove disconnects it.
			p.cache.Remove(schema)
			return nil, ErrPoolClosed
		}

		p.metrics.UpdatePoolClients(p.cache.Len())
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Client), nil
}

// ActiveClient returns the client for the active schema, or the public
// client when none is active.
func (p *Pool) ActiveClient(ctx context.Context) (Client, error) {
	return p.Client(ctx, p.ActiveSchema())
}

func (p *Pool) SetActiveSchema(schema string) {
	p.tctx.SetSchema(schema)
}

func (p *Pool) ActiveSchema() string {
	return p.tctx.Schema()
}

// Len is the number of pooled schema clients, excluding the public client.
func (p *Pool) Len() int {
	return p.cache.Len()
}

// Schemas lists pooled schemas from least to most recently used.
func (p *Pool) Schemas() []string {
	return p.cache.Keys()
}

// Shutdown disconnects every client concurrently and waits for all
// disconnects, including evictions still in flight. Disconnect failures are
// logged only.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.closed.Store(true)
	p.mu.Lock()
	public := p.public
	p.public = nil
	p.mu.Unlock()

	if public != nil {
		p.disconnectAsync(publicKey, public)
	}
	p.cache.Purge()
	p.metrics.UpdatePoolClients(0)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) publicClient(ctx context.Context) (Client, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	p.mu.Lock()
	if p.public != nil {
		c := p.public
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do(publicKey, func() (any, error) {
		p.mu.Lock()
		if p.public != nil {
			c := p.public
			p.mu.Unlock()
			return c, nil
		}
		p.mu.Unlock()

		c, err := p.connector.Connect(ctx, "")
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed.Load() {
			p.disconnectAsync(publicKey, c)
			return nil, ErrPoolClosed
		}
		p.public = c
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Client), nil
}

func (p *Pool) onEvict(schema string, c Client) {
	if !p.closed.Load() {
		p.metrics.RecordEviction()
		p.metrics.UpdatePoolClients(p.cache.Len())
		p.logger.WithFields(logrus.Fields{
			"module": "tenant",
			"schema": schema,
		}).Info("evicting least recently used tenant client")
	}
	p.disconnectAsync(schema, c)
}

func (p *Pool) disconnectAsync(schema string, c Client) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := c.Disconnect(); err != nil {
			config.LogError(p.logger, "tenant", "Disconnect", schema, nil, err)
		}
	}()
}
