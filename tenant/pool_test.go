package tenant

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeClient struct {
	schema        string
	disconnects   atomic.Int32
	disconnectErr error
}

func (c *fakeClient) Schema() string                  { return c.schema }
func (c *fakeClient) DB(ctx context.Context) *gorm.DB { return nil }
func (c *fakeClient) Ping(ctx context.Context) error  { return nil }
func (c *fakeClient) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}
func (c *fakeClient) Disconnect() error {
	c.disconnects.Add(1)
	return c.disconnectErr
}

type fakeConnector struct {
	mu            sync.Mutex
	calls         map[string]int
	clients       map[string]*fakeClient
	err           error
	gate          chan struct{}
	disconnectErr error
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{calls: map[string]int{}, clients: map[string]*fakeClient{}}
}

func (f *fakeConnector) Connect(ctx context.Context, schema string) (Client, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[schema]++
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeClient{schema: schema, disconnectErr: f.disconnectErr}
	f.clients[schema] = c
	return c, nil
}

func (f *fakeConnector) client(schema string) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[schema]
}

func (f *fakeConnector) callCount(schema string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[schema]
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestPool(t *testing.T, conn Connector, max int) *Pool {
	t.Helper()
	p, err := NewPool(conn, NewContext(), max, quietLogger(), nil)
	require.NoError(t, err)
	return p
}

func TestPoolEvictsLeastRecentlyUsed(t *testing.T) {
	conn := newFakeConnector()
	p := newTestPool(t, conn, 2)
	ctx := context.Background()

	for _, s := range []string{"S1", "S2", "S3"} {
		_, err := p.Client(ctx, s)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"S2", "S3"}, p.Schemas())
	assert.Eventually(t, func() bool {
		return conn.client("S1").disconnects.Load() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), conn.client("S2").disconnects.Load())
}

func TestPoolGetTouchesEntry(t *testing.T) {
	conn := newFakeConnector()
	p := newTestPool(t, conn, 2)
	ctx := context.Background()

	_, _ = p.Client(ctx, "S1")
	_, _ = p.Client(ctx, "S2")
	_, _ = p.Client(ctx, "S1")
	_, _ = p.Client(ctx, "S3")

	assert.Equal(t, []string{"S1", "S3"}, p.Schemas())
	assert.Equal(t, 1, conn.callCount("S1"))
}

func TestPoolReusesClientForSameSchema(t *testing.T) {
	conn := newFakeConnector()
	p := newTestPool(t, conn, 10)
	ctx := context.Background()

	a, err := p.Client(ctx, "tenant_a")
	require.NoError(t, err)
	b, err := p.Client(ctx, " tenant_a ")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 1, conn.callCount("tenant_a"))
}

func TestPoolCollapsesConcurrentConstruction(t *testing.T) {
	conn := newFakeConnector()
	conn.gate = make(chan struct{})
	p := newTestPool(t, conn, 10)

	var wg sync.WaitGroup
	results := make([]Client, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := p.Client(context.Background(), "tenant_a")
			assert.NoError(t, err)
			results[i] = c
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(conn.gate)
	wg.Wait()

	assert.Equal(t, 1, conn.callCount("tenant_a"))
	for _, c := range results {
		assert.Same(t, results[0], c)
	}
}

func TestPoolPublicClientIsSingleton(t *testing.T) {
	conn := newFakeConnector()
	p := newTestPool(t, conn, 2)
	ctx := context.Background()

	a, err := p.Client(ctx, "")
	require.NoError(t, err)
	b, err := p.Client(ctx, "   ")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, "", a.Schema())
	assert.Equal(t, 1, conn.callCount(""))
	assert.Equal(t, 0, p.Len())
}

func TestPoolActiveSchema(t *testing.T) {
	conn := newFakeConnector()
	p := newTestPool(t, conn, 2)
	ctx := context.Background()

	p.SetActiveSchema("  ")
	assert.Equal(t, "", p.ActiveSchema())
	c, err := p.ActiveClient(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", c.Schema())

	p.SetActiveSchema(" shop_1 ")
	assert.Equal(t, "shop_1", p.ActiveSchema())
	c, err = p.ActiveClient(ctx)
	require.NoError(t, err)
	assert.Equal(t, "shop_1", c.Schema())
}

func TestPoolConnectErrorIsNotCached(t *testing.T) {
	conn := newFakeConnector()
	conn.err = errors.New("dial tcp: connection refused")
	p := newTestPool(t, conn, 2)
	ctx := context.Background()

	_, err := p.Client(ctx, "S1")
	require.Error(t, err)
	assert.Equal(t, 0, p.Len())

	conn.mu.Lock()
	conn.err = nil
	conn.mu.Unlock()

	_, err = p.Client(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, 2, conn.callCount("S1"))
}

func TestPoolShutdownDisconnectsEverything(t *testing.T) {
	conn := newFakeConnector()
	conn.disconnectErr = errors.New("already closed")
	p := newTestPool(t, conn, 3)
	ctx := context.Background()

	for _, s := range []string{"", "S1", "S2"} {
		_, err := p.Client(ctx, s)
		require.NoError(t, err)
	}

	require.NoError(t, p.Shutdown(ctx))
	for _, s := range []string{"", "S1", "S2"} {
		assert.Equal(t, int32(1), conn.client(s).disconnects.Load(), "schema %q", s)
	}
	assert.Equal(t, 0, p.Len())

	_, err := p.Client(ctx, "S1")
	assert.ErrorIs(t, err, ErrPoolClosed)
	_, err = p.Client(ctx, "")
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolNeverExceedsMax(t *testing.T) {
	conn := newFakeConnector()
	p := newTestPool(t, conn, 3)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		_, err := p.Client(ctx, string(rune('a'+i%26))+"_schema")
		require.NoError(t, err)
		assert.LessOrEqual(t, p.Len(), 3)
	}
}
