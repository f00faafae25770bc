package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/pos_sync/apperr"
	"bitbucket.org/mmdatafocus/pos_sync/config"
	"gorm.io/gorm"
)

// Client is a database handle bound to one schema ("" for public).
type Client interface {
	Schema() string
	DB(ctx context.Context) *gorm.DB
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
	Ping(ctx context.Context) error
	Disconnect() error
}

// DBClient is the gorm-backed Client.
type DBClient struct {
	schema string
	db     *gorm.DB
	opts   config.ConnectionOptions
}

var _ Client = (*DBClient)(nil)

func NewDBClient(schema string, db *gorm.DB, opts config.ConnectionOptions) *DBClient {
	return &DBClient{schema: schema, db: db, opts: opts}
}

func (c *DBClient) Schema() string { return c.schema }

func (c *DBClient) DB(ctx context.Context) *gorm.DB {
	return c.db.WithContext(ctx)
}

// Ping checks out a connection within the pool timeout.
func (c *DBClient) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := withOptionalTimeout(ctx, c.opts.PoolTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return apperr.Connectivity("tenant.Ping", err)
	}
	return nil
}

// Transaction runs fn in a transaction on a dedicated connection. The
// connection must be acquired within TxMaxWait and fn must finish within
// TxTimeout.
func (c *DBClient) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}

	waitCtx, cancelWait := withOptionalTimeout(ctx, c.opts.TxMaxWait)
	conn, err := sqlDB.Conn(waitCtx)
	cancelWait()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperr.Connectivity("tenant.Transaction", fmt.Errorf("no connection for schema %q within %s: %w", c.schema, c.opts.TxMaxWait, err))
		}
		return err
	}
	defer conn.Close()

	txCtx, cancelTx := withOptionalTimeout(ctx, c.opts.TxTimeout)
	defer cancelTx()

	tx := c.db.WithContext(txCtx)
	tx.Statement.ConnPool = conn
	return tx.Transaction(fn)
}

func (c *DBClient) Disconnect() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
