package tenant

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"bitbucket.org/mmdatafocus/pos_sync/apperr"
	"bitbucket.org/mmdatafocus/pos_sync/config"
	"bitbucket.org/mmdatafocus/pos_sync/models"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Connector builds a Client for schema. An empty schema means the public
// client.
type Connector interface {
	Connect(ctx context.Context, schema string) (Client, error)
}

var schemaNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,64}$`)

// ValidSchemaName reports whether name is usable as a MySQL database name
// without quoting surprises.
func ValidSchemaName(name string) bool {
	return schemaNamePattern.MatchString(name)
}

type resolvedDSN struct {
	dsn  string
	opts config.ConnectionOptions
}

// MySQLConnector opens gorm clients against a MySQL server where each
// tenant schema is its own database.
type MySQLConnector struct {
	BaseURL string
	Tenant  config.ConnectionOptions
	Public  config.ConnectionOptions
	// Migrate creates missing tenant databases and runs the table migrations
	// on every new client.
	Migrate bool
	// ConnectAttempts bounds how often the public client is dialed before
	// Connect gives up. Tenant clients are dialed once; the pool retries them
	// on the next Client call. 0 or 1 means a single attempt.
	ConnectAttempts int
	Logger          *logrus.Logger

	mu   sync.Mutex
	dsns map[string]resolvedDSN
}

var _ Connector = (*MySQLConnector)(nil)

const defaultPublicConnectAttempts = 5

func NewMySQLConnector(cfg *config.Config, logger *logrus.Logger) *MySQLConnector {
	return &MySQLConnector{
		BaseURL: cfg.DatabaseURL,
		Tenant:  cfg.TenantConnection(),
		Public:  cfg.PublicConnection(),
		Migrate: true,
		Logger:  logger,
		dsns:    map[string]resolvedDSN{},

		ConnectAttempts: defaultPublicConnectAttempts,
	}
}

func (c *MySQLConnector) Connect(ctx context.Context, schema string) (Client, error) {
	if schema != "" && !ValidSchemaName(schema) {
		return nil, apperr.Applicationf("tenant.Connect", "invalid schema name %q", schema)
	}
	r, err := c.resolve(schema)
	if err != nil {
		return nil, apperr.Application("tenant.Connect", err)
	}

	if schema != "" && c.Migrate {
		if err := c.ensureDatabase(ctx, r, schema); err != nil {
			return nil, wrapOpenErr(err)
		}
	}

	db, err := config.ConnectDatabaseWithRetry(ctx, r.dsn, r.opts, c.attempts(schema))
	if err != nil {
		return nil, wrapOpenErr(err)
	}

	if c.Migrate {
		migrate := models.MigratePublic
		if schema != "" {
			migrate = models.MigrateTenant
		}
		if err := migrate(db); err != nil {
			closeQuietly(db)
			return nil, apperr.Application("tenant.Connect", err)
		}
	}

	if c.Logger != nil {
		c.Logger.WithFields(logrus.Fields{
			"module": "tenant",
			"schema": schema,
		}).Info("database client connected")
	}
	return NewDBClient(schema, db, r.opts), nil
}

func (c *MySQLConnector) attempts(schema string) int {
	if schema != "" || c.ConnectAttempts < 1 {
		return 1
	}
	return c.ConnectAttempts
}

// resolve derives and caches the DSN for schema.
func (c *MySQLConnector) resolve(schema string) (resolvedDSN, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dsns == nil {
		c.dsns = map[string]resolvedDSN{}
	}
	if r, ok := c.dsns[schema]; ok {
		return r, nil
	}

	var (
		url  string
		err  error
		base = c.Public
	)
	if schema == "" {
		url, err = config.WithPoolParams(c.BaseURL, c.Public)
	} else {
		base = c.Tenant
		url, err = config.SchemaURL(c.BaseURL, schema, c.Tenant)
	}
	if err != nil {
		return resolvedDSN{}, err
	}
	dsn, opts, err := config.ParseConnectionURL(url)
	if err != nil {
		return resolvedDSN{}, err
	}
	opts.TxMaxWait = base.TxMaxWait
	opts.TxTimeout = base.TxTimeout

	r := resolvedDSN{dsn: dsn, opts: opts}
	c.dsns[schema] = r
	return r, nil
}

func (c *MySQLConnector) ensureDatabase(ctx context.Context, r resolvedDSN, schema string) error {
	cfg, err := gomysql.ParseDSN(r.dsn)
	if err != nil {
		return err
	}
	cfg.DBName = ""
	db, err := config.OpenDatabase(ctx, cfg.FormatDSN(), config.ConnectionOptions{ConnectionLimit: 1, PoolTimeout: r.opts.PoolTimeout})
	if err != nil {
		return err
	}
	defer closeQuietly(db)
	return db.WithContext(ctx).Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", schema)).Error
}

func wrapOpenErr(err error) error {
	if apperr.IsConnectivity(err) {
		return apperr.Connectivity("tenant.Connect", err)
	}
	return apperr.Application("tenant.Connect", err)
}

func closeQuietly(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
