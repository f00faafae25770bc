package config

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// ConnectionOptions are the database/sql pool parameters carried on a
// connection URL plus the transaction timing used by tenant clients.
type ConnectionOptions struct {
	ConnectionLimit int
	PoolTimeout     time.Duration
	TxMaxWait       time.Duration
	TxTimeout       time.Duration
}

const (
	paramConnectionLimit = "connection_limit"
	paramPoolTimeout     = "pool_timeout"
	paramSchema          = "schema"
)

// SchemaURL derives a schema-scoped connection URL from base. The schema
// becomes the database name and the pool parameters replace any found on base.
//
//	mysql://u:p@db:3306/app?connection_limit=20  +  "tenant_a"
//	mysql://u:p@db:3306/tenant_a?connection_limit=5&pool_timeout=10
func SchemaURL(base, schemaName string, opts ConnectionOptions) (string, error) {
	u, err := parseMySQLURL(base)
	if err != nil {
		return "", err
	}
	schemaName = strings.TrimSpace(schemaName)
	if schemaName == "" {
		return "", fmt.Errorf("schema name is required")
	}
	u.Path = "/" + schemaName

	q := u.Query()
	q.Del(paramSchema)
	if opts.ConnectionLimit > 0 {
		q.Set(paramConnectionLimit, strconv.Itoa(opts.ConnectionLimit))
	}
	if opts.PoolTimeout > 0 {
		q.Set(paramPoolTimeout, strconv.Itoa(int(opts.PoolTimeout/time.Second)))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// WithPoolParams returns base with the public pool parameters applied.
func WithPoolParams(base string, opts ConnectionOptions) (string, error) {
	u, err := parseMySQLURL(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if opts.ConnectionLimit > 0 {
		q.Set(paramConnectionLimit, strconv.Itoa(opts.ConnectionLimit))
	}
	if opts.PoolTimeout > 0 {
		q.Set(paramPoolTimeout, strconv.Itoa(int(opts.PoolTimeout/time.Second)))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseConnectionURL turns a mysql:// URL into a go-sql-driver DSN and the
// pool parameters it carries. Unknown query parameters pass through to the
// driver. A `schema` parameter overrides the path database name.
func ParseConnectionURL(raw string) (string, ConnectionOptions, error) {
	var opts ConnectionOptions
	u, err := parseMySQLURL(raw)
	if err != nil {
		return "", opts, err
	}

	cfg := gomysql.NewConfig()
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	if u.Port() == "" {
		cfg.Addr = u.Host + ":3306"
	}
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	cfg.ParseTime = true
	cfg.MultiStatements = true

	for key, vals := range u.Query() {
		if len(vals) == 0 {
			continue
		}
		val := vals[0]
		switch key {
		case paramConnectionLimit:
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				return "", opts, fmt.Errorf("invalid %s %q", paramConnectionLimit, val)
			}
			opts.ConnectionLimit = n
		case paramPoolTimeout:
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				return "", opts, fmt.Errorf("invalid %s %q", paramPoolTimeout, val)
			}
			opts.PoolTimeout = time.Duration(n) * time.Second
		case paramSchema:
			cfg.DBName = val
		case "parseTime", "multiStatements":
		case "socket":
			// Cloud SQL auth proxy unix socket.
			cfg.Net = "unix"
			cfg.Addr = val
		default:
			if cfg.Params == nil {
				cfg.Params = map[string]string{}
			}
			cfg.Params[key] = val
		}
	}
	if opts.PoolTimeout > 0 {
		cfg.Timeout = opts.PoolTimeout
	}
	return cfg.FormatDSN(), opts, nil
}

func parseMySQLURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if u.Scheme != "mysql" {
		return nil, fmt.Errorf("unsupported database url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("database url has no host")
	}
	return u, nil
}

// OpenDatabase opens a gorm handle for dsn, sizes its pool from opts and
// installs the tracing and tenant scope plugins. It does not retry.
func OpenDatabase(ctx context.Context, dsn string, opts ConnectionOptions) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), initConfig())
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if opts.ConnectionLimit > 0 {
		sqlDB.SetMaxOpenConns(opts.ConnectionLimit)
		sqlDB.SetMaxIdleConns(opts.ConnectionLimit)
	}
	sqlDB.SetConnMaxLifetime(time.Duration(intFromEnv("DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second)
	sqlDB.SetConnMaxIdleTime(time.Duration(intFromEnv("DB_CONN_MAX_IDLE_TIME_SECONDS", 60)) * time.Second)

	if pluginErr := db.Use(otelgorm.NewPlugin()); pluginErr != nil {
		logg.WithError(pluginErr).Warn("db connected but failed to install otelgorm plugin")
	}
	if err := db.Use(NewTenantScopePlugin()); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("install tenant scope plugin: %w", err)
	}

	pingCtx := ctx
	if opts.PoolTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, opts.PoolTimeout)
		defer cancel()
	}
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// ConnectDatabaseWithRetry keeps calling OpenDatabase with capped exponential
// backoff until it succeeds, attempts are exhausted (0 = forever) or ctx ends.
func ConnectDatabaseWithRetry(ctx context.Context, dsn string, opts ConnectionOptions, attempts int) (*gorm.DB, error) {
	var attempt int
	for {
		attempt++
		db, err := OpenDatabase(ctx, dsn, opts)
		if err == nil {
			logg.WithField("attempt", attempt).Info("connected to database")
			return db, nil
		}
		if attempts > 0 && attempt >= attempts {
			return nil, err
		}

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logg.WithFields(logrus.Fields{
			"attempt": attempt,
			"retry":   sleep.String(),
		}).WithError(err).Warn("failed to connect database")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// InitConfig Initialize Config
func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         initLog(),
		NamingStrategy: initNamingStrategy(),
	}
}

// InitLog Connection Log Configuration
func initLog() logger.Interface {
	if logFile := os.Getenv("GORM_LOG"); logFile != "" {
		if f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			return logger.New(log.New(f, "\r\n", log.LstdFlags), logger.Config{
				LogLevel:      logger.Info,
				SlowThreshold: time.Second,
			})
		}
	}
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			Colorful:                  false,
			LogLevel:                  logger.Error,
			SlowThreshold:             time.Second,
			IgnoreRecordNotFoundError: true,
		},
	)
}

// InitNamingStrategy Init NamingStrategy
func initNamingStrategy() *schema.NamingStrategy {
	return &schema.NamingStrategy{
		SingularTable: false,
		TablePrefix:   "",
	}
}
