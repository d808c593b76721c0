package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
)

type Config struct {
	Driver          Driver
	DSN             string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// ConnString returns DSN when set, otherwise assembles one from the
// host, port, credentials and database name.
func (c Config) ConnString() (string, error) {
	if c.DSN != "" {
		return c.DSN, nil
	}
	switch c.Driver {
	case Postgres:
		if c.Host == "" || c.Name == "" {
			return "", fmt.Errorf("database host and name are required")
		}
		u := url.URL{
			Scheme: "postgres",
			Host:   hostPort(c.Host, c.Port, 5432),
			Path:   "/" + c.Name,
		}
		if c.User != "" {
			u.User = url.UserPassword(c.User, c.Password)
		}
		if c.SSLMode != "" {
			u.RawQuery = url.Values{"sslmode": []string{c.SSLMode}}.Encode()
		}
		return u.String(), nil
	case MySQL:
		if c.Host == "" || c.Name == "" {
			return "", fmt.Errorf("database host and name are required")
		}
		mc := mysql.NewConfig()
		mc.User = c.User
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = hostPort(c.Host, c.Port, 3306)
		mc.DBName = c.Name
		mc.ParseTime = true
		return mc.FormatDSN(), nil
	case DuckDB:
		// An empty name opens an in-memory database.
		return c.Name, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", c.Driver)
	}
}

func hostPort(host string, port, fallback int) string {
	if port <= 0 {
		port = fallback
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	dsn, err := cfg.ConnString()
	if err != nil {
		return nil, err
	}
	dialect := NewDialect(cfg.Driver)

	db, err := sql.Open(dialect.SQLDriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", cfg.Driver, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", cfg.Driver, err)
	}

	return db, nil
}
