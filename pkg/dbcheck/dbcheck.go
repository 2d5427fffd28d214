package dbcheck

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/cuemby/airbyte-operator/pkg/health"
	"github.com/cuemby/airbyte-operator/pkg/types"
	_ "github.com/lib/pq"
)

// DefaultTimeout bounds each step of a check
const DefaultTimeout = 5 * time.Second

// ErrNoConnection is returned when there is no database fact to check
var ErrNoConnection = errors.New("no database connection")

// Result is the outcome of one connectivity check
type Result struct {
	Reachable bool
	Version   string
	Latency   time.Duration
	Message   string
}

// Checker verifies that the database named by a fact accepts connections
// with the delivered credentials
type Checker struct {
	Timeout time.Duration
	open    func(dsn string) (*sql.DB, error)
}

// New creates a checker using the postgres driver
func New() *Checker {
	return &Checker{
		Timeout: DefaultTimeout,
		open: func(dsn string) (*sql.DB, error) {
			return sql.Open("postgres", dsn)
		},
	}
}

// DSN renders conn as a postgres connection URL
func DSN(conn *types.DatabaseConnection, timeout time.Duration) string {
	host := conn.Host
	if conn.Port != "" {
		host = net.JoinHostPort(conn.Host, conn.Port)
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(conn.User, conn.Password),
		Host:   host,
		Path:   "/" + conn.Name,
	}
	q := url.Values{}
	q.Set("sslmode", "disable")
	if timeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(max(1, int(timeout.Seconds()))))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Check dials the database port first and only then logs in, so an
// unreachable host and rejected credentials are reported apart
func (c *Checker) Check(ctx context.Context, conn *types.DatabaseConnection) (Result, error) {
	if conn == nil {
		return Result{}, ErrNoConnection
	}
	port := conn.Port
	if port == "" {
		port = "5432"
	}

	tcp := health.NewTCPChecker(net.JoinHostPort(conn.Host, port), c.timeout())
	if res := tcp.Check(ctx); !res.Healthy {
		return Result{Message: res.Message}, nil
	}

	db, err := c.open(DSN(conn, c.timeout()))
	if err != nil {
		return Result{}, fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	return Probe(ctx, db, c.timeout()), nil
}

// Probe pings db and reads the server version
func Probe(ctx context.Context, db *sql.DB, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := db.PingContext(ctx); err != nil {
		return Result{Message: "ping database: " + err.Error()}
	}

	var version string
	if err := db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err != nil {
		return Result{Message: "query version: " + err.Error()}
	}

	return Result{
		Reachable: true,
		Version:   version,
		Latency:   time.Since(start),
		Message:   "database accepted connection",
	}
}

func (c *Checker) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}
