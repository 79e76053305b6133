package database

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"emphealth-backend/pkg/config"
)

// DefaultCassandraQueryTimeout is the default timeout for Cassandra queries
const DefaultCassandraQueryTimeout = 5 * time.Second

// CassandraDB wraps the gocql Session with context support
type CassandraDB struct {
	Session *gocql.Session
}

// NewCassandraDB creates a new CassandraDB instance from config
func NewCassandraDB(cfg config.CassandraConfig) (*CassandraDB, error) {
	consistency, err := ParseConsistency(cfg.Consistency)
	if err != nil {
		return nil, err
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = consistency

	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
	} else {
		cluster.Timeout = DefaultCassandraQueryTimeout
	}

	if cfg.Username != "" && cfg.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Cassandra session: %w", err)
	}
	return &CassandraDB{Session: session}, nil
}

// ParseConsistency maps a consistency name such as "QUORUM" to its gocql level.
// An empty name means QUORUM.
func ParseConsistency(name string) (gocql.Consistency, error) {
	if name == "" {
		return gocql.Quorum, nil
	}
	c, err := gocql.ParseConsistencyWrapper(name)
	if err != nil {
		return 0, fmt.Errorf("invalid Cassandra consistency %q: %w", name, err)
	}
	return c, nil
}

// Close closes the Cassandra session
func (c *CassandraDB) Close() {
	c.Session.Close()
}

// QueryWithContext binds a query to ctx so it respects cancellation
func (c *CassandraDB) QueryWithContext(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return c.Session.Query(stmt, values...).WithContext(ctx)
}

// ExecWithContext executes a query without returning results
func (c *CassandraDB) ExecWithContext(ctx context.Context, stmt string, values ...interface{}) error {
	return c.QueryWithContext(ctx, stmt, values...).Exec()
}

const callEventsSchema = `
CREATE TABLE IF NOT EXISTS call_events (
	call_id          uuid,
	revision         int,
	status           text,
	end_reason       text,
	caller_id        uuid,
	callee_id        uuid,
	occurred_at      timestamp,
	duration_seconds int,
	PRIMARY KEY ((call_id), revision)
) WITH CLUSTERING ORDER BY (revision ASC)`

// EnsureSchema creates the call event journal table in the session keyspace
func (c *CassandraDB) EnsureSchema(ctx context.Context) error {
	if err := c.ExecWithContext(ctx, callEventsSchema); err != nil {
		return fmt.Errorf("failed to create call_events table: %w", err)
	}
	return nil
}
