// Package scylla holds the persistent store for admin panel users. Users are
// partitioned by bucket and looked up either by id or through a phone hash
// index table.
package scylla

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"estate-auth/internal/config"
	"estate-auth/internal/util"
)

type PreparedStatements struct {
	SelectRefByPhoneHash   string
	SelectUserByID         string
	UpdateLoginBookkeeping string
	UpdatePassword         string
}

type ScyllaClient struct {
	Session  *gocql.Session
	Prepared PreparedStatements
	config   *config.ScyllaConfig
	logger   *zap.Logger
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
	}
	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(
		gocql.RoundRobinHostPolicy(),
	)

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create ScyllaDB session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
		logger:  logger,
	}
	client.prepareStatements()

	util.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace),
	)

	return client, nil
}

// prepareStatements stores the CQL text for the hot queries. gocql prepares
// and caches statements per host on first execution.
func (c *ScyllaClient) prepareStatements() {
	c.Prepared = PreparedStatements{
		SelectRefByPhoneHash: `SELECT user_bucket, user_id FROM admin_users_by_phone
			WHERE phone_hash = ?`,
		SelectUserByID: `SELECT user_bucket, user_id, phone_number, role, is_active,
			password_hash, last_login, last_activity, login_count, created_at, updated_at
			FROM admin_users WHERE user_bucket = ? AND user_id = ?`,
		UpdateLoginBookkeeping: `UPDATE admin_users
			SET last_login = ?, last_activity = ?, login_count = ?, updated_at = ?
			WHERE user_bucket = ? AND user_id = ?`,
		UpdatePassword: `UPDATE admin_users
			SET password_hash = ?, updated_at = ?
			WHERE user_bucket = ? AND user_id = ?`,
	}
}

func (c *ScyllaClient) HealthCheck() error {
	if c.Session == nil || c.Session.Closed() {
		return fmt.Errorf("scylla session is closed")
	}
	var release string
	if err := c.Session.Query("SELECT release_version FROM system.local").Scan(&release); err != nil {
		return fmt.Errorf("scylla health query failed: %w", err)
	}
	return nil
}

func (c *ScyllaClient) Close() {
	if c.Session != nil && !c.Session.Closed() {
		c.Session.Close()
		util.Info("ScyllaDB session closed")
	}
}
