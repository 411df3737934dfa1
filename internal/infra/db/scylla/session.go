package scylla

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/gocql/gocql"

	"campusmarket/internal/infra/config"
)

var keyspacePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// NewSession ensures schema exists and returns a connected Scylla session.
func NewSession(ctx context.Context, cfg config.MessagingConfig, logger *slog.Logger) (*gocql.Session, error) {
	if !keyspacePattern.MatchString(cfg.ScyllaKeyspace) {
		return nil, fmt.Errorf("invalid keyspace name: %s", cfg.ScyllaKeyspace)
	}

	baseSession, err := newCluster(cfg, "").CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to scylla: %w", err)
	}
	defer baseSession.Close()
	if err := ensureKeyspace(ctx, baseSession, cfg); err != nil {
		return nil, err
	}

	session, err := newCluster(cfg, cfg.ScyllaKeyspace).CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to keyspace %s: %w", cfg.ScyllaKeyspace, err)
	}
	if err := ensureTables(ctx, session); err != nil {
		session.Close()
		return nil, err
	}
	if logger != nil {
		logger.Info("scylla connected", "hosts", cfg.ScyllaHosts, "keyspace", cfg.ScyllaKeyspace)
	}
	return session, nil
}

func newCluster(cfg config.MessagingConfig, keyspace string) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.ScyllaHosts...)
	cluster.Timeout = cfg.ScyllaTimeout
	cluster.ConnectTimeout = cfg.ScyllaTimeout
	cluster.Consistency = cfg.ScyllaConsistency
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Keyspace = keyspace
	if cfg.ScyllaUsername != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.ScyllaUsername,
			Password: cfg.ScyllaPassword,
		}
	}
	return cluster
}

func ensureKeyspace(ctx context.Context, session *gocql.Session, cfg config.MessagingConfig) error {
	cql := fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}",
		cfg.ScyllaKeyspace, max(cfg.ReplicationFactor, 1),
	)
	if err := session.Query(cql).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create keyspace: %w", err)
	}
	return nil
}

// schema is applied in order; every statement is idempotent.
var schema = []struct{ name, cql string }{
	{"conversations", `
CREATE TABLE IF NOT EXISTS conversations (
	id text PRIMARY KEY,
	listing_id text,
	buyer_id text,
	seller_id text,
	archived_by_buyer boolean,
	archived_by_seller boolean,
	deleted_by_buyer boolean,
	deleted_by_seller boolean,
	created_at timestamp,
	last_message_at timestamp,
	last_message_id text,
	last_message_sender_id text,
	last_message_text text
)`},
	{"conversation_keys", `
CREATE TABLE IF NOT EXISTS conversation_keys (
	listing_id text,
	buyer_id text,
	seller_id text,
	conversation_id text,
	PRIMARY KEY ((listing_id, buyer_id, seller_id))
)`},
	{"user_conversations", `
CREATE TABLE IF NOT EXISTS user_conversations (
	user_id text,
	conversation_id text,
	PRIMARY KEY (user_id, conversation_id)
)`},
	{"messages", `
CREATE TABLE IF NOT EXISTS messages (
	conversation_id text,
	message_id text,
	client_id text,
	sender_id text,
	body text,
	attachments text,
	read boolean,
	liked_by set<text>,
	created_at timestamp,
	PRIMARY KEY (conversation_id, message_id)
) WITH CLUSTERING ORDER BY (message_id ASC)`},
	{"message_client_ids", `
CREATE TABLE IF NOT EXISTS message_client_ids (
	conversation_id text,
	sender_id text,
	client_id text,
	message_id text,
	PRIMARY KEY (conversation_id, sender_id, client_id)
)`},
	{"item_references", `
CREATE TABLE IF NOT EXISTS item_references (
	conversation_id text,
	listing_id text,
	is_primary boolean,
	added_at timestamp,
	PRIMARY KEY (conversation_id, listing_id)
)`},
}

func ensureTables(ctx context.Context, session *gocql.Session) error {
	for _, stmt := range schema {
		if err := session.Query(stmt.cql).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("create %s table: %w", stmt.name, err)
		}
	}
	return nil
}
