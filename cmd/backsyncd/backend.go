package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/backsync"
	"github.com/arloliu/backsync/store"
)

// backends opens store backends for locations and owns the clients they
// share (the CQL session). The NATS connection belongs to the daemon.
type backends struct {
	cfg StoreConfig
	js  jetstream.JetStream

	mu      sync.Mutex
	session *gocql.Session
}

func newBackends(cfg StoreConfig, js jetstream.JetStream) *backends {
	return &backends{cfg: cfg, js: js}
}

// location returns the configured store location.
func (b *backends) location() store.Location {
	return store.Location{
		Namespace: b.cfg.Namespace,
		Version:   b.cfg.Version,
		Name:      b.cfg.Name,
	}
}

// open is a store.OpenFunc.
func (b *backends) open(ctx context.Context, loc store.Location) (backsync.Store, error) {
	switch b.cfg.Backend {
	case backendMemory:
		return store.NewMemory(), nil

	case backendNATS:
		if b.js == nil {
			return nil, errors.New("nats store requires a NATS connection")
		}

		return store.NewNATS(ctx, b.js, store.WithBucket(bucketName(loc)))

	case backendSQLite:
		return store.OpenSQLite(ctx, b.cfg.SQLitePath, store.WithSQLiteBucket(loc.String()))

	case backendCQL:
		session, err := b.cqlSession()
		if err != nil {
			return nil, err
		}

		return store.NewCQL(ctx, session, store.WithCQLBucket(loc.String()))

	case backendDynamoDB:
		return store.NewDynamoDBFromEnv(ctx, b.cfg.DynamoDBRegion, b.cfg.DynamoDBTable,
			store.WithDynamoDBBucket(loc.String()))
	}

	return nil, fmt.Errorf("unknown store backend %q", b.cfg.Backend)
}

func (b *backends) cqlSession() (*gocql.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session != nil {
		return b.session, nil
	}

	cluster := gocql.NewCluster(b.cfg.CQLHosts...)
	cluster.Keyspace = b.cfg.CQLKeyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to cassandra: %w", err)
	}
	b.session = session

	return session, nil
}

func (b *backends) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session != nil {
		b.session.Close()
		b.session = nil
	}
}

// bucketName maps a location to a JetStream bucket name, which only allows
// [a-zA-Z0-9_-].
func bucketName(loc store.Location) string {
	raw := loc.Namespace + "_v" + strconv.Itoa(loc.Version) + "_" + loc.Name

	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, raw)
}
