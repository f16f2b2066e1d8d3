// Package pgsql implements the provider transport for PostgreSQL servers
// on top of pgx connection pools.
package pgsql

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/willibrandon/harbor/internal/logger"
	"github.com/willibrandon/harbor/internal/models"
	"github.com/willibrandon/harbor/internal/provider"
)

// ProviderName is the provider key PostgreSQL transports register under.
const ProviderName = "PGSQL"

// Option names within the PGSQL option bag.
const (
	OptHost     = "host"
	OptPort     = "port"
	OptDatabase = "dbname"
	OptUser     = "user"
	OptPassword = "password"
	OptAuthType = "authType"
	OptSSLMode  = "sslmode"
)

// Capabilities returns the PGSQL capability declaration.
func Capabilities() *models.ProviderCapabilities {
	return &models.ProviderCapabilities{
		ProviderName: ProviderName,
		DisplayName:  "PostgreSQL",
		ConnectionOptions: []models.ConnectionOption{
			{Name: OptHost, Kind: models.OptionKindServerName, IsIdentity: true, IsRequired: true},
			{Name: OptPort, IsIdentity: true},
			{Name: OptDatabase, Kind: models.OptionKindDatabaseName, IsIdentity: true},
			{Name: OptUser, Kind: models.OptionKindUserName, IsIdentity: true, IsRequired: true},
			{Name: OptPassword, Kind: models.OptionKindPassword, IsRequired: true},
			{Name: OptAuthType, Kind: models.OptionKindAuthType, IsIdentity: true},
			{Name: OptSSLMode},
		},
	}
}

// Provider is the pgx-backed transport. One connection pool per owner URI.
type Provider struct {
	notifier provider.Notifier

	mu    sync.Mutex
	pools map[string]*pgxpool.Pool
	dials map[string]context.CancelFunc
}

// New returns a PGSQL transport reporting completions to the notifier.
func New(notifier provider.Notifier) *Provider {
	return &Provider{
		notifier: notifier,
		pools:    make(map[string]*pgxpool.Pool),
		dials:    make(map[string]context.CancelFunc),
	}
}

// connString builds a pgx connection string from the profile options.
func connString(profile *models.ConnectionProfile) string {
	opts := profile.Options
	host := opts[OptHost]
	port := opts[OptPort]
	if port == "" {
		port = "5432"
	}
	database := opts[OptDatabase]
	if database == "" {
		database = "postgres"
	}
	sslMode := opts[OptSSLMode]
	if sslMode == "" {
		sslMode = "prefer"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		opts[OptUser], opts[OptPassword], host, port, database, sslMode,
	)
}

// Connect dispatches the dial on a background goroutine and reports the
// outcome through the notifier, keyed by uri.
func (p *Provider) Connect(ctx context.Context, uri string, profile *models.ConnectionProfile) error {
	poolConfig, err := pgxpool.ParseConfig(connString(profile))
	if err != nil {
		return fmt.Errorf("failed to parse connection options: %w", err)
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "harbor"

	dialCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.mu.Lock()
	p.dials[uri] = cancel
	p.mu.Unlock()

	go p.dial(dialCtx, uri, poolConfig)
	return nil
}

func (p *Provider) dial(ctx context.Context, uri string, poolConfig *pgxpool.Config) {
	defer func() {
		p.mu.Lock()
		delete(p.dials, uri)
		p.mu.Unlock()
	}()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err == nil {
		// Validate with a version query; a pool can be constructed without
		// the server being reachable.
		var version string
		err = pool.QueryRow(ctx, "SELECT version()").Scan(&version)
		if err != nil {
			pool.Close()
		} else {
			p.mu.Lock()
			p.pools[uri] = pool
			p.mu.Unlock()
			p.notifier.ConnectionComplete(models.ConnectionCompleteSummary{
				OwnerURI:     uri,
				ConnectionID: uuid.NewString(),
				ServerInfo:   &models.ServerInfo{ServerVersion: version},
			})
			return
		}
	}

	logger.Warn("PostgreSQL connect failed", "uri", uri, "error", err)
	p.notifier.ConnectionComplete(models.ConnectionCompleteSummary{
		OwnerURI:     uri,
		ErrorMessage: err.Error(),
	})
}

// CancelConnect cancels the in-flight dial for uri, if any.
func (p *Provider) CancelConnect(ctx context.Context, uri string) error {
	p.mu.Lock()
	cancel, ok := p.dials[uri]
	p.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// Disconnect closes the pool for uri and returns once closed.
func (p *Provider) Disconnect(ctx context.Context, uri string) error {
	p.mu.Lock()
	pool, ok := p.pools[uri]
	delete(p.pools, uri)
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("no session for %q", uri)
	}
	pool.Close()
	return nil
}

// ListDatabases lists non-template databases through the session on uri.
func (p *Provider) ListDatabases(ctx context.Context, uri string) ([]string, error) {
	p.mu.Lock()
	pool, ok := p.pools[uri]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no session for %q", uri)
	}

	rows, err := pool.Query(ctx, "SELECT datname FROM pg_database WHERE datistemplate = false ORDER BY datname")
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
