package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	platformdb "github.com/apotek-erp/apotek-erp/internal/platform/db"
)

const lookupTTL = 5 * time.Minute

// Registry looks tenants up in the control database and hands out the
// pool each request should use. Dedicated pools are opened lazily and
// kept for the process lifetime.
type Registry struct {
	control *pgxpool.Pool
	shared  *pgxpool.Pool
	redis   *redis.Client

	mu    sync.RWMutex
	pools map[string]*pgxpool.Pool
}

// NewRegistry constructs the registry. The shared pool backs tenants
// without a dedicated DSN; redis is optional lookup caching.
func NewRegistry(control, shared *pgxpool.Pool, redisClient *redis.Client) *Registry {
	return &Registry{
		control: control,
		shared:  shared,
		redis:   redisClient,
		pools:   make(map[string]*pgxpool.Pool),
	}
}

// Resolve finds the tenant registered under slug.
func (r *Registry) Resolve(ctx context.Context, slug string) (Tenant, error) {
	if slug == "" {
		return Tenant{}, ErrUnknownTenant
	}
	if t, ok := r.cachedLookup(ctx, slug); ok {
		if !t.Active {
			return Tenant{}, ErrInactiveTenant
		}
		return t, nil
	}
	var t Tenant
	err := r.control.QueryRow(ctx,
		`SELECT id, slug, name, company_id, COALESCE(dsn, ''), COALESCE(api_key_hash, ''), active
FROM tenants WHERE slug=$1`, slug).
		Scan(&t.ID, &t.Slug, &t.Name, &t.CompanyID, &t.DSN, &t.APIKeyHash, &t.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, ErrUnknownTenant
		}
		return Tenant{}, fmt.Errorf("tenant: resolve %q: %w", slug, err)
	}
	r.storeLookup(ctx, t)
	if !t.Active {
		return Tenant{}, ErrInactiveTenant
	}
	return t, nil
}

// ListActive returns every enabled tenant, for background jobs that
// fan out across companies.
func (r *Registry) ListActive(ctx context.Context) ([]Tenant, error) {
	rows, err := r.control.Query(ctx,
		`SELECT id, slug, name, company_id, COALESCE(dsn, ''), COALESCE(api_key_hash, ''), active
FROM tenants WHERE active ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("tenant: list active: %w", err)
	}
	defer rows.Close()
	var tenants []Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Slug, &t.Name, &t.CompanyID, &t.DSN, &t.APIKeyHash, &t.Active); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// Pool implements db.Source: it returns the pool for the tenant in
// context, the shared pool for shared tenants.
func (r *Registry) Pool(ctx context.Context) (*pgxpool.Pool, error) {
	t, ok := FromContext(ctx)
	if !ok {
		return nil, ErrUnknownTenant
	}
	if t.DSN == "" {
		return r.shared, nil
	}
	r.mu.RLock()
	pool, ok := r.pools[t.Slug]
	r.mu.RUnlock()
	if ok {
		return pool, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if pool, ok := r.pools[t.Slug]; ok {
		return pool, nil
	}
	pool, err := platformdb.New(ctx, t.DSN)
	if err != nil {
		return nil, fmt.Errorf("tenant: open dedicated pool for %q: %w", t.Slug, err)
	}
	r.pools[t.Slug] = pool
	return pool, nil
}

// Close releases every dedicated pool.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for slug, pool := range r.pools {
		pool.Close()
		delete(r.pools, slug)
	}
}

func lookupKey(slug string) string {
	return "tenant:lookup:" + slug
}

func (r *Registry) cachedLookup(ctx context.Context, slug string) (Tenant, bool) {
	if r.redis == nil {
		return Tenant{}, false
	}
	payload, err := r.redis.Get(ctx, lookupKey(slug)).Bytes()
	if err != nil {
		return Tenant{}, false
	}
	var cached struct {
		Tenant
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(payload, &cached); err != nil {
		return Tenant{}, false
	}
	t := cached.Tenant
	t.APIKeyHash = cached.Hash
	return t, true
}

func (r *Registry) storeLookup(ctx context.Context, t Tenant) {
	if r.redis == nil {
		return
	}
	payload, err := json.Marshal(struct {
		Tenant
		Hash string `json:"hash"`
	}{Tenant: t, Hash: t.APIKeyHash})
	if err != nil {
		return
	}
	_ = r.redis.Set(ctx, lookupKey(t.Slug), payload, lookupTTL).Err()
}
