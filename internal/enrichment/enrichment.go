// Package enrichment resolves external agent identifiers to machine and
// organization context through the platform's side cache. Misses are not
// errors: context is a best-effort augmentation, never a required join.
package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Context is the resolved machine/organization context for an event.
// Any subset of fields, including none, is valid.
type Context struct {
	MachineID        string `json:"machine_id,omitempty"`
	Hostname         string `json:"hostname,omitempty"`
	OrganizationID   string `json:"organization_id,omitempty"`
	OrganizationName string `json:"organization_name,omitempty"`
}

// MachineRecord is the cached machine entry keyed by agent id.
type MachineRecord struct {
	MachineID      string `json:"machine_id"`
	Hostname       string `json:"hostname"`
	OrganizationID string `json:"organization_id"`
}

// OrgRecord is the cached organization entry keyed by organization id.
type OrgRecord struct {
	Name string `json:"name"`
}

// Store is the read-only cache interface the resolver depends on. A miss is
// (nil, nil); only transport failures return an error.
type Store interface {
	GetMachine(ctx context.Context, externalAgentID string) (*MachineRecord, error)
	GetOrganization(ctx context.Context, orgID string) (*OrgRecord, error)
}

// RedisStore reads context records from the shared Redis cache owned by the
// device-management subsystem.
type RedisStore struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// NewRedisStore creates a Redis-backed context store.
func NewRedisStore(client redis.UniversalClient, timeout time.Duration) *RedisStore {
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	return &RedisStore{client: client, timeout: timeout}
}

// GetMachine looks up the machine record for an agent id.
func (s *RedisStore) GetMachine(ctx context.Context, externalAgentID string) (*MachineRecord, error) {
	data, err := s.get(ctx, "machine:agent:"+externalAgentID)
	if err != nil || data == nil {
		return nil, err
	}

	var rec MachineRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode machine record: %w", err)
	}
	return &rec, nil
}

// GetOrganization looks up the organization record for a machine's org id.
func (s *RedisStore) GetOrganization(ctx context.Context, orgID string) (*OrgRecord, error) {
	data, err := s.get(ctx, "organization:"+orgID)
	if err != nil || data == nil {
		return nil, err
	}

	var rec OrgRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode organization record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}
	return data, nil
}

// Resolver enriches events with machine/organization context.
type Resolver struct {
	store  Store
	logger *slog.Logger

	hits       atomic.Uint64
	misses     atomic.Uint64
	orgMisses  atomic.Uint64
	transportE atomic.Uint64
}

// NewResolver creates a context resolver over a store.
func NewResolver(store Store, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger.With("component", "context-resolver"),
	}
}

// Resolve returns the context for an agent id. A machine miss yields an
// empty context; an organization miss after a machine hit yields a partial
// one. Both proceed without error. Transport failures propagate so the bus
// can redeliver.
func (r *Resolver) Resolve(ctx context.Context, externalAgentID string) (Context, error) {
	machine, err := r.store.GetMachine(ctx, externalAgentID)
	if err != nil {
		r.transportE.Add(1)
		return Context{}, fmt.Errorf("resolve machine context: %w", err)
	}
	if machine == nil {
		r.misses.Add(1)
		return Context{}, nil
	}
	r.hits.Add(1)

	enriched := Context{
		MachineID:      machine.MachineID,
		Hostname:       machine.Hostname,
		OrganizationID: machine.OrganizationID,
	}
	if machine.OrganizationID == "" {
		return enriched, nil
	}

	org, err := r.store.GetOrganization(ctx, machine.OrganizationID)
	if err != nil {
		r.transportE.Add(1)
		return Context{}, fmt.Errorf("resolve organization context: %w", err)
	}
	if org == nil {
		r.orgMisses.Add(1)
		r.logger.Debug("organization not in cache",
			"organization_id", machine.OrganizationID)
		return enriched, nil
	}

	enriched.OrganizationName = org.Name
	return enriched, nil
}

// Stats returns resolver counters.
func (r *Resolver) Stats() map[string]interface{} {
	return map[string]interface{}{
		"machine_hits":     r.hits.Load(),
		"machine_misses":   r.misses.Load(),
		"org_misses":       r.orgMisses.Load(),
		"transport_errors": r.transportE.Load(),
	}
}
