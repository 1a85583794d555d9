package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ent0n29/voicedesk/internal/tenant"
)

// NewStore creates a postgres-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}

// SeedTenants loads a JSON array of tenants from path and upserts each one.
// It returns the tenants it wrote.
func SeedTenants(ctx context.Context, s Store, path string) ([]tenant.Tenant, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenant seed: %w", err)
	}
	var tenants []tenant.Tenant
	if err := json.Unmarshal(raw, &tenants); err != nil {
		return nil, fmt.Errorf("decode tenant seed: %w", err)
	}
	for _, t := range tenants {
		if t.ID == "" {
			return nil, fmt.Errorf("tenant seed entry %q has no id", t.Name)
		}
		if err := s.UpsertTenant(ctx, t); err != nil {
			return nil, err
		}
	}
	return tenants, nil
}
