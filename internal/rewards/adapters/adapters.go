// Package adapters bridges the rewards services' ports to concrete
// infrastructure.
package adapters

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	platformredis "merit/internal/platform/redis"
	"merit/internal/registry/service"
	"merit/internal/rewards/service/override"
	"merit/internal/rewards/service/weights"
	dErrors "merit/pkg/domain-errors"
)

// RegistryDirectory adapts the registry service to the weights Directory
// port.
type RegistryDirectory struct {
	registry *service.Service
}

func NewRegistryDirectory(registry *service.Service) *RegistryDirectory {
	return &RegistryDirectory{registry: registry}
}

func (a *RegistryDirectory) Bindings(ctx context.Context) ([]weights.IdentityBinding, error) {
	participants, err := a.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	bindings := make([]weights.IdentityBinding, 0, len(participants))
	for _, p := range participants {
		bindings = append(bindings, weights.IdentityBinding{
			Key:   p.Key,
			Login: p.ExternalIdentity,
		})
	}
	return bindings, nil
}

// RegistryChecker adapts the registry service to the override service's
// existence check.
type RegistryChecker struct {
	registry *service.Service
}

func NewRegistryChecker(registry *service.Service) *RegistryChecker {
	return &RegistryChecker{registry: registry}
}

func (a *RegistryChecker) Get(ctx context.Context, rawKey string) (bool, error) {
	_, err := a.registry.Get(ctx, rawKey)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RedisCache adapts the Redis client to the weights Cache port. A cache miss
// surfaces as a nil payload without error.
type RedisCache struct {
	client *platformredis.Client
}

func NewRedisCache(client *platformredis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	payload, err := c.client.Client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return payload, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Client.Set(ctx, key, value, ttl).Err()
}

// Interface conformance.
var (
	_ weights.Directory           = (*RegistryDirectory)(nil)
	_ override.ParticipantChecker = (*RegistryChecker)(nil)
	_ weights.Cache               = (*RedisCache)(nil)
)
