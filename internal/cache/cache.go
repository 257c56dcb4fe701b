// Package cache holds read-through caches for loans. Entries are invalidated after every
// committed write, so a stale read is bounded by the TTL only when invalidation fails.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/segyhp/microlend-ledger/internal/domain"
)

const loanKeyTemplate = "loan:%s"

// LoanCache caches loans by id.
type LoanCache interface {
	// Get returns the cached loan and whether it was found.
	Get(ctx context.Context, id string) (*domain.Loan, bool, error)
	Set(ctx context.Context, loan *domain.Loan) error
	Invalidate(ctx context.Context, id string) error
}

func loanKey(id string) string {
	return fmt.Sprintf(loanKeyTemplate, id)
}

type redisLoanCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLoanCache stores loans as JSON under "loan:<id>".
func NewRedisLoanCache(client *redis.Client, ttl time.Duration) LoanCache {
	return &redisLoanCache{client: client, ttl: ttl}
}

func (c *redisLoanCache) Get(ctx context.Context, id string) (*domain.Loan, bool, error) {
	raw, err := c.client.Get(ctx, loanKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var loan domain.Loan
	if err := json.Unmarshal(raw, &loan); err != nil {
		return nil, false, fmt.Errorf("decode cached loan %s: %w", id, err)
	}
	return &loan, true, nil
}

func (c *redisLoanCache) Set(ctx context.Context, loan *domain.Loan) error {
	raw, err := json.Marshal(loan)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, loanKey(loan.ID), raw, c.ttl).Err()
}

func (c *redisLoanCache) Invalidate(ctx context.Context, id string) error {
	return c.client.Del(ctx, loanKey(id)).Err()
}

type memoryLoanCache struct {
	store *gocache.Cache
}

// NewMemoryLoanCache is the in-process fallback used when Redis is disabled.
func NewMemoryLoanCache(ttl time.Duration) LoanCache {
	return &memoryLoanCache{store: gocache.New(ttl, 2*ttl)}
}

func (c *memoryLoanCache) Get(_ context.Context, id string) (*domain.Loan, bool, error) {
	cached, found := c.store.Get(loanKey(id))
	if !found {
		return nil, false, nil
	}
	loan := cached.(domain.Loan)
	return &loan, true, nil
}

func (c *memoryLoanCache) Set(_ context.Context, loan *domain.Loan) error {
	c.store.SetDefault(loanKey(loan.ID), *loan)
	return nil
}

func (c *memoryLoanCache) Invalidate(_ context.Context, id string) error {
	c.store.Delete(loanKey(id))
	return nil
}
