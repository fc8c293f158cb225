package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DecisionTTL keeps cached decisions deliberately short-lived so grant and
// revocation changes propagate near-instantly without explicit fan-out.
const DecisionTTL = 5 * time.Second

// DecisionCache stores static permission decisions in Redis. Only the
// role-layer outcome is cached; record-contextual predicate results never
// are, since they depend on mutable record state.
type DecisionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDecisionCache constructs a cache with the given TTL, defaulting to
// DecisionTTL when ttl is zero.
func NewDecisionCache(client *redis.Client, ttl time.Duration) *DecisionCache {
	if ttl <= 0 {
		ttl = DecisionTTL
	}
	return &DecisionCache{client: client, ttl: ttl}
}

type cachedDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

func decisionKey(userID int64, module Module, processusID uuid.UUID, action ActionCode) string {
	return fmt.Sprintf("authz:decision:%d:%s:%s:%s", userID, module, processusID, action)
}

// Get returns the cached decision and whether one was present. Cache errors
// surface as misses: the caller recomputes rather than trusting stale state.
func (c *DecisionCache) Get(ctx context.Context, userID int64, module Module, processusID uuid.UUID, action ActionCode) (Decision, bool) {
	if c == nil || c.client == nil {
		return Decision{}, false
	}
	data, err := c.client.Get(ctx, decisionKey(userID, module, processusID, action)).Bytes()
	if err != nil {
		return Decision{}, false
	}
	var stored cachedDecision
	if err := json.Unmarshal(data, &stored); err != nil {
		return Decision{}, false
	}
	return Decision{Allowed: stored.Allowed, Reason: stored.Reason}, true
}

// Set stores a decision. Failures are ignored; the cache is an optimization,
// never a source of truth.
func (c *DecisionCache) Set(ctx context.Context, userID int64, module Module, processusID uuid.UUID, action ActionCode, d Decision) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(cachedDecision{Allowed: d.Allowed, Reason: d.Reason})
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, decisionKey(userID, module, processusID, action), data, c.ttl).Err()
}

// InvalidateUser drops every cached decision for a user, called after an
// assignment change so the short TTL is not even waited out.
func (c *DecisionCache) InvalidateUser(ctx context.Context, userID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	pattern := fmt.Sprintf("authz:decision:%d:*", userID)
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("authz: invalidate scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("authz: invalidate del: %w", err)
	}
	return nil
}
