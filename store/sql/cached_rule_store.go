package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-dispatch/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const (
	ruleCacheKeyPrefix    = "go-dispatch::routing_rules::v1"
	mappingCacheKeyPrefix = "go-dispatch::provider_mappings::v1"
)

// CachedRuleStore caches read-mostly rule and mapping lookups. Writes pass
// through to the base store and invalidate the provider's entries, so reads
// always reflect the latest committed configuration.
type CachedRuleStore struct {
	base  core.RuleStore
	cache repositorycache.CacheService
}

func NewCachedRuleStore(base core.RuleStore, cacheService repositorycache.CacheService) (*CachedRuleStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base rule store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: rule cache service is required")
	}
	return &CachedRuleStore{base: base, cache: cacheService}, nil
}

// RuleCacheKey returns the deterministic cache key for a provider's rules:
// go-dispatch::routing_rules::v1::<provider> with the provider URL-path
// escaped after normalization.
func RuleCacheKey(provider string) string {
	return ruleCacheKeyPrefix + "::" + url.PathEscape(normalizeProvider(provider))
}

// MappingCacheKey returns the deterministic cache key for a provider mapping.
func MappingCacheKey(provider string) string {
	return mappingCacheKeyPrefix + "::" + url.PathEscape(normalizeProvider(provider))
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

func (s *CachedRuleStore) UpsertRule(ctx context.Context, rule core.RoutingRule) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached rule store is not configured")
	}
	if err := s.base.UpsertRule(ctx, rule); err != nil {
		return err
	}
	return s.cache.Delete(ctx, RuleCacheKey(rule.Provider))
}

func (s *CachedRuleStore) ListRules(ctx context.Context, provider string) ([]core.RoutingRule, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached rule store is not configured")
	}
	provider = normalizeProvider(provider)
	rules, err := repositorycache.GetOrFetch(ctx, s.cache, RuleCacheKey(provider),
		func(ctx context.Context) ([]core.RoutingRule, error) {
			return s.base.ListRules(ctx, provider)
		})
	if err != nil {
		return nil, err
	}
	return cloneRules(rules), nil
}

func (s *CachedRuleStore) UpsertMapping(ctx context.Context, mapping core.ProviderMapping) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached rule store is not configured")
	}
	if err := s.base.UpsertMapping(ctx, mapping); err != nil {
		return err
	}
	return s.cache.Delete(ctx, MappingCacheKey(mapping.Provider))
}

func (s *CachedRuleStore) GetMapping(ctx context.Context, provider string) (*core.ProviderMapping, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached rule store is not configured")
	}
	provider = normalizeProvider(provider)
	mapping, err := repositorycache.GetOrFetch(ctx, s.cache, MappingCacheKey(provider),
		func(ctx context.Context) (*core.ProviderMapping, error) {
			return s.base.GetMapping(ctx, provider)
		})
	if err != nil {
		return nil, err
	}
	if mapping == nil {
		return nil, nil
	}
	cloned := *mapping
	return &cloned, nil
}

func cloneRules(rules []core.RoutingRule) []core.RoutingRule {
	cloned := make([]core.RoutingRule, len(rules))
	copy(cloned, rules)
	for i := range cloned {
		cloned[i].Conditions = copyAnyMap(cloned[i].Conditions)
	}
	return cloned
}

func copyAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var _ core.RuleStore = (*CachedRuleStore)(nil)
