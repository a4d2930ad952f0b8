package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/arbitonlabs/arbiton/internal/domain"
)

// InvalidationChannel is the well-known pub/sub channel on which
// invalidation messages are broadcast so every engine instance drops its
// local copy of an entry another instance wrote or expired.
const InvalidationChannel = "cache:invalidate"

// Manager composes the local in-process tier with a shared remote tier,
// applying the write policy configured per category:
// write-through writes both tiers synchronously, write-behind writes local
// synchronously and shared in the background, cache-aside writes only the
// shared tier and lets reads lazily populate local.
type Manager struct {
	log        *slog.Logger
	local      *Local
	shared     domain.SharedStore
	bus        domain.SignalBus
	categories map[string]domain.CacheCategory
}

// New builds a Manager. categories may be nil, in which case
// domain.DefaultCategories() is used.
func New(local *Local, shared domain.SharedStore, bus domain.SignalBus, categories map[string]domain.CacheCategory, log *slog.Logger) *Manager {
	if categories == nil {
		categories = domain.DefaultCategories()
	}
	return &Manager{
		log:        log.With(slog.String("component", "cache")),
		local:      local,
		shared:     shared,
		bus:        bus,
		categories: categories,
	}
}

func categoryKey(category, key string) string {
	return category + ":" + key
}

func (m *Manager) category(name string) domain.CacheCategory {
	if c, ok := m.categories[name]; ok {
		return c
	}
	return domain.CacheCategory{Name: name, Policy: domain.PolicyCacheAside}
}

// Get retrieves a value, checking the local tier first and falling back to
// the shared tier on a miss; a shared-tier hit is promoted into local so
// subsequent reads avoid the round trip.
func (m *Manager) Get(ctx context.Context, category, key string) ([]byte, bool, error) {
	ck := categoryKey(category, key)

	if v, ok := m.local.Get(ck); ok {
		return v, true, nil
	}

	if m.shared == nil {
		return nil, false, nil
	}

	v, found, err := m.shared.Get(ctx, ck)
	if err != nil {
		return nil, false, fmt.Errorf("cache: get %s: %w", ck, err)
	}
	if !found {
		return nil, false, nil
	}

	cat := m.category(category)
	m.local.Set(ck, v, cat.TTL)
	return v, true, nil
}

// GetJSON is a convenience wrapper that unmarshals a hit into out.
func (m *Manager) GetJSON(ctx context.Context, category, key string, out interface{}) (bool, error) {
	raw, found, err := m.Get(ctx, category, key)
	if err != nil || !found {
		return found, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("cache: unmarshal %s/%s: %w", category, key, err)
	}
	return true, nil
}

// Set writes value under key in category, applying the category's
// configured write policy.
func (m *Manager) Set(ctx context.Context, category, key string, value []byte) error {
	ck := categoryKey(category, key)
	cat := m.category(category)

	switch cat.Policy {
	case domain.PolicyCacheAside:
		if m.shared == nil {
			return nil
		}
		if err := m.shared.Set(ctx, ck, value, cat.TTL); err != nil {
			return fmt.Errorf("cache: set %s: %w", ck, err)
		}
		return nil

	case domain.PolicyWriteBehind:
		m.local.Set(ck, value, cat.TTL)
		if m.shared != nil {
			go func() {
				bgCtx := context.Background()
				if err := m.shared.Set(bgCtx, ck, value, cat.TTL); err != nil {
					m.log.Warn("write-behind flush failed", slog.String("key", ck), slog.Any("error", err))
				}
			}()
		}
		return nil

	default: // PolicyWriteThrough
		m.local.Set(ck, value, cat.TTL)
		if m.shared == nil {
			return nil
		}
		if err := m.shared.Set(ctx, ck, value, cat.TTL); err != nil {
			return fmt.Errorf("cache: set %s: %w", ck, err)
		}
		return nil
	}
}

// SetJSON marshals value and calls Set.
func (m *Manager) SetJSON(ctx context.Context, category, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal %s/%s: %w", category, key, err)
	}
	return m.Set(ctx, category, key, raw)
}

// Invalidate removes key from both tiers and broadcasts an invalidation
// message so other engine instances drop their local copy too.
func (m *Manager) Invalidate(ctx context.Context, category, key string) error {
	ck := categoryKey(category, key)
	m.local.Delete(ck)

	if m.shared != nil {
		if err := m.shared.Delete(ctx, ck); err != nil {
			return fmt.Errorf("cache: invalidate %s: %w", ck, err)
		}
	}

	return m.publishInvalidation(ctx, domain.InvalidationMessage{Key: ck})
}

// InvalidatePattern removes every key with the given category prefix from
// the local tier and broadcasts a pattern invalidation for peer instances.
// The shared tier is not scanned; write-through/write-behind categories
// naturally expire via TTL, and cache-aside categories are refreshed on
// next read.
func (m *Manager) InvalidatePattern(ctx context.Context, category string) error {
	prefix := category + ":"
	m.local.InvalidatePrefix(prefix)
	return m.publishInvalidation(ctx, domain.InvalidationMessage{Pattern: prefix})
}

func (m *Manager) publishInvalidation(ctx context.Context, msg domain.InvalidationMessage) error {
	if m.bus == nil {
		return nil
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("cache: marshal invalidation: %w", err)
	}
	if err := m.bus.Publish(ctx, InvalidationChannel, raw); err != nil {
		return fmt.Errorf("cache: publish invalidation: %w", err)
	}
	return nil
}

// ListenInvalidations subscribes to the invalidation channel and applies
// incoming messages to the local tier, until ctx is cancelled. Run this
// once per engine instance so every process keeps its local tier coherent
// with writes made elsewhere.
func (m *Manager) ListenInvalidations(ctx context.Context) error {
	if m.bus == nil {
		return nil
	}
	ch, err := m.bus.Subscribe(ctx, InvalidationChannel)
	if err != nil {
		return fmt.Errorf("cache: subscribe invalidations: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-ch:
			if !ok {
				return nil
			}
			var msg domain.InvalidationMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				m.log.Warn("bad invalidation message", slog.Any("error", err))
				continue
			}
			if msg.Key != "" {
				m.local.Delete(msg.Key)
			}
			if msg.Pattern != "" {
				m.local.InvalidatePrefix(msg.Pattern)
			}
		}
	}
}
