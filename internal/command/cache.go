package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edgard/botfleet/internal/database"
)

// ConfigSource is the store surface the cache loads from.
type ConfigSource interface {
	ListCommands(ctx context.Context, botID int64) ([]database.CommandDefinition, error)
	ListPlugins(ctx context.Context) ([]database.PluginConfig, error)
}

// Snapshot is the command and plugin configuration of one running bot.
// Commands keep the store ordering: by token, then authoritative first.
type Snapshot struct {
	Commands []database.CommandDefinition
	Plugins  map[string]database.PluginConfig
	LoadedAt time.Time
}

// Cache holds configuration snapshots for running bots.
type Cache struct {
	source ConfigSource

	mu    sync.RWMutex
	byBot map[int64]*Snapshot
}

// NewCache creates an empty cache backed by source.
func NewCache(source ConfigSource) *Cache {
	return &Cache{
		source: source,
		byBot:  make(map[int64]*Snapshot),
	}
}

// Load reads the bot's configuration from the store and replaces any cached snapshot.
func (c *Cache) Load(ctx context.Context, botID int64) error {
	commands, err := c.source.ListCommands(ctx, botID)
	if err != nil {
		return fmt.Errorf("failed to load commands for bot %d: %w", botID, err)
	}
	plugins, err := c.source.ListPlugins(ctx)
	if err != nil {
		return fmt.Errorf("failed to load plugins for bot %d: %w", botID, err)
	}

	snap := &Snapshot{
		Commands: commands,
		Plugins:  make(map[string]database.PluginConfig, len(plugins)),
		LoadedAt: time.Now(),
	}
	for _, p := range plugins {
		snap.Plugins[p.Name] = p
	}

	c.mu.Lock()
	c.byBot[botID] = snap
	c.mu.Unlock()
	return nil
}

// Refresh reloads the snapshot only when the bot is already cached.
func (c *Cache) Refresh(ctx context.Context, botID int64) error {
	if !c.Loaded(botID) {
		return nil
	}
	return c.Load(ctx, botID)
}

// RefreshAll reloads every cached snapshot, used after global changes such as plugin edits.
func (c *Cache) RefreshAll(ctx context.Context) error {
	c.mu.RLock()
	ids := make([]int64, 0, len(c.byBot))
	for id := range c.byBot {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	for _, id := range ids {
		if err := c.Load(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Unload drops the bot's snapshot.
func (c *Cache) Unload(botID int64) {
	c.mu.Lock()
	delete(c.byBot, botID)
	c.mu.Unlock()
}

// Loaded reports whether the bot has a cached snapshot.
func (c *Cache) Loaded(botID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.byBot[botID]
	return ok
}

// Get returns the bot's snapshot. Callers must treat it as read-only.
func (c *Cache) Get(botID int64) (*Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.byBot[botID]
	return snap, ok
}
