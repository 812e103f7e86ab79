package command

import (
	"context"

	"github.com/edgard/botfleet/internal/database"
)

// DefinitionStore is the store surface the resolver falls back to when a bot is not cached.
type DefinitionStore interface {
	FindCommand(ctx context.Context, botID int64, token string, enabledOnly bool) (*database.CommandDefinition, error)
	ListEnabledCommands(ctx context.Context, botID int64) ([]database.CommandDefinition, error)
	GetPlugin(ctx context.Context, name string) (*database.PluginConfig, error)
}

// Resolver returns the single authoritative command definition for a bot and token.
type Resolver struct {
	store DefinitionStore
	cache *Cache
}

// NewResolver creates a resolver. cache may be nil.
func NewResolver(store DefinitionStore, cache *Cache) *Resolver {
	return &Resolver{store: store, cache: cache}
}

// Resolve returns the enabled definition for token, bot-specific first, or nil.
func (r *Resolver) Resolve(ctx context.Context, botID int64, token string) (*database.CommandDefinition, error) {
	return r.find(ctx, botID, NormalizeToken(token), true)
}

// Lookup is Resolve including disabled definitions, so a disabled bot-specific
// row still shadows an enabled global one.
func (r *Resolver) Lookup(ctx context.Context, botID int64, token string) (*database.CommandDefinition, error) {
	return r.find(ctx, botID, NormalizeToken(token), false)
}

// Enabled lists the enabled definitions visible to the bot, one per token.
func (r *Resolver) Enabled(ctx context.Context, botID int64) ([]database.CommandDefinition, error) {
	if snap, ok := r.snapshot(botID); ok {
		seen := make(map[string]bool, len(snap.Commands))
		out := make([]database.CommandDefinition, 0, len(snap.Commands))
		for _, def := range snap.Commands {
			if seen[def.Command] {
				continue
			}
			seen[def.Command] = true
			if def.Enabled {
				out = append(out, def)
			}
		}
		return out, nil
	}
	return r.store.ListEnabledCommands(ctx, botID)
}

// Plugin returns the plugin configuration visible to the bot, or nil.
func (r *Resolver) Plugin(ctx context.Context, botID int64, name string) (*database.PluginConfig, error) {
	if snap, ok := r.snapshot(botID); ok {
		p, found := snap.Plugins[name]
		if !found {
			return nil, nil
		}
		return &p, nil
	}
	return r.store.GetPlugin(ctx, name)
}

func (r *Resolver) find(ctx context.Context, botID int64, token string, enabledOnly bool) (*database.CommandDefinition, error) {
	if token == "" {
		return nil, nil
	}

	snap, ok := r.snapshot(botID)
	if !ok {
		return r.store.FindCommand(ctx, botID, token, enabledOnly)
	}

	// Snapshot rows for a token are already in authoritative order.
	for i := range snap.Commands {
		def := snap.Commands[i]
		if def.Command != token {
			continue
		}
		if enabledOnly && !def.Enabled {
			continue
		}
		return &def, nil
	}
	return nil, nil
}

func (r *Resolver) snapshot(botID int64) (*Snapshot, bool) {
	if r.cache == nil {
		return nil, false
	}
	return r.cache.Get(botID)
}
