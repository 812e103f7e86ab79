// Package permission resolves a caller's role on a bot and filters the commands it may run.
package permission

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// Role is a caller's privilege level on one bot. Roles are ordered.
type Role int

const (
	RoleBanned Role = iota
	RoleUser
	RoleModerator
	RoleAdmin
	RoleOwner
)

var roleNames = map[Role]string{
	RoleBanned:    "BANNED",
	RoleUser:      "USER",
	RoleModerator: "MODERATOR",
	RoleAdmin:     "ADMIN",
	RoleOwner:     "OWNER",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "USER"
}

// AtLeast reports whether r is min or higher.
func (r Role) AtLeast(min Role) bool {
	return r >= min
}

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for role, name := range roleNames {
		if name == s {
			return role, true
		}
	}
	return RoleUser, false
}

// Store is the persistence surface the gate reads from.
type Store interface {
	GetUserRole(ctx context.Context, botID, userID int64) (string, bool, error)
	ListCommandAccess(ctx context.Context, botID, userID int64) (map[string]bool, error)
}

// Gate answers role and allow-list questions for a user and bot pair.
type Gate struct {
	store  Store
	owners map[int64]struct{}
	logger *slog.Logger
}

// NewGate creates a gate. Users listed in ownerIDs are OWNER on every bot.
func NewGate(store Store, ownerIDs []int64, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	owners := make(map[int64]struct{}, len(ownerIDs))
	for _, id := range ownerIDs {
		owners[id] = struct{}{}
	}
	return &Gate{
		store:  store,
		owners: owners,
		logger: logger.With("component", "permission_gate"),
	}
}

// EffectiveRole returns OWNER for configured owners, then the stored role, then USER.
// Store failures degrade to USER.
func (g *Gate) EffectiveRole(ctx context.Context, userID, botID int64) Role {
	if _, ok := g.owners[userID]; ok {
		return RoleOwner
	}

	stored, ok, err := g.store.GetUserRole(ctx, botID, userID)
	if err != nil {
		g.logger.ErrorContext(ctx, "Failed to load user role, assuming USER",
			"bot_id", botID, "user_id", userID, "error", err)
		return RoleUser
	}
	if !ok {
		return RoleUser
	}

	role, valid := ParseRole(stored)
	if !valid {
		g.logger.WarnContext(ctx, "Unknown stored role, assuming USER",
			"bot_id", botID, "user_id", userID, "role", stored)
	}
	return role
}

// FilterAllowed returns the subset of tokens the user may run, preserving order.
// BANNED users get nothing and ADMIN or above get everything.
func (g *Gate) FilterAllowed(ctx context.Context, userID, botID int64, tokens []string) []string {
	role := g.EffectiveRole(ctx, userID, botID)
	switch {
	case role == RoleBanned:
		return []string{}
	case role.AtLeast(RoleAdmin):
		out := make([]string, len(tokens))
		copy(out, tokens)
		return out
	}

	rules, err := g.store.ListCommandAccess(ctx, botID, userID)
	if err != nil {
		g.logger.ErrorContext(ctx, "Failed to load command access, denying all",
			"bot_id", botID, "user_id", userID, "error", err)
		return []string{}
	}

	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if allowed, ok := rules[token]; ok && !allowed {
			continue
		}
		out = append(out, token)
	}
	return out
}

// Allowed reports whether the user may run token.
func (g *Gate) Allowed(ctx context.Context, userID, botID int64, token string) bool {
	return len(g.FilterAllowed(ctx, userID, botID, []string{token})) == 1
}

// IsOwner reports whether the user is a configured owner.
func (g *Gate) IsOwner(userID int64) bool {
	_, ok := g.owners[userID]
	return ok
}
