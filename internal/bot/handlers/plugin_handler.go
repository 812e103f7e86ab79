package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/edgard/botfleet/internal/command"
	"github.com/edgard/botfleet/internal/database"
	apperrors "github.com/edgard/botfleet/internal/errors"
)

// NewPluginHandler returns the handler for PLUGIN commands. The plugin is named by the
// definition, falling back to the token without its slash.
func NewPluginHandler(deps HandlerDeps) command.Handler {
	return pluginHandler{deps}
}

type pluginHandler struct {
	deps HandlerDeps
}

func (h pluginHandler) Name() string    { return "plugin" }
func (h pluginHandler) Priority() int   { return 50 }
func (h pluginHandler) Available() bool { return h.deps.Plugins != nil }

func (h pluginHandler) CanHandle(ctx context.Context, req command.Request) bool {
	return resolveTyped(ctx, h.deps, req, isType(database.CommandPlugin)) != nil
}

func (h pluginHandler) Execute(ctx context.Context, req command.Request) (command.Response, error) {
	def := resolveTyped(ctx, h.deps, req, isType(database.CommandPlugin))
	if def == nil {
		return command.Response{}, fmt.Errorf("command %s is no longer a plugin command", req.Command)
	}

	name := pluginName(def)
	cfg, err := h.deps.Resolver.Plugin(ctx, req.BotID, name)
	if err != nil {
		return command.Response{}, fmt.Errorf("failed to load plugin %s configuration: %w", name, err)
	}

	timeout := h.deps.Config.Plugins.DefaultTimeout
	retries := h.deps.Config.Plugins.DefaultMaxRetries
	if cfg != nil {
		if !cfg.Active {
			return command.Fail(req, apperrors.KindPluginNotLoaded, fmt.Sprintf("plugin %s is inactive", name)), nil
		}
		if cfg.TimeoutSeconds > 0 {
			timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
		}
		retries = cfg.MaxRetries
	}

	resp := h.deps.Plugins.Execute(ctx, name, req, timeout, retries)
	if resp.Success && def.ResponseTemplate != "" {
		resp.Text = RenderTemplate(def.ResponseTemplate, req, map[string]string{"result": resp.Text})
	}
	return resp, nil
}

func pluginName(def *database.CommandDefinition) string {
	if def.PluginName.Valid && def.PluginName.String != "" {
		return def.PluginName.String
	}
	return strings.TrimPrefix(def.Command, "/")
}
