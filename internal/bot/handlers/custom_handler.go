package handlers

import (
	"context"
	"fmt"

	"github.com/edgard/botfleet/internal/command"
	"github.com/edgard/botfleet/internal/database"
)

// NewCustomHandler returns the handler for CUSTOM commands, which reply with their
// rendered response template.
func NewCustomHandler(deps HandlerDeps) command.Handler {
	return customHandler{deps}
}

type customHandler struct {
	deps HandlerDeps
}

func (h customHandler) Name() string    { return "custom" }
func (h customHandler) Priority() int   { return 200 }
func (h customHandler) Available() bool { return true }

func (h customHandler) CanHandle(ctx context.Context, req command.Request) bool {
	return resolveTyped(ctx, h.deps, req, isType(database.CommandCustom)) != nil
}

func (h customHandler) Execute(ctx context.Context, req command.Request) (command.Response, error) {
	def := resolveTyped(ctx, h.deps, req, isType(database.CommandCustom))
	if def == nil {
		return command.Response{}, fmt.Errorf("command %s is no longer a custom command", req.Command)
	}
	return command.Reply(req, RenderTemplate(def.ResponseTemplate, req, nil)), nil
}
