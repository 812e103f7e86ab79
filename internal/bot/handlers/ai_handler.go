package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/edgard/botfleet/internal/command"
	"github.com/edgard/botfleet/internal/database"
	apperrors "github.com/edgard/botfleet/internal/errors"
	"github.com/edgard/botfleet/internal/gemini"
)

// NewAIHandler returns the handler for the AI command types. The definition's
// response template is passed to the model as an extra instruction.
func NewAIHandler(deps HandlerDeps) command.Handler {
	return aiHandler{deps}
}

type aiHandler struct {
	deps HandlerDeps
}

func (h aiHandler) Name() string    { return "ai" }
func (h aiHandler) Priority() int   { return 100 }
func (h aiHandler) Available() bool { return h.deps.Gemini != nil }

func (h aiHandler) CanHandle(ctx context.Context, req command.Request) bool {
	return resolveTyped(ctx, h.deps, req, database.CommandType.IsAI) != nil
}

func (h aiHandler) Execute(ctx context.Context, req command.Request) (command.Response, error) {
	log := h.deps.Logger.With("handler", "ai")

	def := resolveTyped(ctx, h.deps, req, database.CommandType.IsAI)
	if def == nil {
		return command.Response{}, fmt.Errorf("command %s is no longer an AI command", req.Command)
	}

	prompt := strings.TrimSpace(req.ArgString())
	if prompt == "" {
		return command.Reply(req, fmt.Sprintf("Usage: %s <text>", req.Command)), nil
	}

	log.InfoContext(ctx, "Generating AI response", "bot_id", req.BotID, "user_id", req.UserID, "command", req.Command, "type", def.Type)

	text, err := h.deps.Gemini.Generate(ctx, gemini.Request{
		Type:        def.Type,
		Instruction: def.ResponseTemplate,
		Prompt:      prompt,
		Username:    req.Username,
	})
	if err != nil {
		log.ErrorContext(ctx, "AI generation failed", "bot_id", req.BotID, "command", req.Command, "error", err)
		kind := apperrors.KindCommandError
		if errors.Is(err, context.DeadlineExceeded) {
			kind = apperrors.KindPluginTimeout
		}
		resp := command.Fail(req, kind, err.Error())
		resp.Text = h.deps.Config.Messages.AIError
		return resp, nil
	}

	return command.Reply(req, text), nil
}
