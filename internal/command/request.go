// Package command resolves inbound command tokens against persisted definitions
// and routes requests through a priority-ordered chain of capability handlers.
package command

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/edgard/botfleet/internal/errors"
)

// Request is one inbound message addressed to a bot.
type Request struct {
	ID         string
	CommandID  int64
	BotID      int64
	UserID     int64
	Username   string
	ChatID     int64
	Command    string
	Input      string
	Args       []string
	Params     map[string]string
	ReceivedAt time.Time
}

// IsCommand reports whether the request carries a slash command rather than plain text.
func (r Request) IsCommand() bool {
	return strings.HasPrefix(r.Command, "/")
}

// ArgString returns the arguments joined back with single spaces.
func (r Request) ArgString() string {
	return strings.Join(r.Args, " ")
}

// Response is the outcome of routing a Request.
type Response struct {
	RequestID     string
	CommandID     int64
	BotID         int64
	UserID        int64
	ChatID        int64
	Success       bool
	Text          string
	ErrorKind     apperrors.Kind
	ErrorMessage  string
	ExecutionTime time.Duration
}

// Reply builds a successful response for req.
func Reply(req Request, text string) Response {
	return Response{
		RequestID: req.ID,
		CommandID: req.CommandID,
		BotID:     req.BotID,
		UserID:    req.UserID,
		ChatID:    req.ChatID,
		Success:   true,
		Text:      text,
	}
}

// Fail builds a failed response for req.
func Fail(req Request, kind apperrors.Kind, message string) Response {
	return Response{
		RequestID:    req.ID,
		CommandID:    req.CommandID,
		BotID:        req.BotID,
		UserID:       req.UserID,
		ChatID:       req.ChatID,
		ErrorKind:    kind,
		ErrorMessage: message,
	}
}

// Handler is one capability in the chain. Implementations hold no per-request state.
type Handler interface {
	Name() string
	Priority() int
	Available() bool
	CanHandle(ctx context.Context, req Request) bool
	Execute(ctx context.Context, req Request) (Response, error)
}

// NormalizeToken lower-cases a command token and strips a trailing @botname.
func NormalizeToken(raw string) string {
	token := strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(token, "/") {
		if at := strings.IndexByte(token, '@'); at > 0 {
			token = token[:at]
		}
	}
	return token
}

// ParseInput splits message text into a normalized token and its arguments.
func ParseInput(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	return NormalizeToken(fields[0]), fields[1:]
}
