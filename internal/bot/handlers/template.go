package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/edgard/botfleet/internal/command"
)

// RenderTemplate substitutes request placeholders in tmpl. Supported placeholders:
// {username} {user_id} {chat_id} {bot_id} {command} {args} {arg1}..{argN}
// {date} {time}, plus any key of extra.
func RenderTemplate(tmpl string, req command.Request, extra map[string]string) string {
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}

	at := req.ReceivedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	pairs := []string{
		"{username}", req.Username,
		"{user_id}", strconv.FormatInt(req.UserID, 10),
		"{chat_id}", strconv.FormatInt(req.ChatID, 10),
		"{bot_id}", strconv.FormatInt(req.BotID, 10),
		"{command}", req.Command,
		"{args}", req.ArgString(),
		"{date}", at.Format("2006-01-02"),
		"{time}", at.Format("15:04"),
	}
	for i, arg := range req.Args {
		pairs = append(pairs, "{arg"+strconv.Itoa(i+1)+"}", arg)
	}
	for k, v := range extra {
		pairs = append(pairs, "{"+k+"}", v)
	}

	return strings.NewReplacer(pairs...).Replace(tmpl)
}
