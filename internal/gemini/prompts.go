package gemini

import (
	"fmt"
	"strings"

	"github.com/edgard/botfleet/internal/database"
)

// baseInstruction is prepended to every AI command.
const baseInstruction = `You are a helpful assistant answering inside a Telegram chat.
Reply in plain text without Markdown. Keep answers short unless asked otherwise.
`

// typeInstructions holds the task-specific part of the system instruction.
var typeInstructions = map[database.CommandType]string{
	database.CommandAITask:     `Carry out the task the user describes and report the result.`,
	database.CommandAIAnswer:   `Answer the user's question directly. If you are not sure, say so instead of guessing.`,
	database.CommandSummary:    `Summarize the text the user provides in a few sentences. Keep names, numbers and dates.`,
	database.CommandGeneration: `Generate the content the user asks for. Follow any requested length or format.`,
	database.CommandAnalysis:   `Analyze the text the user provides. Point out the main ideas, the tone and anything unusual.`,
}

// SystemInstruction builds the system instruction for one AI command type.
// extra is the command's own template and username is who asked.
func SystemInstruction(t database.CommandType, extra, username string) string {
	var sb strings.Builder
	sb.WriteString(baseInstruction)

	if task, ok := typeInstructions[t]; ok {
		sb.WriteString("\n")
		sb.WriteString(task)
		sb.WriteString("\n")
	}
	if username != "" {
		sb.WriteString(fmt.Sprintf("\nThe request comes from @%s.\n", username))
	}
	if extra = strings.TrimSpace(extra); extra != "" {
		sb.WriteString("\n")
		sb.WriteString(extra)
		sb.WriteString("\n")
	}
	return sb.String()
}
