// Package prompt builds completion requests for review threads.
package prompt

import (
	"fmt"
	"strings"

	"github.com/hpungsan/critique/internal/completion"
	"github.com/hpungsan/critique/internal/thread"
)

const systemPrompt = "You are an expert code reviewer. Your role is to provide clear, helpful, and actionable feedback on code.\n" +
	"\n" +
	"Guidelines:\n" +
	"- Be concise but thorough\n" +
	"- Focus on the most important issues first\n" +
	"- When suggesting code changes, wrap them in a markdown code block with the label \"suggestion\"\n" +
	"- Only provide suggestions for the selected code region\n" +
	"- If changes are needed outside the selection, use a special \"outside\" block to note them\n" +
	"\n" +
	"For code suggestions within the selected region, use this format:\n" +
	"```suggestion\n" +
	"// your suggested code here\n" +
	"```\n" +
	"\n" +
	"For notes about changes needed outside the selection (informational only), use:\n" +
	"```outside\n" +
	"Brief note about what else might need to change and where\n" +
	"```\n" +
	"\n" +
	"You can provide multiple alternative suggestions if appropriate, each in its own suggestion block."

// SystemPrompt returns the fixed system instruction.
func SystemPrompt() string {
	return systemPrompt
}

const defaultInstruction = "Review this code."

// ActionInstruction returns the instruction line sent for an action.
func ActionInstruction(action thread.Action, customPrompt string) string {
	switch action {
	case thread.ActionExplain:
		return "Explain what this code does. Break down the logic step by step in a clear and concise way."
	case thread.ActionBugs:
		return "Analyze this code for potential bugs, issues, or edge cases. If you find issues, explain them and provide fix suggestions."
	case thread.ActionImprove:
		return "Review this code and suggest improvements for readability, performance, or best practices. If the code looks good, say so and explain why."
	case thread.ActionCustom:
		if customPrompt != "" {
			return customPrompt
		}
	}
	return defaultInstruction
}

// Selection is the code a fresh review is about. Zero line numbers omit
// the range annotation.
type Selection struct {
	Code      string
	FullCode  string
	Language  string
	StartLine int
	EndLine   int
}

// BuildUserMessage renders the user turn for a fresh review.
func BuildUserMessage(sel Selection, action thread.Action, customPrompt string) string {
	var lineInfo string
	if sel.StartLine > 0 && sel.EndLine > 0 {
		lineInfo = fmt.Sprintf(" (lines %d-%d)", sel.StartLine, sel.EndLine)
	}

	var b strings.Builder
	b.WriteString(ActionInstruction(action, customPrompt))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "**Selected Code%s:**\n", lineInfo)
	fmt.Fprintf(&b, "```%s\n%s\n```\n\n", sel.Language, sel.Code)
	fmt.Fprintf(&b, "**Full File Context (%s):**\n", sel.Language)
	fmt.Fprintf(&b, "```%s\n%s\n```", sel.Language, sel.FullCode)
	return b.String()
}

// History replays thread messages as chat turns carrying only their text.
// Messages without content (a reply that never streamed) are skipped.
func History(messages []thread.Message) []completion.Message {
	out := make([]completion.Message, 0, len(messages))
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		role := completion.RoleUser
		if m.Role == thread.RoleAssistant {
			role = completion.RoleAssistant
		}
		out = append(out, completion.Message{Role: role, Content: m.Content})
	}
	return out
}

// Build assembles the request for one review cycle. t must be the thread as
// it was before the pending assistant reply was added. A follow-up replays
// the thread history instead of building a fresh user message.
func Build(t *thread.Thread, doc thread.Document, action thread.Action, customPrompt string, followUp bool) completion.Request {
	req := completion.Request{System: systemPrompt}
	if followUp {
		if history := History(t.Messages); len(history) > 0 {
			req.Messages = history
			return req
		}
	}
	req.Messages = []completion.Message{{
		Role: completion.RoleUser,
		Content: BuildUserMessage(Selection{
			Code:      t.OriginalCode,
			FullCode:  doc.Code,
			Language:  doc.Language,
			StartLine: t.StartLine,
			EndLine:   t.EndLine,
		}, action, customPrompt),
	}}
	return req
}
