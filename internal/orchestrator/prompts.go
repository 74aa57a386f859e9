package orchestrator

import (
	"fmt"
	"strings"

	"github.com/quorumchat/quorum/pkg/models"
)

// shouldSpeakPrompt asks a model to decide whether it has something to add
// this turn. The model must answer with a bare JSON object.
const shouldSpeakPrompt = `You are %[1]s participating in a collaborative group coding chat with other AI assistants (%[2]s).

CURRENT CONVERSATION:
%[3]s

USER'S LATEST MESSAGE:
%[4]s

%[5]s

DECISION CRITERIA - Should you respond?
1. Do you have a genuinely different perspective or approach not yet mentioned?
2. Is there an error, security concern, or important caveat in previous responses?
3. Can you add meaningful technical value beyond what's been said?
4. Were you directly addressed or @mentioned?
5. Does the question touch on your particular strengths?

If other models have already provided excellent, complete answers and you'd just be repeating them, stay SILENT.

Respond with ONLY valid JSON (no markdown, no explanation):
{"should_speak": true, "confidence": 0.7, "reason": "brief 1-sentence explanation"}

Rules for confidence:
- 0.9-1.0: You have critical/unique information others missed
- 0.7-0.8: You have a valuable different perspective
- 0.5-0.6: You might add some value but unsure
- 0.3-0.4: Minimal value to add
- 0.0-0.2: Would just be repeating others`

// previousResponsesTemplate is included in the should-speak prompt only when
// earlier contributors have already replied this turn.
const previousResponsesTemplate = `RESPONSES FROM OTHER MODELS IN THIS TURN:
%s

Note: You're seeing these responses before deciding if you should speak. If they've already covered the topic well, consider staying silent.`

// systemPromptTemplate frames a contributor's reply inside the group chat.
const systemPromptTemplate = `You are %[1]s, an AI assistant in a collaborative coding group chat.

GROUP CHAT CONTEXT:
- Other AI assistants in this chat: %[2]s
- You're part of a team helping users with coding problems
- Each assistant may contribute their perspective
- Responses should be complementary, not redundant

YOUR ROLE:
- Provide your unique perspective and expertise
- Be concise but thorough
- If you agree with another model, add value rather than repeat
- Acknowledge and build upon good points from other models
- Be direct and technical - this is a coding chat

FORMATTING:
- Use markdown for code blocks with language tags
- Keep explanations focused and practical
- Include code examples when helpful`

// contextSummaryPrompt compresses conversation history that no longer fits
// the context budget.
const contextSummaryPrompt = `Summarize this conversation history for context in a coding group chat.
Keep:
- Key technical decisions made
- Important code snippets or file references
- Unresolved questions or tasks
- Error messages or issues encountered

Discard:
- Pleasantries and greetings
- Redundant explanations
- Verbose code that can be referenced by filename

CONVERSATION TO SUMMARIZE:
%s

Provide a concise technical summary (aim for 500-1000 tokens):`

// priorResponse pairs a contributor with what it said earlier this turn.
type priorResponse struct {
	Model   string
	Content string
}

// formatShouldSpeakPrompt renders the evaluation prompt for one candidate.
func formatShouldSpeakPrompt(modelName string, otherModels []string, history, userMessage string, previous []priorResponse) string {
	if history == "" {
		history = "(No previous messages)"
	}

	var previousSection string
	if len(previous) > 0 {
		lines := make([]string, len(previous))
		for i, r := range previous {
			lines[i] = fmt.Sprintf("[%s]: %s", r.Model, r.Content)
		}
		previousSection = fmt.Sprintf(previousResponsesTemplate, strings.Join(lines, "\n\n"))
	}

	return fmt.Sprintf(shouldSpeakPrompt,
		modelName, strings.Join(otherModels, ", "), history, userMessage, previousSection)
}

// formatSystemPrompt renders the contributor system prompt, appending extra
// context (e.g. a digest of earlier in-turn responses) when present.
func formatSystemPrompt(modelName string, otherModels []string, extraContext string) string {
	prompt := fmt.Sprintf(systemPromptTemplate, modelName, strings.Join(otherModels, ", "))
	if extraContext != "" {
		prompt += "\n\nADDITIONAL CONTEXT:\n" + extraContext
	}
	return prompt
}

// formatContextSummaryPrompt renders the summarization prompt.
func formatContextSummaryPrompt(conversation string) string {
	return fmt.Sprintf(contextSummaryPrompt, conversation)
}

// formatConversation renders the most recent messages for inclusion in a
// prompt, each line prefixed with role and producing model, content capped
// at 500 characters.
func formatConversation(conversation []models.Message, maxMessages int) string {
	if len(conversation) == 0 {
		return ""
	}
	recent := conversation
	if len(recent) > maxMessages {
		recent = recent[len(recent)-maxMessages:]
	}

	lines := make([]string, 0, len(recent))
	for _, msg := range recent {
		tag := ""
		if msg.Model != "" {
			tag = fmt.Sprintf(" [%s]", msg.Model)
		}
		content := msg.Content
		if len(content) > 500 {
			content = content[:500] + "..."
		}
		lines = append(lines, fmt.Sprintf("%s%s: %s", strings.ToUpper(string(msg.Role)), tag, content))
	}
	return strings.Join(lines, "\n\n")
}
