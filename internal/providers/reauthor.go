package providers

import (
	"fmt"
	"strings"

	"github.com/quorumchat/quorum/pkg/models"
)

// foreignResultLimit bounds the text of another model's tool result when it
// is narrated into the transcript.
const foreignResultLimit = 2000

// Reauthor rewrites the shared transcript into a first-person view for the
// client identified by selfID:
//
//   - Assistant messages produced by other models become user messages of the
//     form "[<model> says]: <content>", with their tool calls dropped.
//   - Tool messages are split by ownership. Results for the client's own tool
//     calls stay tool-role messages (adapters render them in the provider's
//     native tool-result block). Results for another model's calls become
//     user messages of the form "[Tool Result (Success|Error)]: <content>",
//     truncated to a bounded length.
//   - User, system, and the client's own assistant messages pass through.
//
// Ownership is decided by scanning earlier assistant messages in the original
// transcript for tool-call ids issued by selfID. Without this rewrite a model
// would see the whole conversation as its own words and hallucinate having
// said things other participants said, or try to answer tool calls it never
// issued.
//
// The function is pure: the same transcript always yields the same view.
func Reauthor(messages []models.Message, selfID string) []models.Message {
	out := make([]models.Message, 0, len(messages))

	for i, msg := range messages {
		switch msg.Role {
		case models.RoleAssistant:
			if isForeign(msg.Model, selfID) {
				out = append(out, models.Message{
					Role:    models.RoleUser,
					Content: fmt.Sprintf("[%s says]: %s", msg.Model, msg.Content),
				})
				continue
			}
			out = append(out, msg)

		case models.RoleTool:
			ownIDs := ownToolCallIDs(messages[:i], selfID)
			for _, result := range msg.ToolResults {
				if ownIDs[result.ToolCallID] {
					out = append(out, models.Message{
						Role:        models.RoleTool,
						Model:       msg.Model,
						ToolResults: []models.ToolResult{result},
					})
					continue
				}
				status := "Success"
				if result.IsError {
					status = "Error"
				}
				content := result.Content
				if len(content) > foreignResultLimit {
					content = content[:foreignResultLimit-3] + "..."
				}
				out = append(out, models.Message{
					Role:    models.RoleUser,
					Content: fmt.Sprintf("[Tool Result (%s)]: %s", status, content),
				})
			}

		default:
			out = append(out, msg)
		}
	}

	return out
}

// ownToolCallIDs collects tool-call ids issued by selfID in prior assistant
// messages. An assistant message with no model field counts as our own.
func ownToolCallIDs(prior []models.Message, selfID string) map[string]bool {
	ids := make(map[string]bool)
	for _, msg := range prior {
		if msg.Role != models.RoleAssistant {
			continue
		}
		if isForeign(msg.Model, selfID) {
			continue
		}
		for _, tc := range msg.ToolCalls {
			ids[tc.ID] = true
		}
	}
	return ids
}

func isForeign(model, selfID string) bool {
	return model != "" && !strings.EqualFold(model, selfID)
}
