package agent

import (
	"fmt"

	"github.com/comigor/jarvis-rag/pkg/tools"
)

// DefaultSystemPrompt is used when llm.system_prompt is not configured.
var DefaultSystemPrompt = fmt.Sprintf(`You are an expert assistant answering questions with two tools:

1. %[1]s searches the knowledge base.
2. %[2]s returns the earlier messages of a conversation.

Pick the tool before answering:

- Questions about previous questions, answers, messages or anything discussed before ("earlier", "last time", "you said", "I asked") go to %[2]s. Summarize what it returns in chronological order and mention when each message was sent.
- Questions about facts or concepts go to %[1]s. Answer from the returned passages: open with a short explanation, cover the key points with details and examples, cite passages as [Source 1], [Source 2] and so on, and close with a brief summary followed by the list of sources you used.

Use headers and lists where they help. If the tools return nothing useful, say so instead of guessing.`,
	tools.RetrieveToolName, tools.HistoryToolName)

// BuildInstruction renders the single user turn sent to the model for a
// query. It carries the conversation id so the model can pass it to the
// history tool.
func BuildInstruction(query, conversationID string) string {
	return fmt.Sprintf(`Please answer this question: %[1]s

First decide what kind of question this is:
1. If it is about the conversation history, previous messages or past interactions, call %[2]s with exactly these arguments:
   {"conversation_id": %[3]q, "exclude_current": true}
2. If it needs information from the knowledge base, call %[4]s.

Your current conversation ID is: %[3]s
Keep exclude_current set to true so the question being answered is not returned as history.`,
		query, tools.HistoryToolName, conversationID, tools.RetrieveToolName)
}
