package conversation

import (
	"fmt"
	"strings"

	"github.com/exponentia-ai/comet/services/orchestrator/datatypes"
)

// titleWordCount is how many leading words of the first user message
// become the session title.
const titleWordCount = 5

// BuildAnswerPrompt assembles the synthesis prompt from the question,
// the retrieved evidence and the conversation history.
//
// The model is instructed to answer only from the supplied context,
// cite with markdown links, and say explicitly when the context does
// not contain the answer. History turns prefer PlainText over Content
// so markdown citation syntax from earlier answers does not leak into
// the prompt.
func BuildAnswerPrompt(question string, sources []datatypes.Source, history []datatypes.Message) string {
	var b strings.Builder

	b.WriteString("You are a helpful research assistant that answers questions using web search results.\n\n")

	if len(sources) > 0 {
		b.WriteString("Web search results:\n\n")
		for _, src := range sources {
			b.WriteString(fmt.Sprintf("Source: %s\nURL: %s\nContent: %s\n\n", src.Title, src.URL, src.Content))
		}
	} else {
		b.WriteString("Web search returned no results for this question.\n\n")
	}

	if len(history) > 0 {
		b.WriteString("Conversation history:\n")
		for _, turn := range history {
			text := turn.Content
			if turn.PlainText != "" {
				text = turn.PlainText
			}
			b.WriteString(fmt.Sprintf("%s: %s\n", capitalizeRole(turn.Role), text))
		}
		b.WriteString("\n")
	}

	b.WriteString(fmt.Sprintf("Question: %s\n\n", question))

	b.WriteString(`Instructions:
- Answer using ONLY the information in the web search results above.
- Cite your sources inline with markdown links, e.g. [Source Title](URL), using the titles and URLs given.
- If the search results do not contain the information needed, say so explicitly instead of guessing.
- Write in a clear, professional tone. Use markdown formatting where it helps readability.`)

	return b.String()
}

// DeriveTitle returns the first few words of a message for use as a
// session title. Empty input yields an empty title (caller keeps the
// existing one).
func DeriveTitle(message string) string {
	words := strings.Fields(message)
	if len(words) == 0 {
		return ""
	}
	if len(words) > titleWordCount {
		words = words[:titleWordCount]
	}
	return strings.Join(words, " ")
}
