package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/exponentia-ai/comet/services/orchestrator/datatypes"
)

// GenerateFunc is a function type for LLM text generation.
//
// # Description
//
// Using a function type instead of an interface allows callers to pass
// a simple closure, eliminating the need for adapter structs when the
// underlying LLM client has a different signature.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - prompt: The prompt to send to the LLM.
//
// # Outputs
//
//   - string: The generated text.
//   - error: Non-nil if generation fails.
type GenerateFunc func(ctx context.Context, prompt string) (string, error)

// ContextualizerConfig holds configuration for query rewriting.
type ContextualizerConfig struct {
	// Enabled controls whether rewriting is active. If false,
	// Contextualize returns the input unchanged.
	// Default: true (CONTEXTUALIZER_ENABLED)
	Enabled bool

	// MaxTurns is how many trailing history messages feed the rewrite.
	// Default: 4 (CONTEXTUALIZER_MAX_TURNS)
	MaxTurns int

	// TimeoutMs is the timeout in milliseconds for the rewrite LLM call.
	// Default: 5000 (CONTEXTUALIZER_TIMEOUT_MS)
	TimeoutMs int
}

// DefaultContextualizerConfig returns the default configuration,
// overridable via environment variables.
func DefaultContextualizerConfig() ContextualizerConfig {
	return ContextualizerConfig{
		Enabled:   getEnvBool("CONTEXTUALIZER_ENABLED", true),
		MaxTurns:  getEnvInt("CONTEXTUALIZER_MAX_TURNS", 4),
		TimeoutMs: getEnvInt("CONTEXTUALIZER_TIMEOUT_MS", 5000),
	}
}

// getEnvBool returns an environment variable as bool, or defaultVal if not set/invalid.
func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

// getEnvInt returns an environment variable as int, or defaultVal if not set/invalid.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

// Contextualizer rewrites follow-up questions into standalone search
// queries using recent conversation history.
//
// # Description
//
// "How big is it?" only retrieves useful evidence when "it" is resolved
// against the prior turns. The contextualizer asks an LLM to rewrite
// the question with that context folded in. Rewriting is best-effort:
// every failure path falls back to the user's raw input so a flaky
// model can never block a turn.
//
// # Thread Safety
//
// Contextualizer is safe for concurrent use.
type Contextualizer struct {
	generate GenerateFunc
	config   ContextualizerConfig
}

// NewContextualizer creates a Contextualizer with the given generate
// function and config.
func NewContextualizer(generate GenerateFunc, config ContextualizerConfig) *Contextualizer {
	return &Contextualizer{
		generate: generate,
		config:   config,
	}
}

// Contextualize returns a standalone rewrite of input, or input itself.
//
// # Description
//
// Identity cases: rewriting disabled, empty history. Failure cases
// (LLM error, timeout, empty rewrite) log a warning and return the
// input unchanged. The rewrite has surrounding whitespace and quote
// characters stripped, since models love to quote their answers.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - history: Conversation so far, oldest first. The user's current
//     message must NOT be included.
//   - input: The user's current message.
//
// # Outputs
//
//   - string: The query to search with. Never empty if input is non-empty.
func (c *Contextualizer) Contextualize(ctx context.Context, history []datatypes.Message, input string) string {
	if !c.config.Enabled || len(history) == 0 {
		return input
	}

	prompt := c.buildRewritePrompt(history, input)

	timeout := time.Duration(c.config.TimeoutMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	response, err := c.generate(ctx, prompt)
	if err != nil {
		slog.Warn("Query rewrite failed, using the raw input", "error", err)
		return input
	}

	rewritten := strings.TrimSpace(response)
	rewritten = strings.Trim(rewritten, `"'`)
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		slog.Warn("Query rewrite returned empty text, using the raw input")
		return input
	}

	slog.Debug("Query contextualized", "input_len", len(input), "rewritten_len", len(rewritten))
	return rewritten
}

// buildRewritePrompt creates the standalone-question rewrite prompt
// over the last MaxTurns history messages.
func (c *Contextualizer) buildRewritePrompt(history []datatypes.Message, input string) string {
	turns := history
	if len(turns) > c.config.MaxTurns {
		turns = turns[len(turns)-c.config.MaxTurns:]
	}

	var historyText strings.Builder
	for _, msg := range turns {
		historyText.WriteString(fmt.Sprintf("%s: %s\n", capitalizeRole(msg.Role), msg.Content))
	}

	return fmt.Sprintf(`Given the conversation history below and a follow-up question, rewrite the follow-up question as a single standalone question that includes all context needed to understand it on its own.

Conversation History:
%s
Follow-up Question: %s

Respond with the rewritten question only, no explanation and no quotes.`, historyText.String(), input)
}

func capitalizeRole(role string) string {
	if role == "" {
		return role
	}
	return strings.ToUpper(role[:1]) + role[1:]
}
