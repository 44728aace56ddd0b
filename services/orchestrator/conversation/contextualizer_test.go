package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/exponentia-ai/comet/services/orchestrator/datatypes"
)

func testConfig() ContextualizerConfig {
	return ContextualizerConfig{Enabled: true, MaxTurns: 4, TimeoutMs: 5000}
}

func historyOf(turns ...string) []datatypes.Message {
	msgs := make([]datatypes.Message, 0, len(turns))
	for i, content := range turns {
		role := datatypes.RoleUser
		if i%2 == 1 {
			role = datatypes.RoleAssistant
		}
		msgs = append(msgs, datatypes.Message{Role: role, Content: content})
	}
	return msgs
}

func TestContextualize_IdentityOnEmptyHistory(t *testing.T) {
	called := false
	gen := func(ctx context.Context, prompt string) (string, error) {
		called = true
		return "should not be used", nil
	}

	c := NewContextualizer(gen, testConfig())
	got := c.Contextualize(context.Background(), nil, "What is Go?")

	if got != "What is Go?" {
		t.Errorf("got %q, want input unchanged", got)
	}
	if called {
		t.Error("generate must not be called when history is empty")
	}
}

func TestContextualize_IdentityWhenDisabled(t *testing.T) {
	gen := func(ctx context.Context, prompt string) (string, error) {
		t.Fatal("generate must not be called when disabled")
		return "", nil
	}

	cfg := testConfig()
	cfg.Enabled = false
	c := NewContextualizer(gen, cfg)

	got := c.Contextualize(context.Background(), historyOf("q", "a"), "tell me more")
	if got != "tell me more" {
		t.Errorf("got %q, want input unchanged", got)
	}
}

func TestContextualize_TrimsWhitespaceAndQuotes(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{
			name:     "double quotes",
			response: `"How large is the population of Paris?"`,
			want:     "How large is the population of Paris?",
		},
		{
			name:     "single quotes and whitespace",
			response: "  'How large is Paris?'  \n",
			want:     "How large is Paris?",
		},
		{
			name:     "clean response untouched",
			response: "How large is Paris?",
			want:     "How large is Paris?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := func(ctx context.Context, prompt string) (string, error) {
				return tt.response, nil
			}
			c := NewContextualizer(gen, testConfig())
			got := c.Contextualize(context.Background(), historyOf("Tell me about Paris", "Paris is..."), "how large?")
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestContextualize_FallsBackOnFailure(t *testing.T) {
	tests := []struct {
		name string
		gen  GenerateFunc
	}{
		{
			name: "provider error",
			gen: func(ctx context.Context, prompt string) (string, error) {
				return "", errors.New("model unavailable")
			},
		},
		{
			name: "empty rewrite",
			gen: func(ctx context.Context, prompt string) (string, error) {
				return "  \"\"  ", nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewContextualizer(tt.gen, testConfig())
			got := c.Contextualize(context.Background(), historyOf("q", "a"), "tell me more")
			if got != "tell me more" {
				t.Errorf("got %q, want raw input on failure", got)
			}
		})
	}
}

func TestContextualize_PromptUsesLastFourTurns(t *testing.T) {
	var gotPrompt string
	gen := func(ctx context.Context, prompt string) (string, error) {
		gotPrompt = prompt
		return "rewritten", nil
	}

	history := historyOf(
		"first question about whales",
		"whales answer",
		"second question about dolphins",
		"dolphins answer",
		"third question about seals",
		"seals answer",
	)

	c := NewContextualizer(gen, testConfig())
	c.Contextualize(context.Background(), history, "what do they eat?")

	if strings.Contains(gotPrompt, "whales") {
		t.Error("prompt should not include turns beyond the last four")
	}
	if !strings.Contains(gotPrompt, "third question about seals") {
		t.Error("prompt should include the most recent turns")
	}
	if !strings.Contains(gotPrompt, "User: third question about seals") {
		t.Error("history lines should be formatted as 'Role: content'")
	}
	if !strings.Contains(gotPrompt, "Assistant: seals answer") {
		t.Error("assistant turns should be labeled")
	}
	if !strings.Contains(gotPrompt, "Follow-up Question: what do they eat?") {
		t.Error("prompt should name the follow-up question")
	}
}
