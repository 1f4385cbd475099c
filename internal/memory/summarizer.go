package memory

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/openai/openai-go"
)

// DefaultMaxInputTokens is the maximum transcript length sent for
// summarization (in tokens).
const DefaultMaxInputTokens = 8000

// ChatSummarizer condenses conversation history using GPT-4o-mini.
type ChatSummarizer struct {
	client    *openai.Client
	maxTokens int
}

// NewChatSummarizer creates a summarizer with the given OpenAI client.
// Optional maxTokens parameter sets the transcript truncation limit
// (defaults to DefaultMaxInputTokens).
func NewChatSummarizer(client *openai.Client, maxTokens ...int) *ChatSummarizer {
	max := DefaultMaxInputTokens
	if len(maxTokens) > 0 && maxTokens[0] > 0 {
		max = maxTokens[0]
	}
	return &ChatSummarizer{
		client:    client,
		maxTokens: max,
	}
}

// Summarize folds older messages into a rolling summary. previousSummary
// may be empty on the first pass.
func (s *ChatSummarizer) Summarize(ctx context.Context, previousSummary string, messages []*Message) (string, error) {
	transcript := s.truncateTranscript(renderTranscript(messages))

	var sb strings.Builder
	sb.WriteString("Condense the following conversation into a short summary that preserves the topics discussed, decisions made, and any facts the assistant should remember.\n\n")
	if previousSummary != "" {
		fmt.Fprintf(&sb, "Existing summary of earlier conversation:\n%s\n\n", previousSummary)
		sb.WriteString("Fold the new messages below into the existing summary.\n\n")
	}
	fmt.Fprintf(&sb, "Messages:\n%s\n\nRespond with the updated summary only, no preamble.", transcript)

	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(sb.String()),
		},
		Model: openai.ChatModelGPT4oMini,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// truncateTranscript truncates the transcript to fit within token limits.
// Uses rough estimate of 4 characters per token, keeping the most recent
// messages.
func (s *ChatSummarizer) truncateTranscript(transcript string) string {
	maxChars := s.maxTokens * 4
	if len(transcript) <= maxChars {
		return transcript
	}
	// Move the cut forward to a rune boundary so the kept tail never
	// starts mid-character.
	cut := len(transcript) - maxChars
	for cut < len(transcript) && !utf8.RuneStart(transcript[cut]) {
		cut++
	}
	return transcript[cut:]
}

func renderTranscript(messages []*Message) string {
	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	return sb.String()
}
