package chat

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/prattle/pkg/conversation"
	"github.com/go-go-golems/prattle/pkg/media"
	"github.com/go-go-golems/prattle/pkg/tokens"
)

// Turn is the newest user input handed to the builder. Attachments arrive
// pre-processed: images as the single re-encoded copy, documents either as a
// name (chat path, inline marker) or as capped extracted text (feature
// path).
type Turn struct {
	Text         string
	Image        *media.Encoded
	DocumentName string
	DocumentText string
}

// Builder serializes a conversation's ordered history plus a new user turn
// into a provider request body.
type Builder struct {
	model string
}

func NewBuilder(model string) *Builder {
	return &Builder{model: model}
}

// Build produces the request. systemPrompt is empty for full-conversation
// chat and non-empty for single-shot features. history must already be the
// ordered (and, for regeneration, truncated and sentinel-filtered) thread;
// the new turn is appended after it.
func (b *Builder) Build(history conversation.Thread, turn Turn, systemPrompt string) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)

	if systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}

	for _, m := range history {
		role := openai.ChatMessageRoleAssistant
		if m.IsUser {
			role = openai.ChatMessageRoleUser
		}
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Text,
		})
	}

	msgs = append(msgs, b.userTurn(turn))

	req := openai.ChatCompletionRequest{
		Model:    b.model,
		Messages: msgs,
	}

	log.Debug().
		Str("model", b.model).
		Int("history", len(history)).
		Int("prompt_tokens_estimate", estimateRequest(msgs)).
		Msg("built completion request")

	return req
}

// BuildHistory renders a stored thread without a new turn, for the
// regeneration path where the target user message is already part of the
// prefix.
func (b *Builder) BuildHistory(history conversation.Thread, systemPrompt string) openai.ChatCompletionRequest {
	if len(history) == 0 {
		return b.Build(nil, Turn{}, systemPrompt)
	}
	last := history[len(history)-1]
	return b.Build(history[:len(history)-1], turnFromMessage(last), systemPrompt)
}

// userTurn renders the newest user input as a structured content list: a
// text part, plus an image part when an image is attached. Document
// attachments fold into the text part.
func (b *Builder) userTurn(turn Turn) openai.ChatCompletionMessage {
	text := turn.Text
	if turn.DocumentName != "" {
		text = fmt.Sprintf("%s\n[Document attached: %s]", text, turn.DocumentName)
	}
	if turn.DocumentText != "" {
		text = fmt.Sprintf("%s\n\n%s", text, turn.DocumentText)
	}

	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: text},
	}
	if turn.Image != nil {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL: turn.Image.DataURL(),
			},
		})
	}

	return openai.ChatCompletionMessage{
		Role:         openai.ChatMessageRoleUser,
		MultiContent: parts,
	}
}

// turnFromMessage rebuilds a Turn from a persisted user message, reusing the
// stored re-encoded attachment bytes.
func turnFromMessage(m *conversation.Message) Turn {
	turn := Turn{Text: m.Text}
	if m.Attachment == nil {
		return turn
	}
	switch m.Attachment.Kind {
	case conversation.AttachmentImage:
		if len(m.Attachment.Inline) > 0 {
			turn.Image = &media.Encoded{
				Bytes:     m.Attachment.Inline,
				MediaType: m.Attachment.MediaType,
			}
		}
	case conversation.AttachmentDocument:
		turn.DocumentName = filepath.Base(m.Attachment.Locator)
	}
	return turn
}

func estimateRequest(msgs []openai.ChatCompletionMessage) int {
	total := 0
	for _, m := range msgs {
		total += tokens.EstimateOrZero(m.Content)
		for _, p := range m.MultiContent {
			if p.Type == openai.ChatMessagePartTypeText {
				total += tokens.EstimateOrZero(p.Text)
			}
		}
	}
	return total
}
