package chat

// Wire types for the completion provider. Requests reuse go-openai's types
// so the serialized shape is the library's. Responses get their own types
// because the provider returns `content` either as a plain string or as a
// list of typed parts, and both shapes must decode without erroring.

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// ResponsePart is one entry of a structured content list.
type ResponsePart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// MessageContent is the two-variant content sum: either a plain string or a
// parts list. Exactly one variant is populated after decoding.
type MessageContent struct {
	Plain string
	Parts []ResponsePart
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*c = MessageContent{}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = MessageContent{Plain: s}
		return nil
	}

	var parts []ResponsePart
	if err := json.Unmarshal(data, &parts); err != nil {
		return errors.Wrap(err, "content is neither a string nor a parts list")
	}
	*c = MessageContent{Parts: parts}
	return nil
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Plain)
}

// Text normalizes both variants to plain text. Text parts are concatenated
// in order; non-text parts are skipped.
func (c MessageContent) Text() string {
	if c.Parts == nil {
		return c.Plain
	}
	var sb strings.Builder
	for _, p := range c.Parts {
		if p.Type == "" || p.Type == "text" {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

type ResponseMessage struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

type ResponseChoice struct {
	Index   int             `json:"index"`
	Message ResponseMessage `json:"message"`
}

type Response struct {
	ID      string           `json:"id"`
	Choices []ResponseChoice `json:"choices"`
}

// ReplyText extracts the assistant reply from the first choice.
func (r *Response) ReplyText() (string, error) {
	if len(r.Choices) == 0 {
		return "", errors.New("response has no choices")
	}
	return r.Choices[0].Message.Content.Text(), nil
}
