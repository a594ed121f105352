package conversation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type NodeID uuid.UUID

func (id NodeID) MarshalJSON() ([]byte, error) {
	return json.Marshal(uuid.UUID(id).String())
}

func (id *NodeID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*id = NodeID(u)
	return nil
}

func (id NodeID) String() string {
	return uuid.UUID(id).String()
}

func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

func ParseNodeID(s string) (NodeID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NullNode, err
	}
	return NodeID(u), nil
}

var NullNode = NodeID(uuid.Nil)

// Sentinel texts are system-generated assistant turns inserted by the
// lifecycle manager so a conversation never ends mid-stream after a
// cancellation or a connectivity loss.
const (
	SentinelCancelled    = "Message generation cancelled."
	SentinelConnectivity = "Network connection lost, reconnecting…"
)

// IsSentinel reports whether the message is a system-generated assistant
// placeholder rather than model output.
func (m *Message) IsSentinel() bool {
	return !m.IsUser && (m.Text == SentinelCancelled || m.Text == SentinelConnectivity)
}

type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentDocument AttachmentKind = "document"
)

// Attachment describes a file carried by a message. Inline holds the bytes
// that were actually transmitted to the provider; for images this is the
// re-encoded copy, not the original file.
type Attachment struct {
	Kind      AttachmentKind `json:"kind"`
	Locator   string         `json:"locator"`
	Inline    []byte         `json:"inline,omitempty"`
	MediaType string         `json:"mediaType,omitempty"`
}

// Message is a single turn in a conversation. Messages of a conversation are
// ordered ascending by Time; there is no explicit sequence number. Assistant
// text may be replaced in place (regeneration, sentinel insertion); it is
// the only field ever updated after creation.
type Message struct {
	ID             NodeID      `json:"id"`
	ConversationID NodeID      `json:"conversationID"`
	IsUser         bool        `json:"isUser"`
	Text           string      `json:"text"`
	Time           time.Time   `json:"time"`
	Attachment     *Attachment `json:"attachment,omitempty"`
}

type MessageOption func(*Message)

func WithID(id NodeID) MessageOption {
	return func(m *Message) {
		m.ID = id
	}
}

func WithTime(t time.Time) MessageOption {
	return func(m *Message) {
		m.Time = t
	}
}

func WithAttachment(a *Attachment) MessageOption {
	return func(m *Message) {
		m.Attachment = a
	}
}

func NewMessage(conversationID NodeID, isUser bool, text string, options ...MessageOption) *Message {
	ret := &Message{
		ID:             NewNodeID(),
		ConversationID: conversationID,
		IsUser:         isUser,
		Text:           text,
		Time:           time.Now(),
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

// Conversation is an ordered thread of messages with a title and creation
// time. Messages are not embedded; they are retrieved from the store, sorted
// ascending by timestamp.
type Conversation struct {
	ID        NodeID    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

type ConversationOption func(*Conversation)

func WithConversationID(id NodeID) ConversationOption {
	return func(c *Conversation) {
		c.ID = id
	}
}

func WithCreatedAt(t time.Time) ConversationOption {
	return func(c *Conversation) {
		c.CreatedAt = t
	}
}

func NewConversation(title string, options ...ConversationOption) *Conversation {
	ret := &Conversation{
		ID:        NewNodeID(),
		Title:     title,
		CreatedAt: time.Now(),
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

// Thread is an ordered message sequence as returned by Store.Messages.
type Thread []*Message

// LastUserMessage returns the most recent user turn, or nil.
func (t Thread) LastUserMessage() *Message {
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].IsUser {
			return t[i]
		}
	}
	return nil
}

// LastAssistantMessage returns the most recent assistant turn, or nil.
func (t Thread) LastAssistantMessage() *Message {
	for i := len(t) - 1; i >= 0; i-- {
		if !t[i].IsUser {
			return t[i]
		}
	}
	return nil
}

// AssistantAfter returns the first assistant message that chronologically
// follows the message with the given id, or nil if none exists.
func (t Thread) AssistantAfter(id NodeID) *Message {
	seen := false
	for _, m := range t {
		if seen && !m.IsUser {
			return m
		}
		if m.ID == id {
			seen = true
		}
	}
	return nil
}

// FilterSentinels drops sentinel assistant turns, so a cancellation or
// connectivity placeholder never pollutes context sent to the model.
func (t Thread) FilterSentinels() Thread {
	ret := make(Thread, 0, len(t))
	for _, m := range t {
		if m.IsSentinel() {
			continue
		}
		ret = append(ret, m)
	}
	return ret
}

// UpTo returns the prefix of the thread up to and including the message with
// the given id. The second return is false if the id is not in the thread.
func (t Thread) UpTo(id NodeID) (Thread, bool) {
	for i, m := range t {
		if m.ID == id {
			return t[:i+1], true
		}
	}
	return nil, false
}
