// Package conversation owns the Conversation and Message entities of the
// chat engine and their invariants.
//
// The Store is the only owner of entities: consumers hold identifiers, never
// pointers whose validity survives a delete. Writes are committed to the
// durable backend synchronously before the in-memory projection is touched;
// a backend failure therefore never leaves the projection ahead of the
// durable store. Every successful write bumps a monotonic version counter,
// which is the only externally observable signal that the message list
// changed.
package conversation

import "github.com/pkg/errors"

var (
	// ErrNotFound is returned when an entity id is unknown to the store.
	ErrNotFound = errors.New("entity not found")
	// ErrPersistence wraps durable-backend failures. When it is returned,
	// the in-memory projection has not been mutated.
	ErrPersistence = errors.New("persistence error")
)

// Store provides CRUD and ordered retrieval over conversations and messages.
type Store interface {
	CreateConversation(title string, options ...ConversationOption) (*Conversation, error)
	GetConversation(id NodeID) (*Conversation, error)
	Conversations() []*Conversation
	UpdateConversationTitle(id NodeID, title string) error
	DeleteConversation(id NodeID) error
	DeleteAllConversations() error

	CreateMessage(conversationID NodeID, isUser bool, text string, options ...MessageOption) (*Message, error)
	GetMessage(id NodeID) (*Message, error)
	// Messages returns the conversation's thread sorted ascending by
	// timestamp. This ordering is the sole sequencing contract.
	Messages(conversationID NodeID) (Thread, error)
	UpdateMessageText(id NodeID, text string) error

	// CountUserMessages counts user turns across all conversations. It is a
	// projection, not a stored counter.
	CountUserMessages() int

	// Version increments on every successful write.
	Version() uint64
}
