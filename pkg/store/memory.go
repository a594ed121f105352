package store

import (
	"sync"

	"github.com/go-go-golems/prattle/pkg/conversation"
)

// Memory is a Backend that keeps everything in process. It backs tests and
// ephemeral sessions; FailNext allows injecting a save failure to exercise
// the store's no-mutation-on-error contract.
type Memory struct {
	mu            sync.Mutex
	conversations map[conversation.NodeID]*conversation.Conversation
	messages      map[conversation.NodeID]*conversation.Message
	failNext      error
}

var _ conversation.Backend = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		conversations: map[conversation.NodeID]*conversation.Conversation{},
		messages:      map[conversation.NodeID]*conversation.Message{},
	}
}

// FailNext makes the next write return err.
func (m *Memory) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

func (m *Memory) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *Memory) SaveConversation(c *conversation.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	cc := *c
	m.conversations[c.ID] = &cc
	return nil
}

func (m *Memory) SaveMessage(msg *conversation.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	mm := *msg
	m.messages[msg.ID] = &mm
	return nil
}

func (m *Memory) UpdateConversationTitle(id conversation.NodeID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	if c, ok := m.conversations[id]; ok {
		c.Title = title
	}
	return nil
}

func (m *Memory) UpdateMessageText(id conversation.NodeID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	if msg, ok := m.messages[id]; ok {
		msg.Text = text
	}
	return nil
}

func (m *Memory) DeleteConversation(id conversation.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	delete(m.conversations, id)
	for msgID, msg := range m.messages {
		if msg.ConversationID == id {
			delete(m.messages, msgID)
		}
	}
	return nil
}

func (m *Memory) DeleteAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.conversations = map[conversation.NodeID]*conversation.Conversation{}
	m.messages = map[conversation.NodeID]*conversation.Message{}
	return nil
}

func (m *Memory) Load() ([]*conversation.Conversation, []*conversation.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	convs := make([]*conversation.Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		cc := *c
		convs = append(convs, &cc)
	}
	msgs := make([]*conversation.Message, 0, len(m.messages))
	for _, msg := range m.messages {
		mm := *msg
		msgs = append(msgs, &mm)
	}
	return convs, msgs, nil
}
