package conversation

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Backend is the durable persistence collaborator consulted by the store.
// Saves are synchronous and transactional; the store assumes failures are
// rare and non-corrupting and does not roll back beyond not mutating its
// own projection.
type Backend interface {
	SaveConversation(c *Conversation) error
	SaveMessage(m *Message) error
	UpdateConversationTitle(id NodeID, title string) error
	UpdateMessageText(id NodeID, text string) error
	DeleteConversation(id NodeID) error
	DeleteAll() error
	Load() ([]*Conversation, []*Message, error)
}

// ChangeHook observes the store's version counter. It is invoked after every
// successful write, with the new version, while the store lock is held.
type ChangeHook func(version uint64)

type StoreImpl struct {
	mu      sync.Mutex
	backend Backend

	conversations map[NodeID]*Conversation
	convOrder     []NodeID
	messages      map[NodeID]*Message
	// byConversation keeps insertion order; retrieval sorts by timestamp.
	byConversation map[NodeID][]NodeID

	version  uint64
	onChange ChangeHook
}

var _ Store = (*StoreImpl)(nil)

type StoreOption func(*StoreImpl)

func WithChangeHook(hook ChangeHook) StoreOption {
	return func(s *StoreImpl) {
		s.onChange = hook
	}
}

// NewStore builds a store over the given backend and hydrates the in-memory
// projection from it.
func NewStore(backend Backend, options ...StoreOption) (*StoreImpl, error) {
	s := &StoreImpl{
		backend:        backend,
		conversations:  map[NodeID]*Conversation{},
		messages:       map[NodeID]*Message{},
		byConversation: map[NodeID][]NodeID{},
	}
	for _, option := range options {
		option(s)
	}

	convs, msgs, err := backend.Load()
	if err != nil {
		return nil, errors.Wrap(ErrPersistence, err.Error())
	}
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].CreatedAt.Before(convs[j].CreatedAt)
	})
	for _, c := range convs {
		s.conversations[c.ID] = c
		s.convOrder = append(s.convOrder, c.ID)
	}
	for _, m := range msgs {
		s.messages[m.ID] = m
		s.byConversation[m.ConversationID] = append(s.byConversation[m.ConversationID], m.ID)
	}

	return s, nil
}

func (s *StoreImpl) bumpLocked() {
	s.version++
	if s.onChange != nil {
		s.onChange(s.version)
	}
}

func (s *StoreImpl) CreateConversation(title string, options ...ConversationOption) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := NewConversation(title, options...)
	if err := s.backend.SaveConversation(c); err != nil {
		return nil, errors.Wrap(ErrPersistence, err.Error())
	}

	s.conversations[c.ID] = c
	s.convOrder = append(s.convOrder, c.ID)
	s.bumpLocked()

	log.Debug().Str("conversation_id", c.ID.String()).Str("title", title).Msg("created conversation")
	return s.cloneConversation(c), nil
}

func (s *StoreImpl) GetConversation(id NodeID) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "conversation %s", id)
	}
	return s.cloneConversation(c), nil
}

func (s *StoreImpl) Conversations() []*Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	ret := make([]*Conversation, 0, len(s.convOrder))
	for _, id := range s.convOrder {
		ret = append(ret, s.cloneConversation(s.conversations[id]))
	}
	return ret
}

func (s *StoreImpl) UpdateConversationTitle(id NodeID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "conversation %s", id)
	}
	if err := s.backend.UpdateConversationTitle(id, title); err != nil {
		return errors.Wrap(ErrPersistence, err.Error())
	}
	c.Title = title
	s.bumpLocked()
	return nil
}

func (s *StoreImpl) DeleteConversation(id NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return errors.Wrapf(ErrNotFound, "conversation %s", id)
	}
	if err := s.backend.DeleteConversation(id); err != nil {
		return errors.Wrap(ErrPersistence, err.Error())
	}

	for _, msgID := range s.byConversation[id] {
		delete(s.messages, msgID)
	}
	delete(s.byConversation, id)
	delete(s.conversations, id)
	for i, cid := range s.convOrder {
		if cid == id {
			s.convOrder = append(s.convOrder[:i], s.convOrder[i+1:]...)
			break
		}
	}
	s.bumpLocked()

	log.Debug().Str("conversation_id", id.String()).Msg("deleted conversation")
	return nil
}

func (s *StoreImpl) DeleteAllConversations() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.DeleteAll(); err != nil {
		return errors.Wrap(ErrPersistence, err.Error())
	}
	s.conversations = map[NodeID]*Conversation{}
	s.convOrder = nil
	s.messages = map[NodeID]*Message{}
	s.byConversation = map[NodeID][]NodeID{}
	s.bumpLocked()
	return nil
}

func (s *StoreImpl) CreateMessage(conversationID NodeID, isUser bool, text string, options ...MessageOption) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "conversation %s", conversationID)
	}

	m := NewMessage(conversationID, isUser, text, options...)
	if err := s.backend.SaveMessage(m); err != nil {
		return nil, errors.Wrap(ErrPersistence, err.Error())
	}

	// The title defaults to the first user turn's text when it was not set
	// explicitly. A backend failure here leaves the message committed but
	// the default title unset, which is benign.
	if isUser && c.Title == "" {
		if err := s.backend.UpdateConversationTitle(conversationID, text); err == nil {
			c.Title = text
		} else {
			log.Warn().Err(err).Str("conversation_id", conversationID.String()).
				Msg("failed to persist default title")
		}
	}

	s.messages[m.ID] = m
	s.byConversation[conversationID] = append(s.byConversation[conversationID], m.ID)
	s.bumpLocked()

	return s.cloneMessage(m), nil
}

func (s *StoreImpl) GetMessage(id NodeID) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "message %s", id)
	}
	return s.cloneMessage(m), nil
}

func (s *StoreImpl) Messages(conversationID NodeID) (Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, errors.Wrapf(ErrNotFound, "conversation %s", conversationID)
	}

	ids := s.byConversation[conversationID]
	ret := make(Thread, 0, len(ids))
	for _, id := range ids {
		ret = append(ret, s.cloneMessage(s.messages[id]))
	}
	sort.SliceStable(ret, func(i, j int) bool {
		return ret[i].Time.Before(ret[j].Time)
	})
	return ret, nil
}

func (s *StoreImpl) UpdateMessageText(id NodeID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "message %s", id)
	}
	if err := s.backend.UpdateMessageText(id, text); err != nil {
		return errors.Wrap(ErrPersistence, err.Error())
	}
	m.Text = text
	s.bumpLocked()
	return nil
}

func (s *StoreImpl) CountUserMessages() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, m := range s.messages {
		if m.IsUser {
			count++
		}
	}
	return count
}

func (s *StoreImpl) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Clones keep consumers from reaching into the projection; entity ownership
// stays with the store.

func (s *StoreImpl) cloneConversation(c *Conversation) *Conversation {
	ret := *c
	return &ret
}

func (s *StoreImpl) cloneMessage(m *Message) *Message {
	ret := *m
	if m.Attachment != nil {
		a := *m.Attachment
		ret.Attachment = &a
	}
	return &ret
}
