package events

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/prattle/pkg/conversation"
)

type EventType string

const (
	// EventTypeStoreChanged is the coarse-grained mutation signal: the store
	// version changed, the message list should be re-read. It deliberately
	// does not say which message changed.
	EventTypeStoreChanged EventType = "store-changed"
	// EventTypeQuotaDenied tells the UI to show the upgrade surface.
	EventTypeQuotaDenied      EventType = "quota-denied"
	EventTypeRequestStarted   EventType = "request-started"
	EventTypeRequestFinished  EventType = "request-finished"
	EventTypeRequestCancelled EventType = "request-cancelled"
	EventTypeRequestFailed    EventType = "request-failed"
)

type Event interface {
	Type() EventType
}

type EventImpl struct {
	Type_ EventType `json:"type"`
	Time  time.Time `json:"time"`
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_)).Time("at", e.Time)
}

type EventStoreChanged struct {
	EventImpl
	Version uint64 `json:"version"`
}

func NewStoreChangedEvent(version uint64) *EventStoreChanged {
	return &EventStoreChanged{
		EventImpl: EventImpl{Type_: EventTypeStoreChanged, Time: time.Now()},
		Version:   version,
	}
}

type EventQuotaDenied struct {
	EventImpl
	UserMessages int `json:"userMessages"`
	Threshold    int `json:"threshold"`
}

func NewQuotaDeniedEvent(userMessages int, threshold int) *EventQuotaDenied {
	return &EventQuotaDenied{
		EventImpl:    EventImpl{Type_: EventTypeQuotaDenied, Time: time.Now()},
		UserMessages: userMessages,
		Threshold:    threshold,
	}
}

// EventRequest reports lifecycle transitions of the in-flight request.
type EventRequest struct {
	EventImpl
	RequestID      string              `json:"requestID"`
	ConversationID conversation.NodeID `json:"conversationID"`
	// FailureKind is set for request-failed events: "timeout",
	// "connectivity" or "provider".
	FailureKind string `json:"failureKind,omitempty"`
}

func NewRequestEvent(type_ EventType, requestID string, conversationID conversation.NodeID) *EventRequest {
	return &EventRequest{
		EventImpl:      EventImpl{Type_: type_, Time: time.Now()},
		RequestID:      requestID,
		ConversationID: conversationID,
	}
}

func NewRequestFailedEvent(requestID string, conversationID conversation.NodeID, failureKind string) *EventRequest {
	e := NewRequestEvent(EventTypeRequestFailed, requestID, conversationID)
	e.FailureKind = failureKind
	return e
}

// NewEventFromJSON decodes a published payload back into its typed event.
func NewEventFromJSON(b []byte) (Event, error) {
	var peek EventImpl
	if err := json.Unmarshal(b, &peek); err != nil {
		return nil, errors.Wrap(err, "peek event type")
	}

	var ret Event
	switch peek.Type_ {
	case EventTypeStoreChanged:
		ret = &EventStoreChanged{}
	case EventTypeQuotaDenied:
		ret = &EventQuotaDenied{}
	case EventTypeRequestStarted, EventTypeRequestFinished,
		EventTypeRequestCancelled, EventTypeRequestFailed:
		ret = &EventRequest{}
	default:
		return nil, errors.Errorf("unknown event type %q", peek.Type_)
	}

	if err := json.Unmarshal(b, ret); err != nil {
		return nil, errors.Wrapf(err, "decode %s event", peek.Type_)
	}
	return ret, nil
}
