// Package engine owns the request lifecycle of the chat client: at most one
// in-flight completion request per engine instance, with send, cancel and
// regenerate semantics and deterministic recovery from cancellation,
// timeout and connectivity loss.
//
// All entity-store writes and all lifecycle transitions happen under one
// mutex, the engine's coordination context. Network round-trips run in one
// goroutine per request and re-enter the engine through apply(), which
// discards the completion unless its handle is still the active one.
package engine

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/prattle/pkg/chat"
	"github.com/go-go-golems/prattle/pkg/conversation"
	"github.com/go-go-golems/prattle/pkg/documents"
	"github.com/go-go-golems/prattle/pkg/events"
	"github.com/go-go-golems/prattle/pkg/media"
	"github.com/go-go-golems/prattle/pkg/quota"
)

type State int

const (
	StateIdle State = iota
	StateSending
)

// Publisher is the slice of the event router the engine needs.
type Publisher interface {
	Publish(ev events.Event) error
}

// AttachmentInput is a user-selected file accompanying a turn.
type AttachmentInput struct {
	Kind conversation.AttachmentKind
	Path string
}

// handle is the engine's single in-flight request. Starting a new request
// always cancels and discards the previous handle first.
type handle struct {
	id             uuid.UUID
	conversationID conversation.NodeID
	// target is the user message whose assistant reply the completion
	// replaces (or follows); set for both send and regenerate so completion
	// application is uniform.
	target  conversation.NodeID
	cancel  context.CancelFunc
	pending *Pending
}

type Engine struct {
	mu sync.Mutex

	store   conversation.Store
	builder *chat.Builder
	client  chat.Client
	gate    *quota.Gate
	pub     Publisher

	active   conversation.NodeID
	state    State
	inflight *handle

	logger zerolog.Logger
}

type Option func(*Engine)

func WithPublisher(pub Publisher) Option {
	return func(e *Engine) {
		e.pub = pub
	}
}

func New(store conversation.Store, builder *chat.Builder, client chat.Client, gate *quota.Gate, options ...Option) *Engine {
	ret := &Engine{
		store:   store,
		builder: builder,
		client:  client,
		gate:    gate,
		active:  conversation.NullNode,
		logger:  log.With().Str("component", "engine").Logger(),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (e *Engine) publish(ev events.Event) {
	if e.pub == nil {
		return
	}
	if err := e.pub.Publish(ev); err != nil {
		e.logger.Warn().Err(err).Msg("failed to publish event")
	}
}

// ActiveConversation returns the selected conversation id, or NullNode.
func (e *Engine) ActiveConversation() conversation.NodeID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// State reports whether a request is in flight.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// NewConversation creates and selects a fresh conversation. The title
// defaults to the first user turn once one is sent.
func (e *Engine) NewConversation(title string) (*conversation.Conversation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.store.CreateConversation(title)
	if err != nil {
		return nil, err
	}
	e.discardInflightLocked()
	e.active = c.ID
	return c, nil
}

// SetActiveConversation switches the engine to another conversation,
// cancelling and discarding any in-flight request first. NullNode deselects.
func (e *Engine) SetActiveConversation(id conversation.NodeID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if id != conversation.NullNode {
		if _, err := e.store.GetConversation(id); err != nil {
			return err
		}
	}
	e.discardInflightLocked()
	e.active = id
	return nil
}

// DeleteConversation removes a conversation and its messages; if it was
// active, the engine deselects it.
func (e *Engine) DeleteConversation(id conversation.NodeID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == id {
		e.discardInflightLocked()
		e.active = conversation.NullNode
	}
	return e.store.DeleteConversation(id)
}

// Send persists a new user turn in the active conversation (creating one if
// none is selected) and issues the completion request. A quota denial
// resolves immediately with OutcomeQuotaDenied: no message is created, no
// request is sent, no state transition occurs.
func (e *Engine) Send(ctx context.Context, text string, attachment *AttachmentInput) (*Pending, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.gate.Enforce() {
		return resolvedPending(Result{Outcome: OutcomeQuotaDenied}), nil
	}

	if e.active == conversation.NullNode {
		c, err := e.store.CreateConversation("")
		if err != nil {
			return nil, err
		}
		e.active = c.ID
	}
	convID := e.active

	turn, stored, err := e.prepareAttachment(text, attachment, false)
	if err != nil {
		return nil, err
	}

	// Ordered history before this turn; the builder appends the new turn
	// itself. Sentinels are deliberately not filtered on the plain send
	// path.
	history, err := e.store.Messages(convID)
	if err != nil {
		return nil, err
	}

	var opts []conversation.MessageOption
	if stored != nil {
		opts = append(opts, conversation.WithAttachment(stored))
	}
	userMsg, err := e.store.CreateMessage(convID, true, text, opts...)
	if err != nil {
		// Persistence failure aborts the send before any network call.
		return nil, err
	}

	req := e.builder.Build(history, turn, "")
	return e.startLocked(ctx, convID, userMsg.ID, func(cctx context.Context) (*chat.Response, error) {
		return e.client.Complete(cctx, req)
	}), nil
}

// SendSingleShot issues a feature invocation: fixed system prompt, one user
// turn, no conversation history. The turn is still persisted in the active
// conversation so the feature transcript is observable, and the request
// shares the full lifecycle semantics.
func (e *Engine) SendSingleShot(ctx context.Context, systemPrompt string, text string, attachment *AttachmentInput) (*Pending, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.gate.Enforce() {
		return resolvedPending(Result{Outcome: OutcomeQuotaDenied}), nil
	}

	if e.active == conversation.NullNode {
		c, err := e.store.CreateConversation("")
		if err != nil {
			return nil, err
		}
		e.active = c.ID
	}
	convID := e.active

	turn, stored, err := e.prepareAttachment(text, attachment, true)
	if err != nil {
		return nil, err
	}

	var opts []conversation.MessageOption
	if stored != nil {
		opts = append(opts, conversation.WithAttachment(stored))
	}
	userMsg, err := e.store.CreateMessage(convID, true, text, opts...)
	if err != nil {
		return nil, err
	}

	req := e.builder.Build(nil, turn, systemPrompt)
	return e.startLocked(ctx, convID, userMsg.ID, func(cctx context.Context) (*chat.Response, error) {
		return e.client.Complete(cctx, req)
	}), nil
}

// Regenerate re-issues the request for the given user turn. No new user
// message is created; history is the conversation prefix up to and
// including the target, with sentinel assistant turns filtered out. On
// success the assistant message that chronologically follows the target is
// replaced in place, or a new one is appended if none exists.
func (e *Engine) Regenerate(ctx context.Context, target conversation.NodeID) (*Pending, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == conversation.NullNode {
		return nil, errors.New("no active conversation")
	}
	convID := e.active

	thread, err := e.store.Messages(convID)
	if err != nil {
		return nil, err
	}

	prefix, ok := thread.UpTo(target)
	if !ok {
		return nil, errors.Wrapf(conversation.ErrNotFound, "message %s", target)
	}
	targetMsg := prefix[len(prefix)-1]
	if !targetMsg.IsUser {
		return nil, errors.Errorf("message %s is not a user turn", target)
	}

	prefix = prefix.FilterSentinels()

	req := e.builder.BuildHistory(prefix, "")
	return e.startLocked(ctx, convID, target, func(cctx context.Context) (*chat.Response, error) {
		return e.client.Complete(cctx, req)
	}), nil
}

// Cancel cancels the in-flight request, if any, and inserts the
// cancellation sentinel so the conversation ends on a terminating assistant
// turn. The racing completion, whenever the network layer delivers it, is
// discarded.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()

	h := e.inflight
	if h == nil {
		return
	}
	e.discardInflightLocked()

	e.insertSentinelLocked(h.conversationID, conversation.SentinelCancelled)
	e.publish(events.NewRequestEvent(events.EventTypeRequestCancelled, h.id.String(), h.conversationID))
}

// prepareAttachment turns a user-selected file into the payload turn and
// the stored attachment descriptor. Images go through the single
// re-encoding pass: the persisted copy and the transmitted copy are the
// same bytes. singleShot selects the feature document path (inline capped
// text) over the chat path (inline marker).
func (e *Engine) prepareAttachment(text string, attachment *AttachmentInput, singleShot bool) (chat.Turn, *conversation.Attachment, error) {
	turn := chat.Turn{Text: text}
	if attachment == nil {
		return turn, nil, nil
	}

	switch attachment.Kind {
	case conversation.AttachmentImage:
		enc, err := media.ReencodeFile(attachment.Path)
		if err != nil {
			return turn, nil, errors.Wrap(err, "re-encode image")
		}
		turn.Image = enc
		return turn, &conversation.Attachment{
			Kind:      conversation.AttachmentImage,
			Locator:   attachment.Path,
			Inline:    enc.Bytes,
			MediaType: enc.MediaType,
		}, nil

	case conversation.AttachmentDocument:
		stored := &conversation.Attachment{
			Kind:    conversation.AttachmentDocument,
			Locator: attachment.Path,
		}
		if singleShot {
			text, err := documents.Extract(attachment.Path)
			if err != nil {
				return turn, nil, errors.Wrap(err, "extract document")
			}
			turn.DocumentText = text
		} else {
			turn.DocumentName = filepath.Base(attachment.Path)
		}
		return turn, stored, nil

	default:
		return turn, nil, errors.Errorf("unknown attachment kind %q", attachment.Kind)
	}
}

// discardInflightLocked cancels the current handle and resolves its pending
// as cancelled, without inserting a sentinel. Used when a request is
// superseded (new send, conversation switch); explicit Cancel() adds the
// sentinel itself.
func (e *Engine) discardInflightLocked() {
	h := e.inflight
	if h == nil {
		return
	}
	h.cancel()
	h.pending.resolve(Result{Outcome: OutcomeCancelled})
	e.inflight = nil
	e.state = StateIdle
	e.logger.Debug().Str("request_id", h.id.String()).Msg("discarded in-flight request")
}

// startLocked transitions to Sending and launches the round-trip. Must be
// called with the engine lock held.
func (e *Engine) startLocked(ctx context.Context, convID conversation.NodeID, target conversation.NodeID, call func(context.Context) (*chat.Response, error)) *Pending {
	e.discardInflightLocked()

	cctx, cancel := context.WithCancel(ctx)
	h := &handle{
		id:             uuid.New(),
		conversationID: convID,
		target:         target,
		cancel:         cancel,
		pending:        newPending(),
	}
	e.inflight = h
	e.state = StateSending

	e.logger.Debug().
		Str("request_id", h.id.String()).
		Str("conversation_id", convID.String()).
		Msg("sending")
	e.publish(events.NewRequestEvent(events.EventTypeRequestStarted, h.id.String(), convID))

	go func() {
		resp, err := call(cctx)
		cancel()
		e.apply(h, resp, err)
	}()

	return h.pending
}

// apply is the single re-entry point for completed round-trips. Stale
// completions, where the handle is no longer the active one, are discarded
// unconditionally: the sentinel for their cancellation has already been
// handled (or deliberately skipped) at discard time.
func (e *Engine) apply(h *handle, resp *chat.Response, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inflight != h {
		e.logger.Debug().Str("request_id", h.id.String()).Msg("discarding stale completion")
		h.pending.resolve(Result{Outcome: OutcomeCancelled})
		return
	}
	e.inflight = nil
	e.state = StateIdle

	if err != nil {
		e.applyFailureLocked(h, err)
		return
	}

	reply, rerr := resp.ReplyText()
	if rerr != nil {
		e.applyFailureLocked(h, rerr)
		return
	}

	if serr := e.applyReplyLocked(h, reply); serr != nil {
		e.logger.Error().Err(serr).Msg("failed to persist assistant reply")
		h.pending.resolve(Result{Outcome: OutcomeProviderFailure, Err: serr})
		return
	}

	e.publish(events.NewRequestEvent(events.EventTypeRequestFinished, h.id.String(), h.conversationID))
	h.pending.resolve(Result{Outcome: OutcomeSucceeded, Reply: reply})
}

// applyReplyLocked applies the regeneration-replace logic uniformly: the
// assistant message chronologically following the target user turn is
// replaced in place; if none exists a new assistant message is appended.
func (e *Engine) applyReplyLocked(h *handle, reply string) error {
	thread, err := e.store.Messages(h.conversationID)
	if err != nil {
		return err
	}

	if following := thread.AssistantAfter(h.target); following != nil {
		return e.store.UpdateMessageText(following.ID, reply)
	}
	_, err = e.store.CreateMessage(h.conversationID, false, reply)
	return err
}

func (e *Engine) applyFailureLocked(h *handle, err error) {
	switch {
	case errors.Is(err, chat.ErrCancelled):
		// Expected result of Cancel racing the network layer; the sentinel
		// was inserted by Cancel itself. Fully suppressed.
		e.logger.Debug().Str("request_id", h.id.String()).Msg("request cancelled")
		h.pending.resolve(Result{Outcome: OutcomeCancelled})

	case chat.IsRecoverable(err):
		kind := "connectivity"
		if errors.Is(err, chat.ErrTimeout) {
			kind = "timeout"
		}
		e.logger.Warn().Err(err).Str("kind", kind).Msg("transient network failure")
		e.insertSentinelLocked(h.conversationID, conversation.SentinelConnectivity)
		e.publish(events.NewRequestFailedEvent(h.id.String(), h.conversationID, kind))
		h.pending.resolve(Result{Outcome: OutcomeRecoverableFailure, Err: err})

	default:
		// Provider/validation errors: logged, surfaced generically, no
		// sentinel. The conversation stays in its pre-call state so the
		// user can retry the same turn.
		e.logger.Error().Err(err).Msg("provider request failed")
		e.publish(events.NewRequestFailedEvent(h.id.String(), h.conversationID, "provider"))
		h.pending.resolve(Result{Outcome: OutcomeProviderFailure, Err: err})
	}
}

// insertSentinelLocked overwrites the final message's text with the
// sentinel when it is an assistant turn, or appends a sentinel assistant
// message otherwise. Only applies when the conversation has at least one
// user message: the guarantee is that a started exchange always ends on a
// terminating assistant turn, not that empty conversations grow content.
func (e *Engine) insertSentinelLocked(convID conversation.NodeID, text string) {
	thread, err := e.store.Messages(convID)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to read thread for sentinel insertion")
		return
	}
	if thread.LastUserMessage() == nil {
		return
	}

	if last := thread[len(thread)-1]; !last.IsUser {
		if err := e.store.UpdateMessageText(last.ID, text); err != nil {
			e.logger.Error().Err(err).Msg("failed to overwrite sentinel")
		}
		return
	}
	if _, err := e.store.CreateMessage(convID, false, text); err != nil {
		e.logger.Error().Err(err).Msg("failed to insert sentinel")
	}
}
