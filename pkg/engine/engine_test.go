package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/prattle/pkg/chat"
	"github.com/go-go-golems/prattle/pkg/conversation"
	"github.com/go-go-golems/prattle/pkg/engine"
	"github.com/go-go-golems/prattle/pkg/quota"
	"github.com/go-go-golems/prattle/pkg/store"
)

// completeFunc lets each test script the provider's behavior per request.
type completeFunc func(ctx context.Context, req openai.ChatCompletionRequest) (*chat.Response, error)

type stubClient struct {
	mu       sync.Mutex
	fn       completeFunc
	requests []openai.ChatCompletionRequest
}

var _ chat.Client = (*stubClient)(nil)

func (c *stubClient) Complete(ctx context.Context, req openai.ChatCompletionRequest) (*chat.Response, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	fn := c.fn
	c.mu.Unlock()
	return fn(ctx, req)
}

func (c *stubClient) lastRequest(t *testing.T) openai.ChatCompletionRequest {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.requests)
	return c.requests[len(c.requests)-1]
}

func reply(text string) *chat.Response {
	return &chat.Response{
		Choices: []chat.ResponseChoice{
			{Message: chat.ResponseMessage{Role: "assistant", Content: chat.MessageContent{Plain: text}}},
		},
	}
}

// newTurnText extracts the text part of a request's newest (multi-content)
// user message.
func newTurnText(req openai.ChatCompletionRequest) string {
	if len(req.Messages) == 0 {
		return ""
	}
	last := req.Messages[len(req.Messages)-1]
	for _, p := range last.MultiContent {
		if p.Type == openai.ChatMessagePartTypeText {
			return p.Text
		}
	}
	return last.Content
}

func newTestEngine(t *testing.T, fn completeFunc, gateOptions ...quota.GateOption) (*engine.Engine, *conversation.StoreImpl, *stubClient) {
	t.Helper()

	st, err := conversation.NewStore(store.NewMemory())
	require.NoError(t, err)

	client := &stubClient{fn: fn}
	gate := quota.NewGate(
		quota.EntitlementFunc(func() bool { return len(gateOptions) == 0 }),
		st, gateOptions...)

	e := engine.New(st, chat.NewBuilder("gpt-4o-mini"), client, gate)
	return e, st, client
}

func messages(t *testing.T, st conversation.Store, id conversation.NodeID) conversation.Thread {
	t.Helper()
	thread, err := st.Messages(id)
	require.NoError(t, err)
	return thread
}

func TestSendAppendsUserAndAssistantTurn(t *testing.T) {
	e, st, _ := newTestEngine(t, func(ctx context.Context, req openai.ChatCompletionRequest) (*chat.Response, error) {
		return reply("hello"), nil
	})

	p, err := e.Send(context.Background(), "hi", nil)
	require.NoError(t, err)

	r := p.Wait()
	require.Equal(t, engine.OutcomeSucceeded, r.Outcome)
	assert.Equal(t, "hello", r.Reply)
	assert.Equal(t, engine.StateIdle, e.State())

	thread := messages(t, st, e.ActiveConversation())
	require.Len(t, thread, 2)
	assert.True(t, thread[0].IsUser)
	assert.Equal(t, "hi", thread[0].Text)
	assert.False(t, thread[1].IsUser)
	assert.Equal(t, "hello", thread[1].Text)

	c, err := st.GetConversation(e.ActiveConversation())
	require.NoError(t, err)
	assert.Equal(t, "hi", c.Title)
}

func TestSecondSendSupersedesFirst(t *testing.T) {
	e, st, _ := newTestEngine(t, func(ctx context.Context, req openai.ChatCompletionRequest) (*chat.Response, error) {
		if newTurnText(req) == "one" {
			<-ctx.Done()
			return nil, chat.ErrCancelled
		}
		return reply("second reply"), nil
	})

	p1, err := e.Send(context.Background(), "one", nil)
	require.NoError(t, err)
	p2, err := e.Send(context.Background(), "two", nil)
	require.NoError(t, err)

	r1 := p1.Wait()
	r2 := p2.Wait()
	assert.Equal(t, engine.OutcomeCancelled, r1.Outcome)
	require.Equal(t, engine.OutcomeSucceeded, r2.Outcome)
	assert.Equal(t, "second reply", r2.Reply)

	// exactly one completion was applied, and no sentinel for the
	// superseded request
	thread := messages(t, st, e.ActiveConversation())
	require.Len(t, thread, 3)
	assert.Equal(t, "one", thread[0].Text)
	assert.Equal(t, "two", thread[1].Text)
	assert.Equal(t, "second reply", thread[2].Text)
}

func TestCancelInsertsSentinel(t *testing.T) {
	started := make(chan struct{})
	e, st, _ := newTestEngine(t, func(ctx context.Context, req openai.ChatCompletionRequest) (*chat.Response, error) {
		close(started)
		<-ctx.Done()
		return nil, chat.ErrCancelled
	})

	p, err := e.Send(context.Background(), "hi", nil)
	require.NoError(t, err)
	<-started

	e.Cancel()
	r := p.Wait()
	assert.Equal(t, engine.OutcomeCancelled, r.Outcome)
	assert.Equal(t, engine.StateIdle, e.State())

	thread := messages(t, st, e.ActiveConversation())
	require.Len(t, thread, 2)
	assert.True(t, thread[0].IsUser)
	assert.False(t, thread[1].IsUser)
	assert.Equal(t, conversation.SentinelCancelled, thread[1].Text)
}

func TestCancelOverwritesTrailingAssistantTurn(t *testing.T) {
	block := false
	started := make(chan struct{}, 1)
	e, st, _ := newTestEngine(t, func(ctx context.Context, req openai.ChatCompletionRequest) (*chat.Response, error) {
		if block {
			started <- struct{}{}
			<-ctx.Done()
			return nil, chat.ErrCancelled
		}
		return reply("hello"), nil
	})

	p, err := e.Send(context.Background(), "hi", nil)
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeSucceeded, p.Wait().Outcome)

	thread := messages(t, st, e.ActiveConversation())
	require.Len(t, thread, 2)
	target := thread[0].ID

	block = true
	p, err = e.Regenerate(context.Background(), target)
	require.NoError(t, err)
	<-started
	e.Cancel()
	require.Equal(t, engine.OutcomeCancelled, p.Wait().Outcome)

	// the trailing assistant message is overwritten, not joined by a second
	// sentinel
	thread = messages(t, st, e.ActiveConversation())
	require.Len(t, thread, 2)
	assert.Equal(t, conversation.SentinelCancelled, thread[1].Text)
}

func TestCancelWithoutInflightIsNoop(t *testing.T) {
	e, st, _ := newTestEngine(t, func(ctx context.Context, req openai.ChatCompletionRequest) (*chat.Response, error) {
		return reply("hello"), nil
	})

	e.Cancel()
	assert.Equal(t, engine.StateIdle, e.State())
	assert.Equal(t, conversation.NullNode, e.ActiveConversation())
	assert.Empty(t, st.Conversations())
}

func TestRegenerateReplacesFollowingAssistantTurn(t *testing.T) {
	e, st, _ := newTestEngine(t, func(ctx context.Context, req openai.ChatCompletionRequest) (*chat.Response, error) {
		return reply("hey there"), nil
	})

	c, err := e.NewConversation("")
	require.NoError(t, err)
	base := time.Now()
	user, err := st.CreateMessage(c.ID, true, "hi", conversation.WithTime(base))
	require.NoError(t, err)
	asst, err := st.CreateMessage(c.ID, false, "hello", conversation.WithTime(base.Add(time.Second)))
	require.NoError(t, err)

	p, err := e.Regenerate(context.Background(), user.ID)
	require.NoError(t, err)
	r := p.Wait()
	require.Equal(t, engine.OutcomeSucceeded, r.Outcome)

	thread := messages(t, st, c.ID)
	require.Len(t, thread, 2)
	assert.Equal(t, "hi", thread[0].Text)
	assert.Equal(t, "hey there", thread[1].Text)
	// replaced in place: same message entity
	assert.Equal(t, asst.ID, thread[1].ID)
}

func TestRegenerateAppendsWhenNoAssistantTurnFollows(t *testing.T) {
	e, st, _ := newTestEngine(t, func(ctx context.Context, req openai.ChatCompletionRequest) (*chat.Response, error) {
		return reply("hey there"), nil
	})

	c, err := e.NewConversation("")
	require.NoError(t, err)
	user, err := st.CreateMessage(c.ID, true, "hi")
	require.NoError(t, err)

	p, err := e.Regenerate(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeSucceeded, p.Wait().Outcome)

	thread := messages(t, st, c.ID)
	require.Len(t, thread, 2)
	assert.Equal(t, "hey there", thread[1].Text)
}

func TestRegenerateTruncatesAndLeavesLaterTurnsIntact(t *testing.T) {
	e, st, client := newTestEngine(t, func(ctx context.Context, req openai.ChatCompletionRequest) (*chat.Response, error) {
		return reply("b2"), nil
	})

	c, err := e.NewConversation("")
	require.NoError(t, err)
	base := time.Now()
	u1, err := st.CreateMessage(c.ID, true, "a", conversation.WithTime(base))
	require.NoError(t, err)
	_, err = st.CreateMessage(c.ID, false, "b", conversation.WithTime(base.Add(time.Second)))
	require.NoError(t, err)
	_, err = st.CreateMessage(c.ID, true, "c", conversation.WithTime(base.Add(2*time.Second)))
	require.NoError(t, err)
	_, err = st.CreateMessage(c.ID, false, "d", conversation.WithTime(base.Add(3*time.Second)))
	require.NoError(t, err)

	p, err := e.Regenerate(context.Background(), u1.ID)
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeSucceeded, p.Wait().Outcome)

	// the request only carried the prefix up to the target
	req := client.lastRequest(t)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "a", newTurnText(req))

	// later turns are untouched; only the reply following the target changed
	thread := messages(t, st, c.ID)
	require.Len(t, thread, 4)
	assert.Equal(t, []string{"a", "b2", "c", "d"},
		[]string{thread[0].Text, thread[1].Text, thread[2].Text, thread[3].Text})
}

func TestRegenerateFiltersSentinelsFromPayload(t *testing.T) {
	e, st, client := newTestEngine(t, func(ctx context.Context, req openai.ChatCompletionRequest) (*chat.Response, error) {
		return reply("answer"), nil
	})

	c, err := e.NewConversation("")
	require.NoError(t, err)
	base := time.Now()
	_, err = st.CreateMessage(c.ID, true, "q1", conversation.WithTime(base))
	require.NoError(t, err)
	_, err = st.CreateMessage(c.ID, false, conversation.SentinelCancelled, conversation.WithTime(base.Add(time.Second)))
	require.NoError(t, err)
	u2, err := st.CreateMessage(c.ID, true, "q2", conversation.WithTime(base.Add(2*time.Second)))
	require.NoError(t, err)

	p, err := e.Regenerate(context.Background(), u2.ID)
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeSucceeded, p.Wait().Outcome)

	req := client.lastRequest(t)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "q1", req.Messages[0].Content)
	assert.Equal(t, "q2", newTurnText(req))
}

func TestSendKeepsSentinelsInPayload(t *testing.T) {
	e, st, client := newTestEngine(t, func(ctx context.Context, req openai.ChatCompletionRequest) (*chat.Response, error) {
		return reply("answer"), nil
	})

	c, err := e.NewConversation("")
	require.NoError(t, err)
	base := time.Now()
	_, err = st.CreateMessage(c.ID, true, "q1", conversation.WithTime(base))
	require.NoError(t, err)
	_, err = st.CreateMessage(c.ID, false, conversation.SentinelCancelled, conversation.WithTime(base.Add(time.Second)))
	require.NoError(t, err)

	p, err := e.Send(context.Background(), "q2", nil)
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeSucceeded, p.Wait().Outcome)

	req := client.lastRequest(t)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, conversation.SentinelCancelled, req.Messages[1].Content)
}

func TestRegenerateRejectsAssistantTarget(t *testing.T) {
	e, st, _ := newTestEngine(t, func(ctx context.Context, req openai.ChatCompletionRequest) (*chat.Response, error) {
		return reply("x"), nil
	})

	c, err := e.NewConversation("")
	require.NoError(t, err)
	_, err = st.CreateMessage(c.ID, true, "hi")
	require.NoError(t, err)
	asst, err := st.CreateMessage(c.ID, false, "hello")
	require.NoError(t, err)

	_, err = e.Regenerate(context.Background(), asst.ID)
	require.Error(t, err)
	_, err = e.Regenerate(context.Background(), conversation.NewNodeID())
	assert.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestQuotaDenialIsANoop(t *testing.T) {
	denials := 0
	e, st, _ := newTestEngine(t, func(ctx context.Context, req openai.ChatCompletionRequest) (*chat.Response, error) {
		return reply("hello"), nil
	}, quota.WithThreshold(1), quota.WithDeniedHook(func(userMessages, threshold int) {
		denials++
	}))

	p, err := e.Send(context.Background(), "first", nil)
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeSucceeded, p.Wait().Outcome)

	versionBefore := st.Version()
	p, err = e.Send(context.Background(), "second", nil)
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeQuotaDenied, p.Wait().Outcome)

	// no message created, no request sent, exactly one denial signal
	assert.Equal(t, 1, denials)
	assert.Equal(t, versionBefore, st.Version())
	assert.Equal(t, 1, st.CountUserMessages())
	assert.Equal(t, engine.StateIdle, e.State())
}

func TestRecoverableFailureInsertsConnectivitySentinel(t *testing.T) {
	e, st, _ := newTestEngine(t, func(ctx context.Context, req openai.ChatCompletionRequest) (*chat.Response, error) {
		return nil, chat.ErrTimeout
	})

	p, err := e.Send(context.Background(), "hi", nil)
	require.NoError(t, err)
	r := p.Wait()
	require.Equal(t, engine.OutcomeRecoverableFailure, r.Outcome)
	assert.ErrorIs(t, r.Err, chat.ErrTimeout)

	thread := messages(t, st, e.ActiveConversation())
	require.Len(t, thread, 2)
	assert.Equal(t, "hi", thread[0].Text)
	assert.Equal(t, conversation.SentinelConnectivity, thread[1].Text)
}

func TestProviderFailureLeavesConversationUntouched(t *testing.T) {
	e, st, _ := newTestEngine(t, func(ctx context.Context, req openai.ChatCompletionRequest) (*chat.Response, error) {
		return nil, &chat.ProviderError{StatusCode: 401, Body: "invalid api key"}
	})

	p, err := e.Send(context.Background(), "hi", nil)
	require.NoError(t, err)
	r := p.Wait()
	require.Equal(t, engine.OutcomeProviderFailure, r.Outcome)
	require.Error(t, r.Err)

	// user turn persisted before the call; no sentinel, no reply
	thread := messages(t, st, e.ActiveConversation())
	require.Len(t, thread, 1)
	assert.Equal(t, "hi", thread[0].Text)
}

func TestSwitchingConversationDiscardsInflightSilently(t *testing.T) {
	started := make(chan struct{})
	e, st, _ := newTestEngine(t, func(ctx context.Context, req openai.ChatCompletionRequest) (*chat.Response, error) {
		close(started)
		<-ctx.Done()
		return nil, chat.ErrCancelled
	})

	other, err := st.CreateConversation("other")
	require.NoError(t, err)

	p, err := e.Send(context.Background(), "hi", nil)
	require.NoError(t, err)
	first := e.ActiveConversation()
	<-started

	require.NoError(t, e.SetActiveConversation(other.ID))
	require.Equal(t, engine.OutcomeCancelled, p.Wait().Outcome)
	assert.Equal(t, other.ID, e.ActiveConversation())

	// implicit discard: no sentinel in the abandoned conversation
	thread := messages(t, st, first)
	require.Len(t, thread, 1)
	assert.Equal(t, "hi", thread[0].Text)
}

func TestSendSingleShotCarriesSystemPromptAndNoHistory(t *testing.T) {
	e, st, client := newTestEngine(t, func(ctx context.Context, req openai.ChatCompletionRequest) (*chat.Response, error) {
		return reply("summary"), nil
	})

	c, err := e.NewConversation("")
	require.NoError(t, err)
	base := time.Now()
	_, err = st.CreateMessage(c.ID, true, "older turn", conversation.WithTime(base))
	require.NoError(t, err)
	_, err = st.CreateMessage(c.ID, false, "older reply", conversation.WithTime(base.Add(time.Second)))
	require.NoError(t, err)

	p, err := e.SendSingleShot(context.Background(), "You are a summarizer.", "summarize this", nil)
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeSucceeded, p.Wait().Outcome)

	req := client.lastRequest(t)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, "You are a summarizer.", req.Messages[0].Content)
	assert.Equal(t, "summarize this", newTurnText(req))

	// the turn is still persisted in the conversation
	thread := messages(t, st, c.ID)
	require.Len(t, thread, 4)
	assert.Equal(t, "summarize this", thread[2].Text)
	assert.Equal(t, "summary", thread[3].Text)
}

func TestDeleteActiveConversationDeselects(t *testing.T) {
	e, st, _ := newTestEngine(t, func(ctx context.Context, req openai.ChatCompletionRequest) (*chat.Response, error) {
		return reply("hello"), nil
	})

	p, err := e.Send(context.Background(), "hi", nil)
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeSucceeded, p.Wait().Outcome)

	id := e.ActiveConversation()
	require.NoError(t, e.DeleteConversation(id))
	assert.Equal(t, conversation.NullNode, e.ActiveConversation())
	_, err = st.GetConversation(id)
	assert.ErrorIs(t, err, conversation.ErrNotFound)
}
