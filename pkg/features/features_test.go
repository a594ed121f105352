package features_test

import (
	"context"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/prattle/pkg/chat"
	"github.com/go-go-golems/prattle/pkg/conversation"
	"github.com/go-go-golems/prattle/pkg/engine"
	"github.com/go-go-golems/prattle/pkg/features"
	"github.com/go-go-golems/prattle/pkg/quota"
	"github.com/go-go-golems/prattle/pkg/store"
)

func TestCatalogCoversAllFeatures(t *testing.T) {
	for _, f := range features.All() {
		info, err := features.Get(f)
		require.NoError(t, err, "feature %s", f)
		assert.NotEmpty(t, info.Title, "feature %s", f)
		assert.NotEmpty(t, info.BasePrompt, "feature %s", f)
		assert.NotEmpty(t, info.SystemPrompt, "feature %s", f)
	}
}

func TestParse(t *testing.T) {
	f, err := features.Parse("translation")
	require.NoError(t, err)
	assert.Equal(t, features.Translation, f)

	_, err = features.Parse("mind-reading")
	assert.Error(t, err)
}

func TestTranslationLoadsEmbeddedLanguages(t *testing.T) {
	info, err := features.Get(features.Translation)
	require.NoError(t, err)
	require.NotEmpty(t, info.SubFeatures)

	sub, err := features.SubFeatureByTitle(features.Translation, "French")
	require.NoError(t, err)
	assert.Contains(t, sub.Prompt, "French")
}

func TestSubFeatureByTitleRejectsUnknown(t *testing.T) {
	_, err := features.SubFeatureByTitle(features.Paraphrasing, "Sarcastic")
	assert.Error(t, err)
}

// recordingClient captures the request so prompt assembly can be asserted.
type recordingClient struct {
	last openai.ChatCompletionRequest
}

func (c *recordingClient) Complete(ctx context.Context, req openai.ChatCompletionRequest) (*chat.Response, error) {
	c.last = req
	return &chat.Response{Choices: []chat.ResponseChoice{
		{Message: chat.ResponseMessage{Role: "assistant", Content: chat.MessageContent{Plain: "done"}}},
	}}, nil
}

func newDispatcher(t *testing.T) (*features.Dispatcher, *recordingClient) {
	t.Helper()

	st, err := conversation.NewStore(store.NewMemory())
	require.NoError(t, err)

	client := &recordingClient{}
	gate := quota.NewGate(quota.EntitlementFunc(func() bool { return true }), st)
	e := engine.New(st, chat.NewBuilder("gpt-4o-mini"), client, gate)
	return features.NewDispatcher(e), client
}

func TestRunSendsSingleShotWithSystemPrompt(t *testing.T) {
	d, client := newDispatcher(t)

	p, err := d.Run(context.Background(), features.Grammar, nil, "their going too the store")
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeSucceeded, p.Wait().Outcome)

	req := client.last
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)

	info, err := features.Get(features.Grammar)
	require.NoError(t, err)
	assert.Equal(t, info.SystemPrompt, req.Messages[0].Content)
}

func TestRunMergesSubFeaturePrompt(t *testing.T) {
	d, client := newDispatcher(t)

	sub, err := features.SubFeatureByTitle(features.Paraphrasing, "Formal")
	require.NoError(t, err)

	p, err := d.Run(context.Background(), features.Paraphrasing, &sub, "hey what's up")
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeSucceeded, p.Wait().Outcome)

	system := client.last.Messages[0].Content
	info, err := features.Get(features.Paraphrasing)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(system, info.SystemPrompt))
	assert.Contains(t, system, sub.Prompt)
}

func TestRunRejectsUnknownFeature(t *testing.T) {
	d, _ := newDispatcher(t)
	_, err := d.Run(context.Background(), features.Feature("nope"), nil, "x")
	assert.Error(t, err)
}
