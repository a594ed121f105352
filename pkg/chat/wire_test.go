package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageContentDecodesPlainString(t *testing.T) {
	var c MessageContent
	require.NoError(t, json.Unmarshal([]byte(`"hello there"`), &c))
	assert.Equal(t, "hello there", c.Plain)
	assert.Nil(t, c.Parts)
	assert.Equal(t, "hello there", c.Text())
}

func TestMessageContentDecodesPartsList(t *testing.T) {
	var c MessageContent
	require.NoError(t, json.Unmarshal([]byte(`[{"type":"text","text":"hello "},{"type":"text","text":"there"}]`), &c))
	assert.Empty(t, c.Plain)
	require.Len(t, c.Parts, 2)
	assert.Equal(t, "hello there", c.Text())
}

func TestMessageContentSkipsNonTextParts(t *testing.T) {
	var c MessageContent
	require.NoError(t, json.Unmarshal([]byte(`[{"type":"text","text":"caption"},{"type":"image_url"}]`), &c))
	assert.Equal(t, "caption", c.Text())
}

func TestMessageContentDecodesNull(t *testing.T) {
	var c MessageContent
	require.NoError(t, json.Unmarshal([]byte(`null`), &c))
	assert.Equal(t, "", c.Text())
}

func TestMessageContentRejectsObjects(t *testing.T) {
	var c MessageContent
	assert.Error(t, json.Unmarshal([]byte(`{"text":"nope"}`), &c))
}

func TestBothShapesYieldTheSameReply(t *testing.T) {
	plain := []byte(`{"id":"r1","choices":[{"index":0,"message":{"role":"assistant","content":"same text"}}]}`)
	parts := []byte(`{"id":"r2","choices":[{"index":0,"message":{"role":"assistant","content":[{"type":"text","text":"same text"}]}}]}`)

	var r1, r2 Response
	require.NoError(t, json.Unmarshal(plain, &r1))
	require.NoError(t, json.Unmarshal(parts, &r2))

	t1, err := r1.ReplyText()
	require.NoError(t, err)
	t2, err := r2.ReplyText()
	require.NoError(t, err)
	assert.Equal(t, t1, t2)
}

func TestReplyTextRequiresAChoice(t *testing.T) {
	r := &Response{}
	_, err := r.ReplyText()
	assert.Error(t, err)
}
