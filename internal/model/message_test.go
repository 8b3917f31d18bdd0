package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageContentStringRoundTrip(t *testing.T) {
	msg := Message{Role: RoleUser, Content: TextContent("hello")}

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":"hello"}`, string(data))

	var back Message
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "hello", back.Content.RawText())
	assert.False(t, back.Content.IsStructured())
}

func TestMessageContentAssistantRoundTrip(t *testing.T) {
	msg := Message{Role: RoleAssistant, Content: NewAssistantContent("<think>x</think>y", true)}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var back Message
	require.NoError(t, json.Unmarshal(data, &back))
	require.NotNil(t, back.Content.Assistant)
	assert.Equal(t, "<think>x</think>y", back.Content.RawText())
	require.NotNil(t, back.Content.Assistant.ReasoningExpanded)
	assert.True(t, *back.Content.Assistant.ReasoningExpanded)
	assert.True(t, back.Content.IsStructured())
}

func TestMessageContentPartsRoundTrip(t *testing.T) {
	content := PartsContent([]ContentPart{
		{Type: "text", Text: "look at this"},
		{Type: "image_url", ImageURL: &ImageURL{URL: "data:image/png;base64,xyz"}},
	})
	msg := Message{Role: RoleUser, Content: content}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var back Message
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back.Content.Parts, 2)
	assert.Equal(t, "look at this", back.Content.Parts[0].Text)
	require.NotNil(t, back.Content.Parts[1].ImageURL)
	assert.Equal(t, "data:image/png;base64,xyz", back.Content.Parts[1].ImageURL.URL)
	// 文本视图只取文本块
	assert.Equal(t, "look at this", back.Content.RawText())
}

func TestCleanForAPIFlattensAssistant(t *testing.T) {
	ms := int64(1234)
	msg := Message{
		Role:         RoleAssistant,
		Content:      NewAssistantContent("raw text", false),
		EndTag:       "</think>",
		ThinkingTime: &ms,
		MessageID:    "m1",
	}

	clean := msg.CleanForAPI()
	assert.Equal(t, RoleAssistant, clean.Role)
	assert.Nil(t, clean.Content.Assistant)
	assert.Equal(t, "raw text", clean.Content.RawText())
	assert.Equal(t, "", clean.EndTag)
	assert.Nil(t, clean.ThinkingTime)
	assert.Equal(t, "", clean.MessageID)
}

func TestNewConversationID(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	assert.Equal(t, "1700000000123", NewConversationID(now))
}
