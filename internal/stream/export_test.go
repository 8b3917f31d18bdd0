package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webchat/internal/model"
)

func exportFixture(t *testing.T) *Renderer {
	t.Helper()
	transport := &fakeTransport{chatChunks: []string{"<think>hmm</think>The answer."}, title: "Q&A"}
	opts := defaultOpts()
	opts.SystemContent = "Be brief"
	opts.Parameters = map[string]interface{}{"temperature": 0.7}
	r, _, _ := newTestRenderer(transport, opts)
	require.NoError(t, r.Send(context.Background(), model.TextContent("question?")))
	return r
}

func TestExportMarkdown(t *testing.T) {
	r := exportFixture(t)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	out := r.ExportMarkdown(now)

	assert.Contains(t, out, "# Chat Export")
	assert.Contains(t, out, "- Date: 2026-08-31T12:00:00Z")
	assert.Contains(t, out, "- Model: gpt-test")
	assert.Contains(t, out, "- System Prompt: Be brief")
	assert.Contains(t, out, "### User\n\nquestion?")
	assert.Contains(t, out, "### Assistant\n\n<think>hmm</think>The answer.")
}

func TestExportMarkdownDefaults(t *testing.T) {
	r, _, _ := newTestRenderer(&fakeTransport{chatChunks: []string{"x"}, title: "T"}, Options{})
	require.NoError(t, r.Send(context.Background(), model.TextContent("q")))

	out := r.ExportMarkdown(time.Now())
	assert.Contains(t, out, "- Model: Not specified")
	assert.Contains(t, out, "- System Prompt: None")
	assert.Contains(t, out, "- Parameters: Default")
}

func TestExportJSON(t *testing.T) {
	r := exportFixture(t)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	data, err := r.ExportJSON(now)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))

	meta := doc["metadata"].(map[string]interface{})
	assert.Equal(t, "2026-08-31T12:00:00Z", meta["date"])
	assert.Equal(t, "gpt-test", meta["model"])
	assert.Equal(t, "Be brief", meta["system prompt"])

	messages := doc["messages"].([]interface{})
	require.Len(t, messages, 2)

	assistant := messages[1].(map[string]interface{})
	// 渲染专用字段被剔除，消息 ID 保留
	_, hasEndTag := assistant["endTag"]
	assert.False(t, hasEndTag)
	_, hasThinkingTime := assistant["thinkingTime"]
	assert.False(t, hasThinkingTime)
	assert.NotEmpty(t, assistant["messageId"])
}
