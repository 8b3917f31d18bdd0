package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webchat/internal/config"
	"webchat/internal/model"
)

func testConfig() *config.Config {
	return &config.Config{
		Chat: config.ChatConfig{DefaultModel: "gpt-test"},
	}
}

func collect(ch <-chan string) string {
	var out string
	for chunk := range ch {
		out += chunk
	}
	return out
}

func TestStreamChatUnconfigured(t *testing.T) {
	s := NewChatService(testConfig())

	out := s.StreamChat(context.Background(), &model.ChatRequest{
		Message: model.TextContent("hi"),
	})

	assert.Equal(t, unconfiguredMessage, collect(out))
}

func TestContinueGenerationUnconfigured(t *testing.T) {
	s := NewChatService(testConfig())

	out := s.ContinueGeneration(context.Background(), &model.ContinueRequest{})
	assert.Equal(t, unconfiguredMessage, collect(out))
}

func TestLoadSettingsOverridesConfig(t *testing.T) {
	dir := t.TempDir()
	settingsFile := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(settingsFile, []byte(`{"api_key":"sk-saved","base_url":"https://saved.example/v1"}`), 0600))

	cfg := testConfig()
	cfg.Upstream.APIKey = "sk-static"
	cfg.Upstream.BaseURL = "https://static.example/v1"
	cfg.Upstream.SettingsFile = settingsFile

	s := NewChatService(cfg)
	assert.Equal(t, "sk-saved", s.apiKey)
	assert.Equal(t, "https://saved.example/v1", s.baseURL)
	assert.NotNil(t, s.client)
}

func TestUpdateSettingsPersists(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Upstream.SettingsFile = filepath.Join(dir, "settings.json")

	s := NewChatService(cfg)
	require.NoError(t, s.UpdateSettings(context.Background(), "sk-new", "https://new.example/v1"))

	assert.NotNil(t, s.client)

	data, err := os.ReadFile(cfg.Upstream.SettingsFile)
	require.NoError(t, err)
	assert.JSONEq(t, `{"api_key":"sk-new","base_url":"https://new.example/v1"}`, string(data))
}

func TestBuildMessages(t *testing.T) {
	conversation := []model.Message{
		{Role: model.RoleUser, Content: model.TextContent("earlier question")},
		{Role: model.RoleAssistant, Content: model.TextContent("earlier answer")},
	}
	userMsg := model.TextContent("new question")

	messages := buildMessages("be helpful", conversation, &userMsg)
	require.Len(t, messages, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, messages[0].Role)
	assert.Equal(t, "be helpful", messages[0].Content)
	assert.Equal(t, "earlier question", messages[1].Content)
	assert.Equal(t, "earlier answer", messages[2].Content)
	assert.Equal(t, openai.ChatMessageRoleUser, messages[3].Role)
	assert.Equal(t, "new question", messages[3].Content)
}

func TestBuildMessagesWithoutSystemOrUser(t *testing.T) {
	messages := buildMessages("", []model.Message{
		{Role: model.RoleUser, Content: model.TextContent("q")},
	}, nil)
	require.Len(t, messages, 1)
	assert.Equal(t, "q", messages[0].Content)
}

func TestToOpenAIMessageMultiContent(t *testing.T) {
	content := model.PartsContent([]model.ContentPart{
		{Type: "text", Text: "what is this?"},
		{Type: "image_url", ImageURL: &model.ImageURL{URL: "data:image/png;base64,abc"}},
	})

	msg := toOpenAIMessage(model.RoleUser, content)
	assert.Equal(t, "", msg.Content)
	require.Len(t, msg.MultiContent, 2)
	assert.Equal(t, openai.ChatMessagePartTypeText, msg.MultiContent[0].Type)
	assert.Equal(t, "what is this?", msg.MultiContent[0].Text)
	assert.Equal(t, openai.ChatMessagePartTypeImageURL, msg.MultiContent[1].Type)
	require.NotNil(t, msg.MultiContent[1].ImageURL)
}

func TestApplyParameters(t *testing.T) {
	req := &openai.ChatCompletionRequest{}
	applyParameters(req, map[string]interface{}{
		"temperature":       0.7,
		"top_p":             0.9,
		"max_tokens":        float64(512),
		"frequency_penalty": 0.1,
		"presence_penalty":  0.2,
		"seed":              float64(42),
		"unknown":           1.0,
		"not_numeric":       "abc",
	})

	assert.InDelta(t, 0.7, req.Temperature, 1e-6)
	assert.InDelta(t, 0.9, req.TopP, 1e-6)
	assert.Equal(t, 512, req.MaxTokens)
	assert.InDelta(t, 0.1, req.FrequencyPenalty, 1e-6)
	assert.InDelta(t, 0.2, req.PresencePenalty, 1e-6)
	require.NotNil(t, req.Seed)
	assert.Equal(t, 42, *req.Seed)
}

func TestApplyParametersStringCoercion(t *testing.T) {
	// 前端表单里数值常以字符串形式出现
	req := &openai.ChatCompletionRequest{}
	applyParameters(req, map[string]interface{}{"temperature": "0.5"})
	assert.InDelta(t, 0.5, req.Temperature, 1e-6)
}
