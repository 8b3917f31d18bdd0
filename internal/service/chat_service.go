package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"webchat/internal/config"
	"webchat/internal/model"
	"webchat/pkg/logger"
)

// unconfiguredMessage 在上游未配置时直接作为回答内容返回，
// 前端照常走渲染管线展示
const unconfiguredMessage = "Please set your API key and base URL in the settings."

const titleSystemPrompt = "You are a helpful assistant. Generate a very brief title (max 5 words) for a conversation based on the user's message and the assistant's response. The title should capture the main topic or purpose of the conversation. Respond with ONLY the title, without quotes or extra text."

// ChatService 把会话请求转发到 OpenAI 兼容上游并流式返回增量
type ChatService struct {
	mu           sync.RWMutex
	client       *openai.Client
	apiKey       string
	baseURL      string
	models       []string
	settingsFile string
	cfg          *config.Config
}

func NewChatService(cfg *config.Config) *ChatService {
	s := &ChatService{
		apiKey:       cfg.Upstream.APIKey,
		baseURL:      cfg.Upstream.BaseURL,
		settingsFile: cfg.Upstream.SettingsFile,
		cfg:          cfg,
	}

	s.loadSettings()
	s.rebuildClient()

	if err := s.refreshModels(context.Background()); err != nil {
		logger.Warnf("Failed to fetch models on startup: %v", err)
	}

	return s
}

// loadSettings 读取落盘的运行时设置，有值就覆盖静态配置
func (s *ChatService) loadSettings() {
	if s.settingsFile == "" {
		return
	}

	data, err := os.ReadFile(s.settingsFile)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warnf("Failed to read settings file: %v", err)
		}
		return
	}

	var settings model.UpstreamSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		logger.Warnf("Failed to parse settings file: %v", err)
		return
	}

	if settings.APIKey != "" {
		s.apiKey = settings.APIKey
	}
	if settings.BaseURL != "" {
		s.baseURL = settings.BaseURL
	}
}

// rebuildClient 按当前密钥和地址重建上游客户端，
// 两者缺一就把客户端置空，后续请求走未配置提示
func (s *ChatService) rebuildClient() {
	if s.apiKey == "" || s.baseURL == "" {
		s.client = nil
		return
	}

	clientConfig := openai.DefaultConfig(s.apiKey)
	clientConfig.BaseURL = s.baseURL
	s.client = openai.NewClientWithConfig(clientConfig)
}

// StreamChat 处理一轮新对话，返回增量文本通道。
// 所有错误都转成普通文本块发给前端，通道总会被关闭。
func (s *ChatService) StreamChat(ctx context.Context, req *model.ChatRequest) <-chan string {
	out := make(chan string, 64)

	go func() {
		defer close(out)

		s.mu.RLock()
		client := s.client
		s.mu.RUnlock()

		if client == nil {
			sendChunk(ctx, out, unconfiguredMessage)
			return
		}

		messages := buildMessages(req.SystemContent, req.Conversation, &req.Message)
		s.streamCompletion(ctx, client, out, req.Model, messages, req.Parameters)
	}()

	return out
}

// ContinueGeneration 对既有会话续写，不追加新的用户消息
func (s *ChatService) ContinueGeneration(ctx context.Context, req *model.ContinueRequest) <-chan string {
	out := make(chan string, 64)

	go func() {
		defer close(out)

		s.mu.RLock()
		client := s.client
		s.mu.RUnlock()

		if client == nil {
			sendChunk(ctx, out, unconfiguredMessage)
			return
		}

		messages := buildMessages(req.SystemContent, req.Conversation, nil)
		s.streamCompletion(ctx, client, out, req.Model, messages, req.Parameters)
	}()

	return out
}

func (s *ChatService) streamCompletion(ctx context.Context, client *openai.Client, out chan<- string, mdl string, messages []openai.ChatCompletionMessage, params map[string]interface{}) {
	if mdl == "" {
		mdl = s.cfg.Chat.DefaultModel
	}

	completionReq := openai.ChatCompletionRequest{
		Model:    mdl,
		Messages: messages,
		Stream:   true,
	}
	applyParameters(&completionReq, params)

	stream, err := client.CreateChatCompletionStream(ctx, completionReq)
	if err != nil {
		sendChunk(ctx, out, fmt.Sprintf("An error occurred: %v", err))
		return
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			// 客户端主动断开不算错误
			if ctx.Err() != nil {
				return
			}
			sendChunk(ctx, out, fmt.Sprintf("An error occurred: %v", err))
			return
		}

		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			if !sendChunk(ctx, out, delta) {
				return
			}
		}
	}
}

func sendChunk(ctx context.Context, out chan<- string, chunk string) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// GenerateTitle 用零温度为会话生成简短标题
func (s *ChatService) GenerateTitle(ctx context.Context, req *model.TitleRequest) (string, error) {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()

	if client == nil {
		return "", fmt.Errorf("upstream client is not configured")
	}

	mdl := req.Model
	if mdl == "" {
		mdl = s.cfg.Chat.DefaultModel
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: mdl,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: titleSystemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("User message: %s\n\nAssistant response: %s",
					req.Message.RawText(), req.AssistantResponse),
			},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate title: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("title completion returned no choices")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Models 返回缓存的可用模型列表
func (s *ChatService) Models() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.models))
	copy(out, s.models)
	return out
}

func (s *ChatService) refreshModels(ctx context.Context) error {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()

	if client == nil {
		return fmt.Errorf("upstream client is not configured")
	}

	list, err := client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}

	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)

	s.mu.Lock()
	s.models = ids
	s.mu.Unlock()
	return nil
}

// UpdateSettings 更新上游密钥和地址，落盘并刷新模型列表。
// 落盘和刷新失败只记日志，设置本身照样生效。
func (s *ChatService) UpdateSettings(ctx context.Context, apiKey, baseURL string) error {
	s.mu.Lock()
	s.apiKey = apiKey
	s.baseURL = baseURL
	s.rebuildClient()
	s.mu.Unlock()

	if s.settingsFile != "" {
		if err := s.saveSettings(apiKey, baseURL); err != nil {
			logger.Errorf("Failed to save settings: %v", err)
		}
	}

	if err := s.refreshModels(ctx); err != nil {
		logger.Warnf("Failed to refresh models after settings update: %v", err)
	}

	return nil
}

func (s *ChatService) saveSettings(apiKey, baseURL string) error {
	data, err := json.MarshalIndent(model.UpstreamSettings{APIKey: apiKey, BaseURL: baseURL}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	tempPath := s.settingsFile + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return os.Rename(tempPath, s.settingsFile)
}

// buildMessages 把会话历史组装成上游需要的消息序列，
// userMessage 不为 nil 时追加为最后一条用户消息
func buildMessages(systemContent string, conversation []model.Message, userMessage *model.MessageContent) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(conversation)+2)

	if systemContent != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemContent,
		})
	}

	for _, msg := range conversation {
		messages = append(messages, toOpenAIMessage(msg.Role, msg.Content))
	}

	if userMessage != nil {
		messages = append(messages, toOpenAIMessage(model.RoleUser, *userMessage))
	}

	return messages
}

// toOpenAIMessage 处理多模态内容：带图片的消息走 MultiContent，
// 其余展平成纯文本
func toOpenAIMessage(role string, content model.MessageContent) openai.ChatCompletionMessage {
	if len(content.Parts) > 0 {
		parts := make([]openai.ChatMessagePart, 0, len(content.Parts))
		for _, part := range content.Parts {
			switch part.Type {
			case "image_url":
				if part.ImageURL != nil {
					parts = append(parts, openai.ChatMessagePart{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: part.ImageURL.URL},
					})
				}
			default:
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: part.Text,
				})
			}
		}
		return openai.ChatCompletionMessage{Role: role, MultiContent: parts}
	}

	return openai.ChatCompletionMessage{Role: role, Content: content.RawText()}
}

// applyParameters 把前端透传的采样参数塞进补全请求，
// JSON 数字统一按 float64 进来，类型对不上的直接忽略
func applyParameters(req *openai.ChatCompletionRequest, params map[string]interface{}) {
	for key, value := range params {
		f, ok := toFloat(value)
		if !ok {
			continue
		}
		switch key {
		case "temperature":
			req.Temperature = float32(f)
		case "top_p":
			req.TopP = float32(f)
		case "max_tokens":
			req.MaxTokens = int(f)
		case "frequency_penalty":
			req.FrequencyPenalty = float32(f)
		case "presence_penalty":
			req.PresencePenalty = float32(f)
		case "seed":
			seed := int(f)
			req.Seed = &seed
		}
	}
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
