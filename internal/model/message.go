package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message 表示会话中的一轮消息。
// EndTag 在消息生成时固定下来：结束标签是用户可配置的，
// 配置变了以后历史消息仍然要按自己的标签切分思考块。
type Message struct {
	Role         string         `json:"role"`
	Content      MessageContent `json:"content"`
	EndTag       string         `json:"endTag,omitempty"`
	ThinkingTime *int64         `json:"thinkingTime,omitempty"` // 思考耗时，毫秒，累计值
	MessageID    string         `json:"messageId,omitempty"`
}

// AssistantContent 是带思考段的助手消息内容。
// ReasoningExpanded 为 nil 时渲染端按默认可见性处理。
type AssistantContent struct {
	Raw               string `json:"raw"`
	ReasoningExpanded *bool  `json:"reasoningExpanded"`
}

// ContentPart 是多模态消息里的一个分片（文本或图片）
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// MessageContent 是消息内容的带标签联合：
// 纯文本、结构化助手内容（raw + 折叠状态）或多模态分片数组。
// 线上格式保持三种历史形态不变。
type MessageContent struct {
	Text      string
	Assistant *AssistantContent
	Parts     []ContentPart
}

func TextContent(text string) MessageContent {
	return MessageContent{Text: text}
}

func NewAssistantContent(raw string, expanded bool) MessageContent {
	return MessageContent{Assistant: &AssistantContent{Raw: raw, ReasoningExpanded: &expanded}}
}

func AssistantContentWithHint(raw string, expanded *bool) MessageContent {
	return MessageContent{Assistant: &AssistantContent{Raw: raw, ReasoningExpanded: expanded}}
}

func PartsContent(parts []ContentPart) MessageContent {
	return MessageContent{Parts: parts}
}

// RawText 取内容的纯文本形式：助手内容取 raw，
// 多模态取文本分片拼接，其余取原文。
func (c MessageContent) RawText() string {
	switch {
	case c.Assistant != nil:
		return c.Assistant.Raw
	case c.Parts != nil:
		var b strings.Builder
		for _, part := range c.Parts {
			if part.Type == "text" || part.Type == "" {
				b.WriteString(part.Text)
			}
		}
		return b.String()
	default:
		return c.Text
	}
}

func (c MessageContent) IsStructured() bool {
	return c.Assistant != nil
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	switch {
	case c.Assistant != nil:
		return json.Marshal(c.Assistant)
	case c.Parts != nil:
		return json.Marshal(c.Parts)
	default:
		return json.Marshal(c.Text)
	}
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*c = MessageContent{}
		return nil
	}

	switch trimmed[0] {
	case '[':
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return fmt.Errorf("failed to decode content parts: %w", err)
		}
		*c = MessageContent{Parts: parts}
	case '{':
		var assistant AssistantContent
		if err := json.Unmarshal(data, &assistant); err != nil {
			return fmt.Errorf("failed to decode assistant content: %w", err)
		}
		*c = MessageContent{Assistant: &assistant}
	default:
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return fmt.Errorf("failed to decode text content: %w", err)
		}
		*c = MessageContent{Text: text}
	}

	return nil
}

// CleanForAPI 去掉只给渲染端用的字段，并把结构化内容摊平成
// 上游 API 认识的形态。图片消息的分片数组保持原样。
func (m Message) CleanForAPI() Message {
	cleaned := Message{Role: m.Role, Content: m.Content}
	if m.Content.Assistant != nil {
		cleaned.Content = TextContent(m.Content.Assistant.Raw)
	}
	return cleaned
}

// Conversation 是一段持久化的会话，ID 由毫秒时间戳派生，
// 历史列表按 ID 数值降序排列。
type Conversation struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`
}

func NewConversationID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10)
}
