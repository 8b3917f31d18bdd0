package stream

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"webchat/internal/model"
)

// exportDocument 是 JSON 导出的顶层结构
type exportDocument struct {
	Metadata exportMetadata  `json:"metadata"`
	Messages []model.Message `json:"messages"`
}

type exportMetadata struct {
	Date         string                 `json:"date"`
	Model        string                 `json:"model"`
	SystemPrompt string                 `json:"system prompt"`
	Parameters   map[string]interface{} `json:"parameters"`
}

// ExportMarkdown 把当前会话导出成 Markdown 文本
func (r *Renderer) ExportMarkdown(now time.Time) string {
	r.mu.Lock()
	history := make([]model.Message, len(r.history))
	copy(history, r.history)
	opts := r.opts
	r.mu.Unlock()

	mdl := opts.Model
	if mdl == "" {
		mdl = "Not specified"
	}
	system := opts.SystemContent
	if system == "" {
		system = "None"
	}

	var b strings.Builder
	b.WriteString("# Chat Export\n\n")
	b.WriteString("## Metadata\n\n")
	b.WriteString(fmt.Sprintf("- Date: %s\n", now.Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf("- Model: %s\n", mdl))
	b.WriteString(fmt.Sprintf("- System Prompt: %s\n", system))
	b.WriteString(fmt.Sprintf("- Parameters: %s\n", formatParameters(opts.Parameters)))
	b.WriteString("\n## Messages\n\n")

	for _, msg := range history {
		b.WriteString(fmt.Sprintf("### %s\n\n", titleCase(msg.Role)))
		b.WriteString(msg.Content.RawText())
		b.WriteString("\n\n")
	}

	return b.String()
}

// ExportJSON 把当前会话导出成 JSON。
// 渲染专用的字段（结束标签、思考耗时）被剔除，消息 ID 保留。
func (r *Renderer) ExportJSON(now time.Time) ([]byte, error) {
	r.mu.Lock()
	history := make([]model.Message, len(r.history))
	copy(history, r.history)
	opts := r.opts
	r.mu.Unlock()

	messages := make([]model.Message, len(history))
	for i, msg := range history {
		cleaned := msg
		cleaned.EndTag = ""
		cleaned.ThinkingTime = nil
		messages[i] = cleaned
	}

	doc := exportDocument{
		Metadata: exportMetadata{
			Date:         now.Format(time.RFC3339),
			Model:        opts.Model,
			SystemPrompt: opts.SystemContent,
			Parameters:   opts.Parameters,
		},
		Messages: messages,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export: %w", err)
	}
	return data, nil
}

func formatParameters(params map[string]interface{}) string {
	if len(params) == 0 {
		return "Default"
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "Default"
	}
	return string(data)
}

func titleCase(role string) string {
	if role == "" {
		return role
	}
	return strings.ToUpper(role[:1]) + role[1:]
}
