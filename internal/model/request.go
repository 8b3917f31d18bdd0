package model

// ChatRequest 是 /chat 的请求体。
// StartTag 和 IsDeepQueryMode 随请求携带但不参与上游调用，
// 服务端原样转发会话内容。
type ChatRequest struct {
	Message         MessageContent         `json:"message"`
	Model           string                 `json:"model"`
	SystemContent   string                 `json:"systemContent"`
	Parameters      map[string]interface{} `json:"parameters"`
	Conversation    []Message              `json:"conversation"`
	StartTag        string                 `json:"startTag"`
	IsDeepQueryMode bool                   `json:"isDeepQueryMode"`
}

// ContinueRequest 是 /continue_generation 的请求体，
// 不带新的用户消息，直接对既有会话续写。
type ContinueRequest struct {
	Conversation  []Message              `json:"conversation"`
	Model         string                 `json:"model"`
	SystemContent string                 `json:"systemContent"`
	Parameters    map[string]interface{} `json:"parameters"`
}

type TitleRequest struct {
	Message           MessageContent `json:"message"`
	Model             string         `json:"model"`
	AssistantResponse string         `json:"assistantResponse"`
}

// TitleResponse 的 Title 为 nil 表示生成失败，前端保留默认标题
type TitleResponse struct {
	Title *string `json:"title"`
}

type SettingsRequest struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl"`
}

// UpstreamSettings 是持久化到 settings.json 的上游访问配置
type UpstreamSettings struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}
