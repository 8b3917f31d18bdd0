package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"webchat/internal/model"
)

// Transport 抽象客户端引擎对后端的访问，测试时用假实现替换
type Transport interface {
	// Chat 发起一轮新的流式对话，返回增量文本流
	Chat(ctx context.Context, req *model.ChatRequest) (io.ReadCloser, error)
	// Continue 从上一条助手消息的末尾继续生成
	Continue(ctx context.Context, req *model.ContinueRequest) (io.ReadCloser, error)
	// GenerateTitle 为会话生成简短标题
	GenerateTitle(ctx context.Context, req *model.TitleRequest) (string, error)
	// Models 返回可用的模型列表
	Models(ctx context.Context) ([]string, error)
}

// HTTPTransport 通过 HTTP 访问后端接口。
// 客户端本身不设超时，流式响应会挂很久；
// 非流式请求用 timeout 限定。
type HTTPTransport struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPTransport 创建 HTTP 传输，baseURL 末尾的斜杠会被去掉
func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		timeout: timeout,
	}
}

func (t *HTTPTransport) Chat(ctx context.Context, req *model.ChatRequest) (io.ReadCloser, error) {
	return t.stream(ctx, "/chat", req)
}

func (t *HTTPTransport) Continue(ctx context.Context, req *model.ContinueRequest) (io.ReadCloser, error) {
	return t.stream(ctx, "/continue_generation", req)
}

func (t *HTTPTransport) GenerateTitle(ctx context.Context, req *model.TitleRequest) (string, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal title request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/generate-title", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create title request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to request title: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("title request failed with status %d", resp.StatusCode)
	}

	var titleResp model.TitleResponse
	if err := json.NewDecoder(resp.Body).Decode(&titleResp); err != nil {
		return "", fmt.Errorf("failed to decode title response: %w", err)
	}
	if titleResp.Title == nil {
		return "", fmt.Errorf("title generation returned no title")
	}
	return *titleResp.Title, nil
}

func (t *HTTPTransport) Models(ctx context.Context) ([]string, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/fetch-models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create models request: %w", err)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("models request failed with status %d", resp.StatusCode)
	}

	var models []string
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return nil, fmt.Errorf("failed to decode models response: %w", err)
	}
	return models, nil
}

// stream 发出 POST 请求并把响应体作为增量文本流返回，调用方负责 Close
func (t *HTTPTransport) stream(ctx context.Context, path string, payload interface{}) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		// 取消要原样穿透，上层靠它区分中止和失败
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream request failed with status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
