package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"webchat/internal/model"
	"webchat/internal/service"
	"webchat/internal/utils"
	"webchat/pkg/logger"
)

type ChatHandler struct {
	chatService *service.ChatService
}

func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
	}
}

// Chat 处理一轮新对话，把上游增量透传给客户端
func (h *ChatHandler) Chat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.pipe(c, h.chatService.StreamChat(c.Request.Context(), &req))
}

// ContinueGeneration 对既有会话续写
func (h *ChatHandler) ContinueGeneration(c *gin.Context) {
	var req model.ContinueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.pipe(c, h.chatService.ContinueGeneration(c.Request.Context(), &req))
}

func (h *ChatHandler) pipe(c *gin.Context, chunks <-chan string) {
	writer := utils.NewStreamWriter(c.Writer)
	ctx := c.Request.Context()

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			if err := writer.Write(chunk); err != nil {
				logger.Warnf("Failed to write stream chunk: %v", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// GenerateTitle 生成会话标题，失败时返回空标题而不是错误状态
func (h *ChatHandler) GenerateTitle(c *gin.Context) {
	var req model.TitleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	title, err := h.chatService.GenerateTitle(c.Request.Context(), &req)
	if err != nil {
		logger.Warnf("Failed to generate title: %v", err)
		c.JSON(http.StatusOK, model.TitleResponse{Title: nil})
		return
	}

	c.JSON(http.StatusOK, model.TitleResponse{Title: &title})
}

// FetchModels 返回可用模型 ID 的裸数组
func (h *ChatHandler) FetchModels(c *gin.Context) {
	c.JSON(http.StatusOK, h.chatService.Models())
}

// SaveSettings 更新上游访问配置
func (h *ChatHandler) SaveSettings(c *gin.Context) {
	var req model.SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.chatService.UpdateSettings(c.Request.Context(), req.APIKey, req.BaseURL); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// Health 健康检查
func (h *ChatHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
