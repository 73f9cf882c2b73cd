package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"askgpt-backend/internal/model"
	"askgpt-backend/internal/service"
	"askgpt-backend/internal/settings"
	"askgpt-backend/internal/storage"
	"askgpt-backend/internal/utils"
	"askgpt-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

type ChatHandler struct {
	chatService *service.ChatService
	settings    settings.Store
	authSecret  string
}

func NewChatHandler(chatService *service.ChatService, store settings.Store, authSecret string) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		settings:    store,
		authSecret:  authSecret,
	}
}

// StreamChat answers with SSE: one "message" event per response, an "error" event on
// failure, then [DONE].
func (h *ChatHandler) StreamChat(c *gin.Context) {
	var req model.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sseWriter := utils.NewSSEWriter(c.Writer)
	defer sseWriter.Close()

	current := h.settings.Get()
	next, err := h.chatService.Ask(c.Request.Context(), current, req.ToQuestion(), service.Callbacks{
		OnResponse: func(resp model.Response) {
			if err := sseWriter.WriteJSON(utils.EventMessage, resp); err != nil {
				logger.Errorf("Failed to write SSE: %v", err)
			}
		},
		OnError: func(err error) {
			sseWriter.WriteError(err)
		},
	})
	if err != nil {
		sseWriter.WriteError(err)
		return
	}

	h.saveConversation(current, next)
}

// saveConversation writes back only the identifiers, on top of whatever is stored now.
func (h *ChatHandler) saveConversation(before, after model.Settings) {
	if before.ConversationRequest == after.ConversationRequest {
		return
	}
	latest := h.settings.Get()
	latest.ConversationRequest = after.ConversationRequest
	if err := h.settings.Update(latest); err != nil {
		logger.Errorf("Failed to save conversation identifiers: %v", err)
	}
}

// ChatProcess streams newline-delimited progress objects, each carrying the text so far.
func (h *ChatHandler) ChatProcess(c *gin.Context) {
	var req model.ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "application/octet-stream")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	first := true
	var writeErr error
	writeChunk := func(chunk model.ProcessChunk) {
		// 客户端断开后不再写入
		if writeErr != nil {
			return
		}
		data, err := json.Marshal(chunk)
		if err != nil {
			logger.Errorf("Failed to marshal progress chunk: %v", err)
			return
		}
		// 第一行前不加换行
		if !first {
			data = append([]byte("\n"), data...)
		}
		first = false
		if _, err := c.Writer.Write(data); err != nil {
			writeErr = err
			logger.Errorf("Failed to write progress chunk: %v", err)
			cancel()
			return
		}
		c.Writer.Flush()
	}

	session := model.Settings{
		APIKey:              req.APIKey,
		Proxy:               req.UserProxy,
		SystemMessage:       req.SystemMessage,
		UseChatContext:      req.UseContext,
		ConversationRequest: req.Options,
	}
	_, err := h.chatService.AskProvider(ctx, session, model.Question{Question: req.Prompt}, service.Callbacks{
		OnResponse: func(resp model.Response) {
			writeChunk(model.ProcessChunk{
				Status:          model.StatusSuccess,
				ID:              resp.NewConversationID,
				ParentMessageID: resp.NewParentMessageID,
				Text:            resp.Content,
			})
		},
		OnError: func(err error) {
			writeChunk(model.ProcessChunk{Status: model.StatusFail, Message: err.Error()})
		},
	})
	if err != nil {
		writeChunk(model.ProcessChunk{Status: model.StatusFail, Message: err.Error()})
	}
}

func (h *ChatHandler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.settings.Get())
}

func (h *ChatHandler) UpdateSettings(c *gin.Context) {
	var req model.Settings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.settings.Update(req); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, req)
}

func (h *ChatHandler) GetRecords(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	limit := utils.ParseNumber(c.Query("limit"))

	records, err := h.chatService.Records(conversationID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation_id": conversationID,
		"records":         records,
	})
}

func (h *ChatHandler) DeleteRecords(c *gin.Context) {
	conversationID := c.Param("conversation_id")

	if err := h.chatService.DeleteConversation(conversationID); err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Conversation deleted successfully"})
}

func (h *ChatHandler) ListConversations(c *gin.Context) {
	conversations, err := h.chatService.Conversations()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}
