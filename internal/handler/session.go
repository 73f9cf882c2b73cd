package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"askgpt-backend/internal/model"

	"github.com/gin-gonic/gin"
)

func (h *ChatHandler) Config(c *gin.Context) {
	c.JSON(http.StatusOK, model.Envelope[model.ChatConfig]{
		Status: model.StatusSuccess,
		Data:   h.chatService.ChatConfig(),
	})
}

func (h *ChatHandler) Session(c *gin.Context) {
	c.JSON(http.StatusOK, model.Envelope[model.SessionInfo]{
		Status: model.StatusSuccess,
		Data: model.SessionInfo{
			Auth:  h.authSecret != "",
			Model: h.chatService.ChatConfig().Model,
		},
	})
}

// Verify compares the token with the configured secret. A mismatch is a Fail envelope with 200.
func (h *ChatHandler) Verify(c *gin.Context) {
	var req model.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, model.Envelope[any]{Status: model.StatusFail, Message: "Secret key is empty"})
		return
	}

	if !secretMatches(h.authSecret, req.Token) {
		c.JSON(http.StatusOK, model.Envelope[any]{Status: model.StatusFail, Message: "密钥无效 | Secret key is invalid"})
		return
	}

	c.JSON(http.StatusOK, model.Envelope[any]{Status: model.StatusSuccess, Message: "Verify successfully"})
}

// Auth rejects requests whose bearer token differs from secret. An empty secret disables it.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if !secretMatches(secret, token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.Envelope[any]{
				Status:  "Unauthorized",
				Message: "Error: 无访问权限 | No access rights",
			})
			return
		}
		c.Next()
	}
}

func secretMatches(secret, token string) bool {
	return subtle.ConstantTimeCompare([]byte(secret), []byte(token)) == 1
}
