// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"study-gateway/internal/middleware"
	"study-gateway/internal/service"
	"study-gateway/pkg/log"
	"study-gateway/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理聊天相关的 HTTP 与 WebSocket 请求。
type ChatHandler struct {
	chatService service.ChatService
	jwtManager  *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{chatService: chatService, jwtManager: jwtManager}
}

// policyErrorBody 把策略错误渲染为拒绝响应体。
func policyErrorBody(pe *service.PolicyError) gin.H {
	body := gin.H{
		"error_code":       pe.Code,
		"response":         pe.Message,
		"upgrade_required": pe.UpgradeRequired,
	}
	if pe.Tier != "" {
		body["tier"] = pe.Tier
		body["remaining_messages"] = pe.RemainingMessages
	}
	if pe.CooldownSeconds > 0 {
		body["cooldown_seconds"] = pe.CooldownSeconds
	}
	if pe.Code == service.CodeMessageTooLong {
		body["max_length"] = pe.MaxLength
		body["current_length"] = pe.CurrentLength
	}
	return body
}

// writeError 策略错误按其状态码返回，其它错误一律视为配置错误。
func writeError(c *gin.Context, err error) {
	var pe *service.PolicyError
	if !errors.As(err, &pe) {
		log.Errorf("处理聊天请求失败: %v", err)
		pe = &service.PolicyError{Code: service.CodeConfigurationError, Message: "Something went wrong. Please try again later."}
	}
	c.JSON(pe.HTTPStatus(), policyErrorBody(pe))
}

// Chat 处理一次聊天请求。上游模型故障不会导致 5xx，总会返回一条回复。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req service.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Chat: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：message 和 assistant_type 不能为空",
		})
		return
	}

	res, err := h.chatService.Send(c.Request.Context(), c.GetString(middleware.ContextUserID), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Quota 返回用户在指定助手上的等级与剩余额度，不扣减。
func (h *ChatHandler) Quota(c *gin.Context) {
	d, err := h.chatService.Quota(c.Request.Context(), c.GetString(middleware.ContextUserID), c.Param("assistant"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"allowed":            d.Allowed,
			"tier":               d.Tier,
			"remaining_messages": d.RemainingMessages,
			"cooldown_seconds":   d.CooldownSeconds,
			"reason":             d.Reason,
		},
	})
}

// Messages 返回最近的聊天记录。
func (h *ChatHandler) Messages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	msgs, err := h.chatService.Messages(c.Request.Context(), c.GetString(middleware.ContextUserID), c.Param("assistant"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": msgs})
}

// ResetThread 开始一段新对话。
func (h *ChatHandler) ResetThread(c *gin.Context) {
	if err := h.chatService.ResetThread(c.Request.Context(), c.GetString(middleware.ContextUserID), c.Param("assistant")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

// Handle 处理一个 WebSocket 连接：每条入站消息是一个 JSON 聊天请求，逐条应答。
func (h *ChatHandler) Handle(c *gin.Context) {
	claims, err := h.jwtManager.VerifyToken(c.Param("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, policyErrorBody(&service.PolicyError{Code: service.CodeAuthentication, Message: "Invalid or expired token."}))
		return
	}
	userID := claims.Identity()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %s", userID)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			break
		}

		var req service.ChatRequest
		if err := json.Unmarshal(message, &req); err != nil || req.Message == "" || req.AssistantType == "" {
			writeJSON(conn, gin.H{"type": "error", "error": "invalid request payload"})
			continue
		}

		res, err := h.chatService.Send(c.Request.Context(), userID, req)
		if err != nil {
			var pe *service.PolicyError
			if !errors.As(err, &pe) {
				pe = &service.PolicyError{Code: service.CodeConfigurationError, Message: "Something went wrong. Please try again later."}
			}
			body := policyErrorBody(pe)
			body["type"] = "denied"
			writeJSON(conn, body)
			continue
		}
		writeJSON(conn, gin.H{
			"type":      "completion",
			"status":    "finished",
			"data":      res,
			"timestamp": time.Now().UnixMilli(),
		})
	}
}

func writeJSON(conn *websocket.Conn, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Errorf("序列化 WebSocket 响应失败: %v", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Warnf("写入 WebSocket 失败: %v", err)
	}
}
